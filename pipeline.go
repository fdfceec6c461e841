package fastproject

import (
	"fmt"
	"runtime"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

const (
	sigNameQuality        = "FP_Quality"
	sigNameZeroProportion = "Zero_Proportion"

	outputSignatureLimit   = 200
	largeSampleCutoff      = 2000
	defaultPvalueThreshold = 0.05
)

// ModelKind tags a model's data as raw expression or probability-of-
// expression values; the kind selects the normalization/scoring defaults.
type ModelKind int

const (
	ExpressionKind ModelKind = iota
	ProbabilityKind
)

func (k ModelKind) String() string {
	if k == ProbabilityKind {
		return "Probability"
	}
	return "Expression"
}

// ProjectionData bundles everything computed for one (filter,
// representation) pair. SignatureKeys, SigProjMatrix rows, and
// SigProjMatrixP rows are index-aligned at all times; pruning drops rows
// from all three together.
type ProjectionData struct {
	Filter         string
	Genes          []string
	PCA            bool
	Projections    map[string]Coords
	Clusters       map[string]map[string][]int
	SigProjMatrix  *mat.Dense
	SigProjMatrixP *mat.Dense
	ProjectionKeys []string
	SignatureKeys  []string
	Loadings       *mat.Dense // genes × 3, PCA representation only
}

// Model is one named view of the data with its scores and projections.
type Model struct {
	Name            string
	Kind            ModelKind
	Data            *Dataset
	SignatureScores map[string]*SignatureScore
	SampleLabels    []string
	ProjectionData  []*ProjectionData
}

// QCInfo is the per-sample quality report row.
type QCInfo struct {
	Sample string
	Score  float64
	Passes bool
}

// Results is the terminal output of an analysis run.
type Results struct {
	Models []*Model
	QC     []QCInfo
}

// Model returns the named model, or nil.
func (r *Results) Model(name string) *Model {
	for _, m := range r.Models {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Config is the pipeline's recognized option surface.
type Config struct {
	SubsampleSize     int    // 0 disables subsampling
	Threshold         int    // 0 means 20% of post-subsample samples
	NoFilter          bool   // single all-genes filter
	Lean              bool   // fewer filters and projection methods
	NoModel           bool   // skip the probability transform and QC
	QCFilter          bool   // drop samples failing QC
	AllSigs           bool   // keep every signature, no pruning
	SigNormMethod     string // see ParseNormMethod
	SigScoreMethod    string // see ParseScoreMethod
	MinSignatureGenes int
	BackgroundN       int    // background signatures per size (default 3000)
	RandomSeed        uint64 // 0 seeds from the clock
	Workers           int    // 0 means NumCPU
	Progress          func(stage string, done, total int)
}

// Pipeline runs the analysis. The function fields are the collaborator
// contracts; New fills in this package's default implementations and
// callers may swap any of them out.
type Pipeline struct {
	Config Config

	ApplyFilters        func(d *Dataset, threshold int, nofilter, lean bool) (*Dataset, error)
	FitExpression       func(d *Dataset) (*mat.Dense, *MixtureParams, error)
	FitFalseNeg         func(original *Dataset, housekeeping []string) (*FalseNegFit, error)
	ComputeWeights      func(fit *FalseNegFit, d *Dataset) *mat.Dense
	QualityCheck        func(fit *FalseNegFit) ([]bool, []float64)
	GenerateProjections func(d *Dataset, filterName string, input map[string]Coords, lean bool) (map[string]Coords, *Dataset, *mat.Dense, error)
	DefineClusters      func(projections map[string]Coords, src rand.Source) map[string]map[string][]int
	SplitSamples        func(d *Dataset, size int, src rand.Source) (holdout, working *Dataset)
	LeafOrder           func(d *Dataset) ([]int, error)
}

func New(cfg Config) *Pipeline {
	if cfg.MinSignatureGenes < 1 {
		cfg.MinSignatureGenes = 3
	}
	if cfg.BackgroundN < 1 {
		cfg.BackgroundN = 3000
	}
	if cfg.Workers < 1 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Pipeline{
		Config:              cfg,
		ApplyFilters:        ApplyFilters,
		FitExpression:       ProbabilityOfExpression,
		FitFalseNeg:         CreateFalseNegMap,
		ComputeWeights:      ComputeWeights,
		QualityCheck:        QualityCheck,
		GenerateProjections: GenerateProjections,
		DefineClusters:      DefineClusters,
		SplitSamples:        SplitSamples,
		LeafOrder:           LeafOrder,
	}
}

func (p *Pipeline) stage(name string) {
	log.Infof("stage: %s", name)
	if p.Config.Progress != nil {
		p.Config.Progress(name, 0, 0)
	}
}

func (p *Pipeline) progressFunc(stage string) func(done, total int) {
	if p.Config.Progress == nil {
		return nil
	}
	return func(done, total int) { p.Config.Progress(stage, done, total) }
}

// Analyze runs the full pipeline: subsample, filter, QC transform, real
// and background signature scoring, per-filter projection/clustering/
// significance (raw and PCA representations), significance pruning,
// holdout merge, and gene reordering. It returns the models bundle and the
// per-sample QC table, or the first fatal error with its stage identified.
func (p *Pipeline) Analyze(expr *Dataset, signatures []*Signature, precomputed map[string]*SignatureScore, housekeeping []string, inputProjections map[string]Coords, inputWeights *Dataset) (*Results, error) {
	start := time.Now()
	cfg := p.Config

	normMethod, err := ParseNormMethod(cfg.SigNormMethod)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	scoreMethod, err := ParseScoreMethod(cfg.SigScoreMethod)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewSource(seed)

	allData := expr
	edata := expr

	var holdout *Dataset
	if cfg.SubsampleSize > 0 && cfg.SubsampleSize < edata.NumSamples() {
		p.stage("subsample")
		holdout, edata = p.SplitSamples(edata, cfg.SubsampleSize, src)
		log.Infof("subsample: %d working, %d held out", edata.NumSamples(), holdout.NumSamples())
	}

	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = edata.NumSamples() / 5
	}

	// pre-filter copy, the false-negative fit wants every gene
	originalData := edata.Clone()

	p.stage("filter")
	edata, err = p.ApplyFilters(edata, threshold, cfg.NoFilter, cfg.Lean)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	models := []*Model{{Name: "Expression", Kind: ExpressionKind, Data: edata}}

	var (
		probParams *MixtureParams
		qcScores   []float64
		qc         []QCInfo
	)
	if !cfg.NoModel {
		p.stage("qc transform")
		prob, params, err := p.FitExpression(edata)
		if err != nil {
			return nil, fmt.Errorf("qc transform: %w", err)
		}
		probParams = params

		fn, err := p.FitFalseNeg(originalData, housekeeping)
		if err != nil {
			return nil, fmt.Errorf("qc transform: %w", err)
		}

		var weights *mat.Dense
		if inputWeights != nil {
			// the post-filter gene set is data-dependent, so select by label
			weights, err = AlignWeights(inputWeights, edata)
			if err != nil {
				return nil, fmt.Errorf("qc transform: %w", err)
			}
		} else {
			weights = p.ComputeWeights(fn, edata)
		}
		prob = AdjustProbability(prob, weights)
		edata.Weights = weights

		pdata := &Dataset{
			Genes:   append([]string(nil), edata.Genes...),
			Samples: append([]string(nil), edata.Samples...),
			Base:    prob,
			Weights: weights,
			Filters: map[string][]string{},
		}
		for name, genes := range edata.Filters {
			pdata.Filters[name] = append([]string(nil), genes...)
		}
		pdata.reindex()
		models = append(models, &Model{Name: "Probability", Kind: ProbabilityKind, Data: pdata})

		passes, scores := p.QualityCheck(fn)
		qcScores = scores
		qc = make([]QCInfo, len(edata.Samples))
		for j, sample := range edata.Samples {
			qc[j] = QCInfo{Sample: sample, Score: scores[j], Passes: passes[j]}
		}
		if cfg.QCFilter {
			npass := 0
			for _, ok := range passes {
				if ok {
					npass++
				}
			}
			log.Infof("qc: keeping %d of %d samples", npass, len(passes))
			for _, model := range models {
				model.Data = model.Data.SubsetSamples(passes)
			}
			kept := qcScores[:0]
			for j, ok := range passes {
				if ok {
					kept = append(kept, qcScores[j])
				}
			}
			qcScores = kept
		}
	} else {
		qc = make([]QCInfo, len(edata.Samples))
		for j, sample := range edata.Samples {
			qc[j] = QCInfo{Sample: sample, Passes: true}
		}
	}

	// the matrices may have narrowed since QC
	edata = models[0].Data
	zerosQscore := edata.ZeroProportion()
	zeroLocations := edata.ZeroLocations()

	p.stage("background signatures")
	background := BackgroundSignatures(edata.Genes, cfg.BackgroundN, src)

	sigsByName := make(map[string]*Signature, len(signatures))
	for _, sig := range signatures {
		sigsByName[sig.Name] = sig
	}

	for _, model := range models {
		data := model.Data
		log.Infof("model: %s", model.Name)

		// probability values are already on a common scale and carry
		// their own semantics; only expression data gets the configured
		// normalization/scoring treatment
		sigData := data
		method := ScoreNaive
		if model.Kind == ExpressionKind {
			sigData = data.Normalized(normMethod)
			method = scoreMethod
			if data.Weights == nil && (method == ScoreWeightedAvg || method == ScoreImputed) {
				log.Warnf("model %s: %s scoring needs fitted weights, falling back to naive", model.Name, method)
				method = ScoreNaive
			}
		}

		p.stage("score signatures")
		sigScores, err := scoreBatch(sigData, signatures, zeroLocations, method, cfg.MinSignatureGenes, cfg.Workers, p.progressFunc("score signatures"))
		if err != nil {
			return nil, fmt.Errorf("score: model %s: %w", model.Name, err)
		}
		p.stage("score background signatures")
		bgScores, err := scoreBatch(sigData, background, zeroLocations, method, cfg.MinSignatureGenes, cfg.Workers, p.progressFunc("score background signatures"))
		if err != nil {
			return nil, fmt.Errorf("score background: model %s: %w", model.Name, err)
		}

		for name, ss := range precomputed {
			cp := *ss
			cp.Scores = append([]float64(nil), ss.Scores...)
			cp.Samples = append([]string(nil), ss.Samples...)
			cp.IsPrecomputed = true
			sigScores[name] = &cp
		}
		if qcScores != nil {
			sigScores[sigNameQuality] = &SignatureScore{
				Name:          sigNameQuality,
				Scores:        append([]float64(nil), qcScores...),
				Samples:       append([]string(nil), data.Samples...),
				IsPrecomputed: true,
			}
		}
		sigScores[sigNameZeroProportion] = &SignatureScore{
			Name:          sigNameZeroProportion,
			Scores:        append([]float64(nil), zerosQscore...),
			Samples:       append([]string(nil), data.Samples...),
			IsPrecomputed: true,
		}

		model.SignatureScores = sigScores
		model.SampleLabels = append([]string(nil), data.Samples...)

		for _, filterName := range data.FilterNames() {
			log.Infof("filter: %s", filterName)
			genes, err := data.FilteredGenes(filterName)
			if err != nil {
				return nil, fmt.Errorf("project: model %s: %w", model.Name, err)
			}

			p.stage("project")
			projections, reduced, loadings, err := p.GenerateProjections(data, filterName, inputProjections, cfg.Lean)
			if err != nil {
				return nil, fmt.Errorf("project: model %s, filter %s: %w", model.Name, filterName, err)
			}
			p.stage("cluster")
			clusters := p.DefineClusters(projections, src)
			p.stage("significance")
			sigKeys, projKeys, spMatrix, spPvals := SigsVsProjections(projections, sigScores, bgScores, cfg.Workers)
			model.ProjectionData = append(model.ProjectionData, &ProjectionData{
				Filter:         filterName,
				Genes:          genes,
				Projections:    projections,
				Clusters:       clusters,
				SigProjMatrix:  spMatrix,
				SigProjMatrixP: spPvals,
				ProjectionKeys: projKeys,
				SignatureKeys:  sigKeys,
			})

			// same again on the principal-component representation
			p.stage("project (PCA)")
			pcProjections, _, _, err := p.GenerateProjections(reduced, filterName, nil, cfg.Lean)
			if err != nil {
				return nil, fmt.Errorf("project pca: model %s, filter %s: %w", model.Name, filterName, err)
			}
			p.stage("cluster (PCA)")
			pcClusters := p.DefineClusters(pcProjections, src)
			p.stage("significance (PCA)")
			sigKeys, projKeys, spMatrix, spPvals = SigsVsProjections(pcProjections, sigScores, bgScores, cfg.Workers)
			model.ProjectionData = append(model.ProjectionData, &ProjectionData{
				Filter:         filterName,
				Genes:          genes,
				PCA:            true,
				Projections:    pcProjections,
				Clusters:       pcClusters,
				SigProjMatrix:  spMatrix,
				SigProjMatrixP: spPvals,
				ProjectionKeys: projKeys,
				SignatureKeys:  sigKeys,
				Loadings:       loadings,
			})
		}
	}

	p.stage("prune")
	pruneSignatures(models, allData.NumSamples(), cfg.AllSigs)

	if holdout != nil && holdout.NumSamples() > 0 {
		p.stage("merge holdouts")
		err = mergeHoldouts(models, holdout, edata.Genes, probParams, housekeeping, sigsByName, normMethod, scoreMethod, cfg.MinSignatureGenes, cfg.Workers)
		if err != nil {
			return nil, err
		}
	}

	p.stage("reorder genes")
	order, err := p.LeafOrder(models[0].Data)
	if err != nil {
		return nil, fmt.Errorf("reorder genes: %w", err)
	}
	models[0].Data = models[0].Data.SubsetGenes(order)

	log.Infof("analysis complete in %.2fs", time.Since(start).Seconds())
	return &Results{Models: models, QC: qc}, nil
}

// pruneSignatures applies the significance threshold per model: each
// signature's statistic is its minimum p-value across every projection of
// every ProjectionData in the model. Precomputed scores are always kept.
// The keep/drop decision is applied to the model's score map and to every
// ProjectionData's matrices and key lists together.
//
// Threshold rule: with allSigs nothing is pruned. Otherwise
// K = min(200, eligible signatures); above 2000 total samples exactly the
// top K by (p, name) are kept; at or below, the p≈0.05 default threshold
// is raised to the K-th best p-value if needed so at least K survive.
func pruneSignatures(models []*Model, totalSamples int, allSigs bool) {
	if allSigs {
		return
	}
	for _, model := range models {
		minP := map[string]float64{}
		for _, pd := range model.ProjectionData {
			rows, _ := pd.SigProjMatrixP.Dims()
			if rows != len(pd.SignatureKeys) {
				panic(fmt.Sprintf("model %s: %d signature keys but %d p-value rows", model.Name, len(pd.SignatureKeys), rows))
			}
			for i, name := range pd.SignatureKeys {
				p := mat.Min(pd.SigProjMatrixP.RowView(i))
				if cur, ok := minP[name]; !ok || p < cur {
					minP[name] = p
				}
			}
		}

		type sigP struct {
			name string
			p    float64
		}
		var eligible []sigP
		for _, name := range sortedNames(model.SignatureScores) {
			ss := model.SignatureScores[name]
			if ss.IsPrecomputed {
				continue
			}
			p, ok := minP[name]
			if !ok {
				// scored but never evaluated against a projection;
				// nothing to rank it by, keep it
				continue
			}
			eligible = append(eligible, sigP{name, p})
		}
		sort.SliceStable(eligible, func(a, b int) bool {
			if eligible[a].p != eligible[b].p {
				return eligible[a].p < eligible[b].p
			}
			return eligible[a].name < eligible[b].name
		})

		limit := outputSignatureLimit
		if limit > len(eligible) {
			limit = len(eligible)
		}
		keep := map[string]bool{}
		for _, name := range sortedNames(model.SignatureScores) {
			keep[name] = true
		}
		if totalSamples > largeSampleCutoff {
			// strict top K, ties broken by name order
			for _, e := range eligible[limit:] {
				keep[e.name] = false
			}
		} else if limit > 0 {
			threshold := defaultPvalueThreshold
			if kth := eligible[limit-1].p; kth > threshold {
				threshold = kth
			}
			for _, e := range eligible {
				if e.p > threshold {
					keep[e.name] = false
				}
			}
		}

		dropped := 0
		for name, ok := range keep {
			if !ok {
				delete(model.SignatureScores, name)
				dropped++
			}
		}
		for _, pd := range model.ProjectionData {
			var rows []int
			var keys []string
			for i, name := range pd.SignatureKeys {
				if keep[name] {
					rows = append(rows, i)
					keys = append(keys, name)
				}
			}
			pd.SigProjMatrix = filterMatrixRows(pd.SigProjMatrix, rows)
			pd.SigProjMatrixP = filterMatrixRows(pd.SigProjMatrixP, rows)
			pd.SignatureKeys = keys
		}
		if dropped > 0 {
			log.Infof("model %s: pruned %d signatures, %d kept", model.Name, dropped, len(model.SignatureScores))
		}
	}
}

func filterMatrixRows(m *mat.Dense, rows []int) *mat.Dense {
	_, cols := m.Dims()
	if len(rows) == 0 {
		return mat.NewDense(0, cols, nil)
	}
	out := mat.NewDense(len(rows), cols, nil)
	for i, r := range rows {
		out.SetRow(i, mat.Row(nil, r, m))
	}
	return out
}
