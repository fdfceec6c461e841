package fastproject

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// SplitSamples partitions a dataset's samples into a working set of the
// requested size and a holdout set, drawn without replacement from the
// given source. Column order within each part follows the original matrix.
func SplitSamples(d *Dataset, size int, src rand.Source) (holdout, working *Dataset) {
	n := d.NumSamples()
	if size >= n {
		empty := &Dataset{Genes: append([]string(nil), d.Genes...), Filters: map[string][]string{}}
		empty.reindex()
		return empty, d.Clone()
	}
	rnd := rand.New(src)
	perm := rnd.Perm(n)
	inWorking := make([]bool, n)
	for _, j := range perm[:size] {
		inWorking[j] = true
	}
	var wcols, hcols []int
	for j := 0; j < n; j++ {
		if inWorking[j] {
			wcols = append(wcols, j)
		} else {
			hcols = append(hcols, j)
		}
	}
	return d.SubsetSampleIndices(hcols), d.SubsetSampleIndices(wcols)
}

// mergeHoldouts folds held-out samples back into every model: their
// signature scores are computed with the working set's fitted parameters
// and scoring configuration, and each holdout sample is placed in every
// projection at its nearest working-set neighbor's coordinates, inheriting
// that neighbor's cluster labels. Consistency/p-value matrices are left as
// fit on the working set.
func mergeHoldouts(models []*Model, holdoutFull *Dataset, exprGenes []string, params *MixtureParams, housekeeping []string, sigs map[string]*Signature, normMethod NormMethod, scoreMethod ScoreMethod, minGenes, workers int) error {
	if holdoutFull.NumSamples() == 0 {
		return nil
	}

	hoExpr := holdoutFull.SubsetGenesByName(exprGenes)
	var (
		fn        *FalseNegFit
		hoQuality []float64
		err       error
	)
	if params != nil {
		fn, err = CreateFalseNegMap(holdoutFull, housekeeping)
		if err != nil {
			return fmt.Errorf("merge holdouts: %w", err)
		}
		_, hoQuality = QualityCheck(fn)
	}

	for _, model := range models {
		var hoData *Dataset
		switch model.Kind {
		case ProbabilityKind:
			prob, err := MixtureProbability(params, hoExpr)
			if err != nil {
				return fmt.Errorf("merge holdouts: model %s: %w", model.Name, err)
			}
			full := &Dataset{
				Genes:   append([]string(nil), hoExpr.Genes...),
				Samples: append([]string(nil), hoExpr.Samples...),
				Base:    prob,
				Filters: map[string][]string{},
			}
			full.reindex()
			hoData = full.SubsetGenesByName(model.Data.Genes)
		default:
			hoData = hoExpr.SubsetGenesByName(model.Data.Genes)
		}
		if fn != nil {
			hoData.Weights = ComputeWeights(fn, hoData)
		}

		hoZeroSource := hoExpr.SubsetGenesByName(model.Data.Genes)
		zeros := hoZeroSource.ZeroLocations()

		scoreData := hoData
		method := ScoreNaive
		if model.Kind == ExpressionKind {
			scoreData = hoData.Normalized(normMethod)
			method = scoreMethod
		}
		if scoreData.Weights == nil && (method == ScoreWeightedAvg || method == ScoreImputed) {
			method = ScoreNaive
		}

		for name, ss := range model.SignatureScores {
			switch {
			case !ss.IsPrecomputed:
				sig, ok := sigs[name]
				if !ok {
					return fmt.Errorf("merge holdouts: model %s: no signature definition for score %q", model.Name, name)
				}
				hs, err := ScoreSignature(scoreData, sig, zeros, method, minGenes)
				if err != nil {
					return fmt.Errorf("merge holdouts: model %s: %w", model.Name, err)
				}
				ss.Scores = append(ss.Scores, hs.Scores...)
				ss.Samples = append(ss.Samples, hs.Samples...)
			case name == sigNameQuality && hoQuality != nil:
				ss.Scores = append(ss.Scores, hoQuality...)
				ss.Samples = append(ss.Samples, hoData.Samples...)
			case name == sigNameZeroProportion:
				ss.Scores = append(ss.Scores, hoZeroSource.ZeroProportion()...)
				ss.Samples = append(ss.Samples, hoData.Samples...)
			default:
				log.Warnf("merge holdouts: precomputed score %q has no values for held-out samples, padding with 0", name)
				ss.Scores = append(ss.Scores, make([]float64, hoData.NumSamples())...)
				ss.Samples = append(ss.Samples, hoData.Samples...)
			}
		}

		for _, pd := range model.ProjectionData {
			neighbors := nearestWorkingNeighbors(model.Data, hoData, pd.Genes)
			for name, coords := range pd.Projections {
				for _, nb := range neighbors {
					coords = append(coords, coords[nb])
				}
				pd.Projections[name] = coords
			}
			for _, methods := range pd.Clusters {
				for name, labels := range methods {
					for _, nb := range neighbors {
						labels = append(labels, labels[nb])
					}
					methods[name] = labels
				}
			}
		}

		model.Data = appendSamples(model.Data, hoData)
		model.SampleLabels = append(model.SampleLabels, hoData.Samples...)
	}
	return nil
}

// nearestWorkingNeighbors finds, for each holdout sample, the working
// sample with the highest Pearson correlation over the given genes.
func nearestWorkingNeighbors(working, holdout *Dataset, genes []string) []int {
	var wrows, hrows []int
	for _, g := range genes {
		wr, hr := working.GeneRow(g), holdout.GeneRow(g)
		if wr >= 0 && hr >= 0 {
			wrows = append(wrows, wr)
			hrows = append(hrows, hr)
		}
	}
	neighbors := make([]int, holdout.NumSamples())
	if len(wrows) < 2 {
		return neighbors
	}
	wvecs := make([][]float64, working.NumSamples())
	for j := range wvecs {
		v := make([]float64, len(wrows))
		for i, r := range wrows {
			v[i] = working.Base.At(r, j)
		}
		wvecs[j] = v
	}
	for h := range neighbors {
		hv := make([]float64, len(hrows))
		for i, r := range hrows {
			hv[i] = holdout.Base.At(r, h)
		}
		best, bestR := 0, -2.0
		for j, wv := range wvecs {
			if r := stat.Correlation(hv, wv, nil); r > bestR {
				best, bestR = j, r
			}
		}
		neighbors[h] = best
	}
	return neighbors
}

// appendSamples concatenates two datasets with identical gene rows along
// the sample axis. Weights survive only if both sides have them.
func appendSamples(d, extra *Dataset) *Dataset {
	ngenes, n1 := d.Base.Dims()
	_, n2 := extra.Base.Dims()
	base := mat.NewDense(ngenes, n1+n2, nil)
	var weights *mat.Dense
	if d.Weights != nil && extra.Weights != nil {
		weights = mat.NewDense(ngenes, n1+n2, nil)
	}
	for i := 0; i < ngenes; i++ {
		r := extra.GeneRow(d.Genes[i])
		for j := 0; j < n1; j++ {
			base.Set(i, j, d.Base.At(i, j))
			if weights != nil {
				weights.Set(i, j, d.Weights.At(i, j))
			}
		}
		for j := 0; j < n2; j++ {
			base.Set(i, n1+j, extra.Base.At(r, j))
			if weights != nil {
				weights.Set(i, n1+j, extra.Weights.At(r, j))
			}
		}
	}
	out := &Dataset{
		Genes:   append([]string(nil), d.Genes...),
		Samples: append(append([]string(nil), d.Samples...), extra.Samples...),
		Base:    base,
		Weights: weights,
		Filters: map[string][]string{},
	}
	for name, genes := range d.Filters {
		out.Filters[name] = append([]string(nil), genes...)
	}
	out.reindex()
	return out
}

// sortedNames is a small helper for deterministic map iteration.
func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
