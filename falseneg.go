package fastproject

import (
	"fmt"
	"io"
	"log"
	"math"
	"sort"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

// FalseNegFit is a per-sample logistic model of detection probability as a
// function of a gene's overall expression level, fit from housekeeping
// genes. Params holds (intercept, slope) per sample; HousekeepingMeans is
// the level grid the fit was made on.
type FalseNegFit struct {
	Samples           []string
	Params            [][2]float64
	HousekeepingMeans []float64
}

func logistic(z float64) float64 { return 1 / (1 + math.Exp(-z)) }

// DetectionProb evaluates the fitted curve for one sample at expression
// level mu.
func (f *FalseNegFit) DetectionProb(sample int, mu float64) float64 {
	p := f.Params[sample]
	return logistic(p[0] + p[1]*mu)
}

// CreateFalseNegMap fits the false-negative curve for every sample in the
// original (unfiltered) dataset. Housekeeping genes absent from the matrix
// are ignored; fewer than 5 usable genes is an error.
func CreateFalseNegMap(original *Dataset, housekeeping []string) (*FalseNegFit, error) {
	var rows []int
	for _, g := range housekeeping {
		if r := original.GeneRow(g); r >= 0 {
			rows = append(rows, r)
		}
	}
	if len(rows) < 5 {
		return nil, fmt.Errorf("false-negative map: only %d of %d housekeeping genes present, need at least 5", len(rows), len(housekeeping))
	}

	nsamples := len(original.Samples)
	mus := make([]float64, len(rows))
	for i, r := range rows {
		var sum float64
		for j := 0; j < nsamples; j++ {
			sum += original.Base.At(r, j)
		}
		mus[i] = sum / float64(nsamples)
	}

	fit := &FalseNegFit{
		Samples:           append([]string(nil), original.Samples...),
		Params:            make([][2]float64, nsamples),
		HousekeepingMeans: mus,
	}
	for j := 0; j < nsamples; j++ {
		detected := make([]bool, len(rows))
		ndet := 0
		for i, r := range rows {
			if original.Base.At(r, j) > 0 {
				detected[i] = true
				ndet++
			}
		}
		// Degenerate samples give the GLM nothing to separate on; park
		// them at a flat curve.
		if ndet == 0 {
			fit.Params[j] = [2]float64{-10, 0}
			continue
		} else if ndet == len(rows) {
			fit.Params[j] = [2]float64{10, 0}
			continue
		}
		fit.Params[j] = fitDetectionGLM(detected, mus)
	}
	return fit, nil
}

// fitDetectionGLM fits detected ~ icept + mu with a binomial GLM, falling
// back to a flat curve at the empirical detection rate if IRLS blows up.
func fitDetectionGLM(detected []bool, mus []float64) (params [2]float64) {
	rate := 0.0
	for _, d := range detected {
		if d {
			rate++
		}
	}
	rate /= float64(len(detected))
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			params = [2]float64{math.Log(rate / (1 - rate)), 0}
		}
	}()

	outcome := make([]statmodel.Dtype, len(detected))
	icept := make([]statmodel.Dtype, len(detected))
	level := make([]statmodel.Dtype, len(detected))
	for i, d := range detected {
		if d {
			outcome[i] = 1
		}
		icept[i] = 1
		level[i] = mus[i]
	}
	data := [][]statmodel.Dtype{outcome, icept, level}
	names := []string{"detected", "icept", "mu"}
	dataset := statmodel.NewDataset(data, names)

	model, err := glm.NewGLM(dataset, "detected", names[1:], glmConfig)
	if err != nil {
		return [2]float64{math.Log(rate / (1 - rate)), 0}
	}
	result := model.Fit()
	coef := result.Params()
	if len(coef) < 2 || math.IsNaN(coef[0]+coef[1]) || math.IsInf(coef[0], 0) || math.IsInf(coef[1], 0) {
		// perfectly separable detection patterns can blow up IRLS
		return [2]float64{math.Log(rate / (1 - rate)), 0}
	}
	return [2]float64{coef[0], coef[1]}
}

// ComputeWeights builds the per-entry weight matrix for a dataset: observed
// nonzero entries get weight 1; zeros get the sample's detection
// probability at this gene's level, i.e. low weight where the zero is
// likely a dropout and high weight where a detected-everything sample
// reported a genuine zero.
func ComputeWeights(fit *FalseNegFit, d *Dataset) *mat.Dense {
	ngenes, nsamples := d.Base.Dims()
	mus := make([]float64, ngenes)
	for i := 0; i < ngenes; i++ {
		var sum float64
		for j := 0; j < nsamples; j++ {
			sum += d.Base.At(i, j)
		}
		mus[i] = sum / float64(nsamples)
	}
	w := mat.NewDense(ngenes, nsamples, nil)
	for j := 0; j < nsamples; j++ {
		for i := 0; i < ngenes; i++ {
			if d.Base.At(i, j) != 0 {
				w.Set(i, j, 1)
			} else {
				w.Set(i, j, fit.DetectionProb(j, mus[i]))
			}
		}
	}
	return w
}

// AlignWeights narrows an externally supplied weight matrix to a dataset,
// selecting rows and columns by gene and sample label. The weights may
// carry extra genes or samples in any order, but every label of d must be
// present.
func AlignWeights(w, d *Dataset) (*mat.Dense, error) {
	cols := make([]int, len(d.Samples))
	sampleCol := make(map[string]int, len(w.Samples))
	for j, sample := range w.Samples {
		sampleCol[sample] = j
	}
	for j, sample := range d.Samples {
		wj, ok := sampleCol[sample]
		if !ok {
			return nil, fmt.Errorf("input weights: no column for sample %q", sample)
		}
		cols[j] = wj
	}
	out := mat.NewDense(d.NumGenes(), d.NumSamples(), nil)
	for i, gene := range d.Genes {
		wi := w.GeneRow(gene)
		if wi < 0 {
			return nil, fmt.Errorf("input weights: no row for gene %q", gene)
		}
		for j, wj := range cols {
			out.Set(i, j, w.Base.At(wi, wj))
		}
	}
	return out, nil
}

// QualityCheck derives a scalar quality score per sample (the expected
// detection rate across the housekeeping level grid) and a pass flag
// (score within 3 MAD below the median).
func QualityCheck(fit *FalseNegFit) (passes []bool, scores []float64) {
	scores = make([]float64, len(fit.Samples))
	for j := range fit.Samples {
		var sum float64
		for _, mu := range fit.HousekeepingMeans {
			sum += fit.DetectionProb(j, mu)
		}
		scores[j] = sum / float64(len(fit.HousekeepingMeans))
	}
	med := median(scores)
	dev := make([]float64, len(scores))
	for i, s := range scores {
		dev[i] = math.Abs(s - med)
	}
	mad := median(dev)
	cutoff := med - 3*mad
	passes = make([]bool, len(scores))
	for i, s := range scores {
		passes[i] = s >= cutoff
	}
	return passes, scores
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	return stat.Quantile(0.5, stat.Empirical, cp, nil)
}
