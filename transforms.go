package fastproject

import (
	"fmt"
	"math"
	"runtime"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MixtureParams holds the per-gene parameters of the fitted two-component
// expression model: a normal "detected" component (MuHigh, SigmaHigh) and
// an exponential "undetected" component with mean MuLow, mixed with weight
// Pi on the detected side.
type MixtureParams struct {
	MuHigh    []float64
	MuLow     []float64
	SigmaHigh []float64
	Pi        []float64
}

const (
	mixtureIterations = 25
	minSigmaHigh      = 1e-2
)

// ProbabilityOfExpression fits the mixture model per gene by EM and returns
// the probability-of-expression matrix (same shape as d.Base) along with
// the fitted parameters. Genes with no nonzero values get probability 0
// everywhere; genes with no zero values converge to probability ~1.
func ProbabilityOfExpression(d *Dataset) (*mat.Dense, *MixtureParams, error) {
	ngenes, nsamples := d.Base.Dims()
	if nsamples == 0 || ngenes == 0 {
		return nil, nil, fmt.Errorf("probability transform: empty matrix (%d genes × %d samples)", ngenes, nsamples)
	}
	prob := mat.NewDense(ngenes, nsamples, nil)
	params := &MixtureParams{
		MuHigh:    make([]float64, ngenes),
		MuLow:     make([]float64, ngenes),
		SigmaHigh: make([]float64, ngenes),
		Pi:        make([]float64, ngenes),
	}
	thr := throttle{Max: runtime.NumCPU()}
	for i := 0; i < ngenes; i++ {
		i := i
		thr.Acquire()
		go func() {
			defer thr.Release()
			x := mat.Row(nil, i, d.Base)
			gamma, muH, muL, sdH, pi := fitGeneMixture(x)
			prob.SetRow(i, gamma)
			params.MuHigh[i] = muH
			params.MuLow[i] = muL
			params.SigmaHigh[i] = sdH
			params.Pi[i] = pi
		}()
	}
	if err := thr.Wait(); err != nil {
		return nil, nil, err
	}
	log.Debugf("mixture model fit for %d genes", ngenes)
	return prob, params, nil
}

// fitGeneMixture runs EM for one gene's expression vector.
func fitGeneMixture(x []float64) (gamma []float64, muH, muL, sdH, pi float64) {
	gamma = make([]float64, len(x))
	var nz []float64
	for _, v := range x {
		if v > 0 {
			nz = append(nz, v)
		}
	}
	if len(nz) == 0 {
		return gamma, 0, 0, minSigmaHigh, 0
	}

	muH, sdH = stat.MeanStdDev(nz, nil)
	if math.IsNaN(sdH) || sdH < minSigmaHigh {
		sdH = minSigmaHigh
	}
	muL = muH / 10
	if muL <= 0 {
		muL = 1e-3
	}
	pi = float64(len(nz)) / float64(len(x))

	for iter := 0; iter < mixtureIterations; iter++ {
		high := distuv.Normal{Mu: muH, Sigma: sdH}
		low := distuv.Exponential{Rate: 1 / muL}
		// E step
		for j, v := range x {
			fh := pi * high.Prob(v)
			fl := (1 - pi) * low.Prob(v)
			if fh+fl == 0 {
				if v > muH/2 {
					gamma[j] = 1
				} else {
					gamma[j] = 0
				}
				continue
			}
			gamma[j] = fh / (fh + fl)
		}
		// M step
		var gsum, gx, lsum, lx float64
		for j, v := range x {
			gsum += gamma[j]
			gx += gamma[j] * v
			lsum += 1 - gamma[j]
			lx += (1 - gamma[j]) * v
		}
		if gsum > 0 {
			muH = gx / gsum
			var gvar float64
			for j, v := range x {
				gvar += gamma[j] * (v - muH) * (v - muH)
			}
			sdH = math.Sqrt(gvar / gsum)
			if sdH < minSigmaHigh {
				sdH = minSigmaHigh
			}
		}
		if lsum > 0 && lx > 0 {
			muL = lx / lsum
		} else {
			muL = 1e-3
		}
		pi = gsum / float64(len(x))
		if pi < 1e-6 {
			pi = 1e-6
		} else if pi > 1-1e-6 {
			pi = 1 - 1e-6
		}
	}
	return gamma, muH, muL, sdH, pi
}

// MixtureProbability evaluates the E-step of an already-fitted model on new
// samples of the same genes, used when held-out samples are merged back in.
func MixtureProbability(params *MixtureParams, d *Dataset) (*mat.Dense, error) {
	ngenes, nsamples := d.Base.Dims()
	if ngenes != len(params.MuHigh) {
		return nil, fmt.Errorf("mixture params fit for %d genes, dataset has %d", len(params.MuHigh), ngenes)
	}
	prob := mat.NewDense(ngenes, nsamples, nil)
	for i := 0; i < ngenes; i++ {
		muL := params.MuLow[i]
		if muL <= 0 {
			muL = 1e-3
		}
		high := distuv.Normal{Mu: params.MuHigh[i], Sigma: params.SigmaHigh[i]}
		low := distuv.Exponential{Rate: 1 / muL}
		pi := params.Pi[i]
		for j := 0; j < nsamples; j++ {
			v := d.Base.At(i, j)
			fh := pi * high.Prob(v)
			fl := (1 - pi) * low.Prob(v)
			if fh+fl == 0 {
				if v > params.MuHigh[i]/2 {
					prob.Set(i, j, 1)
				}
				continue
			}
			prob.Set(i, j, fh/(fh+fl))
		}
	}
	return prob, nil
}

// AdjustProbability mixes the probability matrix with per-entry weights:
// unreliable entries (low weight, likely dropouts) are pulled toward the
// gene's overall detection rate instead of trusting the observed zero.
func AdjustProbability(prob, weights *mat.Dense) *mat.Dense {
	ngenes, nsamples := prob.Dims()
	out := mat.NewDense(ngenes, nsamples, nil)
	for i := 0; i < ngenes; i++ {
		prior := stat.Mean(mat.Row(nil, i, prob), nil)
		for j := 0; j < nsamples; j++ {
			w := weights.At(i, j)
			out.Set(i, j, w*prob.At(i, j)+(1-w)*prior)
		}
	}
	return out
}
