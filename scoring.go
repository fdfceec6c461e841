package fastproject

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// ErrLowCoverage marks a signature whose overlap with the dataset's genes
// is below the configured minimum. Batch scoring drops such signatures
// instead of failing the run.
var ErrLowCoverage = errors.New("too few signature genes present in dataset")

type lowCoverageError struct {
	sig      string
	overlap  int
	minGenes int
}

func (e *lowCoverageError) Error() string {
	return fmt.Sprintf("signature %q: %d of minimum %d genes present: %s", e.sig, e.overlap, e.minGenes, ErrLowCoverage)
}

func (e *lowCoverageError) Unwrap() error { return ErrLowCoverage }

// ScoreMethod selects how per-sample signature scores are computed.
type ScoreMethod int

const (
	ScoreNaive ScoreMethod = iota
	ScoreWeightedAvg
	ScoreImputed
	ScoreOnlyNonzero
)

func ParseScoreMethod(name string) (ScoreMethod, error) {
	switch name {
	case "", "naive":
		return ScoreNaive, nil
	case "weighted_avg":
		return ScoreWeightedAvg, nil
	case "imputed":
		return ScoreImputed, nil
	case "only_nonzero":
		return ScoreOnlyNonzero, nil
	}
	return 0, fmt.Errorf("unrecognized sig-score-method %q", name)
}

func (m ScoreMethod) String() string {
	switch m {
	case ScoreNaive:
		return "naive"
	case ScoreWeightedAvg:
		return "weighted_avg"
	case ScoreImputed:
		return "imputed"
	case ScoreOnlyNonzero:
		return "only_nonzero"
	}
	return fmt.Sprintf("ScoreMethod(%d)", int(m))
}

// ScoreSignature computes one score per sample for a single signature
// against a (possibly normalized) dataset. zeros marks entries that were
// exactly zero in the original matrix, keyed by gene; it may be nil for
// ScoreNaive and ScoreWeightedAvg. Returns a *lowCoverageError (wrapping
// ErrLowCoverage) when fewer than minGenes signature genes are present.
//
// Pure function of its inputs; safe to call concurrently.
func ScoreSignature(d *Dataset, sig *Signature, zeros map[string][]bool, method ScoreMethod, minGenes int) (*SignatureScore, error) {
	type sigRow struct {
		row  int
		sign float64
	}
	overlap := make([]sigRow, 0, len(sig.Genes))
	for gene, sign := range sig.Genes {
		if r := d.GeneRow(gene); r >= 0 {
			overlap = append(overlap, sigRow{r, sign})
		}
	}
	if len(overlap) < minGenes || len(overlap) == 0 {
		return nil, &lowCoverageError{sig: sig.Name, overlap: len(overlap), minGenes: minGenes}
	}
	sort.Slice(overlap, func(i, j int) bool { return overlap[i].row < overlap[j].row })

	nsamples := len(d.Samples)
	scores := make([]float64, nsamples)
	switch method {
	case ScoreNaive:
		for _, sr := range overlap {
			for j := 0; j < nsamples; j++ {
				scores[j] += sr.sign * d.Base.At(sr.row, j)
			}
		}
		for j := range scores {
			scores[j] /= float64(len(overlap))
		}
	case ScoreWeightedAvg:
		if d.Weights == nil {
			return nil, fmt.Errorf("signature %q: weighted_avg scoring requires fitted weights", sig.Name)
		}
		wsum := make([]float64, nsamples)
		for _, sr := range overlap {
			for j := 0; j < nsamples; j++ {
				w := d.Weights.At(sr.row, j)
				scores[j] += sr.sign * w * d.Base.At(sr.row, j)
				wsum[j] += w
			}
		}
		for j := range scores {
			if wsum[j] > 0 {
				scores[j] /= wsum[j]
			}
		}
	case ScoreImputed:
		if d.Weights == nil {
			return nil, fmt.Errorf("signature %q: imputed scoring requires fitted weights", sig.Name)
		}
		for _, sr := range overlap {
			zrow := zeros[d.Genes[sr.row]]
			// mean over entries that were actually measured
			avg, n := 0.0, 0
			for j := 0; j < nsamples; j++ {
				if zrow == nil || !zrow[j] {
					avg += d.Base.At(sr.row, j)
					n++
				}
			}
			if n > 0 {
				avg /= float64(n)
			}
			for j := 0; j < nsamples; j++ {
				v := d.Base.At(sr.row, j)
				if zrow != nil && zrow[j] {
					w := d.Weights.At(sr.row, j)
					v = w*v + (1-w)*avg
				}
				scores[j] += sr.sign * v
			}
		}
		for j := range scores {
			scores[j] /= float64(len(overlap))
		}
	case ScoreOnlyNonzero:
		if zeros == nil {
			return nil, fmt.Errorf("signature %q: only_nonzero scoring requires zero locations", sig.Name)
		}
		nnz := make([]float64, nsamples)
		for _, sr := range overlap {
			zrow := zeros[d.Genes[sr.row]]
			for j := 0; j < nsamples; j++ {
				if zrow != nil && zrow[j] {
					continue
				}
				scores[j] += sr.sign * d.Base.At(sr.row, j)
				nnz[j]++
			}
		}
		for j := range scores {
			if nnz[j] > 0 {
				scores[j] /= nnz[j]
			}
		}
	default:
		return nil, fmt.Errorf("unrecognized score method %v", method)
	}

	return &SignatureScore{
		Name:     sig.Name,
		Scores:   scores,
		Samples:  append([]string(nil), d.Samples...),
		NumGenes: len(overlap),
	}, nil
}

// scoreBatch scores many signatures concurrently, dropping low-coverage
// signatures and returning the rest keyed by name. Any scoring failure
// other than low coverage aborts the batch.
func scoreBatch(d *Dataset, sigs []*Signature, zeros map[string][]bool, method ScoreMethod, minGenes, workers int, progress func(done, total int)) (map[string]*SignatureScore, error) {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	var (
		mtx     sync.Mutex
		done    int64
		scores  = make(map[string]*SignatureScore, len(sigs))
		skipped int64
		thr     = throttle{Max: workers}
	)
	for _, sig := range sigs {
		sig := sig
		thr.Acquire()
		go func() {
			defer thr.Release()
			ss, err := ScoreSignature(d, sig, zeros, method, minGenes)
			if errors.Is(err, ErrLowCoverage) {
				log.Debugf("%s", err)
				atomic.AddInt64(&skipped, 1)
			} else if err != nil {
				thr.Report(err)
				return
			} else {
				mtx.Lock()
				scores[ss.Name] = ss
				mtx.Unlock()
			}
			if n := atomic.AddInt64(&done, 1); progress != nil {
				progress(int(n), len(sigs))
			}
		}()
	}
	if err := thr.Wait(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		log.Infof("dropped %d of %d signatures with coverage below %d genes", skipped, len(sigs), minGenes)
	}
	return scores, nil
}
