package fastproject

import (
	"math"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// SigsVsProjections computes, for every (signature, projection) pair, a
// consistency statistic measuring how smoothly the signature's per-sample
// scores vary across the projection's geometry, and an empirical p-value
// for that statistic against the background signatures' statistics.
//
// The statistic predicts each sample's score from its spatial neighbors
// (Gaussian kernel, bandwidth at the k-th nearest neighbor) and compares
// the median prediction error to the score's own spread; 1 means perfectly
// smooth, 0 means no better than the overall median. Each real signature
// is tested against the background pool whose gene-set size is closest to
// its own; precomputed scores (NumGenes==0) are tested against all
// backgrounds pooled.
//
// Returned row labels (signatures) and column labels (projections) are
// sorted and index-aligned with both matrices.
func SigsVsProjections(projections map[string]Coords, sigScores, bgScores map[string]*SignatureScore, workers int) (sigKeys, projKeys []string, consistency, pvals *mat.Dense) {
	for name := range projections {
		projKeys = append(projKeys, name)
	}
	sort.Strings(projKeys)
	for name := range sigScores {
		sigKeys = append(sigKeys, name)
	}
	sort.Strings(sigKeys)

	consistency = mat.NewDense(len(sigKeys), len(projKeys), nil)
	pvals = mat.NewDense(len(sigKeys), len(projKeys), nil)
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	// nothing below can fail, so a plain waitgroup with a semaphore does
	sem := make(chan bool, workers)
	for col, projName := range projKeys {
		weights := neighborhoodWeights(projections[projName])

		// Null distribution per background size, sorted for tail lookup.
		var (
			mtx   sync.Mutex
			pools = map[int][]float64{}
			all   []float64
			wg    sync.WaitGroup
		)
		for _, bg := range bgScores {
			bg := bg
			wg.Add(1)
			sem <- true
			go func() {
				defer func() { <-sem; wg.Done() }()
				stat := consistencyStat(weights, bg)
				mtx.Lock()
				pools[bg.NumGenes] = append(pools[bg.NumGenes], stat)
				all = append(all, stat)
				mtx.Unlock()
			}()
		}
		wg.Wait()
		for _, pool := range pools {
			sort.Float64s(pool)
		}
		sort.Float64s(all)
		sizes := make([]int, 0, len(pools))
		for size := range pools {
			sizes = append(sizes, size)
		}
		sort.Ints(sizes)

		for row, sigName := range sigKeys {
			row, ss := row, sigScores[sigName]
			wg.Add(1)
			sem <- true
			go func() {
				defer func() { <-sem; wg.Done() }()
				stat := consistencyStat(weights, ss)
				pool := all
				if ss.NumGenes > 0 && len(sizes) > 0 {
					pool = pools[closestSize(sizes, ss.NumGenes)]
				}
				consistency.Set(row, col, stat)
				pvals.Set(row, col, empiricalPvalue(pool, stat))
			}()
		}
		wg.Wait()
	}
	return sigKeys, projKeys, consistency, pvals
}

// empiricalPvalue is the add-one tail probability of stat under a sorted
// null sample.
func empiricalPvalue(sortedNull []float64, stat float64) float64 {
	if len(sortedNull) == 0 {
		return 1
	}
	ge := len(sortedNull) - sort.SearchFloat64s(sortedNull, stat)
	return float64(1+ge) / float64(1+len(sortedNull))
}

func closestSize(sizes []int, n int) int {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if abs(s-n) < abs(best-n) {
			best = s
		}
	}
	return best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// neighborhoodWeights builds the row-normalized Gaussian neighbor weight
// matrix of a 2D embedding; the diagonal is zero so a sample never
// predicts itself.
func neighborhoodWeights(coords Coords) *mat.Dense {
	n := len(coords)
	dist := mat.NewDense(n, n, nil)
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			dx := coords[a][0] - coords[b][0]
			dy := coords[a][1] - coords[b][1]
			d := math.Hypot(dx, dy)
			dist.Set(a, b, d)
			dist.Set(b, a, d)
		}
	}
	k := int(math.Sqrt(float64(n))) + 1
	if k > n-1 {
		k = n - 1
	}
	w := mat.NewDense(n, n, nil)
	buf := make([]float64, n)
	for a := 0; a < n; a++ {
		mat.Row(buf, a, dist)
		sorted := append([]float64(nil), buf...)
		sort.Float64s(sorted)
		sigma := sorted[k] // sorted[0] is the zero self-distance
		if sigma == 0 {
			sigma = 1e-12
		}
		var sum float64
		for b := 0; b < n; b++ {
			if a == b {
				continue
			}
			v := math.Exp(-buf[b] * buf[b] / (sigma * sigma))
			w.Set(a, b, v)
			sum += v
		}
		if sum > 0 {
			for b := 0; b < n; b++ {
				w.Set(a, b, w.At(a, b)/sum)
			}
		}
	}
	return w
}

// consistencyStat compares neighbor-predicted scores to actual scores.
func consistencyStat(weights *mat.Dense, ss *SignatureScore) float64 {
	n := len(ss.Scores)
	if ss.IsFactor {
		return factorConsistency(weights, ss.Scores)
	}
	s := mat.NewVecDense(n, append([]float64(nil), ss.Scores...))
	pred := mat.NewVecDense(n, nil)
	pred.MulVec(weights, s)
	errs := make([]float64, n)
	for i := 0; i < n; i++ {
		errs[i] = math.Abs(pred.AtVec(i) - ss.Scores[i])
	}
	med := median(ss.Scores)
	spread := make([]float64, n)
	for i, v := range ss.Scores {
		spread[i] = math.Abs(v - med)
	}
	norm := median(spread)
	if norm < 1e-12 {
		norm = 1e-12
	}
	stat := 1 - median(errs)/norm
	if math.IsNaN(stat) {
		return 0
	}
	return stat
}

// factorConsistency scores categorical signatures by neighbor majority
// vote.
func factorConsistency(weights *mat.Dense, labels []float64) float64 {
	n := len(labels)
	mismatch := 0.0
	for i := 0; i < n; i++ {
		votes := map[float64]float64{}
		for j := 0; j < n; j++ {
			if w := weights.At(i, j); w > 0 {
				votes[labels[j]] += w
			}
		}
		var best float64
		bestW := math.Inf(-1)
		for label, w := range votes {
			if w > bestW || (w == bestW && label < best) {
				best, bestW = label, w
			}
		}
		if best != labels[i] {
			mismatch++
		}
	}
	return 1 - mismatch/float64(n)
}
