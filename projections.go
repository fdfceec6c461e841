package fastproject

import (
	"fmt"
	"math"
	"sort"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const maxPCAComponents = 30

// Coords is a 2D embedding, one (x,y) pair per sample in dataset column
// order.
type Coords [][2]float64

// GenerateProjections produces the 2D embeddings for one filter of a
// dataset, plus the PCA-reduced representation of the filtered matrix and
// the first three loading vectors. input projections (pre-computed by the
// caller, e.g. from another tool) are merged in under their own names.
//
// Default methods: "PCA: 1,2" and "PCA: 1,3"; unless lean, also "MDS"
// (classical) and "TruncatedSVD" (via the nlp transformer). When the named
// filter is not attached to the dataset (the PCA pass feeds the reduced
// matrix back in), the whole matrix is used.
func GenerateProjections(d *Dataset, filterName string, input map[string]Coords, lean bool) (map[string]Coords, *Dataset, *mat.Dense, error) {
	sub := d
	if genes, ok := d.Filters[filterName]; ok {
		if len(genes) < 2 {
			return nil, nil, nil, fmt.Errorf("projection: filter %q leaves %d genes", filterName, len(genes))
		}
		sub = d.SubsetGenesByName(genes)
	}
	if sub.NumGenes() < 2 {
		return nil, nil, nil, fmt.Errorf("projection: filter %q leaves %d genes", filterName, sub.NumGenes())
	}

	reduced, loadings, err := pcaReduce(sub)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("projection: %w", err)
	}

	projections := map[string]Coords{
		"PCA: 1,2": pcPair(reduced, 0, 1),
		"PCA: 1,3": pcPair(reduced, 0, 2),
	}
	if !lean {
		projections["MDS"] = classicalMDS(sub)
		tsvd, err := truncatedSVD(sub)
		if err != nil {
			log.Warnf("projection: truncated SVD failed for filter %q: %s", filterName, err)
		} else {
			projections["TruncatedSVD"] = tsvd
		}
	}
	for name, coords := range input {
		if len(coords) != sub.NumSamples() {
			return nil, nil, nil, fmt.Errorf("projection: input projection %q has %d samples, dataset has %d", name, len(coords), sub.NumSamples())
		}
		projections[name] = coords
	}
	for _, coords := range projections {
		centerCoords(coords)
	}
	return projections, reduced, loadings, nil
}

// pcaReduce computes the top principal components of a genes×samples
// dataset. Returns a components×samples dataset (rows named PC1..PCk) and
// the genes×3 loading matrix.
func pcaReduce(d *Dataset) (*Dataset, *mat.Dense, error) {
	ngenes, nsamples := d.Base.Dims()
	k := maxPCAComponents
	if k > ngenes {
		k = ngenes
	}
	if k > nsamples-1 {
		k = nsamples - 1
	}
	if k < 1 {
		k = 1
	}

	// stat.PC wants samples as rows.
	var pc stat.PC
	if ok := pc.PrincipalComponents(d.Base.T(), nil); !ok {
		return nil, nil, fmt.Errorf("PCA failed on %d×%d matrix", ngenes, nsamples)
	}
	var vecs mat.Dense // genes × min(nsamples, ngenes)
	pc.VectorsTo(&vecs)
	_, nv := vecs.Dims()
	if k > nv {
		k = nv
	}

	// Center genes, then score = Vᵀ · X.
	centered := mat.DenseCopyOf(d.Base)
	for i := 0; i < ngenes; i++ {
		row := mat.Row(nil, i, centered)
		mu := stat.Mean(row, nil)
		for j := range row {
			centered.Set(i, j, row[j]-mu)
		}
	}
	scores := mat.NewDense(k, nsamples, nil)
	scores.Mul(vecs.Slice(0, ngenes, 0, k).T(), centered)

	names := make([]string, k)
	for i := range names {
		names[i] = fmt.Sprintf("PC%d", i+1)
	}
	out := &Dataset{
		Genes:   names,
		Samples: append([]string(nil), d.Samples...),
		Base:    scores,
		Filters: map[string][]string{},
	}
	out.reindex()

	nl := 3
	if nl > k {
		nl = k
	}
	loadings := mat.DenseCopyOf(vecs.Slice(0, ngenes, 0, nl))
	return out, loadings, nil
}

// pcPair lifts two component rows of a reduced dataset into 2D coordinates.
// A missing second component yields a degenerate (x,0) embedding.
func pcPair(reduced *Dataset, a, b int) Coords {
	n := reduced.NumSamples()
	coords := make(Coords, n)
	rows, _ := reduced.Base.Dims()
	for j := 0; j < n; j++ {
		coords[j][0] = reduced.Base.At(a, j)
		if b < rows {
			coords[j][1] = reduced.Base.At(b, j)
		}
	}
	return coords
}

// classicalMDS embeds samples in 2D from their Euclidean distances
// (Torgerson double centering + eigendecomposition of the Gram matrix).
func classicalMDS(d *Dataset) Coords {
	n := d.NumSamples()
	d2 := mat.NewSymDense(n, nil)
	for a := 0; a < n; a++ {
		ca := mat.Col(nil, a, d.Base)
		for b := a + 1; b < n; b++ {
			cb := mat.Col(nil, b, d.Base)
			var sum float64
			for i := range ca {
				diff := ca[i] - cb[i]
				sum += diff * diff
			}
			d2.SetSym(a, b, sum)
		}
	}
	// B = -J D² J / 2
	rowMean := make([]float64, n)
	var grand float64
	for a := 0; a < n; a++ {
		for b := 0; b < n; b++ {
			rowMean[a] += d2.At(a, b)
		}
		rowMean[a] /= float64(n)
		grand += rowMean[a]
	}
	grand /= float64(n)
	gram := mat.NewSymDense(n, nil)
	for a := 0; a < n; a++ {
		for b := a; b < n; b++ {
			gram.SetSym(a, b, -0.5*(d2.At(a, b)-rowMean[a]-rowMean[b]+grand))
		}
	}

	var es mat.EigenSym
	if ok := es.Factorize(gram, true); !ok {
		return make(Coords, n)
	}
	vals := es.Values(nil)
	var ev mat.Dense
	es.VectorsTo(&ev)

	// eigenvalues come back ascending; take the two largest
	coords := make(Coords, n)
	for dim, col := 0, n-1; dim < 2 && col >= 0; dim, col = dim+1, col-1 {
		if vals[col] <= 0 {
			break
		}
		scale := math.Sqrt(vals[col])
		for j := 0; j < n; j++ {
			coords[j][dim] = ev.At(j, col) * scale
		}
	}
	return coords
}

// truncatedSVD embeds samples using the nlp transformer (genes are treated
// as features, samples as documents).
func truncatedSVD(d *Dataset) (Coords, error) {
	transformer := nlp.NewTruncatedSVD(2)
	reduced, err := transformer.FitTransform(d.Base)
	if err != nil {
		return nil, err
	}
	rows, n := reduced.Dims()
	coords := make(Coords, n)
	for j := 0; j < n; j++ {
		coords[j][0] = reduced.At(0, j)
		if rows > 1 {
			coords[j][1] = reduced.At(1, j)
		}
	}
	return coords, nil
}

func centerCoords(coords Coords) {
	var mx, my float64
	for _, c := range coords {
		mx += c[0]
		my += c[1]
	}
	n := float64(len(coords))
	if n == 0 {
		return
	}
	mx, my = mx/n, my/n
	for i := range coords {
		coords[i][0] -= mx
		coords[i][1] -= my
	}
}

const (
	kmeansMinK     = 2
	kmeansMaxK     = 5
	kmeansRestarts = 10
	kmeansIters    = 100
)

// DefineClusters assigns discrete cluster labels to every projection,
// keyed by projection name then cluster-method name ("K-Means, K=2" ...).
func DefineClusters(projections map[string]Coords, src rand.Source) map[string]map[string][]int {
	rnd := rand.New(src)
	out := make(map[string]map[string][]int, len(projections))
	names := make([]string, 0, len(projections))
	for name := range projections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		coords := projections[name]
		methods := map[string][]int{}
		for k := kmeansMinK; k <= kmeansMaxK; k++ {
			if k > len(coords) {
				break
			}
			methods[fmt.Sprintf("K-Means, K=%d", k)] = kmeans(coords, k, rnd)
		}
		out[name] = methods
	}
	return out
}

// kmeans is plain Lloyd's algorithm with multiple seeded restarts, keeping
// the assignment with the lowest inertia.
func kmeans(coords Coords, k int, rnd *rand.Rand) []int {
	best := make([]int, len(coords))
	bestCost := math.Inf(1)
	for r := 0; r < kmeansRestarts; r++ {
		centers := make(Coords, k)
		for i, p := range rnd.Perm(len(coords))[:k] {
			centers[i] = coords[p]
		}
		assign := make([]int, len(coords))
		for iter := 0; iter < kmeansIters; iter++ {
			changed := false
			for j, c := range coords {
				bi, bd := 0, math.Inf(1)
				for i, ctr := range centers {
					dx, dy := c[0]-ctr[0], c[1]-ctr[1]
					if d := dx*dx + dy*dy; d < bd {
						bi, bd = i, d
					}
				}
				if assign[j] != bi {
					assign[j] = bi
					changed = true
				}
			}
			if !changed && iter > 0 {
				break
			}
			var sums = make(Coords, k)
			counts := make([]int, k)
			for j, c := range coords {
				sums[assign[j]][0] += c[0]
				sums[assign[j]][1] += c[1]
				counts[assign[j]]++
			}
			for i := range centers {
				if counts[i] > 0 {
					centers[i][0] = sums[i][0] / float64(counts[i])
					centers[i][1] = sums[i][1] / float64(counts[i])
				}
			}
		}
		var cost float64
		for j, c := range coords {
			dx, dy := c[0]-centers[assign[j]][0], c[1]-centers[assign[j]][1]
			cost += dx*dx + dy*dy
		}
		if cost < bestCost {
			bestCost = cost
			copy(best, assign)
		}
	}
	return best
}
