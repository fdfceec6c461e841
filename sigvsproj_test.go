package fastproject

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gopkg.in/check.v1"
)

type sigVsProjSuite struct{}

var _ = check.Suite(&sigVsProjSuite{})

func (s *sigVsProjSuite) TestEmpiricalPvalue(c *check.C) {
	null := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}
	// above every null statistic
	c.Check(empiricalPvalue(null, 0.95), check.Equals, 0.1)
	// below every null statistic
	c.Check(empiricalPvalue(null, 0.0), check.Equals, 1.0)
	// in between: five null values ≥ 0.45
	c.Check(empiricalPvalue(null, 0.45), check.Equals, 0.6)
	// empty null
	c.Check(empiricalPvalue(nil, 0.5), check.Equals, 1.0)
}

func (s *sigVsProjSuite) TestClosestSize(c *check.C) {
	sizes := []int{5, 10, 20, 50}
	c.Check(closestSize(sizes, 4), check.Equals, 5)
	c.Check(closestSize(sizes, 14), check.Equals, 10)
	c.Check(closestSize(sizes, 200), check.Equals, 50)
}

// lineCoords places n samples evenly along a line.
func lineCoords(n int) Coords {
	coords := make(Coords, n)
	for j := range coords {
		coords[j][0] = float64(j)
	}
	return coords
}

func (s *sigVsProjSuite) TestNeighborhoodWeights(c *check.C) {
	w := neighborhoodWeights(lineCoords(10))
	for a := 0; a < 10; a++ {
		c.Check(w.At(a, a), check.Equals, 0.0)
		var sum float64
		for b := 0; b < 10; b++ {
			c.Check(w.At(a, b) >= 0, check.Equals, true)
			sum += w.At(a, b)
		}
		c.Check(math.Abs(sum-1) < 1e-9, check.Equals, true)
	}
}

func (s *sigVsProjSuite) TestConsistencyStatSmoothBeatsNoisy(c *check.C) {
	n := 20
	weights := neighborhoodWeights(lineCoords(n))
	smooth := &SignatureScore{Scores: make([]float64, n)}
	noisy := &SignatureScore{Scores: make([]float64, n)}
	for j := 0; j < n; j++ {
		smooth.Scores[j] = float64(j)
		noisy.Scores[j] = float64(1 - 2*(j%2))
	}
	c.Check(consistencyStat(weights, smooth) > consistencyStat(weights, noisy), check.Equals, true)
}

func (s *sigVsProjSuite) TestConsistencyStatConstantScores(c *check.C) {
	weights := neighborhoodWeights(lineCoords(8))
	flat := &SignatureScore{Scores: make([]float64, 8)}
	// zero spread would be 0/0; the statistic settles at 0 instead of NaN
	stat := consistencyStat(weights, flat)
	c.Check(math.IsNaN(stat), check.Equals, false)
}

func (s *sigVsProjSuite) TestFactorConsistency(c *check.C) {
	n := 10
	weights := neighborhoodWeights(lineCoords(n))
	labels := make([]float64, n)
	for j := n / 2; j < n; j++ {
		labels[j] = 1
	}
	perfect := &SignatureScore{Scores: labels, IsFactor: true}
	// two spatially separated blocks: at most the two boundary samples can
	// be outvoted by their neighbors
	c.Check(consistencyStat(weights, perfect) >= 0.8, check.Equals, true)
}

func (s *sigVsProjSuite) TestSigsVsProjections(c *check.C) {
	n := 15
	projections := map[string]Coords{
		"PCA: 1,2": lineCoords(n),
	}
	smooth := make([]float64, n)
	for j := range smooth {
		smooth[j] = float64(j)
	}
	sigScores := map[string]*SignatureScore{
		"SIG_SMOOTH": {Name: "SIG_SMOOTH", Scores: smooth, NumGenes: 10},
		"A_FIRST":    {Name: "A_FIRST", Scores: make([]float64, n), NumGenes: 5},
	}
	rnd := rand.New(rand.NewSource(9))
	bgScores := map[string]*SignatureScore{}
	for i := 0; i < 20; i++ {
		scores := make([]float64, n)
		for j := range scores {
			scores[j] = rnd.NormFloat64()
		}
		name := fmt.Sprintf("RANDOM_BG_10_%d", i)
		bgScores[name] = &SignatureScore{Name: name, Scores: scores, NumGenes: 10}
	}

	sigKeys, projKeys, consistency, pvals := SigsVsProjections(projections, sigScores, bgScores, 2)
	c.Check(sigKeys, check.DeepEquals, []string{"A_FIRST", "SIG_SMOOTH"})
	c.Check(projKeys, check.DeepEquals, []string{"PCA: 1,2"})
	rows, cols := pvals.Dims()
	c.Check(rows, check.Equals, 2)
	c.Check(cols, check.Equals, 1)
	cr, cc := consistency.Dims()
	c.Check(cr, check.Equals, rows)
	c.Check(cc, check.Equals, cols)

	smoothRow := sort.SearchStrings(sigKeys, "SIG_SMOOTH")
	for i := 0; i < rows; i++ {
		p := pvals.At(i, 0)
		if p <= 0 || p > 1 {
			c.Errorf("p-value %v out of (0,1]", p)
		}
	}
	// a perfectly position-aligned signature beats every random background
	c.Check(pvals.At(smoothRow, 0), check.Equals, 1.0/21)
}

func (s *sigVsProjSuite) TestSigsVsProjectionsDeterministic(c *check.C) {
	n := 12
	projections := map[string]Coords{"MDS": lineCoords(n)}
	scores := make([]float64, n)
	for j := range scores {
		scores[j] = float64(j * j)
	}
	sigScores := map[string]*SignatureScore{"SIG": {Name: "SIG", Scores: scores, NumGenes: 7}}
	bgScores := map[string]*SignatureScore{}
	for i := 0; i < 10; i++ {
		bg := make([]float64, n)
		for j := range bg {
			bg[j] = float64((j*7 + i) % n)
		}
		name := fmt.Sprintf("RANDOM_BG_5_%d", i)
		bgScores[name] = &SignatureScore{Name: name, Scores: bg, NumGenes: 5}
	}
	_, _, m1, p1 := SigsVsProjections(projections, sigScores, bgScores, 3)
	_, _, m2, p2 := SigsVsProjections(projections, sigScores, bgScores, 3)
	c.Check(m1.At(0, 0), check.Equals, m2.At(0, 0))
	c.Check(p1.At(0, 0), check.Equals, p2.At(0, 0))
}
