package fastproject

import (
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type falsenegSuite struct{}

var _ = check.Suite(&falsenegSuite{})

func (s *falsenegSuite) TestCreateFalseNegMapRequiresHousekeeping(c *check.C) {
	d, err := NewDataset([]string{"g1", "g2"}, []string{"s1"}, []float64{1, 2})
	c.Assert(err, check.IsNil)
	_, err = CreateFalseNegMap(d, []string{"g1", "g2", "gX"})
	c.Check(err, check.ErrorMatches, `false-negative map: only 2 of 3 housekeeping genes present, need at least 5`)
}

func (s *falsenegSuite) TestCreateFalseNegMapDegenerateSamples(c *check.C) {
	genes := []string{"hk1", "hk2", "hk3", "hk4", "hk5", "hk6"}
	// s1 detects everything, s2 detects nothing
	data := []float64{
		1, 0,
		2, 0,
		3, 0,
		4, 0,
		5, 0,
		6, 0,
	}
	d, err := NewDataset(genes, []string{"s1", "s2"}, data)
	c.Assert(err, check.IsNil)
	fit, err := CreateFalseNegMap(d, genes)
	c.Assert(err, check.IsNil)
	c.Check(fit.Samples, check.DeepEquals, []string{"s1", "s2"})
	c.Check(fit.HousekeepingMeans, check.HasLen, 6)
	c.Check(fit.DetectionProb(0, 1) > 0.999, check.Equals, true)
	c.Check(fit.DetectionProb(1, 1) < 0.001, check.Equals, true)
}

func (s *falsenegSuite) TestCreateFalseNegMapMixedSamples(c *check.C) {
	genes := []string{"hk1", "hk2", "hk3", "hk4", "hk5", "hk6", "hk7", "hk8"}
	// detection roughly follows expression level, with enough overlap that
	// neither sample's pattern is perfectly separable
	data := []float64{
		0, 8,
		2, 2,
		0, 2,
		4, 4,
		0, 1,
		6, 6,
		1, 0,
		8, 8,
	}
	d, err := NewDataset(genes, []string{"s1", "s2"}, data)
	c.Assert(err, check.IsNil)
	fit, err := CreateFalseNegMap(d, genes)
	c.Assert(err, check.IsNil)
	for j := range fit.Samples {
		for _, mu := range fit.HousekeepingMeans {
			p := fit.DetectionProb(j, mu)
			c.Check(p >= 0 && p <= 1, check.Equals, true, check.Commentf("sample %d, mu=%v, p=%v", j, mu, p))
		}
	}
}

func (s *falsenegSuite) TestComputeWeights(c *check.C) {
	fit := &FalseNegFit{
		Samples:           []string{"s1", "s2"},
		Params:            [][2]float64{{10, 0}, {-10, 0}},
		HousekeepingMeans: []float64{1, 2, 3},
	}
	d, err := NewDataset([]string{"g1", "g2"}, []string{"s1", "s2"}, []float64{
		5, 0,
		0, 7,
	})
	c.Assert(err, check.IsNil)
	w := ComputeWeights(fit, d)
	// nonzero entries are fully trusted
	c.Check(w.At(0, 0), check.Equals, 1.0)
	c.Check(w.At(1, 1), check.Equals, 1.0)
	// s1 detects everything, so its zero is probably real and keeps its
	// full weight...
	c.Check(w.At(1, 0) > 0.999, check.Equals, true)
	// ...while s2 detects nothing, so its zero is probably a dropout and
	// carries almost none
	c.Check(w.At(0, 1) < 0.001, check.Equals, true)
}

func (s *falsenegSuite) TestComputeWeightsDropoutDirection(c *check.C) {
	// two samples with identical observations but opposite detection
	// curves: the weight on a zero must follow the detection probability,
	// not its complement
	fit := &FalseNegFit{
		Samples:           []string{"good", "bad"},
		Params:            [][2]float64{{10, 0}, {-10, 0}},
		HousekeepingMeans: []float64{1},
	}
	d, err := NewDataset([]string{"g1"}, []string{"good", "bad"}, []float64{0, 0})
	c.Assert(err, check.IsNil)
	w := ComputeWeights(fit, d)
	c.Check(w.At(0, 0) > w.At(0, 1), check.Equals, true)
	c.Check(w.At(0, 0) > 0.999, check.Equals, true)
	c.Check(w.At(0, 1) < 0.001, check.Equals, true)
}

func (s *falsenegSuite) TestAlignWeights(c *check.C) {
	// rows and columns arrive in a different order, with an extra gene
	w, err := NewDataset([]string{"g3", "g1", "g2"}, []string{"s2", "s1"}, []float64{
		32, 31,
		12, 11,
		22, 21,
	})
	c.Assert(err, check.IsNil)
	d, err := NewDataset([]string{"g1", "g2"}, []string{"s1", "s2"}, make([]float64, 4))
	c.Assert(err, check.IsNil)
	got, err := AlignWeights(w, d)
	c.Assert(err, check.IsNil)
	c.Check(mat.Equal(got, mat.NewDense(2, 2, []float64{
		11, 12,
		21, 22,
	})), check.Equals, true)
}

func (s *falsenegSuite) TestAlignWeightsMissingLabels(c *check.C) {
	w, err := NewDataset([]string{"g1"}, []string{"s1"}, []float64{1})
	c.Assert(err, check.IsNil)
	d, err := NewDataset([]string{"g1", "gX"}, []string{"s1"}, make([]float64, 2))
	c.Assert(err, check.IsNil)
	_, err = AlignWeights(w, d)
	c.Check(err, check.ErrorMatches, `input weights: no row for gene "gX"`)

	d, err = NewDataset([]string{"g1"}, []string{"s1", "sX"}, make([]float64, 2))
	c.Assert(err, check.IsNil)
	_, err = AlignWeights(w, d)
	c.Check(err, check.ErrorMatches, `input weights: no column for sample "sX"`)
}

func (s *falsenegSuite) TestQualityCheck(c *check.C) {
	fit := &FalseNegFit{
		Samples: []string{"s1", "s2", "s3", "s4", "s5"},
		Params: [][2]float64{
			{10, 0}, {10, 0}, {10, 0}, {10, 0},
			{-10, 0}, // outlier
		},
		HousekeepingMeans: []float64{1, 2, 3},
	}
	passes, scores := QualityCheck(fit)
	c.Assert(scores, check.HasLen, 5)
	c.Check(passes, check.DeepEquals, []bool{true, true, true, true, false})
	c.Check(scores[0] > 0.999, check.Equals, true)
	c.Check(scores[4] < 0.001, check.Equals, true)
}

func (s *falsenegSuite) TestMedian(c *check.C) {
	c.Check(median([]float64{3, 1, 2}), check.Equals, 2.0)
	c.Check(median([]float64{4, 1, 3, 2}), check.Equals, 2.0)
}
