package fastproject

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type matrixSuite struct{}

var _ = check.Suite(&matrixSuite{})

func (s *matrixSuite) TestNewDatasetShapeMismatch(c *check.C) {
	_, err := NewDataset([]string{"g1"}, []string{"s1", "s2"}, []float64{1})
	c.Check(err, check.ErrorMatches, `dataset: have 1 values, want 1 genes × 2 samples`)
}

func (s *matrixSuite) TestGeneRow(c *check.C) {
	d, err := NewDataset([]string{"g1", "g2"}, []string{"s1"}, []float64{1, 2})
	c.Assert(err, check.IsNil)
	c.Check(d.GeneRow("g2"), check.Equals, 1)
	c.Check(d.GeneRow("nope"), check.Equals, -1)
}

func (s *matrixSuite) TestZnormRows(c *check.C) {
	d, err := NewDataset([]string{"g1", "g2"}, []string{"s1", "s2", "s3"}, []float64{
		1, 2, 3,
		5, 5, 5, // constant row must not divide by zero
	})
	c.Assert(err, check.IsNil)
	n := d.Normalized(NormRows)
	for i := 0; i < 2; i++ {
		row := mat.Row(nil, i, n.Base)
		var sum float64
		for _, v := range row {
			sum += v
		}
		c.Check(math.Abs(sum) < 1e-9, check.Equals, true)
	}
	// original untouched
	c.Check(d.Base.At(0, 0), check.Equals, 1.0)
}

func (s *matrixSuite) TestZnormColumns(c *check.C) {
	d, err := NewDataset([]string{"g1", "g2", "g3"}, []string{"s1", "s2"}, []float64{
		1, 10,
		2, 20,
		3, 30,
	})
	c.Assert(err, check.IsNil)
	n := d.Normalized(NormColumns)
	for j := 0; j < 2; j++ {
		col := mat.Col(nil, j, n.Base)
		var sum float64
		for _, v := range col {
			sum += v
		}
		c.Check(math.Abs(sum) < 1e-9, check.Equals, true)
	}
}

func (s *matrixSuite) TestRankNormColumns(c *check.C) {
	d, err := NewDataset([]string{"g1", "g2", "g3", "g4"}, []string{"s1"}, []float64{
		7,
		1,
		7,
		100,
	})
	c.Assert(err, check.IsNil)
	n := d.Normalized(NormRankColumns)
	// ranks 0..3 scaled by 1/3; the tied 7s share rank 1.5
	c.Check(n.Base.At(1, 0), check.Equals, 0.0)
	c.Check(n.Base.At(0, 0), check.Equals, 0.5)
	c.Check(n.Base.At(2, 0), check.Equals, 0.5)
	c.Check(n.Base.At(3, 0), check.Equals, 1.0)
}

func (s *matrixSuite) TestSubsetGenes(c *check.C) {
	d, err := NewDataset([]string{"g1", "g2", "g3"}, []string{"s1", "s2"}, []float64{
		1, 2,
		3, 4,
		5, 6,
	})
	c.Assert(err, check.IsNil)
	d.AddFilter("f", []string{"g1", "g3", "missing"})
	c.Check(d.Filters["f"], check.DeepEquals, []string{"g1", "g3"})

	sub := d.SubsetGenesByName([]string{"g3", "g1"})
	c.Check(sub.Genes, check.DeepEquals, []string{"g3", "g1"})
	c.Check(sub.Base.At(0, 1), check.Equals, 6.0)
	c.Check(sub.Base.At(1, 0), check.Equals, 1.0)
	c.Check(sub.Filters["f"], check.DeepEquals, []string{"g1", "g3"})
	c.Check(sub.GeneRow("g2"), check.Equals, -1)
}

func (s *matrixSuite) TestSubsetSamples(c *check.C) {
	d, err := NewDataset([]string{"g1", "g2"}, []string{"s1", "s2", "s3"}, []float64{
		1, 2, 3,
		4, 5, 6,
	})
	c.Assert(err, check.IsNil)
	sub := d.SubsetSamples([]bool{true, false, true})
	c.Check(sub.Samples, check.DeepEquals, []string{"s1", "s3"})
	c.Check(sub.Base.At(1, 1), check.Equals, 6.0)
	c.Check(sub.NumGenes(), check.Equals, 2)
}

func (s *matrixSuite) TestZeroProportion(c *check.C) {
	d, err := NewDataset([]string{"g1", "g2"}, []string{"s1", "s2"}, []float64{
		0, 1,
		0, 0,
	})
	c.Assert(err, check.IsNil)
	c.Check(d.ZeroProportion(), check.DeepEquals, []float64{1, 0.5})
	zeros := d.ZeroLocations()
	c.Check(zeros["g1"], check.DeepEquals, []bool{true, false})
	c.Check(zeros["g2"], check.DeepEquals, []bool{true, true})
}

func (s *matrixSuite) TestParseNormMethod(c *check.C) {
	for name, want := range map[string]NormMethod{
		"":                        NormNone,
		"none":                    NormNone,
		"znorm_columns":           NormColumns,
		"znorm_rows":              NormRows,
		"znorm_rows_then_columns": NormRowsThenColumns,
		"rank_norm_columns":       NormRankColumns,
	} {
		m, err := ParseNormMethod(name)
		c.Check(err, check.IsNil)
		c.Check(m, check.Equals, want)
		if name != "" {
			c.Check(m.String(), check.Equals, name)
		}
	}
	_, err := ParseNormMethod("bogus")
	c.Check(err, check.ErrorMatches, `unrecognized sig-norm-method "bogus"`)
}
