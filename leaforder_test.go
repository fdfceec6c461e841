package fastproject

import (
	"sort"

	"gopkg.in/check.v1"
)

type leafOrderSuite struct{}

var _ = check.Suite(&leafOrderSuite{})

func (s *leafOrderSuite) TestTinyDatasetIdentity(c *check.C) {
	d, err := NewDataset([]string{"g1", "g2"}, []string{"s1", "s2"}, []float64{1, 2, 3, 4})
	c.Assert(err, check.IsNil)
	order, err := LeafOrder(d)
	c.Assert(err, check.IsNil)
	c.Check(order, check.DeepEquals, []int{0, 1})
}

func (s *leafOrderSuite) TestPermutation(c *check.C) {
	d := testDataset(c, 12, 8, 31)
	order, err := LeafOrder(d)
	c.Assert(err, check.IsNil)
	c.Assert(order, check.HasLen, 12)
	sorted := append([]int(nil), order...)
	sort.Ints(sorted)
	for i, v := range sorted {
		c.Check(v, check.Equals, i)
	}
}

func (s *leafOrderSuite) TestCorrelatedGenesAdjacent(c *check.C) {
	// two anti-patterned blocks with slight jitter; the walk must keep each
	// block contiguous
	patternA := []float64{1, 2, 3, 4, 5, 6}
	patternB := []float64{6, 5, 4, 3, 2, 1}
	genes := []string{"a1", "a2", "a3", "b1", "b2", "b3"}
	var data []float64
	for i := 0; i < 3; i++ {
		for j, v := range patternA {
			data = append(data, v+float64(i)*0.01*float64(j))
		}
	}
	for i := 0; i < 3; i++ {
		for j, v := range patternB {
			data = append(data, v+float64(i)*0.01*float64(j))
		}
	}
	d, err := NewDataset(genes, []string{"s1", "s2", "s3", "s4", "s5", "s6"}, data)
	c.Assert(err, check.IsNil)
	order, err := LeafOrder(d)
	c.Assert(err, check.IsNil)
	c.Assert(order, check.HasLen, 6)

	pos := make([]int, 6)
	for p, g := range order {
		pos[g] = p
	}
	spanA := maxInt(pos[0], pos[1], pos[2]) - minInt(pos[0], pos[1], pos[2])
	spanB := maxInt(pos[3], pos[4], pos[5]) - minInt(pos[3], pos[4], pos[5])
	c.Check(spanA, check.Equals, 2)
	c.Check(spanB, check.Equals, 2)
}

func minInt(xs ...int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxInt(xs ...int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
