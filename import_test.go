package fastproject

import (
	"strings"

	"gopkg.in/check.v1"
)

type importSuite struct{}

var _ = check.Suite(&importSuite{})

func (s *importSuite) TestReadExpressionMatrix(c *check.C) {
	in := "gene\ts1\ts2\ts3\n" +
		"g1\t1\t2\t3\n" +
		"g2\t0\t0.5\t6\n" +
		"g1\t9\t9\t9\n" // duplicate, dropped
	d, err := ReadExpressionMatrix(strings.NewReader(in))
	c.Assert(err, check.IsNil)
	c.Check(d.Genes, check.DeepEquals, []string{"g1", "g2"})
	c.Check(d.Samples, check.DeepEquals, []string{"s1", "s2", "s3"})
	c.Check(d.Base.At(0, 2), check.Equals, 3.0)
	c.Check(d.Base.At(1, 1), check.Equals, 0.5)
}

func (s *importSuite) TestReadExpressionMatrixCSV(c *check.C) {
	in := ",s1,s2\n" +
		"g1,1,2\n" +
		"g2,3,4\n"
	d, err := ReadExpressionMatrix(strings.NewReader(in))
	c.Assert(err, check.IsNil)
	c.Check(d.Samples, check.DeepEquals, []string{"s1", "s2"})
	c.Check(d.Base.At(1, 0), check.Equals, 3.0)
}

func (s *importSuite) TestReadExpressionMatrixErrors(c *check.C) {
	_, err := ReadExpressionMatrix(strings.NewReader(""))
	c.Check(err, check.ErrorMatches, `expression matrix: empty input`)

	_, err = ReadExpressionMatrix(strings.NewReader("gene\ts1\ts2\ng1\t1\n"))
	c.Check(err, check.ErrorMatches, `expression matrix: line 2 has 2 fields, want 3`)

	_, err = ReadExpressionMatrix(strings.NewReader("gene\ts1\ng1\tnope\n"))
	c.Check(err, check.ErrorMatches, `expression matrix: line 2: .*`)
}

func (s *importSuite) TestReadSignatures(c *check.C) {
	in := "# comment\n" +
		"UNSIGNED\tdesc\tg1\tg2\tg3\n" +
		"SIGNED\tdesc\tg1,1\tg2,-1\n" +
		"DUP\tdesc\tg3\tg2\tg1\n" // same gene content as UNSIGNED
	sigs, err := ReadSignatures(strings.NewReader(in), "test.gmt")
	c.Assert(err, check.IsNil)
	c.Assert(sigs, check.HasLen, 2)

	c.Check(sigs[0].Name, check.Equals, "UNSIGNED")
	c.Check(sigs[0].Source, check.Equals, "test.gmt")
	c.Check(sigs[0].Signed, check.Equals, false)
	c.Check(sigs[0].Genes, check.DeepEquals, map[string]float64{"g1": 1, "g2": 1, "g3": 1})

	c.Check(sigs[1].Name, check.Equals, "SIGNED")
	c.Check(sigs[1].Signed, check.Equals, true)
	c.Check(sigs[1].Genes, check.DeepEquals, map[string]float64{"g1": 1, "g2": -1})
}

func (s *importSuite) TestReadSignaturesShortLine(c *check.C) {
	_, err := ReadSignatures(strings.NewReader("NAME\tdesc\n"), "bad.gmt")
	c.Check(err, check.ErrorMatches, `bad.gmt: line 1: want at least name, description, and one gene`)
}

func (s *importSuite) TestReadGeneList(c *check.C) {
	in := "# housekeeping\nACTB\n\n  GAPDH  \nTUBB\n"
	genes, err := ReadGeneList(strings.NewReader(in))
	c.Assert(err, check.IsNil)
	c.Check(genes, check.DeepEquals, []string{"ACTB", "GAPDH", "TUBB"})
}
