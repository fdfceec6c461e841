package fastproject

import (
	"fmt"
	"strings"

	"golang.org/x/exp/rand"
	"gopkg.in/check.v1"
)

type signatureSuite struct{}

var _ = check.Suite(&signatureSuite{})

func (s *signatureSuite) TestNewSignatureClampsSigns(c *check.C) {
	sig := NewSignature("sig", "src", true, map[string]float64{"a": 2.5, "b": -0.1, "c": 0})
	c.Check(sig.Genes, check.DeepEquals, map[string]float64{"a": 1, "b": -1, "c": 1})
}

func (s *signatureSuite) TestHash(c *check.C) {
	a := NewSignature("a", "file1", false, map[string]float64{"g1": 1, "g2": 1})
	b := NewSignature("b", "file2", false, map[string]float64{"g2": 1, "g1": 1})
	c.Check(a.Hash(), check.Equals, b.Hash())

	flipped := NewSignature("a", "file1", true, map[string]float64{"g1": 1, "g2": -1})
	c.Check(a.Hash() == flipped.Hash(), check.Equals, false)
	extra := NewSignature("a", "file1", false, map[string]float64{"g1": 1, "g2": 1, "g3": 1})
	c.Check(a.Hash() == extra.Hash(), check.Equals, false)
}

func (s *signatureSuite) TestBackgroundSignatures(c *check.C) {
	genes := make([]string, 60)
	for i := range genes {
		genes[i] = fmt.Sprintf("G%02d", i)
	}
	sigs := BackgroundSignatures(genes, 2, rand.NewSource(42))
	// sizes 100 and 200 exceed the 60-gene universe and are skipped
	c.Assert(sigs, check.HasLen, 8)
	bySize := map[int]int{}
	for _, sig := range sigs {
		c.Check(strings.HasPrefix(sig.Name, "RANDOM_BG_"), check.Equals, true)
		c.Check(sig.Source, check.Equals, "background")
		bySize[len(sig.Genes)]++
		for _, sign := range sig.Genes {
			c.Check(sign, check.Equals, 1.0)
		}
	}
	c.Check(bySize, check.DeepEquals, map[int]int{5: 2, 10: 2, 20: 2, 50: 2})
	c.Check(sigs[0].Name, check.Equals, "RANDOM_BG_5_0")
	c.Check(sigs[7].Name, check.Equals, "RANDOM_BG_50_1")
}

func (s *signatureSuite) TestBackgroundSignaturesDeterministic(c *check.C) {
	genes := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	first := BackgroundSignatures(genes, 3, rand.NewSource(1))
	second := BackgroundSignatures(genes, 3, rand.NewSource(1))
	c.Assert(second, check.HasLen, len(first))
	for i := range first {
		c.Check(second[i].Name, check.Equals, first[i].Name)
		c.Check(second[i].Genes, check.DeepEquals, first[i].Genes)
	}
}
