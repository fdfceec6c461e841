package fastproject

import (
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/exp/rand"
)

// Signature is a named gene set with per-gene sign. Construct it with
// NewSignature and treat it as immutable afterwards.
type Signature struct {
	Name   string
	Source string
	Signed bool
	Genes  map[string]float64 // gene -> +1 or -1
}

func NewSignature(name, source string, signed bool, genes map[string]float64) *Signature {
	cp := make(map[string]float64, len(genes))
	for g, sign := range genes {
		if sign < 0 {
			cp[g] = -1
		} else {
			cp[g] = 1
		}
	}
	return &Signature{Name: name, Source: source, Signed: signed, Genes: cp}
}

// Hash returns a digest of the signature's gene/sign content (name and
// source excluded), so identical gene sets loaded from different files can
// be collapsed to one signature.
func (sig *Signature) Hash() [blake2b.Size256]byte {
	genes := make([]string, 0, len(sig.Genes))
	for g := range sig.Genes {
		genes = append(genes, g)
	}
	sort.Strings(genes)
	h, _ := blake2b.New256(nil)
	for _, g := range genes {
		fmt.Fprintf(h, "%s=%.0f\n", g, sig.Genes[g])
	}
	var sum [blake2b.Size256]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// SignatureScore holds one value per sample for a scored signature.
// NumGenes is 0 for precomputed/derived scores, which bypass significance
// pruning.
type SignatureScore struct {
	Name          string
	Scores        []float64
	Samples       []string
	IsFactor      bool
	IsPrecomputed bool
	NumGenes      int
}

// backgroundSizes are the gene-set magnitudes used to build empirical null
// distributions.
var backgroundSizes = []int{5, 10, 20, 50, 100, 200}

// BackgroundSignatures draws perSize random positive-sign signatures at
// each background size, sampling genes without replacement from the given
// universe. Sizes larger than the universe are skipped. The signatures are
// only ever used to calibrate null distributions; they are never reported
// or pruned.
func BackgroundSignatures(genes []string, perSize int, src rand.Source) []*Signature {
	rnd := rand.New(src)
	var sigs []*Signature
	for _, size := range backgroundSizes {
		if size > len(genes) {
			continue
		}
		for j := 0; j < perSize; j++ {
			picked := make(map[string]float64, size)
			for _, i := range rnd.Perm(len(genes))[:size] {
				picked[genes[i]] = 1
			}
			name := fmt.Sprintf("RANDOM_BG_%d_%d", size, j)
			sigs = append(sigs, NewSignature(name, "background", true, picked))
		}
	}
	return sigs
}
