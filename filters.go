package fastproject

import (
	"fmt"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

const fanoBuckets = 10

// ApplyFilters attaches named gene filters to the dataset and narrows its
// rows to the union of filtered genes (original gene order preserved).
//
// Default filters: "Threshold" keeps genes detected (nonzero) in at least
// threshold samples; "Fano" keeps Threshold-passing genes that are
// overdispersed relative to genes of similar mean expression. nofilter
// replaces both with a single all-genes "No_Filter"; lean drops the
// Threshold filter to halve the projection work downstream.
func ApplyFilters(d *Dataset, threshold int, nofilter, lean bool) (*Dataset, error) {
	if nofilter {
		out := d.Clone()
		out.AddFilter("No_Filter", out.Genes)
		return out, nil
	}

	ngenes, nsamples := d.Base.Dims()
	var thresholdGenes []string
	for i := 0; i < ngenes; i++ {
		n := 0
		for j := 0; j < nsamples; j++ {
			if d.Base.At(i, j) != 0 {
				n++
			}
		}
		if n >= threshold {
			thresholdGenes = append(thresholdGenes, d.Genes[i])
		}
	}
	if len(thresholdGenes) == 0 {
		return nil, fmt.Errorf("filter: no genes detected in at least %d samples", threshold)
	}
	fanoGenes := fanoFilter(d, thresholdGenes)
	log.Infof("filters: %d/%d genes pass threshold=%d, %d pass fano", len(thresholdGenes), ngenes, threshold, len(fanoGenes))

	union := map[string]bool{}
	for _, g := range fanoGenes {
		union[g] = true
	}
	if !lean {
		for _, g := range thresholdGenes {
			union[g] = true
		}
	}
	var keep []string
	for _, g := range d.Genes {
		if union[g] {
			keep = append(keep, g)
		}
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("filter: no overdispersed genes found, try -nofilter")
	}
	out := d.SubsetGenesByName(keep)
	if !lean {
		out.AddFilter("Threshold", thresholdGenes)
	}
	if len(fanoGenes) > 1 {
		out.AddFilter("Fano", fanoGenes)
	} else {
		log.Warnf("filters: fano filter left %d genes, skipping it", len(fanoGenes))
	}
	return out, nil
}

// fanoFilter buckets candidate genes into mean-expression deciles and keeps
// genes whose Fano factor (variance/mean) sits more than 2 MAD above the
// bucket median.
func fanoFilter(d *Dataset, candidates []string) []string {
	type geneStat struct {
		gene string
		mu   float64
		fano float64
	}
	stats := make([]geneStat, 0, len(candidates))
	for _, g := range candidates {
		row := d.GeneRow(g)
		if row < 0 {
			continue
		}
		vals := make([]float64, d.NumSamples())
		for j := range vals {
			vals[j] = d.Base.At(row, j)
		}
		mu, sd := stat.MeanStdDev(vals, nil)
		if mu <= 0 {
			continue
		}
		stats = append(stats, geneStat{g, mu, sd * sd / mu})
	}
	if len(stats) == 0 {
		return nil
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].mu < stats[j].mu })

	var kept []string
	per := (len(stats) + fanoBuckets - 1) / fanoBuckets
	for start := 0; start < len(stats); start += per {
		end := start + per
		if end > len(stats) {
			end = len(stats)
		}
		bucket := stats[start:end]
		fanos := make([]float64, len(bucket))
		for i, s := range bucket {
			fanos[i] = s.fano
		}
		med := median(fanos)
		dev := make([]float64, len(fanos))
		for i, f := range fanos {
			dev[i] = math.Abs(f - med)
		}
		mad := median(dev)
		for _, s := range bucket {
			if s.fano > med+2*mad {
				kept = append(kept, s.gene)
			}
		}
	}
	sort.Strings(kept)
	return kept
}
