package fastproject

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Dataset is a labeled genes×samples matrix. Base has one row per gene and
// one column per sample. Weights, when non-nil, has the same shape and
// holds per-entry reliability weights in [0,1]. Filters maps a filter name
// to the subset of Genes that passed it.
type Dataset struct {
	Genes   []string
	Samples []string
	Base    *mat.Dense
	Weights *mat.Dense
	Filters map[string][]string

	geneIndex map[string]int
}

func NewDataset(genes, samples []string, data []float64) (*Dataset, error) {
	if len(data) != len(genes)*len(samples) {
		return nil, fmt.Errorf("dataset: have %d values, want %d genes × %d samples", len(data), len(genes), len(samples))
	}
	d := &Dataset{
		Genes:   append([]string(nil), genes...),
		Samples: append([]string(nil), samples...),
		Base:    mat.NewDense(len(genes), len(samples), append([]float64(nil), data...)),
		Filters: map[string][]string{},
	}
	d.reindex()
	return d, nil
}

func (d *Dataset) reindex() {
	d.geneIndex = make(map[string]int, len(d.Genes))
	for i, g := range d.Genes {
		d.geneIndex[g] = i
	}
}

func (d *Dataset) NumGenes() int   { return len(d.Genes) }
func (d *Dataset) NumSamples() int { return len(d.Samples) }

// GeneRow returns the row index for a gene, or -1 if the gene is absent.
func (d *Dataset) GeneRow(gene string) int {
	if i, ok := d.geneIndex[gene]; ok {
		return i
	}
	return -1
}

func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Genes:   append([]string(nil), d.Genes...),
		Samples: append([]string(nil), d.Samples...),
		Base:    mat.DenseCopyOf(d.Base),
		Filters: map[string][]string{},
	}
	if d.Weights != nil {
		out.Weights = mat.DenseCopyOf(d.Weights)
	}
	for name, genes := range d.Filters {
		out.Filters[name] = append([]string(nil), genes...)
	}
	out.reindex()
	return out
}

// AddFilter registers a named gene subset. Genes not present in the dataset
// are dropped from the filter.
func (d *Dataset) AddFilter(name string, genes []string) {
	kept := make([]string, 0, len(genes))
	for _, g := range genes {
		if _, ok := d.geneIndex[g]; ok {
			kept = append(kept, g)
		}
	}
	d.Filters[name] = kept
}

// FilteredGenes returns the gene list attached to a named filter.
func (d *Dataset) FilteredGenes(name string) ([]string, error) {
	genes, ok := d.Filters[name]
	if !ok {
		return nil, fmt.Errorf("no filter named %q", name)
	}
	return append([]string(nil), genes...), nil
}

// FilterNames returns the registered filter names in sorted order.
func (d *Dataset) FilterNames() []string {
	names := make([]string, 0, len(d.Filters))
	for name := range d.Filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SubsetGenes returns a dataset narrowed to the given row indices, in the
// given order. Filters are narrowed to the surviving genes.
func (d *Dataset) SubsetGenes(rows []int) *Dataset {
	genes := make([]string, len(rows))
	base := mat.NewDense(len(rows), len(d.Samples), nil)
	var weights *mat.Dense
	if d.Weights != nil {
		weights = mat.NewDense(len(rows), len(d.Samples), nil)
	}
	for i, r := range rows {
		genes[i] = d.Genes[r]
		base.SetRow(i, mat.Row(nil, r, d.Base))
		if weights != nil {
			weights.SetRow(i, mat.Row(nil, r, d.Weights))
		}
	}
	out := &Dataset{Genes: genes, Samples: append([]string(nil), d.Samples...), Base: base, Weights: weights, Filters: map[string][]string{}}
	out.reindex()
	for name, fgenes := range d.Filters {
		kept := make([]string, 0, len(fgenes))
		for _, g := range fgenes {
			if _, ok := out.geneIndex[g]; ok {
				kept = append(kept, g)
			}
		}
		out.Filters[name] = kept
	}
	return out
}

// SubsetGenesByName is SubsetGenes with gene identifiers; unknown genes are
// skipped.
func (d *Dataset) SubsetGenesByName(genes []string) *Dataset {
	rows := make([]int, 0, len(genes))
	for _, g := range genes {
		if r, ok := d.geneIndex[g]; ok {
			rows = append(rows, r)
		}
	}
	return d.SubsetGenes(rows)
}

// SubsetSamples returns a dataset narrowed to samples with keep[j]==true.
func (d *Dataset) SubsetSamples(keep []bool) *Dataset {
	var cols []int
	for j, k := range keep {
		if k {
			cols = append(cols, j)
		}
	}
	return d.SubsetSampleIndices(cols)
}

// SubsetSampleIndices returns a dataset narrowed to the given column
// indices, in the given order.
func (d *Dataset) SubsetSampleIndices(cols []int) *Dataset {
	samples := make([]string, len(cols))
	base := mat.NewDense(len(d.Genes), len(cols), nil)
	var weights *mat.Dense
	if d.Weights != nil {
		weights = mat.NewDense(len(d.Genes), len(cols), nil)
	}
	for j, c := range cols {
		samples[j] = d.Samples[c]
		base.SetCol(j, mat.Col(nil, c, d.Base))
		if weights != nil {
			weights.SetCol(j, mat.Col(nil, c, d.Weights))
		}
	}
	out := &Dataset{Genes: append([]string(nil), d.Genes...), Samples: samples, Base: base, Weights: weights, Filters: map[string][]string{}}
	out.reindex()
	for name, fgenes := range d.Filters {
		out.Filters[name] = append([]string(nil), fgenes...)
	}
	return out
}

// ZeroProportion returns, per sample, the fraction of genes with value 0.
func (d *Dataset) ZeroProportion() []float64 {
	ngenes, nsamples := d.Base.Dims()
	out := make([]float64, nsamples)
	if ngenes == 0 {
		return out
	}
	for j := 0; j < nsamples; j++ {
		n := 0
		for i := 0; i < ngenes; i++ {
			if d.Base.At(i, j) == 0 {
				n++
			}
		}
		out[j] = float64(n) / float64(ngenes)
	}
	return out
}

// ZeroLocations records, per gene, which samples had an exact zero in the
// matrix. Scoring methods use it to distinguish missing from measured-zero
// entries after normalization has shifted the values.
func (d *Dataset) ZeroLocations() map[string][]bool {
	ngenes, nsamples := d.Base.Dims()
	out := make(map[string][]bool, ngenes)
	for i := 0; i < ngenes; i++ {
		row := make([]bool, nsamples)
		for j := 0; j < nsamples; j++ {
			row[j] = d.Base.At(i, j) == 0
		}
		out[d.Genes[i]] = row
	}
	return out
}

// NormMethod selects how the matrix is normalized before signature scoring.
type NormMethod int

const (
	NormNone NormMethod = iota
	NormColumns
	NormRows
	NormRowsThenColumns
	NormRankColumns
)

func ParseNormMethod(name string) (NormMethod, error) {
	switch name {
	case "", "none":
		return NormNone, nil
	case "znorm_columns":
		return NormColumns, nil
	case "znorm_rows":
		return NormRows, nil
	case "znorm_rows_then_columns":
		return NormRowsThenColumns, nil
	case "rank_norm_columns":
		return NormRankColumns, nil
	}
	return 0, fmt.Errorf("unrecognized sig-norm-method %q", name)
}

func (m NormMethod) String() string {
	switch m {
	case NormNone:
		return "none"
	case NormColumns:
		return "znorm_columns"
	case NormRows:
		return "znorm_rows"
	case NormRowsThenColumns:
		return "znorm_rows_then_columns"
	case NormRankColumns:
		return "rank_norm_columns"
	}
	return fmt.Sprintf("NormMethod(%d)", int(m))
}

// Normalized returns a copy of the dataset with the base matrix normalized.
// Weights, filters, and labels carry over unchanged.
func (d *Dataset) Normalized(method NormMethod) *Dataset {
	out := d.Clone()
	switch method {
	case NormNone:
	case NormColumns:
		znormColumns(out.Base)
	case NormRows:
		znormRows(out.Base)
	case NormRowsThenColumns:
		znormRows(out.Base)
		znormColumns(out.Base)
	case NormRankColumns:
		rankNormColumns(out.Base)
	}
	return out
}

func znormColumns(m *mat.Dense) {
	rows, cols := m.Dims()
	buf := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(buf, j, m)
		mean, std := stat.MeanStdDev(buf, nil)
		if std == 0 {
			std = 1
		}
		for i := 0; i < rows; i++ {
			m.Set(i, j, (buf[i]-mean)/std)
		}
	}
}

func znormRows(m *mat.Dense) {
	rows, cols := m.Dims()
	buf := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(buf, i, m)
		mean, std := stat.MeanStdDev(buf, nil)
		if std == 0 {
			std = 1
		}
		for j := 0; j < cols; j++ {
			m.Set(i, j, (buf[j]-mean)/std)
		}
	}
}

// rankNormColumns replaces each column with average ranks scaled to [0,1].
func rankNormColumns(m *mat.Dense) {
	rows, cols := m.Dims()
	if rows < 2 {
		return
	}
	buf := make([]float64, rows)
	idx := make([]int, rows)
	ranks := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(buf, j, m)
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return buf[idx[a]] < buf[idx[b]] })
		for i := 0; i < rows; {
			k := i
			for k+1 < rows && buf[idx[k+1]] == buf[idx[i]] {
				k++
			}
			// ties share the average rank
			r := float64(i+k) / 2
			for t := i; t <= k; t++ {
				ranks[idx[t]] = r
			}
			i = k + 1
		}
		for i := 0; i < rows; i++ {
			m.Set(i, j, ranks[i]/float64(rows-1))
		}
	}
}
