package fastproject

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/klauspost/pgzip"
	"gonum.org/v1/gonum/mat"
)

// Gob mirrors of the result types. gonum matrices carry no exported fields,
// so matrices travel as explicit shape+data records.

type matrixGob struct {
	Rows, Cols int
	Data       []float64
}

func matrixToGob(m *mat.Dense) *matrixGob {
	if m == nil {
		return nil
	}
	rows, cols := m.Dims()
	g := &matrixGob{Rows: rows, Cols: cols, Data: make([]float64, 0, rows*cols)}
	for i := 0; i < rows; i++ {
		g.Data = append(g.Data, mat.Row(nil, i, m)...)
	}
	return g
}

func (g *matrixGob) dense() *mat.Dense {
	if g == nil || g.Rows == 0 || g.Cols == 0 {
		return nil
	}
	return mat.NewDense(g.Rows, g.Cols, g.Data)
}

type datasetGob struct {
	Genes   []string
	Samples []string
	Base    *matrixGob
	Weights *matrixGob
	Filters map[string][]string
}

type projectionDataGob struct {
	Filter         string
	Genes          []string
	PCA            bool
	Projections    map[string]Coords
	Clusters       map[string]map[string][]int
	SigProjMatrix  *matrixGob
	SigProjMatrixP *matrixGob
	ProjectionKeys []string
	SignatureKeys  []string
	Loadings       *matrixGob
}

type modelGob struct {
	Name            string
	Kind            ModelKind
	Data            *datasetGob
	SignatureScores map[string]*SignatureScore
	SampleLabels    []string
	ProjectionData  []*projectionDataGob
}

type resultsGob struct {
	Models []*modelGob
	QC     []QCInfo
}

// SaveResults writes a results bundle as gzip-compressed gob.
func SaveResults(w io.Writer, r *Results) error {
	out := resultsGob{QC: r.QC}
	for _, m := range r.Models {
		mg := &modelGob{
			Name: m.Name,
			Kind: m.Kind,
			Data: &datasetGob{
				Genes:   m.Data.Genes,
				Samples: m.Data.Samples,
				Base:    matrixToGob(m.Data.Base),
				Weights: matrixToGob(m.Data.Weights),
				Filters: m.Data.Filters,
			},
			SignatureScores: m.SignatureScores,
			SampleLabels:    m.SampleLabels,
		}
		for _, pd := range m.ProjectionData {
			mg.ProjectionData = append(mg.ProjectionData, &projectionDataGob{
				Filter:         pd.Filter,
				Genes:          pd.Genes,
				PCA:            pd.PCA,
				Projections:    pd.Projections,
				Clusters:       pd.Clusters,
				SigProjMatrix:  matrixToGob(pd.SigProjMatrix),
				SigProjMatrixP: matrixToGob(pd.SigProjMatrixP),
				ProjectionKeys: pd.ProjectionKeys,
				SignatureKeys:  pd.SignatureKeys,
				Loadings:       matrixToGob(pd.Loadings),
			})
		}
		out.Models = append(out.Models, mg)
	}
	gzw := pgzip.NewWriter(w)
	if err := gob.NewEncoder(gzw).Encode(out); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return gzw.Close()
}

// LoadResults reads a bundle written by SaveResults.
func LoadResults(rdr io.Reader) (*Results, error) {
	gzr, err := pgzip.NewReader(rdr)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer gzr.Close()
	var in resultsGob
	if err := gob.NewDecoder(gzr).Decode(&in); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	r := &Results{QC: in.QC}
	for _, mg := range in.Models {
		d := &Dataset{
			Genes:   mg.Data.Genes,
			Samples: mg.Data.Samples,
			Base:    mg.Data.Base.dense(),
			Weights: mg.Data.Weights.dense(),
			Filters: mg.Data.Filters,
		}
		if d.Filters == nil {
			d.Filters = map[string][]string{}
		}
		d.reindex()
		m := &Model{
			Name:            mg.Name,
			Kind:            mg.Kind,
			Data:            d,
			SignatureScores: mg.SignatureScores,
			SampleLabels:    mg.SampleLabels,
		}
		for _, pg := range mg.ProjectionData {
			m.ProjectionData = append(m.ProjectionData, &ProjectionData{
				Filter:         pg.Filter,
				Genes:          pg.Genes,
				PCA:            pg.PCA,
				Projections:    pg.Projections,
				Clusters:       pg.Clusters,
				SigProjMatrix:  pg.SigProjMatrix.dense(),
				SigProjMatrixP: pg.SigProjMatrixP.dense(),
				ProjectionKeys: pg.ProjectionKeys,
				SignatureKeys:  pg.SignatureKeys,
				Loadings:       pg.Loadings.dense(),
			})
		}
		r.Models = append(r.Models, m)
	}
	return r, nil
}
