package fastproject

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

type statscmd struct{}

func (cmd *statscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "results bundle `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	var input io.ReadCloser
	if *inputFilename == "-" {
		input = io.NopCloser(stdin)
	} else {
		input, err = os.Open(*inputFilename)
		if err != nil {
			return 1
		}
		defer input.Close()
	}
	results, err := LoadResults(input)
	if err != nil {
		return 1
	}
	err = cmd.doStats(results, stdout)
	if err != nil {
		return 1
	}
	return 0
}

func (cmd *statscmd) doStats(results *Results, output io.Writer) error {
	type projectionSummary struct {
		Filter         string
		PCA            bool
		Projections    []string
		ClusterMethods []string
		Signatures     int
	}
	type modelSummary struct {
		Name        string
		Kind        string
		Genes       int
		Samples     int
		Signatures  int
		Precomputed int
		Projections []projectionSummary
	}
	var ret struct {
		Models     []modelSummary
		QCSamples  int
		QCPassing  int
		QCPassRate float64
	}

	for _, model := range results.Models {
		ms := modelSummary{
			Name:       model.Name,
			Kind:       model.Kind.String(),
			Genes:      model.Data.NumGenes(),
			Samples:    model.Data.NumSamples(),
			Signatures: len(model.SignatureScores),
		}
		for _, ss := range model.SignatureScores {
			if ss.IsPrecomputed {
				ms.Precomputed++
			}
		}
		for _, pd := range model.ProjectionData {
			ps := projectionSummary{
				Filter:     pd.Filter,
				PCA:        pd.PCA,
				Signatures: len(pd.SignatureKeys),
			}
			ps.Projections = append(ps.Projections, pd.ProjectionKeys...)
			methods := map[string]bool{}
			for _, byMethod := range pd.Clusters {
				for name := range byMethod {
					methods[name] = true
				}
			}
			for name := range methods {
				ps.ClusterMethods = append(ps.ClusterMethods, name)
			}
			sort.Strings(ps.ClusterMethods)
			ms.Projections = append(ms.Projections, ps)
		}
		ret.Models = append(ret.Models, ms)
	}
	ret.QCSamples = len(results.QC)
	for _, row := range results.QC {
		if row.Passes {
			ret.QCPassing++
		}
	}
	if ret.QCSamples > 0 {
		ret.QCPassRate = float64(ret.QCPassing) / float64(ret.QCSamples)
	}

	enc := json.NewEncoder(output)
	enc.SetIndent("", "  ")
	return enc.Encode(ret)
}
