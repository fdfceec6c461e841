package fastproject

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/kshedden/gonpy"
)

type exportNumpy struct{}

func (cmd *exportNumpy) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "results bundle `file`")
	outputFilename := flags.String("o", "-", "output `file`")
	modelName := flags.String("model", "Expression", "model `name`")
	filterName := flags.String("filter", "", "filter `name` (default: first)")
	pca := flags.Bool("pca", false, "use the PCA representation")
	what := flags.String("what", "pvalues", "what to export: pvalues, consistency, or a projection method name")
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

	model := results.Model(*modelName)
	if model == nil {
		err = fmt.Errorf("no model named %q", *modelName)
		return 1
	}
	var pd *ProjectionData
	for _, cand := range model.ProjectionData {
		if cand.PCA == *pca && (*filterName == "" || cand.Filter == *filterName) {
			pd = cand
			break
		}
	}
	if pd == nil {
		err = fmt.Errorf("model %q has no projection data for filter %q (pca=%v)", *modelName, *filterName, *pca)
		return 1
	}

	var out []float64
	var shape []int
	switch *what {
	case "pvalues":
		rows, cols := pd.SigProjMatrixP.Dims()
		shape = []int{rows, cols}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				out = append(out, pd.SigProjMatrixP.At(i, j))
			}
		}
	case "consistency":
		rows, cols := pd.SigProjMatrix.Dims()
		shape = []int{rows, cols}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				out = append(out, pd.SigProjMatrix.At(i, j))
			}
		}
	default:
		coords, ok := pd.Projections[*what]
		if !ok {
			err = fmt.Errorf("no projection named %q; have %v", *what, pd.ProjectionKeys)
			return 1
		}
		shape = []int{len(coords), 2}
		for _, c := range coords {
			out = append(out, c[0], c[1])
		}
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return 1
	}
	npw.Shape = shape
	err = npw.WriteFloat64(out)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
