package fastproject

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

type analyzer struct{}

func (cmd *analyzer) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "expression matrix `file` (TSV/CSV, .gz ok)")
	sigFilenames := flags.String("sigs", "", "comma-separated GMT signature `files`")
	housekeepingFilename := flags.String("housekeeping", "", "housekeeping gene list `file`")
	weightsFilename := flags.String("weights", "", "externally computed weight matrix `file` (same layout as the expression matrix)")
	outputDir := flags.String("output-dir", "./out", "output `directory`")

	var cfg Config
	flags.IntVar(&cfg.SubsampleSize, "subsample-size", 0, "work on `N` samples, merging the rest back in afterwards (0 = all)")
	flags.IntVar(&cfg.Threshold, "threshold", 0, "gene detection threshold in samples (0 = 20% of samples)")
	flags.BoolVar(&cfg.NoFilter, "nofilter", false, "skip gene filtering")
	flags.BoolVar(&cfg.Lean, "lean", false, "fewer filters and projection methods")
	flags.BoolVar(&cfg.NoModel, "nomodel", false, "skip the probability transform and QC")
	flags.BoolVar(&cfg.QCFilter, "qc", false, "drop samples failing QC")
	flags.BoolVar(&cfg.AllSigs, "all-sigs", false, "keep every signature in the output")
	flags.StringVar(&cfg.SigNormMethod, "sig-norm-method", "znorm_rows", "normalization before scoring: none, znorm_columns, znorm_rows, znorm_rows_then_columns, rank_norm_columns")
	flags.StringVar(&cfg.SigScoreMethod, "sig-score-method", "weighted_avg", "scoring method: naive, weighted_avg, imputed, only_nonzero")
	flags.IntVar(&cfg.MinSignatureGenes, "min-signature-genes", 3, "drop signatures with fewer matching genes")
	flags.IntVar(&cfg.BackgroundN, "background-n", 3000, "background signatures per size")
	flags.Uint64Var(&cfg.RandomSeed, "random-seed", 0, "PRNG seed (0 = non-deterministic)")
	flags.IntVar(&cfg.Workers, "workers", 0, "scoring workers (0 = NumCPU)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	var input io.ReadCloser
	if *inputFilename == "-" {
		input = io.NopCloser(stdin)
	} else {
		input, err = open(*inputFilename)
		if err != nil {
			return 1
		}
		defer input.Close()
	}
	log.Info("reading expression matrix")
	expr, err := ReadExpressionMatrix(input)
	if err != nil {
		return 1
	}
	input.Close()
	log.Infof("read %d genes × %d samples", expr.NumGenes(), expr.NumSamples())

	var signatures []*Signature
	for _, filename := range strings.Split(*sigFilenames, ",") {
		if filename == "" {
			continue
		}
		var f io.ReadCloser
		f, err = open(filename)
		if err != nil {
			return 1
		}
		var sigs []*Signature
		sigs, err = ReadSignatures(f, filepath.Base(filename))
		f.Close()
		if err != nil {
			return 1
		}
		signatures = append(signatures, sigs...)
	}
	log.Infof("read %d signatures", len(signatures))

	var housekeeping []string
	if *housekeepingFilename != "" {
		var f io.ReadCloser
		f, err = open(*housekeepingFilename)
		if err != nil {
			return 1
		}
		housekeeping, err = ReadGeneList(f)
		f.Close()
		if err != nil {
			return 1
		}
	}
	if len(housekeeping) == 0 && !cfg.NoModel {
		err = fmt.Errorf("-housekeeping is required unless -nomodel is set")
		return 2
	}

	var inputWeights *Dataset
	if *weightsFilename != "" {
		var f io.ReadCloser
		f, err = open(*weightsFilename)
		if err != nil {
			return 1
		}
		inputWeights, err = ReadExpressionMatrix(f)
		f.Close()
		if err != nil {
			return 1
		}
	}

	results, err := New(cfg).Analyze(expr, signatures, nil, housekeeping, nil, inputWeights)
	if err != nil {
		return 1
	}

	err = os.MkdirAll(*outputDir, 0777)
	if err != nil {
		return 1
	}
	bundleFilename := filepath.Join(*outputDir, "results.gob.gz")
	var f *os.File
	f, err = os.OpenFile(bundleFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return 1
	}
	defer f.Close()
	err = SaveResults(f, results)
	if err != nil {
		return 1
	}
	err = f.Close()
	if err != nil {
		return 1
	}
	log.Infof("wrote %s", bundleFilename)

	qcFilename := filepath.Join(*outputDir, "qc.csv")
	f, err = os.Create(qcFilename)
	if err != nil {
		return 1
	}
	defer f.Close()
	fmt.Fprint(f, "Sample,Score,Passes\n")
	for _, row := range results.QC {
		_, err = fmt.Fprintf(f, "%s,%g,%v\n", row.Sample, row.Score, row.Passes)
		if err != nil {
			return 1
		}
	}
	err = f.Close()
	if err != nil {
		return 1
	}
	log.Infof("wrote %s", qcFilename)
	fmt.Fprintln(stdout, bundleFilename)
	return 0
}
