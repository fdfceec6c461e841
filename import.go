package fastproject

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

// open opens a file for reading, decompressing transparently when the name
// ends in .gz.
func open(filename string) (io.ReadCloser, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(filename, ".gz") {
		return f, nil
	}
	gzr, err := pgzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return struct {
		io.Reader
		io.Closer
	}{gzr, f}, nil
}

// ReadExpressionMatrix parses a delimited genes×samples matrix: a header
// row of sample labels, then one row per gene with the gene identifier
// first. The delimiter (tab or comma) is sniffed from the header.
func ReadExpressionMatrix(rdr io.Reader) (*Dataset, error) {
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(nil, 1<<26)
	if !scanner.Scan() {
		return nil, fmt.Errorf("expression matrix: empty input")
	}
	header := scanner.Text()
	sep := "\t"
	if !strings.Contains(header, "\t") && strings.Contains(header, ",") {
		sep = ","
	}
	samples := strings.Split(strings.TrimRight(header, "\r\n"), sep)
	// tolerate a leading corner label for the gene column
	if len(samples) > 0 && (samples[0] == "" || strings.EqualFold(samples[0], "gene") || strings.EqualFold(samples[0], "geneid")) {
		samples = samples[1:]
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("expression matrix: no sample labels in header")
	}

	var genes []string
	var data []float64
	seen := map[string]bool{}
	lineno := 1
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		fields := strings.Split(line, sep)
		if len(fields) != len(samples)+1 {
			return nil, fmt.Errorf("expression matrix: line %d has %d fields, want %d", lineno, len(fields), len(samples)+1)
		}
		gene := fields[0]
		if seen[gene] {
			log.Warnf("expression matrix: duplicate gene %q at line %d, keeping first occurrence", gene, lineno)
			continue
		}
		seen[gene] = true
		genes = append(genes, gene)
		for _, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("expression matrix: line %d: %w", lineno, err)
			}
			data = append(data, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("expression matrix: %w", err)
	}
	return NewDataset(genes, samples, data)
}

// ReadSignatures parses GMT-format signatures (name, description, then
// gene identifiers, tab separated). A trailing ",-1" or ",1" on a gene
// token sets that gene's sign and marks the signature as signed.
// Signatures whose gene content duplicates an earlier one are dropped.
func ReadSignatures(rdr io.Reader, source string) ([]*Signature, error) {
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(nil, 1<<24)
	var sigs []*Signature
	seen := map[[32]byte]string{}
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			return nil, fmt.Errorf("%s: line %d: want at least name, description, and one gene", source, lineno)
		}
		name := fields[0]
		signed := false
		genes := map[string]float64{}
		for _, tok := range fields[2:] {
			if tok == "" {
				continue
			}
			sign := 1.0
			if i := strings.LastIndexByte(tok, ','); i >= 0 {
				if s, err := strconv.ParseFloat(tok[i+1:], 64); err == nil {
					sign = s
					signed = true
					tok = tok[:i]
				}
			}
			genes[tok] = sign
		}
		if len(genes) == 0 {
			continue
		}
		sig := NewSignature(name, source, signed, genes)
		if prev, dup := seen[sig.Hash()]; dup {
			log.Debugf("%s: line %d: signature %q duplicates %q, skipping", source, lineno, name, prev)
			continue
		}
		seen[sig.Hash()] = name
		sigs = append(sigs, sig)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return sigs, nil
}

// ReadGeneList reads one gene identifier per line, used for the
// housekeeping-gene input.
func ReadGeneList(rdr io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(rdr)
	var genes []string
	for scanner.Scan() {
		g := strings.TrimSpace(scanner.Text())
		if g == "" || strings.HasPrefix(g, "#") {
			continue
		}
		genes = append(genes, g)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return genes, nil
}
