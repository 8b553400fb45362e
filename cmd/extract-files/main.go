package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/unicode"

	"github.com/zombor/receipt-amounts/internal/amounts"
)

// fileResult is one output line
type fileResult struct {
	File          string                       `json:"file"`
	Record        *amounts.FinancialRecord     `json:"record,omitempty"`
	Normalization *amounts.NormalizationResult `json:"normalization,omitempty"`
	Error         string                       `json:"error,omitempty"`
}

// defaultCurrencies is the --currencies default, shared with the service binary
var defaultCurrencies = strings.Join(amounts.DefaultCurrencies, ",")

func main() {
	fs := ff.NewFlagSet("extract-files")
	var (
		workers    = fs.IntLong("workers", runtime.NumCPU(), "Files processed concurrently")
		currencies = fs.StringLong("currencies", defaultCurrencies, "Comma separated currency markers")
		normalize  = fs.BoolLong("normalize", "Also report normalized values")
		debug      = fs.BoolLong("debug", "Log extraction details to stderr")
	)

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("RECEIPT_AMOUNTS")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	files := fs.GetArgs()
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(os.Stderr, "error: no files given")
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	results, err := run(context.Background(), files, amounts.ParseCurrencySet(*currencies), *workers, *normalize, logger)
	if err != nil {
		logger.Error("Batch failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			logger.Error("Error writing result", "file", r.File, "error", err)
			os.Exit(1)
		}
	}
}

// run processes every file with its own chain, keeping results in argument
// order. A file that cannot be read is reported in its result line.
func run(ctx context.Context, files []string, currencies amounts.CurrencySet, workers int, normalize bool, logger *slog.Logger) ([]fileResult, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = processFile(file, currencies, normalize, logger.With("file", file))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func processFile(file string, currencies amounts.CurrencySet, normalize bool, logger *slog.Logger) fileResult {
	res := fileResult{File: file}

	data, err := os.ReadFile(file)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	text, err := unicode.UTF8BOM.NewDecoder().Bytes(data)
	if err != nil {
		res.Error = fmt.Sprintf("decoding %s: %v", file, err)
		return res
	}

	chain := amounts.NewDefaultChain(currencies, logger)
	record, err := chain.Process(string(text))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Record = &record

	if normalize {
		raw := make([]amounts.RawAmount, 0, len(record.Amounts))
		for _, a := range record.Amounts {
			raw = append(raw, a.RawAmount)
		}
		n := amounts.NewNormalizer(logger).Normalize(raw)
		res.Normalization = &n
	}
	return res
}
