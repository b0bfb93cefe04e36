// Command cellpack builds a single-cell expression data package from a dense
// count matrix and a gene identifier mapping source. It writes the package
// files into a directory and a deterministic zip bundle next to it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"cellpack/internal/core"
	"cellpack/internal/export"
	"cellpack/internal/infra/annotation"
	"cellpack/internal/ingest"
	"cellpack/pkg/expr"
)

var exitFunc = os.Exit

// main runs the command-line interface using the program arguments and exits
// the process with the status code returned by cli.
func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

type buildConfig struct {
	matrixPath   string
	baseDir      string
	separator    string
	nameColumn   int
	metadataRows string
	labelSep     string
	annotations  string
	organism     int
	title        string
	technology   string
	contact      string
	batchColumn  string
	version      int
	outDir       string
	verbose      bool
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cellpack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cfg buildConfig
	fs.StringVar(&cfg.matrixPath, "matrix", "", "path to the dense count matrix (genes x cells)")
	fs.StringVar(&cfg.baseDir, "base", "", "directory relative input paths resolve against")
	fs.StringVar(&cfg.separator, "sep", "\t", "field separator of the count matrix")
	fs.IntVar(&cfg.nameColumn, "name-col", 0, "matrix column carrying gene labels")
	fs.StringVar(&cfg.metadataRows, "metadata-rows", "", "comma-separated matrix rows holding cell attributes (positions or labels)")
	fs.StringVar(&cfg.labelSep, "label-sep", "", "separator splitting cell labels into attribute columns")
	fs.StringVar(&cfg.annotations, "annotations", "", "gene identifier mapping source (.tsv table, .db/.sqlite file, or postgres:// DSN)")
	fs.IntVar(&cfg.organism, "organism", 0, "NCBI taxonomy ID recorded in the manifest")
	fs.StringVar(&cfg.title, "title", "", "package title")
	fs.StringVar(&cfg.technology, "technology", "", "sequencing technology recorded in the manifest")
	fs.StringVar(&cfg.contact, "contact", "", "contact address recorded in the manifest")
	fs.StringVar(&cfg.batchColumn, "batch-column", "", "attribute column marking batches")
	fs.IntVar(&cfg.version, "version", 1, "package version (>= 1)")
	fs.StringVar(&cfg.outDir, "out", "package", "output directory for the package files")
	fs.BoolVar(&cfg.verbose, "verbose", false, "log pipeline stages to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := run(context.Background(), cfg, stdout, stderr); err != nil {
		if _, writeErr := fmt.Fprintf(stderr, "cellpack: %v\n", err); writeErr != nil {
			return 1
		}
		return 1
	}
	return 0
}

// run executes one full packaging pass: open the annotation source, ingest
// the matrix, build the package, and materialize directory plus bundle.
func run(ctx context.Context, cfg buildConfig, stdout, stderr io.Writer) (err error) {
	if cfg.matrixPath == "" {
		return errors.New("missing required flag -matrix")
	}
	if cfg.outDir == "" {
		return errors.New("missing output directory (-out)")
	}
	sep, err := parseSeparator(cfg.separator)
	if err != nil {
		return err
	}
	selector, err := parseRowSelector(cfg.metadataRows)
	if err != nil {
		return err
	}

	catalog, err := annotation.OpenSpec(ctx, cfg.annotations)
	if err != nil {
		return fmt.Errorf("open annotations: %w", err)
	}
	defer func() {
		if cerr := catalog.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close annotations: %w", cerr)
		}
	}()

	matrix, err := ingest.ReadMatrix(cfg.matrixPath,
		ingest.WithBaseDir(cfg.baseDir),
		ingest.WithSeparator(sep),
		ingest.WithRowNameColumn(cfg.nameColumn),
	)
	if err != nil {
		return fmt.Errorf("read matrix: %w", err)
	}

	var opts []core.PipelineOption
	if cfg.verbose {
		opts = append(opts, core.WithLogger(core.SlogLogger{L: slog.New(slog.NewTextHandler(stderr, nil))}))
	}
	packager := export.NewPackager(catalog, opts...)
	result, err := packager.Build(ctx, export.PackageRequest{
		Matrix:         matrix,
		MetadataRows:   selector,
		LabelSeparator: cfg.labelSep,
		Organism:       cfg.organism,
		BatchColumn:    cfg.batchColumn,
		Title:          cfg.title,
		Technology:     cfg.technology,
		Contact:        cfg.contact,
		Version:        cfg.version,
	})
	if err != nil {
		return err
	}

	if err := export.WriteDir(cfg.outDir, result.Files); err != nil {
		return err
	}
	bundlePath := cfg.outDir + ".zip"
	if err := writeBundle(bundlePath, result.Files); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(stdout, "Package written to %s (%d files)\n", cfg.outDir, len(result.Files)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(stdout, "Bundle written to %s\n", bundlePath); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(stdout, "%d cells, %d/%d genes mapped to canonical IDs\n",
		len(result.Cells), result.Stats.Resolved, result.Stats.Total); err != nil {
		return err
	}
	return nil
}

// parseSeparator accepts a single character, or the escape "\t" for callers
// that cannot pass a literal tab through their shell.
func parseSeparator(s string) (rune, error) {
	if s == `\t` {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if s == "" || size != len(s) || r == utf8.RuneError {
		return 0, fmt.Errorf("separator %q must be a single character", s)
	}
	return r, nil
}

// parseRowSelector turns the -metadata-rows value into a row selector. When
// every entry parses as an integer the rows are selected by position,
// otherwise by label. An empty value selects nothing.
func parseRowSelector(spec string) (*expr.RowSelector, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token == "" {
			return nil, fmt.Errorf("empty entry in -metadata-rows %q", spec)
		}
		tokens = append(tokens, token)
	}
	positions := make([]int, 0, len(tokens))
	numeric := true
	for _, token := range tokens {
		n, convErr := strconv.Atoi(token)
		if convErr != nil {
			numeric = false
			break
		}
		positions = append(positions, n)
	}
	if numeric {
		sel := expr.ByPosition(positions...)
		return &sel, nil
	}
	sel := expr.ByLabel(tokens...)
	return &sel, nil
}

func writeBundle(path string, files []export.PackageFile) (err error) {
	f, err := os.Create(path) // #nosec G304: path derives from the -out flag
	if err != nil {
		return expr.IOError{Path: path, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = expr.IOError{Path: path, Err: cerr}
		}
	}()
	return export.Bundle(f, files, time.Now().UTC())
}
