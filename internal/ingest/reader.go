// Package ingest loads dense tabular count matrices into the sparse
// in-memory representation consumed by the packaging pipeline.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cellpack/pkg/expr"
)

// Option configures matrix reading.
type Option func(*options)

type options struct {
	separator rune
	baseDir   string
	nameCol   int
}

// WithSeparator sets the field separator of the source table. The default is
// a tab.
func WithSeparator(sep rune) Option {
	return func(o *options) { o.separator = sep }
}

// WithBaseDir resolves relative source paths against dir instead of the
// process working directory. This replaces working-directory mutation for
// locating inputs; InDir remains for callers that need the legacy behavior.
func WithBaseDir(dir string) Option {
	return func(o *options) { o.baseDir = dir }
}

// WithRowNameColumn designates the column carrying gene labels. Column 0 is
// the default.
func WithRowNameColumn(index int) Option {
	return func(o *options) { o.nameCol = index }
}

// ReadMatrix reads a dense gene-by-cell table from path. The header row
// supplies cell labels and the row-name column supplies gene labels; all
// remaining cells must be numeric. Values survive the dense-to-sparse
// conversion exactly.
func ReadMatrix(path string, opts ...Option) (*expr.CountMatrix, error) {
	o := applyOptions(opts)
	resolved := path
	if o.baseDir != "" && !filepath.IsAbs(path) {
		resolved = filepath.Join(o.baseDir, path)
	}
	file, err := os.Open(resolved)
	if err != nil {
		return nil, expr.IOError{Path: resolved, Err: err}
	}
	defer func() { _ = file.Close() }()
	return readMatrix(file, resolved, o)
}

// ReadMatrixFrom reads a dense table from r; source names the origin in
// errors.
func ReadMatrixFrom(r io.Reader, source string, opts ...Option) (*expr.CountMatrix, error) {
	return readMatrix(r, source, applyOptions(opts))
}

func applyOptions(opts []Option) options {
	o := options{separator: '\t'}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func readMatrix(r io.Reader, source string, o options) (*expr.CountMatrix, error) {
	reader := csv.NewReader(r)
	reader.Comma = o.separator
	reader.FieldsPerRecord = -1 // widths are validated here for FormatError context

	header, err := reader.Read()
	if err == io.EOF {
		return nil, expr.FormatError{Source: source, Reason: "empty table"}
	}
	if err != nil {
		return nil, classifyReadError(source, err)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, classifyReadError(source, err)
	}

	dataWidth := 0
	if len(records) > 0 {
		dataWidth = len(records[0])
	} else {
		dataWidth = len(header) + 1 // header-only table: assume corner-less header
	}
	if o.nameCol < 0 || o.nameCol >= dataWidth {
		return nil, expr.IndexError{Kind: "column", Requested: fmt.Sprintf("%d", o.nameCol)}
	}

	colLabels, err := cellLabels(header, dataWidth, o.nameCol, source)
	if err != nil {
		return nil, err
	}

	rowLabels := make([]string, len(records))
	values := make([][]float64, len(records))
	for i, record := range records {
		if len(record) != dataWidth {
			return nil, expr.FormatError{
				Source: source,
				Reason: fmt.Sprintf("data row %d has %d fields, expected %d", i+1, len(record), dataWidth),
			}
		}
		rowLabels[i] = record[o.nameCol]
		row := make([]float64, 0, dataWidth-1)
		for j, field := range record {
			if j == o.nameCol {
				continue
			}
			v, parseErr := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if parseErr != nil {
				return nil, expr.FormatError{
					Source: source,
					Reason: fmt.Sprintf("non-numeric value %q at row %d column %d", field, i+1, j),
				}
			}
			row = append(row, v)
		}
		values[i] = row
	}

	return expr.NewDense(rowLabels, colLabels, values)
}

// classifyReadError maps csv parse failures to FormatError and anything
// else (genuine read failures) to IOError.
func classifyReadError(source string, err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return expr.FormatError{Source: source, Reason: parseErr.Error()}
	}
	return expr.IOError{Path: source, Err: err}
}

// cellLabels extracts cell labels from the header. A header as wide as the
// data rows carries a throwaway corner label over the row-name column; a
// header one field short (only supported when the row-name column is 0)
// carries cell labels only.
func cellLabels(header []string, dataWidth, nameCol int, source string) ([]string, error) {
	switch {
	case len(header) == dataWidth:
		labels := make([]string, 0, dataWidth-1)
		for j, h := range header {
			if j == nameCol {
				continue
			}
			labels = append(labels, h)
		}
		return labels, nil
	case len(header) == dataWidth-1 && nameCol == 0:
		return append([]string(nil), header...), nil
	default:
		return nil, expr.FormatError{
			Source: source,
			Reason: fmt.Sprintf("header has %d fields for data rows of %d", len(header), dataWidth),
		}
	}
}
