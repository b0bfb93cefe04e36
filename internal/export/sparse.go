// Package export materializes the artifacts of a cellpack data package:
// the sparse expression tables, cell and gene metadata tables, the manifest,
// the human-readable description, and the bundled archive. File formats in
// this package are compatibility contracts with the downstream analytical
// platform and must not drift.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"cellpack/pkg/expr"
)

// Fixed header lines of the sparse expression formats. Tab-separated,
// case-sensitive, no quoting, no comment lines.
const (
	// ExpressionHeader keys resolved genes by their numeric canonical ID.
	ExpressionHeader = "cellId*Integer\tgeneId*Integer\texpressionValue*Number"
	// ExcludedExpressionHeader keys excluded genes by their original string
	// identifier, since no canonical numeric ID exists for them.
	ExcludedExpressionHeader = "cellId*Integer\tgene*String\texpressionValue*Number"
)

// SparseEntry is one parsed row of a sparse expression file.
type SparseEntry struct {
	CellID int
	Gene   string
	Value  float64
}

// WriteExpression serializes m as the triple-format expression table for
// resolved genes: one row per stored non-zero entry, cell-major (all rows of
// cellId 0 before cellId 1), insertion order within a cell. Column labels
// must be the assigned integer cell IDs and row labels the numeric canonical
// gene IDs; anything else is a FormatError. Zero entries are never emitted.
func WriteExpression(w io.Writer, m *expr.CountMatrix) error {
	return writeSparse(w, m, ExpressionHeader, true)
}

// WriteExcludedExpression serializes m in the excluded-genes variant, keyed
// by the original gene identifier strings.
func WriteExcludedExpression(w io.Writer, m *expr.CountMatrix) error {
	return writeSparse(w, m, ExcludedExpressionHeader, false)
}

func writeSparse(w io.Writer, m *expr.CountMatrix, header string, numericGenes bool) error {
	cellIDs, err := cellIDLabels(m)
	if err != nil {
		return err
	}
	genes := m.RowLabels()
	if numericGenes {
		for _, label := range genes {
			if !isCanonicalID(label) {
				return expr.FormatError{
					Source: "expression data",
					Reason: fmt.Sprintf("gene label %q is not a numeric canonical ID", label),
				}
			}
		}
	}

	buf := bufio.NewWriter(w)
	if _, err := buf.WriteString(header + "\n"); err != nil {
		return fmt.Errorf("write expression header: %w", err)
	}
	var visitErr error
	m.NonZeros(func(col, row int, v float64) {
		if visitErr != nil {
			return
		}
		line := cellIDs[col] + "\t" + genes[row] + "\t" + strconv.FormatFloat(v, 'g', -1, 64) + "\n"
		if _, err := buf.WriteString(line); err != nil {
			visitErr = fmt.Errorf("write expression row: %w", err)
		}
	})
	if visitErr != nil {
		return visitErr
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flush expression data: %w", err)
	}
	return nil
}

// ParseExpression reads a resolved-gene expression file back into its entry
// sequence, in file order. The header must match ExpressionHeader exactly.
func ParseExpression(r io.Reader) ([]SparseEntry, error) {
	return parseSparse(r, ExpressionHeader, true)
}

// ParseExcludedExpression reads an excluded-gene expression file.
func ParseExcludedExpression(r io.Reader) ([]SparseEntry, error) {
	return parseSparse(r, ExcludedExpressionHeader, false)
}

func parseSparse(r io.Reader, header string, numericGenes bool) ([]SparseEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, expr.IOError{Path: "expression data", Err: err}
		}
		return nil, expr.FormatError{Source: "expression data", Reason: "empty file"}
	}
	if got := scanner.Text(); got != header {
		return nil, expr.FormatError{
			Source: "expression data",
			Reason: fmt.Sprintf("header %q does not match %q", got, header),
		}
	}

	var entries []SparseEntry
	line := 1
	for scanner.Scan() {
		line++
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) != 3 {
			return nil, expr.FormatError{
				Source: "expression data",
				Reason: fmt.Sprintf("line %d has %d fields, expected 3", line, len(fields)),
			}
		}
		cellID, err := strconv.Atoi(fields[0])
		if err != nil || cellID < 0 {
			return nil, expr.FormatError{
				Source: "expression data",
				Reason: fmt.Sprintf("line %d: invalid cell ID %q", line, fields[0]),
			}
		}
		if numericGenes && !isCanonicalID(fields[1]) {
			return nil, expr.FormatError{
				Source: "expression data",
				Reason: fmt.Sprintf("line %d: invalid gene ID %q", line, fields[1]),
			}
		}
		value, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, expr.FormatError{
				Source: "expression data",
				Reason: fmt.Sprintf("line %d: invalid value %q", line, fields[2]),
			}
		}
		entries = append(entries, SparseEntry{CellID: cellID, Gene: fields[1], Value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, expr.IOError{Path: "expression data", Err: err}
	}
	return entries, nil
}

// cellIDLabels validates that every column label parses as a non-negative
// integer cell ID and returns the labels for direct emission.
func cellIDLabels(m *expr.CountMatrix) ([]string, error) {
	labels := m.ColLabels()
	for _, label := range labels {
		if !isCanonicalID(label) {
			return nil, expr.FormatError{
				Source: "expression data",
				Reason: fmt.Sprintf("column label %q is not an integer cell ID", label),
			}
		}
	}
	return labels, nil
}

// isCanonicalID reports whether s is a plain unsigned decimal integer.
func isCanonicalID(s string) bool {
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
