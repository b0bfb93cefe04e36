// Package expr defines the sparse expression-matrix container, row
// selection, and the error taxonomy shared by the cellpack pipeline.
package expr

import (
	"fmt"
	"sort"
)

// entry is one explicitly stored matrix cell. Zero values are never stored,
// so the set of entries is exactly the set of non-zero cells.
type entry struct {
	row   int
	value float64
}

// CountMatrix is a sparse gene-by-cell numeric matrix. Rows carry the
// original gene identifiers, columns the cell labels. Storage is
// column-major so that cell-major serialization walks entries in their
// stored order; every constructor in this repository inserts entries in
// ascending row order within each column.
//
// Pipeline stages never mutate a matrix they received: subsetting and
// relabeling return derived copies.
type CountMatrix struct {
	rowLabels []string
	colLabels []string
	cols      [][]entry
}

// NewCountMatrix returns an empty sparse matrix with the given row and
// column labels. Entries are added with Set.
func NewCountMatrix(rowLabels, colLabels []string) *CountMatrix {
	return &CountMatrix{
		rowLabels: append([]string(nil), rowLabels...),
		colLabels: append([]string(nil), colLabels...),
		cols:      make([][]entry, len(colLabels)),
	}
}

// NewDense builds a sparse matrix from a dense row-major value grid. The
// conversion is lossless: every non-zero value is stored with its exact
// magnitude and Dense reproduces the input grid.
func NewDense(rowLabels, colLabels []string, values [][]float64) (*CountMatrix, error) {
	if len(values) != len(rowLabels) {
		return nil, FormatError{
			Source: "dense matrix",
			Reason: fmt.Sprintf("%d value rows for %d row labels", len(values), len(rowLabels)),
		}
	}
	m := NewCountMatrix(rowLabels, colLabels)
	for r, rowValues := range values {
		if len(rowValues) != len(colLabels) {
			return nil, FormatError{
				Source: "dense matrix",
				Reason: fmt.Sprintf("row %d has %d values for %d column labels", r, len(rowValues), len(colLabels)),
			}
		}
		for c, v := range rowValues {
			if v != 0 {
				m.cols[c] = append(m.cols[c], entry{row: r, value: v})
			}
		}
	}
	return m, nil
}

// Rows returns the number of gene rows.
func (m *CountMatrix) Rows() int { return len(m.rowLabels) }

// Cols returns the number of cell columns.
func (m *CountMatrix) Cols() int { return len(m.colLabels) }

// RowLabels returns a copy of the row label slice.
func (m *CountMatrix) RowLabels() []string { return append([]string(nil), m.rowLabels...) }

// ColLabels returns a copy of the column label slice.
func (m *CountMatrix) ColLabels() []string { return append([]string(nil), m.colLabels...) }

// NNZ returns the number of explicitly stored (non-zero) entries.
func (m *CountMatrix) NNZ() int {
	n := 0
	for _, col := range m.cols {
		n += len(col)
	}
	return n
}

// Set stores a value at (row, col). Zero values are dropped so the stored
// entry set stays exactly the non-zero set. Callers building a matrix insert
// in ascending row order per column; Set keeps that order even when they do
// not.
func (m *CountMatrix) Set(row, col int, v float64) error {
	if row < 0 || row >= len(m.rowLabels) {
		return IndexError{Kind: "row", Requested: fmt.Sprintf("%d", row)}
	}
	if col < 0 || col >= len(m.colLabels) {
		return IndexError{Kind: "column", Requested: fmt.Sprintf("%d", col)}
	}
	if v == 0 {
		return nil
	}
	entries := m.cols[col]
	if n := len(entries); n == 0 || entries[n-1].row < row {
		m.cols[col] = append(entries, entry{row: row, value: v})
		return nil
	}
	at := sort.Search(len(entries), func(i int) bool { return entries[i].row >= row })
	if at < len(entries) && entries[at].row == row {
		entries[at].value = v
		return nil
	}
	entries = append(entries, entry{})
	copy(entries[at+1:], entries[at:])
	entries[at] = entry{row: row, value: v}
	m.cols[col] = entries
	return nil
}

// At returns the value at (row, col); absent entries read as zero.
func (m *CountMatrix) At(row, col int) (float64, error) {
	if row < 0 || row >= len(m.rowLabels) {
		return 0, IndexError{Kind: "row", Requested: fmt.Sprintf("%d", row)}
	}
	if col < 0 || col >= len(m.colLabels) {
		return 0, IndexError{Kind: "column", Requested: fmt.Sprintf("%d", col)}
	}
	for _, e := range m.cols[col] {
		if e.row == row {
			return e.value, nil
		}
		if e.row > row {
			break
		}
	}
	return 0, nil
}

// Dense materializes the matrix as a row-major grid, the inverse of
// NewDense.
func (m *CountMatrix) Dense() [][]float64 {
	grid := make([][]float64, len(m.rowLabels))
	for r := range grid {
		grid[r] = make([]float64, len(m.colLabels))
	}
	for c, col := range m.cols {
		for _, e := range col {
			grid[e.row][c] = e.value
		}
	}
	return grid
}

// NonZeros visits every stored entry in cell-major order: all entries of
// column 0 in stored row order, then column 1, and so on.
func (m *CountMatrix) NonZeros(visit func(col, row int, v float64)) {
	for c, col := range m.cols {
		for _, e := range col {
			visit(c, e.row, e.value)
		}
	}
}

// SubsetRows returns a new matrix containing the given row positions in the
// given order. Column entries of the subset are ordered by their new row
// position, which preserves the original relative order whenever positions
// are ascending. A position outside the matrix yields an IndexError.
func (m *CountMatrix) SubsetRows(positions []int) (*CountMatrix, error) {
	remap := make(map[int]int, len(positions))
	labels := make([]string, len(positions))
	for i, p := range positions {
		if p < 0 || p >= len(m.rowLabels) {
			return nil, IndexError{Kind: "row", Requested: fmt.Sprintf("%d", p)}
		}
		remap[p] = i
		labels[i] = m.rowLabels[p]
	}
	sub := NewCountMatrix(labels, m.colLabels)
	for c, col := range m.cols {
		for _, e := range col {
			if r, ok := remap[e.row]; ok {
				sub.cols[c] = append(sub.cols[c], entry{row: r, value: e.value})
			}
		}
		sort.SliceStable(sub.cols[c], func(i, j int) bool { return sub.cols[c][i].row < sub.cols[c][j].row })
	}
	return sub, nil
}

// RelabelRows returns a copy of the matrix with replaced row labels.
func (m *CountMatrix) RelabelRows(labels []string) (*CountMatrix, error) {
	if len(labels) != len(m.rowLabels) {
		return nil, FormatError{
			Source: "relabel rows",
			Reason: fmt.Sprintf("%d labels for %d rows", len(labels), len(m.rowLabels)),
		}
	}
	out := m.Clone()
	out.rowLabels = append([]string(nil), labels...)
	return out, nil
}

// RelabelCols returns a copy of the matrix with replaced column labels.
func (m *CountMatrix) RelabelCols(labels []string) (*CountMatrix, error) {
	if len(labels) != len(m.colLabels) {
		return nil, FormatError{
			Source: "relabel columns",
			Reason: fmt.Sprintf("%d labels for %d columns", len(labels), len(m.colLabels)),
		}
	}
	out := m.Clone()
	out.colLabels = append([]string(nil), labels...)
	return out, nil
}

// Clone returns a deep copy.
func (m *CountMatrix) Clone() *CountMatrix {
	out := &CountMatrix{
		rowLabels: append([]string(nil), m.rowLabels...),
		colLabels: append([]string(nil), m.colLabels...),
		cols:      make([][]entry, len(m.cols)),
	}
	for c, col := range m.cols {
		out.cols[c] = append([]entry(nil), col...)
	}
	return out
}
