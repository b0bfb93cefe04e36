package core

import (
	"fmt"
	"strconv"
	"strings"

	"cellpack/pkg/expr"
)

// AttributeTable is a cellId-aligned attribute table: Values[cellID][i]
// holds the value of Columns[i] for that cell. Both extraction strategies
// produce this shape so downstream writers treat them interchangeably.
type AttributeTable struct {
	Columns []string
	Values  [][]string
}

// Empty reports whether the table carries no columns.
func (t AttributeTable) Empty() bool { return len(t.Columns) == 0 }

// MergeAttributeTables concatenates the columns of two tables covering the
// same cells. An empty side passes the other through unchanged.
func MergeAttributeTables(a, b AttributeTable) (AttributeTable, error) {
	if a.Empty() {
		return b, nil
	}
	if b.Empty() {
		return a, nil
	}
	if len(a.Values) != len(b.Values) {
		return AttributeTable{}, expr.FormatError{
			Source: "attribute tables",
			Reason: fmt.Sprintf("cell counts differ: %d vs %d", len(a.Values), len(b.Values)),
		}
	}
	merged := AttributeTable{
		Columns: append(append([]string(nil), a.Columns...), b.Columns...),
		Values:  make([][]string, len(a.Values)),
	}
	for i := range a.Values {
		merged.Values[i] = append(append([]string(nil), a.Values[i]...), b.Values[i]...)
	}
	return merged, nil
}

// ExtractRowAttributes derives cell attributes from designated matrix rows
// that encode metadata rather than expression counts. The selected rows are
// transposed and aligned with cells through the current column order, which
// after AssignCellIndices is the cellId order. Column names are the selected
// row labels. A row that does not exist yields an IndexError.
func ExtractRowAttributes(m *expr.CountMatrix, rows expr.RowSelector) (AttributeTable, error) {
	positions, err := rows.Resolve(m)
	if err != nil {
		return AttributeTable{}, err
	}
	labels := m.RowLabels()
	table := AttributeTable{
		Columns: make([]string, len(positions)),
		Values:  make([][]string, m.Cols()),
	}
	for i, p := range positions {
		table.Columns[i] = labels[p]
	}
	for c := 0; c < m.Cols(); c++ {
		row := make([]string, len(positions))
		for i, p := range positions {
			v, atErr := m.At(p, c)
			if atErr != nil {
				return AttributeTable{}, atErr
			}
			row[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		table.Values[c] = row
	}
	return table, nil
}

// ExtractLabelAttributes tokenizes each cell's original label on separator
// and exposes the tokens as attribute columns. The column count is the
// minimum token count across all cells: labels with more tokens are
// truncated to the narrowest common structure rather than padded or
// rejected. Columns are named token_1..token_k. An empty separator or a
// label yielding zero tokens (an empty label) is a FormatError.
func ExtractLabelAttributes(records []CellRecord, separator string) (AttributeTable, error) {
	if separator == "" {
		return AttributeTable{}, expr.FormatError{
			Source: "cell labels",
			Reason: "empty separator",
		}
	}
	tokens := make([][]string, len(records))
	minTokens := -1
	for i, record := range records {
		if record.CellName == "" {
			return AttributeTable{}, expr.FormatError{
				Source: "cell labels",
				Reason: fmt.Sprintf("label of cell %d yields zero tokens", record.CellID),
			}
		}
		tokens[i] = strings.Split(record.CellName, separator)
		if minTokens < 0 || len(tokens[i]) < minTokens {
			minTokens = len(tokens[i])
		}
	}
	if minTokens < 0 {
		minTokens = 0
	}
	table := AttributeTable{
		Columns: make([]string, minTokens),
		Values:  make([][]string, len(records)),
	}
	for j := 0; j < minTokens; j++ {
		table.Columns[j] = fmt.Sprintf("token_%d", j+1)
	}
	for i := range records {
		table.Values[i] = append([]string(nil), tokens[i][:minTokens]...)
	}
	return table, nil
}
