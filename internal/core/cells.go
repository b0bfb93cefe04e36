// Package core implements the packaging pipeline: cell index assignment,
// metadata extraction, gene-identifier reconciliation, and the packager
// service that orchestrates them.
package core

import (
	"strconv"

	"cellpack/pkg/expr"
)

// CellRecord binds the stable integer cell identifier to the original cell
// label. CellID is the sole identifier used by every artifact produced after
// assignment; CellName preserves the source label verbatim.
type CellRecord struct {
	CellID   int    `json:"cell_id"`
	CellName string `json:"cell_name"`
}

// AssignCellIndices assigns each cell its zero-based positional identifier
// and returns the matrix with columns relabeled to those identifiers plus
// the record table. Column order is never changed; relabeling is the only
// mutation, applied to a copy. The input must still carry original column
// labels: assignment consumes them as CellName, so re-running on an
// already-relabeled matrix is not supported.
func AssignCellIndices(m *expr.CountMatrix) (*expr.CountMatrix, []CellRecord, error) {
	names := m.ColLabels()
	records := make([]CellRecord, len(names))
	ids := make([]string, len(names))
	for i, name := range names {
		records[i] = CellRecord{CellID: i, CellName: name}
		ids[i] = strconv.Itoa(i)
	}
	relabeled, err := m.RelabelCols(ids)
	if err != nil {
		return nil, nil, err
	}
	return relabeled, records, nil
}
