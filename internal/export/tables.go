package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"cellpack/internal/core"
	"cellpack/pkg/expr"
)

// First-column header names of the metadata tables, fixed by the package
// schema.
const (
	cellIDColumn       = "cellId*Integer"
	geneIDColumn       = "geneId*Integer"
	originalGeneColumn = "gene*String"
)

// WriteCellMetadata writes the cell metadata table: one row per cell in
// cellId order, first column the integer cell ID, then the verbatim original
// label, then any extracted attribute columns. A non-empty attribute table
// must cover exactly the same cells as the record table.
func WriteCellMetadata(w io.Writer, cells []core.CellRecord, attrs core.AttributeTable) error {
	if !attrs.Empty() && len(attrs.Values) != len(cells) {
		return expr.FormatError{
			Source: "cell metadata",
			Reason: fmt.Sprintf("attribute table covers %d cells, record table %d", len(attrs.Values), len(cells)),
		}
	}

	writer := csv.NewWriter(w)
	writer.Comma = '\t'

	header := append([]string{cellIDColumn, "cellName"}, attrs.Columns...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write cell metadata header: %w", err)
	}
	for i, cell := range cells {
		row := []string{strconv.Itoa(cell.CellID), cell.CellName}
		if !attrs.Empty() {
			row = append(row, attrs.Values[i]...)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write cell metadata row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush cell metadata: %w", err)
	}
	return nil
}

// WriteGeneMetadata writes the metadata table for resolved genes: canonical
// numeric ID and the original identifier it replaced, in partition row order.
func WriteGeneMetadata(w io.Writer, partition core.GenePartition) error {
	writer := csv.NewWriter(w)
	writer.Comma = '\t'

	if err := writer.Write([]string{geneIDColumn, "originalId"}); err != nil {
		return fmt.Errorf("write gene metadata header: %w", err)
	}
	next := 0
	for _, record := range partition.Log {
		if record.Disposition != core.DispositionResolved {
			continue
		}
		if next >= len(partition.CanonicalIDs) {
			return expr.FormatError{
				Source: "gene metadata",
				Reason: "resolved log entries exceed canonical ID count",
			}
		}
		if err := writer.Write([]string{partition.CanonicalIDs[next], record.OriginalID}); err != nil {
			return fmt.Errorf("write gene metadata row: %w", err)
		}
		next++
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush gene metadata: %w", err)
	}
	return nil
}

// WriteExcludedGeneMetadata writes the audit view of every excluded gene:
// original identifier, the joined canonical candidates found for it (empty
// when none), and the exclusion reason.
func WriteExcludedGeneMetadata(w io.Writer, partition core.GenePartition) error {
	writer := csv.NewWriter(w)
	writer.Comma = '\t'

	if err := writer.Write([]string{originalGeneColumn, "mappedId", "reason"}); err != nil {
		return fmt.Errorf("write excluded gene metadata header: %w", err)
	}
	for _, record := range partition.Log {
		if record.Disposition == core.DispositionResolved {
			continue
		}
		row := []string{record.OriginalID, record.MappedID, string(record.Disposition)}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write excluded gene metadata row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush excluded gene metadata: %w", err)
	}
	return nil
}
