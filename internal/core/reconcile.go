package core

import (
	"context"
	"strings"

	"cellpack/pkg/annotation"
	"cellpack/pkg/expr"
)

// MappingDisposition classifies the reconciliation outcome of one gene row.
type MappingDisposition string

// The four mutually exclusive dispositions, in precedence order. Every input
// gene row receives exactly one.
const (
	// DispositionUnassigned marks rows whose identifier maps to no
	// canonical identifier at all.
	DispositionUnassigned MappingDisposition = "no canonical ID defined"
	// DispositionMultiMapped marks rows whose identifier maps to more than
	// one canonical identifier.
	DispositionMultiMapped MappingDisposition = "mapped to multiple canonical IDs"
	// DispositionCollision marks rows whose unique canonical identifier is
	// also claimed by another row.
	DispositionCollision MappingDisposition = "multiple original IDs mapped to same canonical ID"
	// DispositionResolved marks rows carrying a canonical identifier unique
	// across the whole gene set.
	DispositionResolved MappingDisposition = "successfully mapped to unique canonical ID"
)

// candidateJoin separates canonical candidates in the audit log's MappedID
// column.
const candidateJoin = ";"

// GeneMappingRecord is one audit log line: the original identifier, every
// canonical candidate found for it (joined, empty when none), and the final
// disposition. Records appear in original row order and are immutable once
// the partition is built.
type GeneMappingRecord struct {
	OriginalID  string             `json:"original_id"`
	MappedID    string             `json:"mapped_id"`
	Disposition MappingDisposition `json:"disposition"`
}

// GenePartition is the reconciled split of an expression matrix. Resolved
// rows are relabeled to their canonical identifiers; Excluded rows keep
// their original labels. Relative row order within each side matches the
// input. Resolved and excluded sets are disjoint and jointly cover every
// input row.
type GenePartition struct {
	Resolved     *expr.CountMatrix
	Excluded     *expr.CountMatrix
	CanonicalIDs []string
	Log          []GeneMappingRecord
}

// Stats summarizes the partition by disposition.
func (p GenePartition) Stats() PartitionStats {
	stats := PartitionStats{Total: len(p.Log)}
	for _, record := range p.Log {
		switch record.Disposition {
		case DispositionResolved:
			stats.Resolved++
		case DispositionUnassigned:
			stats.Unassigned++
		case DispositionMultiMapped:
			stats.MultiMapped++
		case DispositionCollision:
			stats.Collisions++
		}
	}
	return stats
}

// PartitionStats counts gene rows per disposition.
type PartitionStats struct {
	Total       int `json:"total"`
	Resolved    int `json:"resolved"`
	Unassigned  int `json:"unassigned"`
	MultiMapped int `json:"multi_mapped"`
	Collisions  int `json:"collisions"`
}

// Excluded returns the number of rows excluded for any reason.
func (s PartitionStats) Excluded() int { return s.Unassigned + s.MultiMapped + s.Collisions }

// ReconcileIdentifiers maps every gene row of m to canonical identifiers
// through lookup and partitions the rows. The computation is two-phase so
// the outcome is independent of iteration order: rows are first classified
// individually (no candidate, several candidates, exactly one), then
// canonical identifiers claimed by two or more single-mapped rows disqualify
// all of their claimants as collisions. Remaining single-mapped rows are
// resolved.
//
// A lookup failure aborts with a LookupError. An empty matrix yields two
// empty partitions and an empty log.
func ReconcileIdentifiers(ctx context.Context, m *expr.CountMatrix, lookup annotation.Lookup) (GenePartition, error) {
	labels := m.RowLabels()

	// Phase one: per-row candidate sets. Identical labels share one query;
	// the collaborator is deterministic for a fixed input.
	cache := make(map[string][]string)
	candidates := make([][]string, len(labels))
	for i, label := range labels {
		ids, cached := cache[label]
		if !cached {
			raw, err := lookup.Lookup(ctx, label)
			if err != nil {
				return GenePartition{}, expr.LookupError{Label: label, Err: err}
			}
			ids = annotation.Normalize(raw)
			cache[label] = ids
		}
		candidates[i] = ids
	}

	// Phase two: claim counts over single-mapped rows only. A canonical
	// identifier claimed more than once turns every claimant into a
	// collision, regardless of scan order.
	claims := make(map[string]int)
	for _, ids := range candidates {
		if len(ids) == 1 {
			claims[ids[0]]++
		}
	}

	partition := GenePartition{Log: make([]GeneMappingRecord, len(labels))}
	var resolvedRows, excludedRows []int
	for i, label := range labels {
		ids := candidates[i]
		var disposition MappingDisposition
		switch {
		case len(ids) == 0:
			disposition = DispositionUnassigned
		case len(ids) > 1:
			disposition = DispositionMultiMapped
		case claims[ids[0]] > 1:
			disposition = DispositionCollision
		default:
			disposition = DispositionResolved
		}
		partition.Log[i] = GeneMappingRecord{
			OriginalID:  label,
			MappedID:    strings.Join(ids, candidateJoin),
			Disposition: disposition,
		}
		if disposition == DispositionResolved {
			resolvedRows = append(resolvedRows, i)
			partition.CanonicalIDs = append(partition.CanonicalIDs, ids[0])
		} else {
			excludedRows = append(excludedRows, i)
		}
	}

	resolved, err := m.SubsetRows(resolvedRows)
	if err != nil {
		return GenePartition{}, err
	}
	resolved, err = resolved.RelabelRows(partition.CanonicalIDs)
	if err != nil {
		return GenePartition{}, err
	}
	excluded, err := m.SubsetRows(excludedRows)
	if err != nil {
		return GenePartition{}, err
	}
	partition.Resolved = resolved
	partition.Excluded = excluded
	return partition, nil
}
