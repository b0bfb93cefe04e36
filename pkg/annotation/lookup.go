// Package annotation defines the gene-identifier lookup contract consumed by
// the reconciliation pipeline, together with a static in-memory
// implementation for fixed alias tables.
package annotation

import (
	"context"
	"sort"
	"strconv"
)

// Lookup resolves an original gene identifier to the set of canonical
// numeric identifiers it maps to. The returned set may be empty (identifier
// unknown) or carry several candidates (ambiguous identifier); both are
// ordinary outcomes, not errors. Implementations must be deterministic for a
// fixed input and should return normalized sets (see Normalize).
type Lookup interface {
	Lookup(ctx context.Context, originalID string) ([]string, error)
}

// LookupFunc adapts a plain function to the Lookup interface.
type LookupFunc func(ctx context.Context, originalID string) ([]string, error)

// Lookup invokes the function.
func (f LookupFunc) Lookup(ctx context.Context, originalID string) ([]string, error) {
	return f(ctx, originalID)
}

// Alias is one row of an identifier mapping table: an original identifier
// and one canonical identifier it maps to. Ambiguous identifiers occupy
// several rows sharing the same OriginalID.
type Alias struct {
	OriginalID  string
	CanonicalID string
}

// Catalog is a loadable alias store. Durable backends (SQLite, Postgres)
// implement it next to the in-memory table.
type Catalog interface {
	Lookup
	AddAliases(ctx context.Context, aliases []Alias) error
	Close() error
}

// Normalize deduplicates a candidate set and sorts it with numeric-aware
// ordering: identifiers that parse as unsigned integers sort numerically
// before any non-numeric identifiers, which sort lexicographically. The
// result is the canonical presentation order used in audit logs.
func Normalize(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return identifierLess(out[i], out[j]) })
	return out
}

func identifierLess(a, b string) bool {
	an, aErr := strconv.ParseUint(a, 10, 64)
	bn, bErr := strconv.ParseUint(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		return an < bn
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	default:
		return a < b
	}
}

// StaticTable is an in-memory Lookup over a fixed alias map.
type StaticTable struct {
	aliases map[string][]string
}

// NewStaticTable copies the supplied map into a lookup table, normalizing
// every candidate set.
func NewStaticTable(aliases map[string][]string) *StaticTable {
	table := make(map[string][]string, len(aliases))
	for id, candidates := range aliases {
		table[id] = Normalize(candidates)
	}
	return &StaticTable{aliases: table}
}

// Lookup returns a copy of the candidate set for originalID.
func (t *StaticTable) Lookup(_ context.Context, originalID string) ([]string, error) {
	return append([]string(nil), t.aliases[originalID]...), nil
}
