// Package annotation selects a concrete gene alias catalog backend and
// re-exports the lookup contract for callers that only wire storage.
package annotation

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"cellpack/internal/infra/annotation/memory"
	"cellpack/internal/infra/annotation/postgres"
	"cellpack/internal/infra/annotation/sqlite"
	pkgannotation "cellpack/pkg/annotation"
	"cellpack/pkg/expr"
)

// Catalog and Alias mirror the contract package so backend selection does
// not force a second import on callers.
type (
	Catalog = pkgannotation.Catalog
	Alias   = pkgannotation.Alias
)

// Driver identifies a concrete catalog implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Open selects a catalog backend using environment variables. Defaults to
// memory when unset.
//
//	CELLPACK_ANNOTATION_DRIVER: memory|sqlite|postgres (default memory)
//	CELLPACK_ANNOTATION_SQLITE_PATH: path to sqlite file (default ./annotations.db)
//	CELLPACK_ANNOTATION_POSTGRES_DSN: postgres DSN when driver=postgres
func Open(ctx context.Context) (Catalog, error) {
	driver := os.Getenv("CELLPACK_ANNOTATION_DRIVER")
	if driver == "" {
		driver = string(DriverMemory)
	}
	switch Driver(driver) {
	case DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		return sqlite.New(os.Getenv("CELLPACK_ANNOTATION_SQLITE_PATH"))
	case DriverPostgres:
		return postgres.New(ctx, os.Getenv("CELLPACK_ANNOTATION_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown annotation driver %s", driver)
	}
}

// OpenSpec opens a catalog from a single locator string, the form accepted
// by the command line:
//
//	postgres://... postgresql://...  postgres DSN
//	*.db *.sqlite                    sqlite database path
//	*.tsv                            alias table loaded into a memory catalog
//
// An empty spec yields an empty memory catalog, under which every lookup
// resolves to no candidates.
func OpenSpec(ctx context.Context, spec string) (Catalog, error) {
	switch {
	case spec == "":
		return memory.New(), nil
	case strings.HasPrefix(spec, "postgres://") || strings.HasPrefix(spec, "postgresql://"):
		return postgres.New(ctx, spec)
	case strings.HasSuffix(spec, ".db") || strings.HasSuffix(spec, ".sqlite"):
		return sqlite.New(spec)
	case strings.HasSuffix(spec, ".tsv"):
		cat := memory.New()
		if err := LoadAliasFile(ctx, cat, spec); err != nil {
			return nil, err
		}
		return cat, nil
	default:
		return nil, fmt.Errorf("unrecognized annotation source %q", spec)
	}
}

// LoadAliasFile bulk-imports a two-column tab-separated alias table (original
// identifier, canonical identifier) into cat. Blank lines and lines starting
// with '#' are skipped.
func LoadAliasFile(ctx context.Context, cat Catalog, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return expr.IOError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	var aliases []Alias
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r\n")
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 2 {
			return expr.FormatError{Source: path, Reason: fmt.Sprintf("line %d: expected 2 tab-separated fields, found %d", line, len(fields))}
		}
		if fields[0] == "" || fields[1] == "" {
			return expr.FormatError{Source: path, Reason: fmt.Sprintf("line %d: empty identifier", line)}
		}
		aliases = append(aliases, Alias{OriginalID: fields[0], CanonicalID: fields[1]})
	}
	if err := scanner.Err(); err != nil {
		return expr.IOError{Path: path, Err: err}
	}
	return cat.AddAliases(ctx, aliases)
}
