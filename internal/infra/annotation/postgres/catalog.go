// Package postgres implements an annotation catalog backed by a PostgreSQL
// server, sharing the gene_alias schema with the SQLite catalog.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"cellpack/pkg/annotation"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion.
var _ annotation.Catalog = (*Catalog)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/cellpack?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Catalog persists gene alias rows in a Postgres table.
type Catalog struct {
	db *sql.DB
}

// New connects using the provided DSN (falls back to defaultDSN), pings the
// server, and ensures the alias table exists.
func New(ctx context.Context, dsn string) (*Catalog, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureAliasTable(ctx, db); err != nil {
		return nil, err
	}
	return &Catalog{db: db}, nil
}

func ensureAliasTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS gene_alias (
		alias TEXT NOT NULL,
		entrez_id TEXT NOT NULL,
		UNIQUE(alias, entrez_id)
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure gene_alias table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS gene_alias_by_alias ON gene_alias(alias)`); err != nil {
		return fmt.Errorf("ensure alias index: %w", err)
	}
	return nil
}

// Lookup returns the normalized candidate set recorded for originalID.
func (c *Catalog) Lookup(ctx context.Context, originalID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT entrez_id FROM gene_alias WHERE alias = $1`, originalID)
	if err != nil {
		return nil, fmt.Errorf("select aliases: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aliases: %w", err)
	}
	return annotation.Normalize(ids), nil
}

// AddAliases inserts the supplied rows within a single transaction. Rows
// already present are ignored.
func (c *Catalog) AddAliases(ctx context.Context, aliases []annotation.Alias) error {
	if len(aliases) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, a := range aliases {
		if _, err := tx.ExecContext(ctx, `INSERT INTO gene_alias(alias,entrez_id) VALUES($1,$2) ON CONFLICT(alias,entrez_id) DO NOTHING`, a.OriginalID, a.CanonicalID); err != nil {
			return fmt.Errorf("insert alias %s: %w", a.OriginalID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Close releases the database handle.
func (c *Catalog) Close() error { return c.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (c *Catalog) DB() *sql.DB { return c.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
