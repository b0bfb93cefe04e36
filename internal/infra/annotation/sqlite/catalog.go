// Package sqlite implements an annotation catalog stored in an embedded
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cellpack/pkg/annotation"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion.
var _ annotation.Catalog = (*Catalog)(nil)

// Catalog persists gene alias rows in a single SQLite table.
type Catalog struct {
	db   *sql.DB
	path string
}

// New creates or opens a SQLite-backed catalog at path.
func New(path string) (*Catalog, error) {
	if path == "" {
		path = "annotations.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS gene_alias (
		alias TEXT NOT NULL,
		entrez_id TEXT NOT NULL,
		UNIQUE(alias, entrez_id)
	)`); err != nil {
		return nil, fmt.Errorf("create gene_alias table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS gene_alias_by_alias ON gene_alias(alias)`); err != nil {
		return nil, fmt.Errorf("create alias index: %w", err)
	}
	return &Catalog{db: db, path: path}, nil
}

// Lookup returns the normalized candidate set recorded for originalID.
func (c *Catalog) Lookup(ctx context.Context, originalID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT entrez_id FROM gene_alias WHERE alias = ?`, originalID)
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
		if _, err := tx.ExecContext(ctx, `INSERT INTO gene_alias(alias,entrez_id) VALUES(?,?) ON CONFLICT(alias,entrez_id) DO NOTHING`, a.OriginalID, a.CanonicalID); err != nil {
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

// Path returns the configured database path.
func (c *Catalog) Path() string { return c.path }
