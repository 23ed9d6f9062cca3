// Package migrations applies the embedded schema migrations using goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed sql
var embedded embed.FS

// Goose dialect names.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// MigrationRunner applies the migrations for one dialect.
type MigrationRunner struct {
	db      *sql.DB
	dialect string
}

// NewMigrationRunner creates a runner for db. dialect is one of the Dialect constants.
func NewMigrationRunner(db *sql.DB, dialect string) *MigrationRunner {
	return &MigrationRunner{db: db, dialect: dialect}
}

// Up applies all pending migrations while holding the migration lock.
func (m *MigrationRunner) Up(ctx context.Context) error {
	provider, err := m.provider()
	if err != nil {
		return err
	}

	release, err := m.acquireLock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *MigrationRunner) Down(ctx context.Context) error {
	provider, err := m.provider()
	if err != nil {
		return err
	}

	release, err := m.acquireLock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	if _, err := provider.Down(ctx); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// Version returns the current schema version, 0 when nothing has been applied.
func (m *MigrationRunner) Version(ctx context.Context) (int64, error) {
	provider, err := m.provider()
	if err != nil {
		return 0, err
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, nil
}

func (m *MigrationRunner) provider() (*goose.Provider, error) {
	if m.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	var dialect goose.Dialect
	switch m.dialect {
	case DialectSQLite:
		dialect = goose.DialectSQLite3
	case DialectPostgres:
		dialect = goose.DialectPostgres
	case DialectMySQL:
		dialect = goose.DialectMySQL
	default:
		return nil, fmt.Errorf("unsupported migration dialect: %q", m.dialect)
	}

	fsys, err := fs.Sub(embedded, "sql/"+m.dialect)
	if err != nil {
		return nil, fmt.Errorf("migrations for %s not found: %w", m.dialect, err)
	}

	provider, err := goose.NewProvider(dialect, m.db, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, nil
}
