// Package database stores brian's user accounts in SQLite, PostgreSQL or MySQL.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sofatutor/brian/internal/database/migrations"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DriverType represents the database driver type.
type DriverType string

const (
	// DriverSQLite represents the SQLite database driver.
	DriverSQLite DriverType = "sqlite"
	// DriverPostgres represents the PostgreSQL database driver.
	DriverPostgres DriverType = "postgres"
	// DriverMySQL represents the MySQL database driver.
	DriverMySQL DriverType = "mysql"
)

// DB represents the database connection.
type DB struct {
	db     *sql.DB
	driver DriverType
}

// Config contains the database configuration for all drivers.
type Config struct {
	// Driver is sqlite, postgres or mysql.
	Driver DriverType
	// Path is the SQLite database file.
	Path string
	// DatabaseURL is the PostgreSQL or MySQL connection string.
	DatabaseURL string
	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int
	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int
	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a default database configuration.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		Path:            "data/brian.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// ConfigFromEnv creates a Config from DB_DRIVER, DATABASE_PATH, DATABASE_URL
// and the pool variables. Invalid values are logged and defaults are kept.
// When DB_DRIVER is unset the driver is inferred from a postgres:// or
// mysql:// DATABASE_URL.
func ConfigFromEnv(logger *zap.Logger) Config {
	if logger == nil {
		logger = zap.NewNop()
	}
	config := DefaultConfig()

	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.DatabaseURL = url
		switch {
		case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
			config.Driver = DriverPostgres
		case strings.HasPrefix(url, "mysql://"):
			config.Driver = DriverMySQL
			config.DatabaseURL = strings.TrimPrefix(url, "mysql://")
		case strings.HasPrefix(url, "sqlite://"):
			config.Path = strings.TrimPrefix(url, "sqlite://")
			config.DatabaseURL = ""
		}
	}

	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		driverType := DriverType(strings.ToLower(driver))
		if driverType != DriverSQLite && driverType != DriverPostgres && driverType != DriverMySQL {
			logger.Warn("unsupported DB_DRIVER, defaulting to sqlite", zap.String("driver", driver))
			config.Driver = DriverSQLite
		} else {
			config.Driver = driverType
		}
	}

	if path := os.Getenv("DATABASE_PATH"); path != "" {
		config.Path = path
	}

	if v := os.Getenv("DATABASE_POOL_SIZE"); v != "" {
		if size, err := parsePositiveInt(v); err == nil {
			config.MaxOpenConns = size
		} else {
			logger.Warn("invalid DATABASE_POOL_SIZE, using default", zap.String("value", v), zap.Int("default", config.MaxOpenConns))
		}
	}

	if v := os.Getenv("DATABASE_MAX_IDLE_CONNS"); v != "" {
		if size, err := parsePositiveInt(v); err == nil {
			config.MaxIdleConns = size
		} else {
			logger.Warn("invalid DATABASE_MAX_IDLE_CONNS, using default", zap.String("value", v), zap.Int("default", config.MaxIdleConns))
		}
	}

	if v := os.Getenv("DATABASE_CONN_MAX_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ConnMaxLifetime = d
		} else {
			logger.Warn("invalid DATABASE_CONN_MAX_LIFETIME, using default", zap.String("value", v), zap.Duration("default", config.ConnMaxLifetime))
		}
	}

	return config
}

func parsePositiveInt(s string) (int, error) {
	var i int
	_, err := fmt.Sscanf(s, "%d", &i)
	if err != nil || i <= 0 {
		return 0, fmt.Errorf("invalid positive integer: %s", s)
	}
	return i, nil
}

// New opens the configured database and applies pending migrations.
func New(ctx context.Context, config Config) (*DB, error) {
	switch config.Driver {
	case DriverSQLite, "":
		return newSQLiteDB(ctx, config)
	case DriverPostgres:
		return newPostgresDB(ctx, config)
	case DriverMySQL:
		return newMySQLDB(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}
}

func newSQLiteDB(ctx context.Context, config Config) (*DB, error) {
	if config.Path != ":memory:" {
		if err := ensureDirExists(filepath.Dir(config.Path)); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Timestamps are stored and read as UTC. Write transactions take the lock
	// up front so concurrent sign-ups queue instead of failing.
	db, err := sql.Open("sqlite3", config.Path+"?_journal=WAL&_foreign_keys=on&_loc=UTC&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// In-memory SQLite databases are per connection.
	if config.Path == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	return open(ctx, db, DriverSQLite, migrations.DialectSQLite)
}

// open pings db and migrates it to the latest schema.
func open(ctx context.Context, db *sql.DB, driver DriverType, dialect string) (*DB, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	if err := migrations.NewMigrationRunner(db, dialect).Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", driver, err)
	}
	return &DB{db: db, driver: driver}, nil
}

func ensureDirExists(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return os.MkdirAll(dir, 0755)
	} else if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path %s exists and is not a directory", dir)
	}
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Ping checks that the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if d == nil || d.db == nil {
		return fmt.Errorf("database is nil")
	}
	return d.db.PingContext(ctx)
}

// Driver returns the driver the connection was opened with.
func (d *DB) Driver() DriverType {
	return d.driver
}

// DB returns the underlying sql.DB instance.
func (d *DB) DB() *sql.DB {
	return d.db
}

// Transaction executes fn within a transaction, rolling back on error or panic.
func (d *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if d == nil || d.db == nil {
		return fmt.Errorf("database is nil")
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RebindQuery converts ? placeholders to $n for PostgreSQL.
func (d *DB) RebindQuery(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 10)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
