//go:build mysql

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/sofatutor/brian/internal/database/migrations"
)

// newMySQLDB is only available when built with the mysql build tag.
func newMySQLDB(ctx context.Context, config Config) (*DB, error) {
	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for MySQL driver")
	}

	dsn, err := mysql.ParseDSN(config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DATABASE_URL: %w", err)
	}
	// created_at is scanned into time.Time.
	dsn.ParseTime = true

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	return open(ctx, db, DriverMySQL, migrations.DialectMySQL)
}

func isMySQLDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
