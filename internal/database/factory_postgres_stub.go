//go:build !postgres

package database

import (
	"context"
	"fmt"
)

// newPostgresDB reports that PostgreSQL support is not compiled in.
// Build with -tags postgres to enable it.
func newPostgresDB(_ context.Context, _ Config) (*DB, error) {
	return nil, fmt.Errorf("PostgreSQL support not compiled in; build with -tags postgres to enable")
}

func isPostgresDuplicate(error) bool { return false }
