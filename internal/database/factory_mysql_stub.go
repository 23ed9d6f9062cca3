//go:build !mysql

package database

import (
	"context"
	"fmt"
)

// newMySQLDB reports that MySQL support is not compiled in.
// Build with -tags mysql to enable it.
func newMySQLDB(_ context.Context, _ Config) (*DB, error) {
	return nil, fmt.Errorf("MySQL support not compiled in; build with -tags mysql to enable")
}

func isMySQLDuplicate(error) bool { return false }
