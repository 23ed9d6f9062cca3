package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	lockRetries    = 10
	lockRetryDelay = 100 * time.Millisecond

	postgresLockID = 0x6272_6961_6e // "brian"
	mysqlLockName  = "brian-migrations"
	mysqlLockWait  = 10 // seconds
)

// acquireLock serialises migrations across processes sharing a server
// database. SQLite migrations run in goose's own transactions and need no lock.
// Server locks are session scoped, so they are taken on a pinned connection.
func (m *MigrationRunner) acquireLock(ctx context.Context) (func(), error) {
	switch m.dialect {
	case DialectPostgres:
		return m.sessionLock(ctx,
			func(conn *sql.Conn) (bool, error) {
				var ok bool
				err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", postgresLockID).Scan(&ok)
				return ok, err
			},
			"SELECT pg_advisory_unlock($1)", postgresLockID)
	case DialectMySQL:
		return m.sessionLock(ctx,
			func(conn *sql.Conn) (bool, error) {
				var res sql.NullInt64
				if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", mysqlLockName, mysqlLockWait).Scan(&res); err != nil {
					return false, err
				}
				if !res.Valid {
					return false, fmt.Errorf("GET_LOCK returned NULL")
				}
				return res.Int64 == 1, nil
			},
			"SELECT RELEASE_LOCK(?)", mysqlLockName)
	default:
		return func() {}, nil
	}
}

func (m *MigrationRunner) sessionLock(ctx context.Context, try func(*sql.Conn) (bool, error), unlock string, arg any) (func(), error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve connection: %w", err)
	}

	for i := 0; i < lockRetries; i++ {
		ok, err := try(conn)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		if ok {
			return func() {
				_, _ = conn.ExecContext(context.Background(), unlock, arg)
				_ = conn.Close()
			}, nil
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	_ = conn.Close()
	return nil, fmt.Errorf("migration lock still held after %d attempts", lockRetries)
}
