package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when the username or email is already taken.
	ErrUserExists = errors.New("user already exists")
)

// User is a registered account. Password holds the bcrypt hash.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStore is the persistence interface used by the API server.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

var _ UserStore = (*DB)(nil)

// CreateUser inserts user, assigning an ID and creation time when unset.
// It returns ErrUserExists when the username or email is taken.
func (d *DB) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	return d.Transaction(ctx, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx,
			d.RebindQuery(`SELECT COUNT(*) FROM users WHERE username = ? OR email = ?`),
			user.Username, user.Email).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check existing users: %w", err)
		}
		if count > 0 {
			return ErrUserExists
		}

		_, err = tx.ExecContext(ctx,
			d.RebindQuery(`INSERT INTO users (id, name, username, email, password, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
			user.ID, user.Name, user.Username, user.Email, user.Password, user.CreatedAt)
		if err != nil {
			if isDuplicate(err) {
				return ErrUserExists
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
}

// GetUserByUsername returns the user with the given username or ErrUserNotFound.
func (d *DB) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := d.db.QueryRowContext(ctx,
		d.RebindQuery(`SELECT id, name, username, email, password, created_at FROM users WHERE username = ?`),
		username).Scan(&u.ID, &u.Name, &u.Username, &u.Email, &u.Password, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// CountUsers returns the number of registered users.
func (d *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func isDuplicate(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return true
	}
	return isPostgresDuplicate(err) || isMySQLDuplicate(err)
}
