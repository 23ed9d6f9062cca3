// Package encryption hashes and verifies user passwords with bcrypt.
package encryption

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the default cost parameter for bcrypt.
const DefaultBcryptCost = 10

// bcryptMaxInput is the longest input bcrypt accepts.
const bcryptMaxInput = 72

var (
	// ErrHashMismatch is returned when a password does not match its hash.
	ErrHashMismatch = errors.New("hash does not match")

	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword = errors.New("password cannot be empty")
)

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) error
}

// PasswordHasher is a bcrypt Hasher.
type PasswordHasher struct {
	cost int
}

var _ Hasher = (*PasswordHasher)(nil)

// NewPasswordHasher creates a PasswordHasher with the default cost.
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{cost: DefaultBcryptCost}
}

// NewPasswordHasherWithCost creates a PasswordHasher with a custom bcrypt cost.
func NewPasswordHasherWithCost(cost int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &PasswordHasher{cost: cost}, nil
}

// Hash returns the bcrypt hash of password. Inputs longer than bcrypt's
// 72-byte limit are pre-hashed with SHA-256.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword(prepare(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify returns nil when password matches hash and ErrHashMismatch otherwise.
func (h *PasswordHasher) Verify(password, hash string) error {
	if password == "" || hash == "" {
		return ErrHashMismatch
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), prepare(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrHashMismatch
		}
		return fmt.Errorf("failed to verify password: %w", err)
	}
	return nil
}

func prepare(password string) []byte {
	input := []byte(password)
	if len(input) > bcryptMaxInput {
		sum := sha256.Sum256(input)
		input = sum[:]
	}
	return input
}
