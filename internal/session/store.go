// Package session holds the client-side credential slot and the guard that
// protects pages which need it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// StorageKey is the fixed name of the credential slot.
const StorageKey = "access_token"

// ErrNoCredential is returned by Store.Get when the slot is empty.
var ErrNoCredential = errors.New("no stored credential")

// Store is the credential slot. Values are opaque bearer tokens; implementations
// never parse or validate them.
type Store interface {
	// Get returns the stored credential or ErrNoCredential.
	Get(ctx context.Context) (string, error)
	// Set replaces the stored credential.
	Set(ctx context.Context, token string) error
	// Clear removes the stored credential. Clearing an empty slot is not an error.
	Clear(ctx context.Context) error
}

// Store kinds accepted by Open.
const (
	KindAuto    = "auto"
	KindKeyring = "keyring"
	KindFile    = "file"
	KindMemory  = "memory"
)

// Open returns the Store for the given kind. path is only used by file stores;
// "auto" prefers the OS keyring and falls back to the file when the keyring is
// not usable.
func Open(kind, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindKeyring:
		return NewKeyringStore(), nil
	case KindFile:
		return NewFileStore(path)
	case KindMemory:
		return NewMemoryStore(), nil
	case KindAuto, "":
		ks := NewKeyringStore()
		if ks.Available() {
			return ks, nil
		}
		return NewFileStore(path)
	default:
		return nil, fmt.Errorf("unknown credential store %q (want auto, keyring, file or memory)", kind)
	}
}

// MemoryStore keeps the credential in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
	set   bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return "", ErrNoCredential
	}
	return m.token, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.set = true
	return nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.set = false
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
	_ Store = (*KeyringStore)(nil)
)
