package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name the credential is filed under in the OS keyring.
const KeyringService = "brian"

// KeyringStore keeps the credential in the OS keyring (Keychain, Secret Service,
// Windows Credential Manager).
type KeyringStore struct {
	service string
	user    string
}

// NewKeyringStore returns a KeyringStore for the brian service.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: KeyringService, user: StorageKey}
}

// Available reports whether the keyring backend answers at all. A missing
// entry counts as available.
func (k *KeyringStore) Available() bool {
	_, err := keyring.Get(k.service, k.user)
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

// Get implements Store.
func (k *KeyringStore) Get(_ context.Context) (string, error) {
	token, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential from keyring: %w", err)
	}
	return token, nil
}

// Set implements Store.
func (k *KeyringStore) Set(_ context.Context, token string) error {
	if err := keyring.Set(k.service, k.user, token); err != nil {
		return fmt.Errorf("failed to write credential to keyring: %w", err)
	}
	return nil
}

// Clear implements Store.
func (k *KeyringStore) Clear(_ context.Context) error {
	err := keyring.Delete(k.service, k.user)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete credential from keyring: %w", err)
	}
	return nil
}
