package session

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Page is a navigation target.
type Page string

const (
	// PageLogin is where unauthenticated users are sent.
	PageLogin Page = "login.html"
	// PageChat is the protected page reached after a successful login.
	PageChat Page = "chat.html"
)

// Navigator moves the user to another page.
type Navigator interface {
	Navigate(page Page)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(page Page)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(page Page) { f(page) }

// Guard protects pages that need a stored credential.
type Guard struct {
	store  Store
	nav    Navigator
	logger *zap.Logger
}

// NewGuard creates a Guard. A nil logger is replaced by a no-op logger.
func NewGuard(store Store, nav Navigator, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{store: store, nav: nav, logger: logger}
}

// Store returns the guarded credential slot.
func (g *Guard) Store() Store {
	return g.store
}

// CheckAuth reports whether a credential is stored. When none is, the user is
// sent to the login page exactly once. Read failures count as absent.
func (g *Guard) CheckAuth(ctx context.Context) bool {
	token, err := g.store.Get(ctx)
	if err != nil && !errors.Is(err, ErrNoCredential) {
		g.logger.Warn("failed to read stored credential", zap.Error(err))
	}
	if err != nil || token == "" {
		g.nav.Navigate(PageLogin)
		return false
	}
	return true
}

// Logout removes the stored credential and sends the user to the login page.
// It is safe to call with no credential stored. Navigation happens even when
// clearing fails; the clear error is returned.
func (g *Guard) Logout(ctx context.Context) error {
	err := g.store.Clear(ctx)
	if err != nil {
		g.logger.Error("failed to clear stored credential", zap.Error(err))
	}
	g.nav.Navigate(PageLogin)
	return err
}
