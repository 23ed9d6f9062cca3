package frontend

import (
	"context"
	"errors"
	"fmt"

	"github.com/sofatutor/brian/internal/client"
	"github.com/sofatutor/brian/internal/session"
	"go.uber.org/zap"
)

// MissingTokenMessage is shown when a successful login reply has no token.
const MissingTokenMessage = "Login failed: the server returned no access token"

// LoginHandler exchanges a username and password for a stored credential.
type LoginHandler struct {
	api    API
	store  session.Store
	nav    session.Navigator
	logger *zap.Logger
}

// NewLoginHandler creates a LoginHandler.
func NewLoginHandler(api API, store session.Store, nav session.Navigator, logger *zap.Logger) *LoginHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginHandler{api: api, store: store, nav: nav, logger: logger}
}

// LoginUser submits the username and password fields as-is. On success the
// returned token is stored and the user is sent to the chat page. On failure
// the server's detail is returned verbatim and nothing is stored.
func (h *LoginHandler) LoginUser(ctx context.Context, form Form) Result {
	username := form.Value(FieldUsername)
	password := form.Value(FieldPassword)

	token, err := h.api.Login(ctx, username, password)
	if err != nil {
		h.logger.Info("login failed", zap.String("username", username), zap.Error(err))
		return failure(detailOf(err), err)
	}
	if token == "" {
		h.logger.Warn("login response carried no access token", zap.String("username", username))
		return failure(MissingTokenMessage, errors.New("login response missing access token"))
	}

	if err := h.store.Set(ctx, token); err != nil {
		h.logger.Error("failed to store credential", zap.Error(err))
		return failure(err.Error(), fmt.Errorf("failed to store credential: %w", err))
	}

	h.logger.Debug("login succeeded", zap.String("username", username))
	h.nav.Navigate(session.PageChat)
	return success("")
}

// detailOf returns the server-provided detail, or the error text when the
// request never produced an API error.
func detailOf(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return err.Error()
}
