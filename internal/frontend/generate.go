package frontend

import (
	"context"
	"errors"

	"github.com/sofatutor/brian/internal/client"
	"github.com/sofatutor/brian/internal/session"
	"go.uber.org/zap"
)

// OutputError reports that the caller's chunk sink failed. The API answered,
// so the session is left alone.
type OutputError struct {
	Err error
}

func (e *OutputError) Error() string {
	return "failed to write output: " + e.Err.Error()
}

func (e *OutputError) Unwrap() error { return e.Err }

// GenerateHandler sends prompts with the stored credential.
type GenerateHandler struct {
	api    API
	guard  *session.Guard
	logger *zap.Logger

	// ExpireOnlyOnUnauthorized limits forced logouts to 401 and 403 replies.
	// When false every failed generation is treated as an expired session.
	ExpireOnlyOnUnauthorized bool
}

// NewGenerateHandler creates a GenerateHandler.
func NewGenerateHandler(api API, guard *session.Guard, logger *zap.Logger) *GenerateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerateHandler{api: api, guard: guard, logger: logger}
}

// GenerateText sends the prompt field and returns the generated text verbatim.
func (h *GenerateHandler) GenerateText(ctx context.Context, form Form) Result {
	return h.generate(ctx, form, func(token, prompt string) (string, error) {
		return h.api.GenerateText(ctx, token, prompt)
	})
}

// GenerateTextStream behaves like GenerateText but hands chunks to onChunk as
// they arrive. Backends without streaming deliver the whole text as one chunk.
func (h *GenerateHandler) GenerateTextStream(ctx context.Context, form Form, onChunk func(string) error) Result {
	if onChunk != nil {
		sink := onChunk
		onChunk = func(chunk string) error {
			if err := sink(chunk); err != nil {
				return &OutputError{Err: err}
			}
			return nil
		}
	}
	streamer, ok := h.api.(StreamingAPI)
	if !ok {
		return h.generate(ctx, form, func(token, prompt string) (string, error) {
			out, err := h.api.GenerateText(ctx, token, prompt)
			if err != nil {
				return "", err
			}
			if onChunk != nil {
				if err := onChunk(out); err != nil {
					return out, err
				}
			}
			return out, nil
		})
	}
	return h.generate(ctx, form, func(token, prompt string) (string, error) {
		return streamer.GenerateTextStream(ctx, token, prompt, onChunk)
	})
}

func (h *GenerateHandler) generate(ctx context.Context, form Form, call func(token, prompt string) (string, error)) Result {
	prompt := form.Value(FieldPrompt)

	token, err := h.guard.Store().Get(ctx)
	if err == nil && token == "" {
		err = session.ErrNoCredential
	}
	if err != nil {
		return h.expire(ctx, err)
	}

	out, err := call(token, prompt)
	if err != nil {
		var outErr *OutputError
		if errors.As(err, &outErr) {
			h.logger.Warn("failed to deliver generated text", zap.Error(err))
			return failure(err.Error(), err)
		}
		if h.ExpireOnlyOnUnauthorized && !isUnauthorized(err) {
			h.logger.Warn("generation failed", zap.Error(err))
			return failure(detailOf(err), err)
		}
		return h.expire(ctx, err)
	}
	return success(out)
}

func (h *GenerateHandler) expire(ctx context.Context, cause error) Result {
	h.logger.Info("session expired", zap.Error(cause))
	if err := h.guard.Logout(ctx); err != nil {
		cause = errors.Join(cause, err)
	}
	return failure(SessionExpiredMessage, cause)
}

func isUnauthorized(err error) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr) && apiErr.IsUnauthorized()
}
