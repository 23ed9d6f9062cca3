package frontend

import (
	"context"

	"github.com/sofatutor/brian/internal/client"
)

// ClientAPI adapts a client.Client to StreamingAPI.
type ClientAPI struct {
	Client *client.Client
}

var _ StreamingAPI = ClientAPI{}

// Login implements API.
func (a ClientAPI) Login(ctx context.Context, username, password string) (string, error) {
	resp, err := a.Client.Login(ctx, username, password)
	if err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

// GenerateText implements API.
func (a ClientAPI) GenerateText(ctx context.Context, token, prompt string) (string, error) {
	return a.Client.GenerateText(ctx, token, prompt)
}

// GenerateTextStream implements StreamingAPI.
func (a ClientAPI) GenerateTextStream(ctx context.Context, token, prompt string, onChunk func(string) error) (string, error) {
	return a.Client.GenerateTextStream(ctx, token, prompt, onChunk)
}
