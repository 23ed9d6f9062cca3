// Package api provides types for API requests and responses shared between CLI, web front and server.
package api

// CreateUserRequest is the request body for creating a user.
type CreateUserRequest struct {
	Name     string `json:"name" binding:"required"`
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest is the request body for logging in. Empty fields are sent as-is.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response body for a successful login.
type LoginResponse struct {
	Message     string `json:"message,omitempty"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

// GenerateTextRequest is the request body for text generation.
type GenerateTextRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateTextResponse is the response body for a successful generation.
type GenerateTextResponse struct {
	Response string `json:"response"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// TokenTypeBearer is the only token type issued by the login endpoint.
const TokenTypeBearer = "bearer"
