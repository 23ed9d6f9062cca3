// Package frontend implements the login and text generation handlers shared by
// the CLI and the server-rendered web pages.
package frontend

import (
	"context"
)

// Form field names.
const (
	FieldUsername = "username"
	FieldPassword = "password"
	FieldPrompt   = "prompt"
)

// SessionExpiredMessage is shown whenever a generation attempt fails.
const SessionExpiredMessage = "Session expired, please login again"

// Form gives access to submitted field values. Missing fields read as "".
type Form interface {
	Value(field string) string
}

// Values is a map-backed Form.
type Values map[string]string

// Value implements Form.
func (v Values) Value(field string) string {
	return v[field]
}

// Status tags a Result.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "failure"
}

// Result is the outcome of a handler invocation. On failure Message holds the
// text to show the user and Err the underlying cause.
type Result struct {
	Status  Status
	Output  string
	Message string
	Err     error
}

// OK reports whether the result is a success.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

func success(output string) Result {
	return Result{Status: StatusSuccess, Output: output}
}

func failure(message string, err error) Result {
	return Result{Status: StatusFailure, Message: message, Err: err}
}

// API is the subset of the backend the handlers call.
type API interface {
	Login(ctx context.Context, username, password string) (string, error)
	GenerateText(ctx context.Context, token, prompt string) (string, error)
}

// StreamingAPI is implemented by backends that can stream generated text.
type StreamingAPI interface {
	API
	GenerateTextStream(ctx context.Context, token, prompt string, onChunk func(string) error) (string, error)
}
