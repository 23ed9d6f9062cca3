// Package audit records security-relevant account events, such as user
// creation and login attempts, as an append-only JSON lines trail kept apart
// from the request log.
package audit

import (
	"time"

	"github.com/sofatutor/brian/internal/api"
)

// Event is one audited account operation.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	RequestID string         `json:"request_id,omitempty"`
	ClientIP  string         `json:"client_ip,omitempty"`
	Result    ResultType     `json:"result"`
	Details   map[string]any `json:"details,omitempty"`
}

// ResultType is the outcome of an audited operation.
type ResultType string

const (
	ResultSuccess ResultType = "success"
	ResultFailure ResultType = "failure"
)

const (
	ActionUserCreate  = "user.create"
	ActionUserLogin   = "user.login"
	ActionTokenReject = "token.reject"
	ActionRateLimited = "generate.rate_limited"
)

// ActorAnonymous is used when the caller has not proven an identity.
const ActorAnonymous = "anonymous"

// NewEvent creates an event stamped with the current UTC time.
func NewEvent(action, actor string, result ResultType) *Event {
	if actor == "" {
		actor = ActorAnonymous
	}
	return &Event{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Actor:     actor,
		Result:    result,
	}
}

func (e *Event) WithRequestID(requestID string) *Event {
	e.RequestID = requestID
	return e
}

func (e *Event) WithClientIP(clientIP string) *Event {
	e.ClientIP = clientIP
	return e
}

// WithDetail adds context to the event. Values must not carry secrets.
func (e *Event) WithDetail(key string, value any) *Event {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithToken records an obfuscated form of a credential.
func (e *Event) WithToken(token string) *Event {
	return e.WithDetail("token", api.ObfuscateKey(token))
}

// WithReason records why an operation failed.
func (e *Event) WithReason(reason string) *Event {
	return e.WithDetail("reason", reason)
}
