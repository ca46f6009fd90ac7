// Package provider is the narrow contract to the external language-model
// service, plus the shipped adapters. The core never retries a call: a
// stale prompt no longer reflects room state, so a fresh trigger is the
// only retry mechanism.
package provider

import (
	"context"
	"errors"
)

var (
	// ErrEmptyReply is returned when the provider answered but the reply
	// carries no usable text.
	ErrEmptyReply = errors.New("provider: empty reply")
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the structured turn sequence handed to the model. System
// holds the persona plus assembled room context.
type Request struct {
	System      string
	Turns       []Turn
	MaxTokens   int
	Temperature float64
}

type Response struct {
	Content string
	Model   string
}

// CompletionProvider is implemented by every model adapter. Complete
// must honor ctx cancellation; the caller wraps it in a bounded timeout.
type CompletionProvider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
