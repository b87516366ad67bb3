// Package ai answers chat turns about a connected database. It grounds a
// language model on the connection's schema, auto-executes the read-only SQL
// the model writes, and falls back to a rule-based responder when no model
// is configured or the model keeps rate limiting.
package ai

import (
	"context"

	"github.com/programmerrush/InsightDB-api/internal/errs"
)

// Message is one turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Client is a chat completion backend. Implementations must report
// throttling as an errs.ErrKindRateLimited error.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Unconfigured is the Client used when no model API key is set. The
// orchestrator recognises it and answers from the fallback responder only.
type Unconfigured struct{}

func (Unconfigured) Complete(context.Context, Request) (string, error) {
	return "", errs.New(errs.ErrKindUnsupported, "no language model is configured")
}

func configured(c Client) bool {
	switch c.(type) {
	case nil, Unconfigured, *Unconfigured:
		return false
	default:
		return true
	}
}
