// Package llm wraps the text-generation oracle behind a narrow client
// interface plus composable middleware for rate limiting, caching,
// circuit breaking, and retries. Every reasoning step in the pipeline
// goes through a Client; nothing else talks to the oracle.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Client is the single call surface for the oracle. GenerateJSON sends a
// prompt plus a JSON-serialized input payload and returns the raw JSON the
// model produced. Callers unmarshal into their own response shapes; a body
// that does not unmarshal is the caller's validation failure, not a crash.
type Client interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
	Close() error
}

var ErrInvalidJSON = errors.New("llm: invalid JSON from model")

// PermanentError marks failures that retrying cannot fix (bad API key,
// malformed request). Retry middleware gives up immediately on these.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm: permanent: %s: %v", e.Reason, e.Err)
	}
	return "llm: permanent: " + e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Err }

type ctxKeyPhase struct{}

// WithPhase tags the context with the pipeline phase issuing the call
// (rewrite, select_tables, plan, generate_sql, draft, grade). Used for
// logging and by the scripted fake client in tests.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, ctxKeyPhase{}, phase)
}

// PhaseFrom returns the phase stored in the context.
func PhaseFrom(ctx context.Context) string {
	if v := ctx.Value(ctxKeyPhase{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "unknown"
}
