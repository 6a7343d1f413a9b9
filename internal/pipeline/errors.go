package pipeline

import "fmt"

// ErrorKind classifies terminal run failures.
type ErrorKind string

const (
	// KindUnanswerable: no relevant tables or an unusable question.
	// Surfaced immediately, never retried.
	KindUnanswerable ErrorKind = "unanswerable"
	// KindGenerationInvalid: the generator exhausted its budget without a
	// query that passed validation.
	KindGenerationInvalid ErrorKind = "generation_invalid"
	// KindExecutionFailed: the store rejected or failed every validated
	// query within the shared budget.
	KindExecutionFailed ErrorKind = "execution_failed"
	// KindTimeout: the run deadline or a query timeout ended the run.
	KindTimeout ErrorKind = "timeout"
	// KindOracle: the oracle itself was unavailable (breaker open,
	// permanent API error).
	KindOracle ErrorKind = "oracle_unavailable"
)

// RunError is the terminal failure of one Answer call.
type RunError struct {
	Kind ErrorKind
	Err  error
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pipeline: %s", e.Kind)
	}
	return fmt.Sprintf("pipeline: %s: %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

func runErr(kind ErrorKind, err error) *RunError {
	return &RunError{Kind: kind, Err: err}
}
