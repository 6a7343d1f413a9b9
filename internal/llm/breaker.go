package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// BreakerOpenError is returned without touching the oracle while the
// circuit is open.
type BreakerOpenError struct {
	RetryIn time.Duration
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("llm: circuit open, retry in %s", e.RetryIn.Round(time.Second))
}

// Breaker opens the circuit after threshold consecutive failures and
// rejects calls for the cooldown period. The first call after cooldown
// probes the oracle (half-open); success closes the circuit, failure
// re-opens it. One breaker is shared across all concurrent subqueries.
func Breaker(threshold int, cooldown time.Duration) Middleware {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return func(next Client) Client {
		return &breaking{next: next, threshold: threshold, cooldown: cooldown}
	}
}

type breaking struct {
	next      Client
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	probing  bool
}

func (b *breaking) Name() string { return b.next.Name() }
func (b *breaking) Close() error { return b.next.Close() }

func (b *breaking) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	if err := b.admit(); err != nil {
		return nil, err
	}
	raw, err := b.next.GenerateJSON(ctx, prompt, input)
	b.record(err == nil)
	return raw, err
}

func (b *breaking) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		elapsed := time.Since(b.openedAt)
		if elapsed < b.cooldown {
			return &BreakerOpenError{RetryIn: b.cooldown - elapsed}
		}
		b.state = breakerHalfOpen
		b.probing = true
		return nil
	case breakerHalfOpen:
		if b.probing {
			// A probe is already in flight; reject until it resolves.
			return &BreakerOpenError{RetryIn: time.Second}
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *breaking) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok {
		b.state = breakerClosed
		b.failures = 0
		b.probing = false
		return
	}
	b.failures++
	b.probing = false
	if b.state == breakerHalfOpen || b.failures >= b.threshold {
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}
