package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countingClient records how many calls reach it and can be told to fail.
type countingClient struct {
	calls int
	errs  int // fail the first errs calls
}

func (c *countingClient) Name() string { return "counting" }
func (c *countingClient) Close() error { return nil }
func (c *countingClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	c.calls++
	if c.calls <= c.errs {
		return nil, errors.New("boom")
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func TestRateLimitSpacing(t *testing.T) {
	inner := &countingClient{}
	cli := Wrap(inner, RateLimit(2, 1))
	t.Cleanup(func() { _ = cli.Close() })

	ctx := context.Background()
	start := time.Now()
	_, err := cli.GenerateJSON(ctx, "p", nil)
	require.NoError(t, err)
	_, err = cli.GenerateJSON(ctx, "p", nil)
	require.NoError(t, err)
	elapsed := time.Since(start)

	// rps=2, burst=1: the second call should wait ~500ms for a refill.
	require.GreaterOrEqual(t, elapsed, 450*time.Millisecond)
	require.Equal(t, 2, inner.calls)
}

func TestRateLimitCanceledContext(t *testing.T) {
	inner := &countingClient{}
	cli := Wrap(inner, RateLimit(0.001, 1))
	t.Cleanup(func() { _ = cli.Close() })

	ctx := context.Background()
	_, err := cli.GenerateJSON(ctx, "p", nil) // drains the burst token
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = cli.GenerateJSON(ctx, "p", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, inner.calls)
}

func TestRetryRecoversAfterTransientErrors(t *testing.T) {
	inner := &countingClient{errs: 2}
	cli := Wrap(inner, Retry(3, time.Millisecond))
	raw, err := cli.GenerateJSON(context.Background(), "p", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(raw))
	require.Equal(t, 3, inner.calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	perm := &permClient{}
	cli := Wrap(perm, Retry(3, time.Millisecond))
	_, err := cli.GenerateJSON(context.Background(), "p", nil)
	var pErr *PermanentError
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, 1, perm.calls)
}

type permClient struct{ calls int }

func (c *permClient) Name() string { return "perm" }
func (c *permClient) Close() error { return nil }
func (c *permClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	c.calls++
	return nil, &PermanentError{Reason: "bad key"}
}

func TestCacheHitSkipsInnerClient(t *testing.T) {
	inner := &countingClient{}
	cli := Wrap(inner, Cache(8))

	ctx := context.Background()
	_, err := cli.GenerateJSON(ctx, "same prompt", map[string]any{"q": 1})
	require.NoError(t, err)
	_, err = cli.GenerateJSON(ctx, "same prompt", map[string]any{"q": 1})
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls, "second call should be served from cache")

	_, err = cli.GenerateJSON(ctx, "same prompt", map[string]any{"q": 2})
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls, "different input must not share a cache entry")
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	inner := &countingClient{errs: 1}
	cli := Wrap(inner, Cache(8))

	ctx := context.Background()
	_, err := cli.GenerateJSON(ctx, "p", nil)
	require.Error(t, err)
	_, err = cli.GenerateJSON(ctx, "p", nil)
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	inner := &countingClient{errs: 100}
	cli := Wrap(inner, Breaker(3, time.Hour))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := cli.GenerateJSON(ctx, "p", nil)
		require.Error(t, err)
	}
	_, err := cli.GenerateJSON(ctx, "p", nil)
	var open *BreakerOpenError
	require.ErrorAs(t, err, &open)
	require.Equal(t, 3, inner.calls, "open circuit must not reach the oracle")
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	inner := &countingClient{errs: 3}
	cli := Wrap(inner, Breaker(3, 20*time.Millisecond))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = cli.GenerateJSON(ctx, "p", nil)
	}
	_, err := cli.GenerateJSON(ctx, "p", nil)
	var open *BreakerOpenError
	require.ErrorAs(t, err, &open)

	time.Sleep(30 * time.Millisecond)
	_, err = cli.GenerateJSON(ctx, "p", nil) // half-open probe succeeds
	require.NoError(t, err)
	_, err = cli.GenerateJSON(ctx, "p", nil) // circuit closed again
	require.NoError(t, err)
}

func TestRetryDoesNotHammerOpenBreaker(t *testing.T) {
	inner := &countingClient{errs: 100}
	cli := Wrap(inner, Retry(5, time.Millisecond), Breaker(1, time.Hour))

	ctx := context.Background()
	_, err := cli.GenerateJSON(ctx, "p", nil)
	require.Error(t, err)
	calls := inner.calls

	_, err = cli.GenerateJSON(ctx, "p", nil)
	var open *BreakerOpenError
	require.ErrorAs(t, err, &open)
	require.Equal(t, calls, inner.calls, "retry must give up once the circuit is open")
}

func TestFakeScriptedByPhase(t *testing.T) {
	fake := NewFake(map[string][]Response{
		"grade": {JSON(map[string]any{"status": "fail"}), JSON(map[string]any{"status": "pass"})},
	})

	ctx := WithPhase(context.Background(), "grade")
	raw, err := fake.GenerateJSON(ctx, "p", nil)
	require.NoError(t, err)
	require.Contains(t, string(raw), "fail")

	raw, err = fake.GenerateJSON(ctx, "p", nil)
	require.NoError(t, err)
	require.Contains(t, string(raw), "pass")

	// Drained queues replay the last entry.
	raw, err = fake.GenerateJSON(ctx, "p", nil)
	require.NoError(t, err)
	require.Contains(t, string(raw), "pass")
	require.Equal(t, 3, fake.CallCount("grade"))
}
