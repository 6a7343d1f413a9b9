package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// Response is one scripted oracle reply.
type Response struct {
	Raw json.RawMessage
	Err error
}

// JSON marshals v into a scripted Response.
func JSON(v any) Response {
	b, _ := json.Marshal(v)
	return Response{Raw: b}
}

// Text wraps a raw string (not necessarily valid JSON) into a Response,
// for driving malformed-response paths.
func Text(s string) Response { return Response{Raw: json.RawMessage(s)} }

// Fail wraps an error into a Response.
func Fail(err error) Response { return Response{Err: err} }

// Fake is a deterministic scripted oracle for tests. Replies are keyed by
// the pipeline phase on the context; each call pops the next queued
// Response for its phase, and a drained queue keeps replaying its last
// entry so loops can run past the scripted horizon.
type Fake struct {
	mu     sync.Mutex
	script map[string][]Response
	idx    map[string]int
	calls  []FakeCall
}

// FakeCall records one observed oracle invocation.
type FakeCall struct {
	Phase  string
	Prompt string
}

func NewFake(script map[string][]Response) *Fake {
	return &Fake{script: script, idx: make(map[string]int)}
}

func (f *Fake) Name() string { return "fake" }
func (f *Fake) Close() error { return nil }

// Calls returns the invocations observed so far.
func (f *Fake) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many calls were made for the given phase.
func (f *Fake) CallCount(phase string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Phase == phase {
			n++
		}
	}
	return n
}

func (f *Fake) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	phase := PhaseFrom(ctx)
	f.mu.Lock()
	f.calls = append(f.calls, FakeCall{Phase: phase, Prompt: prompt})
	queue, ok := f.script[phase]
	if !ok || len(queue) == 0 {
		f.mu.Unlock()
		return json.RawMessage(`{}`), nil
	}
	i := f.idx[phase]
	if i >= len(queue) {
		i = len(queue) - 1
	} else {
		f.idx[phase] = i + 1
	}
	resp := queue[i]
	f.mu.Unlock()
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Raw, nil
}
