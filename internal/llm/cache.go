package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache memoizes successful responses in a bounded LRU keyed by a hash of
// prompt + input. Identical prompts within a process reuse the cached body
// instead of spending oracle quota. Errors are never cached.
func Cache(size int) Middleware {
	if size <= 0 {
		size = 256
	}
	return func(next Client) Client {
		c, err := lru.New[string, json.RawMessage](size)
		if err != nil {
			// lru.New only fails on size <= 0, which is guarded above.
			return next
		}
		return &cached{next: next, c: c}
	}
}

type cached struct {
	next Client
	c    *lru.Cache[string, json.RawMessage]
}

func (c *cached) Name() string { return c.next.Name() }
func (c *cached) Close() error { return c.next.Close() }

func (c *cached) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	key := cacheKey(prompt, input)
	if raw, ok := c.c.Get(key); ok {
		return raw, nil
	}
	raw, err := c.next.GenerateJSON(ctx, prompt, input)
	if err != nil {
		return nil, err
	}
	c.c.Add(key, raw)
	return raw, nil
}

func cacheKey(prompt string, input any) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	if input != nil {
		b, _ := json.Marshal(input)
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}
