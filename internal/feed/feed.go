// Package feed pulls current player metrics from the live stats endpoint.
// The governed store lags during game windows; this client is the fresh
// side of cross-validation. A nil *Client means single-source mode and is
// always a valid configuration.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jellydator/ttlcache/v3"
)

// Snapshot is one entity's live metric values keyed by metric name.
// Values are whatever the endpoint reports: numbers, strings, booleans.
type Snapshot struct {
	EntityID  string         `json:"entity_id"`
	Fields    map[string]any `json:"fields"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// FetchError distinguishes feed unavailability from bad requests so the
// caller can degrade to single-source instead of failing the run.
type FetchError struct {
	EntityID string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("feed: fetch %s: status %d", e.EntityID, e.Status)
	}
	return fmt.Sprintf("feed: fetch %s: %v", e.EntityID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client talks to the live feed over HTTP. Responses are cached briefly so
// repeated lookups within one run, or across quick follow-up questions, do
// not hammer the endpoint.
type Client struct {
	base    string
	http    *http.Client
	cache   *ttlcache.Cache[string, *Snapshot]
	retries uint64
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithRetries(n uint64) Option          { return func(c *Client) { c.retries = n } }
func WithLogger(l *slog.Logger) Option     { return func(c *Client) { c.logger = l } }

func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = ttlcache.New[string, *Snapshot](
			ttlcache.WithTTL[string, *Snapshot](ttl),
		)
	}
}

// New returns a feed client for the given base URL.
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		retries: 3,
	}
	for _, o := range opts {
		o(c)
	}
	if c.cache == nil {
		c.cache = ttlcache.New[string, *Snapshot](
			ttlcache.WithTTL[string, *Snapshot](30 * time.Second),
		)
	}
	go c.cache.Start()
	return c
}

// Close stops the cache janitor.
func (c *Client) Close() {
	if c != nil && c.cache != nil {
		c.cache.Stop()
	}
}

// Fetch returns the current snapshot for an entity, limited to the named
// metrics (all fields when metrics is empty). Transient failures are
// retried with exponential backoff; a non-retryable status or exhausted
// retries surface as *FetchError.
func (c *Client) Fetch(ctx context.Context, entityID string, metrics []string) (*Snapshot, error) {
	key := cacheKey(entityID, metrics)
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	var snap *Snapshot
	op := func() error {
		s, err := c.fetchOnce(ctx, entityID, metrics)
		if err != nil {
			var fe *FetchError
			// Client errors will not heal on retry.
			if errors.As(err, &fe) && fe.Status >= 400 && fe.Status < 500 {
				return backoff.Permanent(err)
			}
			if c.logger != nil {
				c.logger.Warn("feed fetch failed, retrying", "entity", entityID, "err", err)
			}
			return err
		}
		snap = s
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	c.cache.Set(key, snap, ttlcache.DefaultTTL)
	return snap, nil
}

func (c *Client) fetchOnce(ctx context.Context, entityID string, metrics []string) (*Snapshot, error) {
	u := fmt.Sprintf("%s/v1/entities/%s/stats", c.base, url.PathEscape(entityID))
	if len(metrics) > 0 {
		u += "?metrics=" + url.QueryEscape(strings.Join(metrics, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{EntityID: entityID, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{EntityID: entityID, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<12))
		return nil, &FetchError{EntityID: entityID, Status: resp.StatusCode}
	}
	var fields map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return nil, &FetchError{EntityID: entityID, Err: fmt.Errorf("decode: %w", err)}
	}
	return &Snapshot{EntityID: entityID, Fields: fields, FetchedAt: time.Now()}, nil
}

func cacheKey(entityID string, metrics []string) string {
	if len(metrics) == 0 {
		return entityID
	}
	sorted := append([]string(nil), metrics...)
	sort.Strings(sorted)
	return entityID + "?" + strings.Join(sorted, ",")
}
