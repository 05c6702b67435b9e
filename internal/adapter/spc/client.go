package spc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/couchcryptid/spc-outlook-service/internal/domain"
	"github.com/couchcryptid/spc-outlook-service/internal/observability"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	// maxBodyBytes caps a single layer download. Real SPC layers are well under 5 MiB.
	maxBodyBytes = 16 << 20

	defaultMaxAttempts  = 2
	defaultRetryBackoff = 250 * time.Millisecond
	maxRetryBackoff     = 2 * time.Second
	defaultCacheEntries = 64

	userAgent = "spc-outlook-service (+https://github.com/couchcryptid/spc-outlook-service)"
)

// Client fetches SPC outlook layers. It never returns an error: every outcome
// is mapped to a domain.FeedStatus on the returned FeedResult.
type Client struct {
	httpClient   *http.Client
	timeout      time.Duration
	maxAttempts  int
	retryBackoff time.Duration
	cache        *lruCache
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the number of attempts for transient failures and the
// initial backoff between them. attempts < 1 is treated as 1.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = max(attempts, 1)
		c.retryBackoff = backoff
	}
}

// WithoutCache disables conditional GET revalidation.
func WithoutCache() Option {
	return func(c *Client) { c.cache = nil }
}

// NewClient creates an SPC layer client with a per-request timeout. All
// requests share one pooled transport.
func NewClient(timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32

	c := &Client{
		httpClient:   &http.Client{Transport: transport},
		timeout:      timeout,
		maxAttempts:  defaultMaxAttempts,
		retryBackoff: defaultRetryBackoff,
		cache:        newLRUCache(defaultCacheEntries),
		metrics:      metrics,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the per-request timeout applied to each layer.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Fetch retrieves and parses one layer. Transient failures (transport errors
// and 5xx responses) are retried while the per-request deadline allows.
func (c *Client) Fetch(ctx context.Context, d domain.FeedDescriptor) domain.FeedResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	res := c.fetchWithRetry(ctx, d)
	hazard := d.Hazard.String()
	c.metrics.FeedFetchDuration.WithLabelValues(hazard).Observe(time.Since(start).Seconds())
	c.metrics.FeedFetches.WithLabelValues(hazard, res.Status.String()).Inc()

	if !res.OK() {
		c.logger.Warn("feed fetch failed",
			"feed", d.Key().String(),
			"url", d.URL,
			"status", res.Status.String(),
			"status_code", res.StatusCode,
			"error", res.Err,
		)
	}
	return res
}

func (c *Client) fetchWithRetry(ctx context.Context, d domain.FeedDescriptor) domain.FeedResult {
	backoff := c.retryBackoff
	var res domain.FeedResult
	for attempt := 1; ; attempt++ {
		var retryable bool
		res, retryable = c.fetchOnce(ctx, d)
		if !retryable || attempt >= c.maxAttempts {
			return res
		}
		c.logger.Debug("retrying feed", "feed", d.Key().String(), "attempt", attempt, "error", res.Err)
		if !retry.SleepWithContext(ctx, backoff) {
			return failed(d, domain.StatusTimeout, res.StatusCode, fmt.Errorf("retry aborted: %w", ctx.Err()))
		}
		backoff = retry.NextBackoff(backoff, maxRetryBackoff)
	}
}

// fetchOnce performs a single request. The bool reports whether the failure
// is worth retrying.
func (c *Client) fetchOnce(ctx context.Context, d domain.FeedDescriptor) (domain.FeedResult, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return failed(d, domain.StatusHTTPError, 0, fmt.Errorf("create request: %w", err)), false
	}
	req.Header.Set("Accept", "application/geo+json, application/json")
	req.Header.Set("User-Agent", userAgent)

	cached, haveCached := c.lookup(d.URL)
	if haveCached {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return failed(d, domain.StatusTimeout, 0, err), false
		}
		return failed(d, domain.StatusHTTPError, 0, err), true
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && haveCached {
		c.metrics.FeedCache.WithLabelValues("hit").Inc()
		return domain.FeedResult{Descriptor: d, Features: cached.features, Status: domain.StatusOK, StatusCode: resp.StatusCode}, false
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		err := fmt.Errorf("spc: unexpected status %d", resp.StatusCode)
		return failed(d, domain.StatusHTTPError, resp.StatusCode, err), resp.StatusCode >= 500
	}
	if haveCached {
		c.metrics.FeedCache.WithLabelValues("miss").Inc()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		if isTimeout(ctx, err) {
			return failed(d, domain.StatusTimeout, resp.StatusCode, fmt.Errorf("read body: %w", err)), false
		}
		return failed(d, domain.StatusHTTPError, resp.StatusCode, fmt.Errorf("read body: %w", err)), true
	}
	if len(body) > maxBodyBytes {
		return failed(d, domain.StatusInvalidBody, resp.StatusCode, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)), false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return failed(d, domain.StatusEmpty, resp.StatusCode, errors.New("empty body")), false
	}

	features, err := decodeLayer(body)
	if err != nil {
		return failed(d, domain.StatusInvalidBody, resp.StatusCode, err), false
	}

	c.remember(d.URL, validator{
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
		features:     features,
	})
	return domain.FeedResult{Descriptor: d, Features: features, Status: domain.StatusOK, StatusCode: resp.StatusCode}, false
}

func (c *Client) lookup(url string) (validator, bool) {
	if c.cache == nil {
		return validator{}, false
	}
	v, ok := c.cache.get(url)
	return v, ok && v.usable()
}

func (c *Client) remember(url string, v validator) {
	if c.cache == nil {
		return
	}
	if !v.usable() {
		c.cache.forget(url)
		return
	}
	c.cache.put(url, v)
}

func failed(d domain.FeedDescriptor, status domain.FeedStatus, code int, err error) domain.FeedResult {
	return domain.FeedResult{Descriptor: d, Status: status, StatusCode: code, Err: err}
}

func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// decodeLayer parses a GeoJSON FeatureCollection into domain features. Each
// feature is decoded on its own: one with malformed geometry keeps its
// properties and a nil Geometry, so the matcher skips it as an anomaly instead
// of the whole layer being rejected.
func decodeLayer(body []byte) ([]domain.Feature, error) {
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("decode layer: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("decode layer: type %q is not a FeatureCollection", fc.Type)
	}

	features := make([]domain.Feature, 0, len(fc.Features))
	for _, raw := range fc.Features {
		if isNull(raw) {
			continue
		}
		var geom orb.Geometry
		var props geojson.Properties
		if f, err := geojson.UnmarshalFeature(raw); err == nil {
			geom, props = f.Geometry, f.Properties
		} else {
			var partial struct {
				Properties geojson.Properties `json:"properties"`
			}
			if err := json.Unmarshal(raw, &partial); err != nil {
				return nil, fmt.Errorf("decode layer feature: %w", err)
			}
			props = partial.Properties
		}
		features = append(features, domain.Feature{
			Geometry: geom,
			Label:    propString(props, "LABEL2", domain.UnknownValue),
			Valid:    propString(props, "VALID", domain.UnknownValue),
			Issue:    propString(props, "ISSUE", domain.UnknownValue),
			Expire:   propString(props, "EXPIRE", domain.UnknownValue),
			Fill:     propString(props, "fill", domain.DefaultFill),
			Stroke:   propString(props, "stroke", domain.DefaultStroke),
		})
	}
	return features, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// propString returns a string property, or def when it is absent, empty, or not a string.
func propString(p geojson.Properties, key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}
