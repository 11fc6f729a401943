// Package fetch retrieves one HIBP range shard over HTTP with retry,
// exponential backoff, and conditional-GET support, then parses the
// response into hash entries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/zeebo/errs"

	"ipwned/config"
)

// Error is the error class for this package.
var Error = errs.Class("fetch")

// ErrShardFatal marks a shard as terminally failed: a non-429 4xx response,
// or a retryable error (429/5xx/transport) that exhausted max_retries.
// The pipeline records it and continues with other shards.
var ErrShardFatal = errors.New("fetch: shard fatal")

// Result is the outcome of fetching one shard.
type Result struct {
	ID        uint32
	Hashes    [][config.HashSize]byte
	Skipped   int
	ETag      string    // new ETag from a 200 response; empty if none sent
	Unchanged bool      // true on 304: no entries, prior ETag preserved
	Bytes     int       // response body size, for reporting
}

// Client wraps a retryablehttp.Client configured per spec: up to MaxRetries
// retries with exponential backoff and jitter (so concurrently retried
// shards desynchronize instead of retrying in lockstep), proxy environment
// variables honored via the stdlib transport.
type Client struct {
	http     *retryablehttp.Client
	baseURL  string
}

// NewClient builds a fetch client. baseURL must end in a path separator
// (e.g. "https://api.pwnedpasswords.com/range/"); shard prefixes are
// appended directly to it.
func NewClient(baseURL string, maxRetries int, timeout time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = config.HTTPRetryWaitMin
	rc.RetryWaitMax = config.HTTPRetryWaitMax
	// DefaultBackoff doubles the wait each attempt (min, 2*min, 4*min, ...
	// capped at max); up to half of that again is added as random jitter,
	// still capped at max.
	rc.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		d := retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
		if d < max {
			d += time.Duration(rand.Int63n(int64(d/2) + 1))
			if d > max {
				d = max
			}
		}
		return d
	}
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout
	if t, ok := rc.HTTPClient.Transport.(*http.Transport); ok {
		t.MaxIdleConnsPerHost = 100
	}

	return &Client{http: rc, baseURL: baseURL}
}

// Fetch performs one conditional GET for shard id. etag, if non-empty, is
// sent as If-None-Match.
func (c *Client) Fetch(ctx context.Context, id uint32, etag string) (Result, error) {
	url := c.baseURL + hexPrefix(id)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, Error.Wrap(err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrShardFatal, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return Result{ID: id, Unchanged: true, ETag: etag}, nil

	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Result{}, fmt.Errorf("%w: reading body: %v", ErrShardFatal, err)
		}
		hashes, skipped, err := ParseShard(id, body)
		if err != nil {
			return Result{}, fmt.Errorf("%w: parsing body: %v", ErrShardFatal, err)
		}
		return Result{
			ID:      id,
			Hashes:  hashes,
			Skipped: skipped,
			ETag:    resp.Header.Get("ETag"),
			Bytes:   len(body),
		}, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("%w: status %d (retries exhausted)", ErrShardFatal, resp.StatusCode)

	default:
		return Result{}, fmt.Errorf("%w: status %d", ErrShardFatal, resp.StatusCode)
	}
}
