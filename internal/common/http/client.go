// internal/common/http/client.go
package http

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Client is a thin net/http wrapper with an optional client-side rate limit.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewRateLimitedClient allows perSecond requests with a burst of one.
// A non-positive perSecond disables limiting.
func NewRateLimitedClient(timeout time.Duration, perSecond float64) *Client {
	c := NewClient(timeout)
	if perSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return c
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req = req.WithContext(ctx)
	return c.httpClient.Do(req)
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func RetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Backoff returns base*2^(attempt-1) with up to 20% jitter, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(1<<(attempt-1))
	if max > 0 && d > max {
		d = max
	}
	if d > 0 {
		d += time.Duration(rand.Int63n(int64(d)/5 + 1))
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
