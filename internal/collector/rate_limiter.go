package collector

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// defaultLimit is the authenticated GitHub API quota per hour.
	defaultLimit = 5000
	// minRemaining is the reserve kept before waiting for the window to reset.
	minRemaining = 10

	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"
)

// RateLimiter manages GitHub API rate limiting
type RateLimiter interface {
	Wait(ctx context.Context) error
	CheckLimit() (remaining int, resetTime time.Time, err error)
	UpdateLimit(remaining int, resetTime time.Time)
	UpdateFromResponse(resp *http.Response)
}

// githubRateLimiter implements RateLimiter for GitHub API
type githubRateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetTime time.Time
	bucket    *rate.Limiter
	log       *zap.Logger
}

// NewRateLimiter creates a new rate limiter.
// requestsPerSecond <= 0 disables proactive throttling; the reactive
// quota check from response headers always applies.
func NewRateLimiter(requestsPerSecond float64, log *zap.Logger) RateLimiter {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &githubRateLimiter{
		remaining: defaultLimit,
		resetTime: time.Now().Add(time.Hour),
		bucket:    rate.NewLimiter(limit, 1),
		log:       log,
	}
}

// Wait waits until it's safe to make another API call
func (r *githubRateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	remaining := r.remaining
	resetTime := r.resetTime
	r.mu.Unlock()

	if remaining > minRemaining {
		return nil
	}

	waitDuration := time.Until(resetTime)
	if waitDuration > 0 {
		r.log.Warn("rate limit low, waiting for reset",
			zap.Int("remaining", remaining),
			zap.Duration("wait", waitDuration.Round(time.Second)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitDuration):
		}
	}

	r.mu.Lock()
	if !r.resetTime.After(resetTime) {
		r.remaining = defaultLimit
		r.resetTime = time.Now().Add(time.Hour)
	}
	r.mu.Unlock()
	return nil
}

// CheckLimit returns the current rate limit status
func (r *githubRateLimiter) CheckLimit() (remaining int, resetTime time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining, r.resetTime, nil
}

// UpdateLimit updates the rate limit from API response headers
func (r *githubRateLimiter) UpdateLimit(remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.resetTime = resetTime
}

// UpdateFromResponse reads X-RateLimit-Remaining and X-RateLimit-Reset.
// Responses without both headers (e.g. asset downloads from a CDN) are ignored.
func (r *githubRateLimiter) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}
	remaining, err := strconv.Atoi(resp.Header.Get(headerRateRemaining))
	if err != nil {
		return
	}
	reset, err := strconv.ParseInt(resp.Header.Get(headerRateReset), 10, 64)
	if err != nil {
		return
	}
	r.UpdateLimit(remaining, time.Unix(reset, 0))
}
