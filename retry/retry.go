// Package retry wraps provider calls with bounded exponential backoff.
//
// The Controller is the single retry point for provider traffic: the gateway
// never retries internally, and callers wrap gateway calls with Do or
// DoWithResult. Delay and CalculateDelay are exposed so other loops (the
// tool orchestrator) can reuse the same timing policy.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	apperrors "rhythm/errors"
	"rhythm/logging"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1000 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultJitter      = 100 * time.Millisecond

	// MaxRetryAfter caps any server-requested wait.
	MaxRetryAfter = time.Hour

	// RateLimitFallback is used when an error mentions rate limiting but
	// carries no Retry-After header.
	RateLimitFallback = 60 * time.Second
)

// now is swapped in tests that parse HTTP-date headers.
var now = time.Now

// Controller holds the retry policy.
type Controller struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration

	// RetryIf overrides IsRetryable when set.
	RetryIf func(error) bool

	Logger *logging.Logger

	// jitterFn returns a value in [0, 1); nil uses math/rand.
	jitterFn func() float64
}

// Default returns the standard provider retry policy.
func Default() *Controller {
	return &Controller{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      DefaultJitter,
	}
}

func (c *Controller) attempts() int {
	if c == nil || c.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

func (c *Controller) retryable(err error) bool {
	if c != nil && c.RetryIf != nil {
		return c.RetryIf(err)
	}
	return IsRetryable(err)
}

// CalculateDelay returns the wait before retry number attempt (0-based):
// min(BaseDelay·2^attempt, MaxDelay) plus uniform jitter in [0, Jitter].
func (c *Controller) CalculateDelay(attempt int) time.Duration {
	base, maxDelay, jitter := DefaultBaseDelay, DefaultMaxDelay, DefaultJitter
	if c != nil {
		base, maxDelay, jitter = c.BaseDelay, c.MaxDelay, c.Jitter
	}
	if attempt < 0 {
		attempt = 0
	}

	var d time.Duration
	if base > 0 {
		d = maxDelay
		// Shifting past 62 bits overflows; anything that large is capped anyway.
		if attempt < 62 {
			exp := base << uint(attempt)
			if exp > 0 && exp < maxDelay && exp/base == time.Duration(1)<<uint(attempt) {
				d = exp
			}
		}
	}

	if jitter > 0 {
		r := rand.Float64
		if c != nil && c.jitterFn != nil {
			r = c.jitterFn
		}
		d += time.Duration(r() * float64(jitter+1))
	}
	return d
}

// Delay waits for d or until ctx is done, whichever comes first.
func Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// HeaderCarrier is implemented by transport errors that expose the response
// headers of the failed request.
type HeaderCarrier interface {
	ResponseHeader() http.Header
}

// StatusCarrier is implemented by transport errors that expose an HTTP status.
type StatusCarrier interface {
	HTTPStatus() int
}

// ParseRetryAfter parses a Retry-After header value as integer seconds or an
// HTTP-date relative to at. The result is capped at MaxRetryAfter and is
// never negative.
func ParseRetryAfter(value string, at time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return 0, true
		}
		if secs > int64(MaxRetryAfter/time.Second) {
			return MaxRetryAfter, true
		}
		return time.Duration(secs) * time.Second, true
	}

	if ts, err := http.ParseTime(value); err == nil {
		d := ts.Sub(at)
		if d < 0 {
			d = 0
		}
		if d > MaxRetryAfter {
			d = MaxRetryAfter
		}
		return d, true
	}

	return 0, false
}

// ExtractRetryAfter derives the server-requested wait from err. It looks for a
// Retry-After header first, then a delay recorded on an AppError, then falls
// back to RateLimitFallback for messages that mention rate limiting.
func ExtractRetryAfter(err error) time.Duration {
	if err == nil {
		return 0
	}

	var hc HeaderCarrier
	if errors.As(err, &hc) {
		if h := hc.ResponseHeader(); h != nil {
			if d, ok := ParseRetryAfter(h.Get("Retry-After"), now()); ok {
				return d
			}
		}
	}

	if d := apperrors.GetRetryAfter(err); d > 0 {
		return min(d, MaxRetryAfter)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return RateLimitFallback
	}

	return 0
}

func statusOf(err error) int {
	if code := apperrors.GetStatusCode(err); code != 0 {
		return code
	}
	var sc StatusCarrier
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}

// IsRetryable classifies err. Timeouts, 429, 500/502/503/504, connection
// failures and malformed responses are retryable. Caller cancellation,
// validation failures and other 4xx responses are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	switch apperrors.KindOf(err) {
	case apperrors.KindCancelled, apperrors.KindValidation, apperrors.KindAuth, apperrors.KindPremiumRequired:
		return false
	case apperrors.KindTimeout, apperrors.KindRateLimit, apperrors.KindConnection, apperrors.KindMalformed:
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	switch status := statusOf(err); {
	case status == http.StatusTooManyRequests:
		return true
	case status == http.StatusInternalServerError, status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return true
	case status >= 400 && status < 500:
		return false
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "validation") {
		return false
	}
	for _, signal := range []string{"econnrefused", "etimedout", "network", "timeout", "rate limit", "429"} {
		if strings.Contains(msg, signal) {
			return true
		}
	}

	return false
}

func cancelled(err error) error {
	return apperrors.NewBuilder(apperrors.KindCancelled, apperrors.CodeCancelled, "operation cancelled").
		Wrap(err).
		Recoverable(false).
		Build()
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// budget is exhausted. A done ctx stops the loop immediately with a
// cancelled error.
func (c *Controller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, c *Controller, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	log := logging.Nop()
	if c != nil && c.Logger != nil {
		log = c.Logger
	}

	maxAttempts := c.attempts()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, cancelled(err)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, cancelled(ctxErr)
		}
		if !c.retryable(err) {
			return zero, err
		}
		if attempt == maxAttempts-1 {
			break
		}

		wait := c.CalculateDelay(attempt)
		if ra := ExtractRetryAfter(err); ra > wait {
			wait = ra
		}

		log.Debugw("retrying after error", "attempt", attempt+1, "max_attempts", maxAttempts, "wait", wait, "error", err)

		if err := Delay(ctx, wait); err != nil {
			return zero, cancelled(err)
		}
	}

	return zero, lastErr
}
