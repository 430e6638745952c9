package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "rhythm/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type statusErr struct {
	code   int
	header http.Header
}

func (e *statusErr) Error() string               { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatus() int             { return e.code }
func (e *statusErr) ResponseHeader() http.Header { return e.header }

func TestCalculateDelayBounds(t *testing.T) {
	c := Default()

	for attempt := 0; attempt < 8; attempt++ {
		base := DefaultBaseDelay << uint(attempt)
		if base > DefaultMaxDelay {
			base = DefaultMaxDelay
		}
		for i := 0; i < 50; i++ {
			d := c.CalculateDelay(attempt)
			assert.GreaterOrEqual(t, d, base, "attempt %d", attempt)
			assert.LessOrEqual(t, d, base+DefaultJitter, "attempt %d", attempt)
		}
	}
}

func TestCalculateDelayDeterministicJitter(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		jitter  float64
		want    time.Duration
	}{
		{"first retry no jitter", 0, 0, time.Second},
		{"second retry", 1, 0, 2 * time.Second},
		{"third retry", 2, 0, 4 * time.Second},
		{"capped", 4, 0, 10 * time.Second},
		{"huge attempt stays capped", 500, 0, 10 * time.Second},
		{"negative attempt treated as first", -3, 0, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.jitterFn = func() float64 { return tt.jitter }
			assert.Equal(t, tt.want, c.CalculateDelay(tt.attempt))
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		value  string
		want   time.Duration
		wantOK bool
	}{
		{"integer seconds", "5", 5000 * time.Millisecond, true},
		{"zero", "0", 0, true},
		{"capped seconds", "999999", time.Hour, true},
		{"http date future", at.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second, true},
		{"http date past", at.Add(-time.Minute).Format(http.TimeFormat), 0, true},
		{"http date far future", at.Add(48 * time.Hour).Format(http.TimeFormat), time.Hour, true},
		{"empty", "", 0, false},
		{"garbage", "soon", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRetryAfter(tt.value, at)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractRetryAfter(t *testing.T) {
	t.Run("header seconds", func(t *testing.T) {
		err := &statusErr{code: 429, header: http.Header{"Retry-After": []string{"7"}}}
		assert.Equal(t, 7*time.Second, ExtractRetryAfter(err))
	})

	t.Run("header date", func(t *testing.T) {
		fixed := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		now = func() time.Time { return fixed }
		defer func() { now = time.Now }()

		err := &statusErr{code: 503, header: http.Header{"Retry-After": []string{fixed.Add(2 * time.Minute).Format(http.TimeFormat)}}}
		assert.Equal(t, 2*time.Minute, ExtractRetryAfter(err))
	})

	t.Run("app error delay", func(t *testing.T) {
		err := apperrors.NewBuilder(apperrors.KindRateLimit, apperrors.CodeProviderRateLimit, "slow").WithRetryAfter(3 * time.Second).Build()
		assert.Equal(t, 3*time.Second, ExtractRetryAfter(err))
	})

	t.Run("rate limit message without header", func(t *testing.T) {
		assert.Equal(t, RateLimitFallback, ExtractRetryAfter(errors.New("HTTP 429 Too Many Requests")))
		assert.Equal(t, RateLimitFallback, ExtractRetryAfter(errors.New("Rate limit exceeded")))
	})

	t.Run("nothing", func(t *testing.T) {
		assert.Zero(t, ExtractRetryAfter(errors.New("boom")))
		assert.Zero(t, ExtractRetryAfter(nil))
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"caller cancel", context.Canceled, false},
		{"wrapped cancel", fmt.Errorf("call: %w", context.Canceled), false},
		{"429", &statusErr{code: 429}, true},
		{"500", &statusErr{code: 500}, true},
		{"502", &statusErr{code: 502}, true},
		{"503", &statusErr{code: 503}, true},
		{"504", &statusErr{code: 504}, true},
		{"400", &statusErr{code: 400}, false},
		{"401", &statusErr{code: 401}, false},
		{"404", &statusErr{code: 404}, false},
		{"econnrefused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"etimedout", fmt.Errorf("dial: %w", syscall.ETIMEDOUT), true},
		{"network message", errors.New("network unreachable"), true},
		{"validation message", errors.New("validation failed: limit"), false},
		{"malformed kind", apperrors.New(apperrors.KindMalformed, apperrors.CodeProviderMalformed, "no choices"), true},
		{"validation kind", apperrors.New(apperrors.KindValidation, apperrors.CodeValidationFailed, "bad"), false},
		{"auth kind", apperrors.New(apperrors.KindAuth, apperrors.CodeProviderAuth, "bad key"), false},
		{"app error with 503", apperrors.NewBuilder(apperrors.KindUnknown, "", "upstream").WithStatus(503).Build(), true},
		{"plain error", errors.New("something odd"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func fastController() *Controller {
	return &Controller{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDoWithResultRecovers(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastController(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &statusErr{code: 503}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDoWithResultStopsOnTerminal(t *testing.T) {
	calls := 0
	_, err := DoWithResult(context.Background(), fastController(), func(ctx context.Context) (int, error) {
		calls++
		return 0, &statusErr{code: 400}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastController().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &statusErr{code: 500}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 500, err.(*statusErr).code)
}

func TestDoCancellationStopsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- c.Do(ctx, func(ctx context.Context) error {
			calls++
			return &statusErr{code: 503}
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, apperrors.KindCancelled, apperrors.KindOf(err))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not stop after cancellation")
	}
}

func TestDoPreCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Default().Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})

	require.Error(t, err)
	assert.Zero(t, calls)
}

func TestDelay(t *testing.T) {
	require.NoError(t, Delay(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Delay(ctx, time.Hour), context.Canceled)
}
