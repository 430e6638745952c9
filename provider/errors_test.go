package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "rhythm/errors"
)

func TestNormalizeError(t *testing.T) {
	syntaxErr := &json.SyntaxError{Offset: 1}

	tests := []struct {
		name     string
		err      error
		provider string
		want     apperrors.Kind
	}{
		{"cancelled", fmt.Errorf("post: %w", context.Canceled), OpenRouter, apperrors.KindCancelled},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), OpenRouter, apperrors.KindTimeout},
		{"401", &statusError{code: 401}, OpenRouter, apperrors.KindAuth},
		{"403", &statusError{code: 403}, Gemini, apperrors.KindAuth},
		{"429", &statusError{code: 429}, OpenRouter, apperrors.KindRateLimit},
		{"408", &statusError{code: 408}, OpenRouter, apperrors.KindTimeout},
		{"500", &statusError{code: 500}, OpenRouter, apperrors.KindUnknown},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), Ollama, apperrors.KindConnection},
		{"syntax", fmt.Errorf("decode: %w", syntaxErr), OpenRouter, apperrors.KindMalformed},
		{"message says unauthorized", errors.New("Unauthorized: invalid api key"), OpenRouter, apperrors.KindAuth},
		{"message says rate limit", errors.New("rate limit exceeded"), OpenRouter, apperrors.KindRateLimit},
		{"opaque", errors.New("something odd"), OpenRouter, apperrors.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.err, tt.provider)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, tt.provider, got.Provider)
			assert.ErrorIs(t, got, tt.err)
			if tt.want != apperrors.KindCancelled {
				assert.NotEmpty(t, got.Suggestions)
			}
		})
	}
}

func TestNormalizeErrorNil(t *testing.T) {
	assert.Nil(t, NormalizeError(nil, OpenRouter))
}

func TestNormalizeErrorRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "12")

	got := NormalizeError(&statusError{code: 429, header: h}, OpenRouter)
	assert.Equal(t, apperrors.KindRateLimit, got.Kind)
	assert.Equal(t, 12*time.Second, got.RetryAfter)
	assert.Equal(t, 429, got.StatusCode)
}

func TestNormalizeErrorUnknownNotRecoverable(t *testing.T) {
	got := NormalizeError(errors.New("boom"), OpenRouter)
	assert.False(t, got.Recoverable)
}

func TestNormalizeErrorLocalSuggestion(t *testing.T) {
	got := NormalizeError(errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), Ollama)
	assert.Equal(t, apperrors.KindConnection, got.Kind)
	assert.Equal(t, "Make sure Ollama is running", got.Suggestion())

	got = NormalizeError(errors.New("dial tcp: lookup openrouter.ai: no such host"), OpenRouter)
	assert.Equal(t, apperrors.KindConnection, got.Kind)
	assert.Equal(t, "Check your network connection", got.Suggestion())
}

func TestNormalizeErrorKeepsClassified(t *testing.T) {
	in := apperrors.NewBuilder(apperrors.KindMalformed, apperrors.CodeProviderMalformed, "bad").Build()
	got := NormalizeError(fmt.Errorf("wrapped: %w", in), Gemini)
	assert.Same(t, in, got)
	assert.Equal(t, Gemini, got.Provider)
}
