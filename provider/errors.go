package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"

	"rhythm/config"
	apperrors "rhythm/errors"
	"rhythm/retry"
)

// NormalizeError classifies an adapter error into timeout, auth, rate_limit,
// connection, malformed or unknown, attaching a short suggestion. Caller
// cancellation is reported as cancelled. The original error stays reachable
// through errors.Is/As.
func NormalizeError(err error, provider string) *apperrors.AppError {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Kind != "" && appErr.Kind != apperrors.KindUnknown {
		if appErr.Provider == "" {
			appErr.Provider = provider
		}
		return appErr
	}

	display := config.ProviderDisplayName(provider)
	local := provider == Ollama || provider == LMStudio

	if errors.Is(err, context.Canceled) {
		return apperrors.NewBuilder(apperrors.KindCancelled, apperrors.CodeCancelled, "request cancelled").
			Wrap(err).WithProvider(provider).Build()
	}

	status, header := statusAndHeader(err)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.NewBuilder(apperrors.KindAuth, apperrors.CodeProviderAuth,
			fmt.Sprintf("%s rejected the API key", display)).
			Wrap(err).WithStatus(status).WithProvider(provider).
			WithSuggestion(fmt.Sprintf("Check your %s API key", display)).
			Build()
	case status == http.StatusTooManyRequests:
		b := apperrors.NewBuilder(apperrors.KindRateLimit, apperrors.CodeProviderRateLimit,
			fmt.Sprintf("%s rate limit reached", display)).
			Wrap(err).WithStatus(status).WithProvider(provider).
			WithSuggestion("Wait a moment before sending another message")
		if d, ok := retry.ParseRetryAfter(header.Get("Retry-After"), time.Now()); ok {
			b.WithRetryAfter(d)
		}
		return b.Build()
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return timeoutError(err, provider, display, status)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(err, provider, display, status)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutError(err, provider, display, status)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return apperrors.NewBuilder(apperrors.KindMalformed, apperrors.CodeProviderMalformed,
			fmt.Sprintf("%s returned a malformed response", display)).
			Wrap(err).WithStatus(status).WithProvider(provider).
			WithSuggestion("Try again or switch to a different model").
			Build()
	}

	if isConnectionError(err) {
		suggestion := "Check your network connection"
		if local {
			suggestion = fmt.Sprintf("Make sure %s is running", display)
		}
		return apperrors.NewBuilder(apperrors.KindConnection, apperrors.CodeProviderConnection,
			fmt.Sprintf("could not connect to %s", display)).
			Wrap(err).WithProvider(provider).
			WithSuggestion(suggestion).
			Build()
	}

	msg := strings.ToLower(err.Error())
	switch {
	case status == 0 && (strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key")):
		return apperrors.NewBuilder(apperrors.KindAuth, apperrors.CodeProviderAuth,
			fmt.Sprintf("%s rejected the API key", display)).
			Wrap(err).WithProvider(provider).
			WithSuggestion(fmt.Sprintf("Check your %s API key", display)).
			Build()
	case status == 0 && (strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")):
		return apperrors.NewBuilder(apperrors.KindRateLimit, apperrors.CodeProviderRateLimit,
			fmt.Sprintf("%s rate limit reached", display)).
			Wrap(err).WithProvider(provider).
			WithSuggestion("Wait a moment before sending another message").
			Build()
	case status == 0 && strings.Contains(msg, "timeout"):
		return timeoutError(err, provider, display, status)
	}

	return apperrors.NewBuilder(apperrors.KindUnknown, apperrors.CodeProviderUnknown,
		fmt.Sprintf("%s request failed", display)).
		Wrap(err).WithStatus(status).WithProvider(provider).
		Recoverable(false).
		WithSuggestion("Try again later or choose a different provider").
		Build()
}

func timeoutError(err error, provider, display string, status int) *apperrors.AppError {
	return apperrors.NewBuilder(apperrors.KindTimeout, apperrors.CodeProviderTimeout,
		fmt.Sprintf("%s did not respond in time", display)).
		Wrap(err).WithStatus(status).WithProvider(provider).
		WithSuggestion("Try again or switch to a faster model").
		Build()
}

// statusAndHeader digs the HTTP status and response headers out of SDK errors.
func statusAndHeader(err error) (int, http.Header) {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		var h http.Header
		if oaErr.Response != nil {
			h = oaErr.Response.Header
		}
		return oaErr.StatusCode, h
	}

	var olErr api.StatusError
	if errors.As(err, &olErr) {
		return olErr.StatusCode, nil
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.code, se.header
	}

	return 0, nil
}

func isConnectionError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "econnrefused") || strings.Contains(msg, "network is unreachable")
}

// statusError is returned by the raw HTTP probes.
type statusError struct {
	code   int
	header http.Header
	body   string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
	}
	return fmt.Sprintf("HTTP %d", e.code)
}

func (e *statusError) HTTPStatus() int { return e.code }

func (e *statusError) ResponseHeader() http.Header { return e.header }
