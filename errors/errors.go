// Package errors defines the structured error type surfaced by the
// conversation core.
//
// Every failure that reaches a user carries a Kind, a Recoverable flag and
// short suggestions so the CLI can tell the user what to do next. Callers
// import it as apperrors to keep the standard library package available.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies an error for handling decisions.
type Kind string

const (
	KindTimeout         Kind = "timeout"
	KindAuth            Kind = "auth"
	KindRateLimit       Kind = "rate_limit"
	KindConnection      Kind = "connection"
	KindMalformed       Kind = "malformed"
	KindValidation      Kind = "validation"
	KindFunctionError   Kind = "function_error"
	KindPremiumRequired Kind = "premium_required"
	KindPartialSuccess  Kind = "partial_success"
	KindCircuitBreaker  Kind = "circuit_breaker"
	KindCancelled       Kind = "cancelled"
	KindUnknown         Kind = "unknown"
)

// AppError is the error type shared by the gateway, retry loop and orchestrator.
type AppError struct {
	// Code is a stable identifier for programmatic handling
	Code string

	Kind    Kind
	Message string
	Inner   error

	// Recoverable is true when the user (or a retry) can fix the failure
	Recoverable bool

	Suggestions []string

	// RetryAfter is the server-requested wait, zero when absent
	RetryAfter time.Duration

	// StatusCode is the HTTP status that produced the error, if any
	StatusCode int

	Provider string
	Context  map[string]any
}

// Error returns the error message.
func (e *AppError) Error() string {
	var sb strings.Builder

	if e.Code != "" {
		sb.WriteString("[")
		sb.WriteString(e.Code)
		sb.WriteString("] ")
	}

	sb.WriteString(e.Message)

	if e.Inner != nil {
		innerMsg := e.Inner.Error()
		if innerMsg != "" && innerMsg != e.Message {
			sb.WriteString(": ")
			sb.WriteString(innerMsg)
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Inner
}

// Suggestion returns the first suggestion or an empty string.
func (e *AppError) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// New creates a new AppError.
func New(kind Kind, code, message string) *AppError {
	return &AppError{
		Code:        code,
		Kind:        kind,
		Message:     message,
		Recoverable: DefaultRecoverable(kind),
	}
}

// Wrap wraps err with a kind and message. Wrapping nil returns nil.
func Wrap(err error, kind Kind, code, message string) *AppError {
	if err == nil {
		return nil
	}

	wrapped := New(kind, code, message)
	wrapped.Inner = err

	var appErr *AppError
	if errors.As(err, &appErr) {
		wrapped.RetryAfter = appErr.RetryAfter
		wrapped.StatusCode = appErr.StatusCode
		wrapped.Provider = appErr.Provider
	}

	return wrapped
}

// DefaultRecoverable reports whether a kind is recoverable when nothing more
// specific is known.
func DefaultRecoverable(kind Kind) bool {
	switch kind {
	case KindTimeout, KindAuth, KindRateLimit, KindConnection, KindMalformed, KindPartialSuccess:
		return true
	default:
		return false
	}
}

// Builder provides fluent error construction.
type Builder struct {
	err *AppError
}

// NewBuilder starts building a new error of the given kind.
func NewBuilder(kind Kind, code, message string) *Builder {
	return &Builder{err: New(kind, code, message)}
}

// Wrap sets the underlying error.
func (b *Builder) Wrap(err error) *Builder {
	b.err.Inner = err
	return b
}

// Recoverable overrides the default recoverability of the kind.
func (b *Builder) Recoverable(v bool) *Builder {
	b.err.Recoverable = v
	return b
}

// WithSuggestion adds a recovery suggestion.
func (b *Builder) WithSuggestion(suggestion string) *Builder {
	b.err.Suggestions = append(b.err.Suggestions, suggestion)
	return b
}

// WithContext adds context information.
func (b *Builder) WithContext(key string, value any) *Builder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]any)
	}
	b.err.Context[key] = value
	return b
}

// WithRetryAfter sets the server-requested retry delay.
func (b *Builder) WithRetryAfter(d time.Duration) *Builder {
	b.err.RetryAfter = d
	return b
}

// WithStatus records the HTTP status code.
func (b *Builder) WithStatus(code int) *Builder {
	b.err.StatusCode = code
	return b
}

// WithProvider records which provider produced the error.
func (b *Builder) WithProvider(provider string) *Builder {
	b.err.Provider = provider
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *AppError {
	return b.err
}

const (
	CodeProviderTimeout     = "PROVIDER_TIMEOUT"
	CodeProviderAuth        = "PROVIDER_AUTH"
	CodeProviderRateLimit   = "PROVIDER_RATE_LIMIT"
	CodeProviderConnection  = "PROVIDER_CONNECTION"
	CodeProviderMalformed   = "PROVIDER_MALFORMED_RESPONSE"
	CodeProviderUnknown     = "PROVIDER_UNKNOWN"
	CodeProviderUnsupported = "PROVIDER_UNSUPPORTED"

	CodeToolInvalidArgs = "TOOL_INVALID_ARGUMENTS"
	CodeToolFailed      = "TOOL_EXECUTION_FAILED"
	CodeToolTimeout     = "TOOL_TIMEOUT"
	CodeToolNotFound    = "TOOL_NOT_FOUND"
	CodeToolPremium     = "TOOL_PREMIUM_REQUIRED"

	CodeCircuitBreakerOpen = "CIRCUIT_BREAKER_OPEN"
	CodeSummaryFailed      = "SUMMARY_GENERATION_FAILED"
	CodeLLMUnavailable     = "LLM_UNAVAILABLE"

	CodeValidationFailed = "VALIDATION_FAILED"
	CodeCancelled        = "CANCELLED"
)

// KindOf extracts the kind from an error chain. Non-AppErrors are unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	return KindUnknown
}

// IsRecoverable checks whether an error is recoverable.
func IsRecoverable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Recoverable
	}
	return false
}

// GetRetryAfter returns the suggested retry duration.
func GetRetryAfter(err error) time.Duration {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.RetryAfter
	}
	return 0
}

// GetStatusCode returns the HTTP status carried by the error chain, or 0.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}

// GetSuggestions returns recovery suggestions for an error.
func GetSuggestions(err error) []string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Suggestions
	}
	return nil
}

// FormatUserMessage formats a user-facing message with suggestions.
func FormatUserMessage(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString(appErr.Message)
	for _, s := range appErr.Suggestions {
		sb.WriteString(fmt.Sprintf("\n  • %s", s))
	}
	return sb.String()
}
