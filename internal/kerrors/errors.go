// Package kerrors defines the proxy's typed error kinds, their HTTP status
// mapping, and their Anthropic-shaped JSON rendering.
package kerrors

import (
	"fmt"

	"github.com/sdxdlgz/kiroproxy/internal/anthropic"
)

// Kind classifies an error by where it originated and what the pool/client
// policy should be.
type Kind string

const (
	KindInvalidRequest     Kind = "invalid_request"
	KindAuthRejected       Kind = "auth_rejected"
	KindRateLimited        Kind = "rate_limited"
	KindUpstreamFault      Kind = "upstream_fault"
	KindDecodeError        Kind = "decode_error"
	KindNoHealthyAccount   Kind = "no_healthy_account"
	KindRefreshFailed      Kind = "refresh_failed"
	KindClientDisconnected Kind = "client_disconnected"
)

// AppError is the error type carried through the orchestrator; it maps to
// both an HTTP status and an Anthropic error "type" string.
type AppError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// New constructs an AppError with no wrapped cause.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap constructs an AppError wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

// HTTPStatus returns the status code this error kind should surface as,
// per spec.md §7. AuthRejected/RateLimited/UpstreamFault are the codes
// surfaced after retries are exhausted; mid-retry they never reach the
// client.
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidRequest:
		return 400
	case KindAuthRejected:
		return 502
	case KindRateLimited:
		return 429
	case KindUpstreamFault:
		return 502
	case KindDecodeError:
		return 502
	case KindNoHealthyAccount:
		return 503
	case KindRefreshFailed:
		return 502
	case KindClientDisconnected:
		return 499
	default:
		return 500
	}
}

// AnthropicType returns the "type" value used in the Anthropic error
// envelope's nested error object.
func (e *AppError) AnthropicType() string {
	switch e.Kind {
	case KindInvalidRequest:
		return "invalid_request_error"
	case KindAuthRejected:
		return "authentication_error"
	case KindRateLimited:
		return "rate_limit_error"
	case KindUpstreamFault, KindDecodeError, KindRefreshFailed:
		return "api_error"
	case KindNoHealthyAccount:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

// PoolEffect describes whether the pool should account a failure against
// the account that produced this error, and how.
type PoolEffect int

const (
	// PoolEffectNone leaves the account's failure/cooldown state untouched.
	PoolEffectNone PoolEffect = iota
	// PoolEffectFailure increments failure_count (may trip permanent disable).
	PoolEffectFailure
	// PoolEffectCooldown sets cooldown_until without incrementing failure_count
	// to the disable threshold on its own (rate limiting is expected to recur
	// and clear, not a sign the account is broken).
	PoolEffectCooldown
)

// Effect returns this error kind's effect on pool accounting, per spec.md §7.
func (e *AppError) Effect() PoolEffect {
	switch e.Kind {
	case KindAuthRejected, KindUpstreamFault, KindDecodeError, KindRefreshFailed:
		return PoolEffectFailure
	case KindRateLimited:
		return PoolEffectCooldown
	default:
		return PoolEffectNone
	}
}

// Retryable reports whether the orchestrator may retry this error with a
// fresh account pick (bounded by its retry budget). Per spec.md §7: no
// retry after any bytes have been flushed to the client — that constraint
// is enforced by the orchestrator, not here.
func (e *AppError) Retryable() bool {
	switch e.Kind {
	case KindAuthRejected, KindRateLimited, KindUpstreamFault:
		return true
	default:
		return false
	}
}

// ExceptionTypeToKind maps an upstream ":exception-type" header value to an
// error Kind. Unlisted exception types default to UpstreamFault, which in
// turn renders as the Anthropic "api_error" type — see spec.md §9 Open
// Questions: the exact mapping table is implementation-defined and should
// grow as new exception types are observed in production traffic.
var ExceptionTypeToKind = map[string]Kind{
	"ThrottlingException":         KindRateLimited,
	"TooManyRequestsException":    KindRateLimited,
	"AccessDeniedException":       KindAuthRejected,
	"UnauthorizedException":       KindAuthRejected,
	"ValidationException":         KindInvalidRequest,
	"ModelStreamErrorException":   KindUpstreamFault,
	"InternalServerException":     KindUpstreamFault,
	"ServiceUnavailableException": KindUpstreamFault,
}

// KindForExceptionType resolves an upstream exception-type header value to
// an error Kind, defaulting to UpstreamFault for anything unrecognized.
func KindForExceptionType(exceptionType string) Kind {
	if kind, ok := ExceptionTypeToKind[exceptionType]; ok {
		return kind
	}
	return KindUpstreamFault
}

// ErrorBody renders this error into the Anthropic-shaped envelope used for
// both HTTP error responses and the terminal SSE "error" event.
func (e *AppError) ErrorBody() anthropic.ErrorBody {
	return anthropic.ErrorBody{
		Type: "error",
		Error: anthropic.ErrorDetail{
			Type:    e.AnthropicType(),
			Message: e.Message,
		},
	}
}
