package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Package errs defines the error categories shared by the fetchers, the
// scrape pipeline, and the tool handlers.
//
// Responsibilities:
//   - Carry an error kind so callers can branch without string matching
//   - Preserve the originating HTTP status and retry hints where known
//   - Support errors.Is/errors.As chains across package boundaries
//
// The kind decides how an error surfaces: validation, auth, rate-limit and
// payment errors become tool responses with isError set; network and server
// errors stay inside the strategy cascade; processing errors annotate the
// returned content; session and protocol errors become JSON-RPC error
// envelopes.

// Kind classifies an error for dispatch decisions.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindRateLimit  Kind = "rate_limit"
	KindPayment    Kind = "payment"
	KindNetwork    Kind = "network"
	KindServer     Kind = "server"
	KindProcessing Kind = "processing"
	KindSession    Kind = "session"
	KindProtocol   Kind = "protocol"
)

// Error is the one concrete error type exchanged between components.
type Error struct {
	Kind       Kind
	Message    string
	Field      string        // offending argument or config key, validation only
	Status     int           // originating HTTP status when one exists
	RetryAfter time.Duration // suggested wait, rate-limit only
	Err        error         // wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports a bad argument or config value. field names the
// offender and is echoed back to the client.
func Validation(field, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindValidation,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// Auth reports an upstream 401/403. The cascade treats it as final: no
// fallback strategy is attempted.
func Auth(status int, message string) *Error {
	return &Error{Kind: KindAuth, Status: status, Message: message}
}

// RateLimit reports an upstream 429 with an optional suggested wait.
func RateLimit(retryAfter time.Duration, message string) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Status:     429,
		RetryAfter: retryAfter,
		Message:    message,
	}
}

// Payment reports an upstream 402.
func Payment(message string) *Error {
	return &Error{Kind: KindPayment, Status: 402, Message: message}
}

// Network reports DNS failures, refused connections, and timeouts. The
// cascade continues to the next strategy.
func Network(err error, message string) *Error {
	return &Error{Kind: KindNetwork, Message: message, Err: err}
}

// Server reports an upstream 5xx. Retryable; the cascade continues.
func Server(status int, message string) *Error {
	return &Error{Kind: KindServer, Status: status, Message: message}
}

// Processing reports a cleaning or extraction failure. Never fatal: the
// caller falls back to the pre-processed content.
func Processing(err error, message string) *Error {
	return &Error{Kind: KindProcessing, Message: message, Err: err}
}

// Session reports a missing, unknown, or misused session id.
func Session(message string) *Error {
	return &Error{Kind: KindSession, Message: message}
}

// Protocol reports a malformed JSON-RPC frame.
func Protocol(message string) *Error {
	return &Error{Kind: KindProtocol, Message: message}
}

// KindOf extracts the kind of err, unwrapping as needed. Errors outside
// this package classify as network when they are timeouts or transport
// failures and server otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindNetwork
	}
	return KindServer
}

// IsAuth reports whether err (or anything it wraps) is an auth error.
func IsAuth(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindAuth
}

// Retryable reports whether a retry could plausibly succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindNetwork, KindServer:
		return true
	}
	return false
}

// FromStatus maps an upstream HTTP status to the matching category.
// 2xx statuses map to nil.
func FromStatus(status int, message string, retryAfter time.Duration) *Error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 401 || status == 403:
		return Auth(status, message)
	case status == 402:
		return Payment(message)
	case status == 429:
		return RateLimit(retryAfter, message)
	case status >= 500:
		return Server(status, message)
	default:
		return &Error{Kind: KindValidation, Status: status, Message: message}
	}
}
