// Package fault defines the error taxonomy shared by the signal, workflow,
// retrieval, LLM, and HTTP layers.
//
// Every failure that crosses a package boundary is classified with a Kind.
// The workflow engine's retry policies and the HTTP error envelope are both
// driven off this classification, so layers never need to inspect provider
// or driver error strings.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	// KindInvalidInput marks malformed or missing caller input.
	KindInvalidInput Kind = "invalid_input"

	// KindRateLimited marks a rejected request due to rate limiting.
	KindRateLimited Kind = "rate_limited"

	// KindUpstreamTimeout marks an upstream call that exceeded its deadline.
	KindUpstreamTimeout Kind = "upstream_timeout"

	// KindUpstreamUnavailable marks an unreachable upstream dependency.
	KindUpstreamUnavailable Kind = "upstream_unavailable"

	// KindTransient marks a failure expected to succeed on retry.
	KindTransient Kind = "transient"

	// KindNonRetryable marks a permanent failure (auth, refusal, bad request
	// to a provider). Retrying cannot help.
	KindNonRetryable Kind = "non_retryable"

	// KindNotFound marks a missing thread, checkpoint, or resource.
	KindNotFound Kind = "not_found"

	// KindConflict marks a write that lost to a concurrent writer, including
	// idempotency-key collisions.
	KindConflict Kind = "conflict"

	// KindInternal marks an unclassified server-side failure.
	KindInternal Kind = "internal"
)

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return string(e.Kind) + ": " + e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return string(e.Kind) + ": " + e.Msg
	case e.Err != nil:
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. Returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindInternal; nil reports the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Retryable reports whether an error should be retried with backoff.
// This is the predicate wired into graph.RetryPolicy and the LLM invoker.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindUpstreamTimeout, KindUpstreamUnavailable, KindRateLimited:
		return true
	}
	return false
}

// HTTPStatus maps a Kind to the status code used by the HTTP error envelope.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
