package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := New(KindUpstreamTimeout, "llm call timed out after %v", "30s")
	wrapped := fmt.Errorf("node generate: %w", base)

	if got := KindOf(wrapped); got != KindUpstreamTimeout {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, KindUpstreamTimeout)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %q, want %q", got, KindInternal)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindTransient, true},
		{KindUpstreamTimeout, true},
		{KindUpstreamUnavailable, true},
		{KindRateLimited, true},
		{KindNonRetryable, false},
		{KindInvalidInput, false},
		{KindNotFound, false},
		{KindConflict, false},
		{KindInternal, false},
	}

	for _, tc := range cases {
		err := New(tc.kind, "boom")
		if got := Retryable(err); got != tc.want {
			t.Errorf("Retryable(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}

	if Retryable(errors.New("unclassified")) {
		t.Error("unclassified errors must not be retryable")
	}
	if Retryable(nil) {
		t.Error("nil must not be retryable")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindInternal, nil, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := HTTPStatus(KindRateLimited); got != http.StatusTooManyRequests {
		t.Errorf("rate_limited status = %d, want 429", got)
	}
	if got := HTTPStatus(KindNotFound); got != http.StatusNotFound {
		t.Errorf("not_found status = %d, want 404", got)
	}
	if got := HTTPStatus(Kind("mystery")); got != http.StatusInternalServerError {
		t.Errorf("unknown kind status = %d, want 500", got)
	}
}
