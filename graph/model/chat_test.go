package model

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/aura-go/fault"
)

func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{"rate limit", errors.New("429 Too Many Requests"), fault.KindRateLimited},
		{"auth", errors.New("invalid api key provided"), fault.KindNonRetryable},
		{"quota", errors.New("insufficient_quota: billing details"), fault.KindNonRetryable},
		{"server", errors.New("503 service unavailable"), fault.KindUpstreamUnavailable},
		{"overloaded", errors.New("overloaded_error"), fault.KindUpstreamUnavailable},
		{"network", errors.New("connection reset by peer"), fault.KindTransient},
		{"unknown", errors.New("something odd"), fault.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyErr("test", tt.err)
			if fault.KindOf(got) != tt.want {
				t.Errorf("KindOf = %q, want %q", fault.KindOf(got), tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error does not wrap the original")
			}
		})
	}
}

func TestClassifyErrContext(t *testing.T) {
	if got := ClassifyErr("test", context.Canceled); !errors.Is(got, context.Canceled) {
		t.Errorf("cancellation should pass through, got %v", got)
	}
	got := ClassifyErr("test", context.DeadlineExceeded)
	if fault.KindOf(got) != fault.KindUpstreamTimeout {
		t.Errorf("deadline KindOf = %q, want %q", fault.KindOf(got), fault.KindUpstreamTimeout)
	}
	if ClassifyErr("test", nil) != nil {
		t.Error("nil should classify to nil")
	}
}

func TestMockChatModelScript(t *testing.T) {
	ctx := context.Background()
	m := NewMockChatModel(
		ChatOut{Text: "first", Usage: Usage{InputTokens: 10, OutputTokens: 5}},
		ChatOut{Text: "second"},
	)
	m.FailCall(2, errors.New("boom"))

	out, err := m.Chat(ctx, []Message{{Role: RoleUser, Content: "q1"}}, Options{})
	if err != nil || out.Text != "first" {
		t.Fatalf("call 0 = (%q, %v), want (first, nil)", out.Text, err)
	}
	if out.Usage.InputTokens != 10 {
		t.Errorf("usage = %+v, want 10 input tokens", out.Usage)
	}

	if out, _ = m.Chat(ctx, nil, Options{}); out.Text != "second" {
		t.Errorf("call 1 = %q, want second", out.Text)
	}
	if _, err = m.Chat(ctx, nil, Options{}); err == nil {
		t.Error("call 2 should fail")
	}
	// Script exhausted: last reply repeats.
	if out, _ = m.Chat(ctx, nil, Options{}); out.Text != "second" {
		t.Errorf("call 3 = %q, want second", out.Text)
	}

	if m.CallCount() != 4 {
		t.Errorf("CallCount = %d, want 4", m.CallCount())
	}
	if got := m.Calls()[0][0].Content; got != "q1" {
		t.Errorf("recorded content = %q, want q1", got)
	}
}

func TestUsageAdd(t *testing.T) {
	var u Usage
	u.Add(Usage{InputTokens: 3, OutputTokens: 7})
	u.Add(Usage{InputTokens: 2, OutputTokens: 1})
	if u.InputTokens != 5 || u.OutputTokens != 8 {
		t.Errorf("usage = %+v, want {5 8}", u)
	}
}
