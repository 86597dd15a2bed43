package emit

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*tracetest.InMemoryExporter, *OTelEmitter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, NewOTelEmitter(tp.Tracer("test"))
}

func attributeMap(attrs []attribute.KeyValue) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

func TestOTelEmitterCreatesSpan(t *testing.T) {
	exporter, emitter := newRecordingTracer(t)

	emitter.Emit(Event{
		ThreadID:  "thread-1",
		Superstep: 2,
		NodeID:    "detect",
		Msg:       "node_completed",
		Meta:      map[string]any{"attempt": 1, "cached": true},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "node_completed" {
		t.Errorf("span name = %q, want %q", span.Name, "node_completed")
	}
	attrs := attributeMap(span.Attributes)
	if got := attrs["thread_id"]; got != "thread-1" {
		t.Errorf("thread_id = %v, want %q", got, "thread-1")
	}
	if got := attrs["superstep"]; got != int64(2) {
		t.Errorf("superstep = %v, want 2", got)
	}
	if got := attrs["node_id"]; got != "detect" {
		t.Errorf("node_id = %v, want %q", got, "detect")
	}
	if got := attrs["attempt"]; got != int64(1) {
		t.Errorf("attempt = %v, want 1", got)
	}
	if got := attrs["cached"]; got != true {
		t.Errorf("cached = %v, want true", got)
	}
	if !span.EndTime.After(span.StartTime) {
		t.Error("span was not ended")
	}
}

func TestOTelEmitterErrorStatus(t *testing.T) {
	exporter, emitter := newRecordingTracer(t)

	emitter.Emit(Event{
		ThreadID:  "thread-1",
		Superstep: 3,
		NodeID:    "generate",
		Msg:       "node_failed",
		Meta:      map[string]any{"error": "provider unavailable"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status.Code != codes.Error {
		t.Errorf("status code = %v, want %v", span.Status.Code, codes.Error)
	}
	if span.Status.Description != "provider unavailable" {
		t.Errorf("status description = %q, want %q", span.Status.Description, "provider unavailable")
	}
}

func TestOTelEmitterOmitsEmptyNodeID(t *testing.T) {
	exporter, emitter := newRecordingTracer(t)

	emitter.Emit(Event{ThreadID: "thread-1", Superstep: 0, Msg: "thread_started"})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := attributeMap(spans[0].Attributes)
	if _, ok := attrs["node_id"]; ok {
		t.Error("node_id attribute should be absent for thread-level events")
	}
}
