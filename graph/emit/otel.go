package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each event into an OpenTelemetry span. Events are
// instantaneous, so spans are started and ended immediately; the span name
// is the event message and all event fields become attributes.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter wraps a tracer obtained from otel.Tracer("aura").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("thread_id", event.ThreadID),
		attribute.Int("superstep", event.Superstep),
	)
	if event.NodeID != "" {
		span.SetAttributes(attribute.String("node_id", event.NodeID))
	}

	for k, v := range event.Meta {
		span.SetAttributes(metaAttribute(k, v))
	}

	if errVal, ok := event.Meta["error"]; ok {
		span.SetStatus(codes.Error, fmt.Sprintf("%v", errVal))
	}
}

func metaAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
