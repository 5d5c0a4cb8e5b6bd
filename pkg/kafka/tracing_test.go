package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeaderCarrier_SetAndGet(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{{Key: "existing", Value: []byte("value1")}}}
	carrier := NewHeaderCarrier(&msg)

	if got := carrier.Get("existing"); got != "value1" {
		t.Errorf("Get(existing) = %q, want %q", got, "value1")
	}
	if got := carrier.Get("missing"); got != "" {
		t.Errorf("Get(missing) = %q, want empty", got)
	}

	carrier.Set("existing", "updated")
	carrier.Set("new-key", "new-value")
	if got := carrier.Get("existing"); got != "updated" {
		t.Errorf("Get(existing) after update = %q, want %q", got, "updated")
	}
	if len(msg.Headers) != 2 {
		t.Errorf("headers = %d, want 2 (overwrite must not append)", len(msg.Headers))
	}
	if keys := carrier.Keys(); len(keys) != 2 {
		t.Errorf("Keys() = %v, want 2 keys", keys)
	}
}

func TestKafkaHeaderCarrier_PropagationRoundTrip(t *testing.T) {
	prop := propagation.TraceContext{}
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	var msg kafka.Message
	prop.Inject(ctx, NewHeaderCarrier(&msg))
	got := trace.SpanContextFromContext(prop.Extract(context.Background(), NewHeaderCarrier(&msg)))

	if got.TraceID() != traceID || got.SpanID() != spanID {
		t.Errorf("extracted %s/%s, want %s/%s", got.TraceID(), got.SpanID(), traceID, spanID)
	}
}
