package otelprop_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/next-trace/scg-edu-bus/adapters/otelprop"
)

func TestPropagator_RoundTrip(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(t.Context(), sc)

	p := otelprop.New(nil)

	hdrs := map[string]string{}
	p.Inject(ctx, hdrs)

	want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	if hdrs["traceparent"] != want {
		t.Fatalf("traceparent=%q", hdrs["traceparent"])
	}

	got := trace.SpanContextFromContext(p.Extract(context.Background(), hdrs))
	if got.TraceID() != traceID || got.SpanID() != spanID || !got.IsRemote() {
		t.Fatalf("extracted=%+v", got)
	}
}

func TestPropagator_NoSpanLeavesHeadersAlone(t *testing.T) {
	hdrs := map[string]string{"message-id": "m1"}
	otelprop.New(nil).Inject(t.Context(), hdrs)

	if len(hdrs) != 1 {
		t.Fatalf("headers=%v", hdrs)
	}
}
