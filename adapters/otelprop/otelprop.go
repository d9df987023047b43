// Package otelprop bridges OpenTelemetry text-map propagation to bus headers.
package otelprop

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
)

// Propagator injects and extracts trace context and baggage through message headers.
type Propagator struct {
	tm propagation.TextMapPropagator
}

var (
	_ cbus.HeaderPropagator = Propagator{}
	_ cbus.HeaderExtractor  = Propagator{}
)

// New uses tm, or W3C trace context plus baggage when tm is nil.
func New(tm propagation.TextMapPropagator) Propagator {
	if tm == nil {
		tm = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	}

	return Propagator{tm: tm}
}

// Global follows whatever propagator is installed with otel.SetTextMapPropagator.
func Global() Propagator { return Propagator{tm: otel.GetTextMapPropagator()} }

func (p Propagator) Inject(ctx context.Context, headers map[string]string) {
	p.tm.Inject(ctx, propagation.MapCarrier(headers))
}

func (p Propagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	return p.tm.Extract(ctx, propagation.MapCarrier(headers))
}
