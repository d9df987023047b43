package ingress

import (
	"context"
	"fmt"
	"log/slog"

	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	"github.com/next-trace/scg-edu-bus/contract/result"
	"github.com/next-trace/scg-edu-bus/messagebus"
	"github.com/next-trace/scg-edu-bus/notification"
)

// Translator turns an inbound event into the local command to dispatch.
type Translator[E cbus.IntegrationEvent] func(evt E) (cbus.Command, error)

// Option configures a Consumer or Responder.
type Option[E cbus.IntegrationEvent] func(*pipeline[E])

// WithKey names the triggering message in failure logs, e.g. the originating user id.
func WithKey[E cbus.IntegrationEvent](fn func(E) string) Option[E] {
	return func(p *pipeline[E]) { p.key = fn }
}

// WithLogger sets the logger.
func WithLogger[E cbus.IntegrationEvent](l *slog.Logger) Option[E] {
	return func(p *pipeline[E]) { p.logger = l }
}

// WithOutcome observes every handled event and its outcome.
func WithOutcome[E cbus.IntegrationEvent](fn func(evt E, vr result.ValidationResult)) Option[E] {
	return func(p *pipeline[E]) { p.outcome = fn }
}

type pipeline[E cbus.IntegrationEvent] struct {
	dispatcher cbus.Dispatcher
	translate  Translator[E]
	key        func(E) string
	logger     *slog.Logger
	outcome    func(E, result.ValidationResult)
}

func newPipeline[E cbus.IntegrationEvent](d cbus.Dispatcher, tr Translator[E], opts []Option[E]) pipeline[E] {
	p := pipeline[E]{dispatcher: d, translate: tr}
	for _, o := range opts {
		o(&p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// run dispatches evt inside a fresh notification scope and returns the merged outcome
// plus the command payload when valid.
func (p *pipeline[E]) run(ctx context.Context, evt E) (vr result.ValidationResult, data any) {
	sctx, scope := notification.NewScope(ctx)

	defer func() {
		if r := recover(); r != nil {
			vr, data = result.ExceptionFailure(fmt.Errorf("panic: %v", r)), nil
		}

		if !vr.IsValid() {
			p.logger.WarnContext(ctx, "integration event rejected",
				"module", "ingress",
				"event", messagebus.TypeName(evt),
				"topic", evt.Topic(),
				"key", p.keyOf(evt),
				"errors", vr.Messages(),
			)
		}

		if p.outcome != nil {
			p.outcome(evt, vr)
		}

		scope.Clear()
	}()

	cmd, err := p.translate(evt)
	if err != nil {
		return result.ExceptionFailure(err), nil
	}

	if cmd == nil {
		return result.ExceptionFailure(fmt.Errorf("translate %s: no command", messagebus.TypeName(evt))), nil
	}

	res, err := p.dispatcher.Execute(sctx, cmd)
	if err != nil {
		return result.ExceptionFailure(err), nil
	}

	vr = res.Validation()
	vr.Merge(scope.Validation())

	if vr.IsValid() {
		data = res.Data()
	}

	return vr, data
}

func (p *pipeline[E]) keyOf(evt E) string {
	if p.key == nil {
		return ""
	}

	return p.key(evt)
}
