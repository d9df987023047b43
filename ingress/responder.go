package ingress

import (
	"context"
	"encoding/json"
	"fmt"

	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	"github.com/next-trace/scg-edu-bus/contract/result"
	"github.com/next-trace/scg-edu-bus/messagebus"
)

// Responder answers request/response integration events with a result.ResponseMessage.
type Responder[E cbus.IntegrationEvent] struct {
	client *messagebus.Client
	p      pipeline[E]
}

func NewResponder[E cbus.IntegrationEvent](client *messagebus.Client, d cbus.Dispatcher, translate Translator[E], extra ...Option[E]) *Responder[E] {
	return &Responder[E]{client: client, p: newPipeline(d, translate, extra)}
}

// Register installs the responder on E's topic.
func (r *Responder[E]) Register(ctx context.Context) (cbus.Subscription, error) {
	return messagebus.Respond(ctx, r.client, func(ctx context.Context, req E) (result.ResponseMessage, error) {
		return r.Handle(ctx, req), nil
	})
}

// Handle runs the request through the dispatcher and builds the reply. A valid reply carries
// the command payload.
func (r *Responder[E]) Handle(ctx context.Context, req E) result.ResponseMessage {
	vr, data := r.p.run(ctx, req)

	msg := result.FromValidation(vr)
	if !msg.Valid || data == nil {
		return msg
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return result.FromValidation(result.ExceptionFailure(fmt.Errorf("encode response: %w", err)))
	}

	msg.Data = raw

	return msg
}
