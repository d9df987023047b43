package ingress

import (
	"context"
	"sync"

	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	"github.com/next-trace/scg-edu-bus/contract/result"
	"github.com/next-trace/scg-edu-bus/messagebus"
)

const (
	defaultBuffer  = 64
	defaultWorkers = 1
)

// Consumer is the hosted subscriber for one integration event type.
type Consumer[E cbus.IntegrationEvent] struct {
	client *messagebus.Client
	opts   cbus.SubscribeOptions
	p      pipeline[E]
}

type job[E cbus.IntegrationEvent] struct {
	ctx  context.Context
	evt  E
	done chan struct{}
}

// NewConsumer wires a consumer. SubscriptionID names the shared queue; Buffer and Workers
// default to 64 and 1.
func NewConsumer[E cbus.IntegrationEvent](client *messagebus.Client, d cbus.Dispatcher, translate Translator[E], opts cbus.SubscribeOptions, extra ...Option[E]) *Consumer[E] {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}

	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	return &Consumer[E]{client: client, opts: opts, p: newPipeline(d, translate, extra)}
}

// Run subscribes and processes deliveries until ctx is done. A delivery callback returns only
// after its event was handled, so the transport acknowledges processed messages only; a full
// buffer blocks the callback and pushes back on the broker. On shutdown Run unsubscribes,
// finishes every accepted delivery and rejects the ones still waiting for the buffer, which the
// broker redelivers. Run returns nil on shutdown and the subscribe error if the subscription
// cannot be established.
func (c *Consumer[E]) Run(ctx context.Context) error {
	jobs := make(chan job[E], c.opts.Buffer)

	var (
		mu       sync.Mutex
		stopping bool
		inflight sync.WaitGroup
	)

	sub, err := messagebus.Subscribe(ctx, c.client, c.opts.SubscriptionID, func(dctx context.Context, evt E) error {
		mu.Lock()
		if stopping {
			mu.Unlock()
			return context.Canceled
		}
		inflight.Add(1)
		mu.Unlock()

		defer inflight.Done()

		j := job[E]{ctx: context.WithoutCancel(dctx), evt: evt, done: make(chan struct{})}

		select {
		case jobs <- j:
		case <-ctx.Done():
			return ctx.Err()
		}

		<-j.done

		return nil
	})
	if err != nil {
		return err
	}

	c.p.logger.InfoContext(ctx, "ingress consumer started",
		"module", "ingress",
		"subscription", c.opts.SubscriptionID,
		"workers", c.opts.Workers,
		"buffer", c.opts.Buffer,
	)

	var wg sync.WaitGroup

	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := range jobs {
				c.Handle(j.ctx, j.evt)
				close(j.done)
			}
		}()
	}

	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil {
		c.p.logger.Warn("ingress unsubscribe failed", "module", "ingress", "subscription", c.opts.SubscriptionID, "error", err)
	}

	mu.Lock()
	stopping = true
	mu.Unlock()

	inflight.Wait()
	close(jobs)
	wg.Wait()

	c.p.logger.Info("ingress consumer stopped", "module", "ingress", "subscription", c.opts.SubscriptionID)

	return nil
}

// Handle translates evt, dispatches it in a fresh notification scope and returns the merged
// validation outcome. It never panics and never returns an infrastructure error.
func (c *Consumer[E]) Handle(ctx context.Context, evt E) result.ValidationResult {
	vr, _ := c.p.run(ctx, evt)
	return vr
}
