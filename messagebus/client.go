package messagebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	berr "github.com/next-trace/scg-edu-bus/contract/errors"
)

// Header keys written on every outgoing envelope.
const (
	HeaderMessageID   = cbus.HeaderMessageID
	HeaderMessageType = cbus.HeaderMessageType
	HeaderContentType = cbus.HeaderContentType
	HeaderSentAt      = cbus.HeaderSentAt
)

// Client owns the broker connection. It is safe for concurrent use; reconnects are
// best-effort and not serialized, two callers may both reconnect.
type Client struct {
	transport cbus.Transport
	cfg       Config
	logger    *slog.Logger
	prop      cbus.HeaderPropagator
	extr      cbus.HeaderExtractor
	notify    RetryNotify
}

var _ cbus.EventPublisher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithPropagator injects context into outgoing headers and, when p also implements
// bus.HeaderExtractor, restores it on deliveries.
func WithPropagator(p cbus.HeaderPropagator) Option {
	return func(c *Client) {
		c.prop = p
		if e, ok := p.(cbus.HeaderExtractor); ok {
			c.extr = e
		}
	}
}

// WithRetryNotify registers an observer for scheduled retries.
func WithRetryNotify(fn RetryNotify) Option { return func(c *Client) { c.notify = fn } }

// New builds a client over t and makes one connect attempt. A failed attempt is logged, not
// returned: the next operation reconnects under the retry policy.
func New(ctx context.Context, t cbus.Transport, cfg Config, opts ...Option) (*Client, error) {
	if t == nil {
		return nil, fmt.Errorf("messagebus: transport required: %w", berr.ErrConfigurationInvalid)
	}

	c := &Client{
		transport: t,
		cfg:       cfg.withDefaults(),
		prop:      cbus.NopHeaderPropagator{},
		extr:      cbus.NopHeaderPropagator{},
	}
	for _, o := range opts {
		o(c)
	}

	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}

	if err := t.Connect(ctx); err != nil {
		c.logger.WarnContext(ctx, "initial broker connect failed; will retry lazily",
			"module", "messagebus",
			"operation", "connect",
			"outcome", "failure",
			"error", err,
		)
	}

	return c, nil
}

// IsConnected reports the transport's current connection state.
func (c *Client) IsConnected() bool { return c.transport.IsConnected() }

// Close releases the transport.
func (c *Client) Close() error { return c.transport.Close() }

// ensureConnected reconnects when needed: one attempt plus ReconnectRetries retries
// waiting base*2^n between them. Exhaustion wraps ErrNotConnected and the last dial error.
func (c *Client) ensureConnected(ctx context.Context, op string) error {
	if c.transport.IsConnected() {
		return nil
	}

	bo := &expBackOff{base: c.cfg.ReconnectBase}
	maxWait := c.cfg.ReconnectBase << (c.cfg.ReconnectRetries + 1)

	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			if err := c.transport.Connect(ctx); err != nil {
				if isContextErr(err) {
					return struct{}{}, backoff.Permanent(err)
				}

				return struct{}{}, err
			}

			return struct{}{}, nil
		},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.cfg.ReconnectRetries+1)),
		backoff.WithMaxElapsedTime(elapsedBudget(c.cfg.ReconnectRetries, 0, maxWait)),
		backoff.WithNotify(c.retryNotify(ctx, "reconnect:"+op)),
	)
	if err != nil {
		if isContextErr(err) {
			return err
		}

		c.logger.ErrorContext(ctx, "broker reconnect exhausted",
			"module", "messagebus",
			"operation", op,
			"outcome", "failure",
			"attempts", c.cfg.ReconnectRetries+1,
			"error", err,
		)

		return fmt.Errorf("messagebus %s: %w", op, errors.Join(berr.ErrNotConnected, err))
	}

	c.logger.InfoContext(ctx, "broker connected",
		"module", "messagebus",
		"operation", op,
		"outcome", "success",
	)

	return nil
}

func (c *Client) retryNotify(ctx context.Context, op string) backoff.Notify {
	return func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "bus operation failed; retry scheduled",
			"module", "messagebus",
			"operation", op,
			"wait", wait,
			"error", err,
		)

		if c.notify != nil {
			c.notify(op, err, wait)
		}
	}
}

// PublishIntegration is the EventPublisher form of Publish.
func (c *Client) PublishIntegration(ctx context.Context, evt cbus.IntegrationEvent, opts cbus.PublishOptions) error {
	return c.Publish(ctx, evt, opts)
}

// Publish sends evt to its topic. No acknowledgement is awaited beyond the broker accepting it.
func (c *Client) Publish(ctx context.Context, evt cbus.IntegrationEvent, opts cbus.PublishOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env, err := c.envelope(ctx, evt, opts)
	if err != nil {
		return err
	}

	if err := c.ensureConnected(ctx, "publish"); err != nil {
		return err
	}

	if err := c.transport.Publish(ctx, env); err != nil {
		if isContextErr(err) {
			return err
		}

		return fmt.Errorf("messagebus publish %s: %w", env.Topic, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

// SubscribeRaw registers h as a durable consumer named subscriptionID on topic.
// Redelivery and acknowledgement are left to the transport.
func (c *Client) SubscribeRaw(ctx context.Context, topic, subscriptionID string, h cbus.DeliveryHandler) (cbus.Subscription, error) {
	if err := c.ensureConnected(ctx, "subscribe"); err != nil {
		return nil, err
	}

	sub, err := c.transport.Subscribe(ctx, topic, subscriptionID, func(dctx context.Context, d cbus.Delivery) error {
		return h(c.extr.Extract(dctx, d.Headers), d)
	})
	if err != nil {
		return nil, fmt.Errorf("messagebus subscribe %s/%s: %w", topic, subscriptionID, errors.Join(berr.ErrSubscribeFailed, err))
	}

	return sub, nil
}

// RequestRaw sends req and waits for the correlated response body under the request retry policy.
func (c *Client) RequestRaw(ctx context.Context, req cbus.IntegrationEvent, opts cbus.PublishOptions) ([]byte, error) {
	env, err := c.envelope(ctx, req, opts)
	if err != nil {
		return nil, err
	}

	timeout := c.cfg.RequestTimeout
	if t, ok := req.(cbus.Timeoutable); ok && t.Timeout() > 0 {
		timeout = t.Timeout()
	}

	attempts := c.cfg.RequestAttempts
	if r, ok := req.(cbus.Retryable); ok && r.Tries() > 0 {
		attempts = r.Tries()
	}

	bo := &expBackOff{base: c.cfg.RequestBackoffBase, max: c.cfg.RequestMaxBackoff}
	attempt := 0

	return backoff.Retry(ctx,
		func() ([]byte, error) {
			attempt++

			if err := c.ensureConnected(ctx, "request"); err != nil {
				if isContextErr(err) {
					return nil, backoff.Permanent(err)
				}

				return nil, err
			}

			attemptEnv := env
			attemptEnv.Headers = cloneHeaders(env.Headers)
			attemptEnv.Headers["attempt"] = fmt.Sprint(attempt)

			body, err := c.requestOnce(ctx, attemptEnv, timeout)
			if err != nil && !retryableRequestErr(ctx, err) {
				return nil, backoff.Permanent(err)
			}

			return body, err
		},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(elapsedBudget(attempts, timeout, c.cfg.RequestMaxBackoff)),
		backoff.WithNotify(c.retryNotify(ctx, "request:"+env.Topic)),
	)
}

type reply struct {
	body []byte
	err  error
}

// requestOnce races one transport request against timeout. The losing request is abandoned:
// its context is canceled cooperatively and its result discarded.
func (c *Client) requestOnce(ctx context.Context, env cbus.Envelope, timeout time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan reply, 1)

	go func() {
		body, err := c.transport.Request(attemptCtx, env)
		ch <- reply{body: body, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			if isContextErr(r.err) && ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return nil, fmt.Errorf("messagebus request %s: %w", env.Topic, errors.Join(berr.ErrRequestFailed, r.err))
		}

		return r.body, nil
	case <-timer.C:
		return nil, fmt.Errorf("messagebus request %s after %s: %w", env.Topic, timeout, berr.ErrRequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RespondRaw registers fn as the server side of requests on topic.
func (c *Client) RespondRaw(ctx context.Context, topic string, fn cbus.Responder) (cbus.Subscription, error) {
	if err := c.ensureConnected(ctx, "respond"); err != nil {
		return nil, err
	}

	sub, err := c.transport.Respond(ctx, topic, func(dctx context.Context, d cbus.Delivery) ([]byte, error) {
		return fn(c.extr.Extract(dctx, d.Headers), d)
	})
	if err != nil {
		return nil, fmt.Errorf("messagebus respond %s: %w", topic, errors.Join(berr.ErrSubscribeFailed, err))
	}

	return sub, nil
}

func (c *Client) envelope(ctx context.Context, evt cbus.IntegrationEvent, opts cbus.PublishOptions) (cbus.Envelope, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return cbus.Envelope{}, fmt.Errorf("messagebus serialize %T: %w", evt, errors.Join(berr.ErrSerializationFailed, err))
	}

	topic := evt.Topic()
	if opts.TopicOverride != "" {
		topic = opts.TopicOverride
	}

	// copy headers to avoid mutating caller-provided map
	hdrs := make(map[string]string, len(opts.Headers)+6)
	for k, v := range opts.Headers {
		hdrs[k] = v
	}

	hdrs[HeaderMessageID] = uuid.NewString()
	hdrs[HeaderMessageType] = TypeName(evt)
	hdrs[HeaderContentType] = "application/json"
	hdrs[HeaderSentAt] = time.Now().UTC().Format(time.RFC3339Nano)

	if opts.Key != "" {
		hdrs["key"] = opts.Key
	}

	c.prop.Inject(ctx, hdrs)

	return cbus.Envelope{Topic: topic, Key: opts.Key, Body: body, Headers: hdrs}, nil
}

// TypeName returns the bare type name of v, dereferencing pointers.
func TypeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	name := t.Name()
	if name == "" {
		name = t.String()
	}

	return name
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}

	return out
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// retryableRequestErr reports whether a request attempt error is a timeout or transport failure.
func retryableRequestErr(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	switch {
	case errors.Is(err, berr.ErrSerializationFailed), errors.Is(err, berr.ErrRequestUnsupported):
		return false
	case errors.Is(err, berr.ErrRequestTimeout), errors.Is(err, berr.ErrRequestFailed), errors.Is(err, berr.ErrNotConnected):
		return true
	default:
		return !isContextErr(err)
	}
}
