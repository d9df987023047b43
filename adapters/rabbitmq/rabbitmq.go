package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	berr "github.com/next-trace/scg-edu-bus/contract/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	replyToQueue = "amq.rabbitmq.reply-to"
	rpcPrefix    = "rpc."
	tagPrefix    = "scg-edu-bus-"
)

var _ cbus.Transport = (*Transport)(nil)

type consumer struct {
	queue string
	// topic is the routing key bound on the exchange; empty for request queues.
	topic  string
	handle func(ctx context.Context, s *Session, d amqp.Delivery)
	tag    string
	ctx    context.Context
	cancel context.CancelFunc
}

// QueueName is the durable queue backing subscriptionID on topic.
func QueueName(subscriptionID, topic string) string { return subscriptionID + ":" + topic }

func (t *Transport) Publish(ctx context.Context, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := t.session()
	if s == nil {
		return berr.ErrNotConnected
	}

	msg := publishing(env)
	msg.DeliveryMode = amqp.Persistent

	return s.Channel.PublishWithContext(ctx, t.cfg.Exchange, env.Topic, false, false, msg)
}

func (t *Transport) Subscribe(_ context.Context, topic, subscriptionID string, h cbus.DeliveryHandler) (cbus.Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("rabbitmq subscribe %s: nil handler", topic)
	}

	c := &consumer{
		queue: QueueName(subscriptionID, topic),
		topic: topic,
		handle: func(ctx context.Context, _ *Session, d amqp.Delivery) {
			t.deliver(ctx, topic, d, h)
		},
	}

	return t.register(c)
}

func (t *Transport) Respond(_ context.Context, topic string, fn cbus.Responder) (cbus.Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("rabbitmq respond %s: nil responder", topic)
	}

	c := &consumer{
		queue: rpcPrefix + topic,
		handle: func(ctx context.Context, s *Session, d amqp.Delivery) {
			t.reply(ctx, s, topic, d, fn)
		},
	}

	return t.register(c)
}

func (t *Transport) register(c *consumer) (cbus.Subscription, error) {
	t.mu.Lock()
	s := t.sess
	if s == nil {
		t.mu.Unlock()
		return nil, berr.ErrNotConnected
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	t.nextID++
	id := t.nextID
	t.consumers[id] = c
	t.mu.Unlock()

	if err := t.startConsumer(s, c); err != nil {
		t.mu.Lock()
		delete(t.consumers, id)
		t.mu.Unlock()
		c.cancel()

		return nil, err
	}

	return &subscription{t: t, id: id}, nil
}

func (t *Transport) startConsumer(s *Session, c *consumer) error {
	durable := c.topic != ""
	if _, err := s.Channel.QueueDeclare(c.queue, durable, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq declare queue %s: %w", c.queue, err)
	}

	if c.topic != "" {
		if err := s.Channel.QueueBind(c.queue, c.topic, t.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("rabbitmq bind %s to %s: %w", c.queue, c.topic, err)
		}
	}

	tag := tagPrefix + uuid.NewString()

	deliveries, err := s.Channel.Consume(c.queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume %s: %w", c.queue, err)
	}

	t.mu.Lock()
	c.tag = tag
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-c.ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				c.handle(c.ctx, s, d)
			}
		}
	}()

	return nil
}

// deliver acks on success, requeues a first failure and dead-letters a repeated one.
func (t *Transport) deliver(ctx context.Context, topic string, d amqp.Delivery, h cbus.DeliveryHandler) {
	err := h(ctx, cbus.Delivery{Topic: topic, Body: d.Body, Headers: fromTable(d.Headers)})

	var ackErr error

	switch {
	case err == nil:
		ackErr = d.Ack(false)
	case d.Redelivered:
		t.logger.Warn("rabbitmq delivery failed twice; rejecting",
			"module", "rabbitmq",
			"topic", topic,
			"message_id", d.MessageId,
			"error", err,
		)

		ackErr = d.Nack(false, false)
	default:
		ackErr = d.Nack(false, true)
	}

	if ackErr != nil {
		t.logger.Error("rabbitmq ack failed", "module", "rabbitmq", "topic", topic, "error", ackErr)
	}
}

func (t *Transport) reply(ctx context.Context, s *Session, topic string, d amqp.Delivery, fn cbus.Responder) {
	body, err := fn(ctx, cbus.Delivery{Topic: topic, Body: d.Body, Headers: fromTable(d.Headers)})
	if err != nil {
		t.logger.Warn("rabbitmq responder failed; request dropped",
			"module", "rabbitmq",
			"topic", topic,
			"error", err,
		)

		_ = d.Nack(false, false)

		return
	}

	if d.ReplyTo != "" {
		msg := amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: d.CorrelationId,
			Body:          body,
		}
		if err := s.Channel.PublishWithContext(ctx, "", d.ReplyTo, false, false, msg); err != nil {
			t.logger.Error("rabbitmq reply failed", "module", "rabbitmq", "topic", topic, "error", err)
			_ = d.Nack(false, true)

			return
		}
	}

	_ = d.Ack(false)
}

// Request publishes env to the topic's request queue and waits for the correlated reply.
func (t *Transport) Request(ctx context.Context, env cbus.Envelope) ([]byte, error) {
	s := t.session()
	if s == nil {
		return nil, berr.ErrNotConnected
	}

	if err := t.ensureReplyConsumer(s); err != nil {
		return nil, err
	}

	corr := uuid.NewString()
	ch := make(chan amqp.Delivery, 1)

	t.replyMu.Lock()
	t.pending[corr] = ch
	t.replyMu.Unlock()

	defer func() {
		t.replyMu.Lock()
		delete(t.pending, corr)
		t.replyMu.Unlock()
	}()

	msg := publishing(env)
	msg.ReplyTo = replyToQueue
	msg.CorrelationId = corr

	if err := s.Channel.PublishWithContext(ctx, "", rpcPrefix+env.Topic, false, false, msg); err != nil {
		return nil, err
	}

	select {
	case d, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("rabbitmq request %s: connection lost: %w", env.Topic, berr.ErrNotConnected)
		}

		return d.Body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transport) ensureReplyConsumer(s *Session) error {
	t.replyMu.Lock()
	defer t.replyMu.Unlock()

	if t.replySess == s {
		return nil
	}

	deliveries, err := s.Channel.Consume(replyToQueue, "", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq reply consumer: %w", err)
	}

	t.replySess = s

	go t.dispatchReplies(deliveries)

	return nil
}

func (t *Transport) dispatchReplies(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		t.replyMu.Lock()
		if ch, ok := t.pending[d.CorrelationId]; ok {
			ch <- d
			delete(t.pending, d.CorrelationId)
		}
		t.replyMu.Unlock()
	}
}

func (t *Transport) failPending(s *Session) {
	t.replyMu.Lock()
	defer t.replyMu.Unlock()

	if t.replySess != s {
		return
	}

	t.replySess = nil

	for corr, ch := range t.pending {
		close(ch)
		delete(t.pending, corr)
	}
}

type subscription struct {
	t  *Transport
	id uint64
}

func (s *subscription) Unsubscribe() error {
	s.t.mu.Lock()
	c, ok := s.t.consumers[s.id]
	delete(s.t.consumers, s.id)
	sess := s.t.sess

	var tag string
	if ok {
		tag = c.tag
	}
	s.t.mu.Unlock()

	if !ok {
		return nil
	}

	c.cancel()

	if sess != nil && tag != "" {
		if err := sess.Channel.Cancel(tag, false); err != nil {
			return errors.Join(berr.ErrSubscribeFailed, err)
		}
	}

	return nil
}

func publishing(env cbus.Envelope) amqp.Publishing {
	return amqp.Publishing{
		Headers:     toTable(env.Headers),
		ContentType: "application/json",
		MessageId:   env.Headers[cbus.HeaderMessageID],
		Type:        env.Headers[cbus.HeaderMessageType],
		Body:        env.Body,
	}
}

func toTable(h map[string]string) amqp.Table {
	if len(h) == 0 {
		return nil
	}

	out := amqp.Table{}
	for k, v := range h {
		out[k] = v
	}

	return out
}

func fromTable(h amqp.Table) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		switch v := v.(type) {
		case string:
			out[k] = v
		case []byte:
			out[k] = string(v)
		default:
			out[k] = fmt.Sprint(v)
		}
	}

	return out
}
