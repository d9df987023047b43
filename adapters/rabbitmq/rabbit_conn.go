package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	berr "github.com/next-trace/scg-edu-bus/contract/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	integrationExchange   = "integration"
	integrationExchangeTy = "topic"
)

type Config struct {
	URL         string
	ConnTimeout time.Duration
	// Exchange is the topic exchange integration events are published to.
	Exchange string
	// Prefetch bounds unacknowledged deliveries per channel; zero leaves the broker default.
	Prefetch int
}

// Channel is the subset of *amqp.Channel the transport uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Cancel(consumer string, noWait bool) error
}

// Session is one live connection and its channel.
type Session struct {
	Channel Channel
	// Closed yields (or closes) when the connection is lost.
	Closed <-chan *amqp.Error
	Close  func() error
}

func (s *Session) close() {
	if s.Close != nil {
		_ = s.Close()
	}
}

// Dialer opens a Session.
type Dialer func(ctx context.Context, cfg Config) (*Session, error)

type Option func(*Transport)

// WithDialer replaces the AMQP dialer, mainly for tests.
func WithDialer(d Dialer) Option { return func(t *Transport) { t.dial = d } }

func WithLogger(l *slog.Logger) Option { return func(t *Transport) { t.logger = l } }

func dialAMQP(ctx context.Context, cfg Config) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-edu-bus"},
		Dial:       amqp.DefaultDial(cfg.ConnTimeout),
	})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Session{
		Channel: ch,
		Closed:  conn.NotifyClose(make(chan *amqp.Error, 1)),
		Close: func() error {
			_ = ch.Close()
			return conn.Close()
		},
	}, nil
}

// Transport maps the message bus onto RabbitMQ: events go through a durable topic exchange,
// subscriptions are durable queues named after the subscription id, and requests use
// direct reply-to. It dials once per Connect; the client decides when to reconnect.
type Transport struct {
	cfg    Config
	dial   Dialer
	logger *slog.Logger

	mu        sync.Mutex
	sess      *Session
	closed    bool
	consumers map[uint64]*consumer
	nextID    uint64

	replyMu   sync.Mutex
	replySess *Session
	pending   map[string]chan amqp.Delivery
}

// New validates cfg and returns a disconnected transport.
func New(cfg Config, opts ...Option) (*Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrConfigurationInvalid)
	}

	if cfg.Exchange == "" {
		cfg.Exchange = integrationExchange
	}

	if cfg.ConnTimeout <= 0 {
		cfg.ConnTimeout = 5 * time.Second
	}

	t := &Transport{
		cfg:       cfg,
		dial:      dialAMQP,
		consumers: make(map[uint64]*consumer),
		pending:   make(map[string]chan amqp.Delivery),
	}
	for _, o := range opts {
		o(t)
	}

	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}

	return t, nil
}

// Connect dials, declares the integration exchange and restarts every registered consumer.
func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return berr.ErrTransportClosed
	}

	if t.sess != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	s, err := t.dial(ctx, t.cfg)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	if err := s.Channel.ExchangeDeclare(t.cfg.Exchange, integrationExchangeTy, true, false, false, false, nil); err != nil {
		s.close()
		return fmt.Errorf("rabbitmq declare exchange %s: %w", t.cfg.Exchange, err)
	}

	if t.cfg.Prefetch > 0 {
		if err := s.Channel.Qos(t.cfg.Prefetch, 0, false); err != nil {
			s.close()
			return fmt.Errorf("rabbitmq qos: %w", err)
		}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		s.close()

		return berr.ErrTransportClosed
	}

	if t.sess != nil {
		// a concurrent Connect won
		t.mu.Unlock()
		s.close()

		return nil
	}

	t.sess = s

	consumers := make([]*consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	go t.watch(s)

	for _, c := range consumers {
		if err := t.startConsumer(s, c); err != nil {
			t.logger.Error("rabbitmq resubscribe failed",
				"module", "rabbitmq",
				"queue", c.queue,
				"error", err,
			)
		}
	}

	return nil
}

// watch blocks on the connection close notification and drops the session.
func (t *Transport) watch(s *Session) {
	amqpErr := <-s.Closed

	t.mu.Lock()
	if t.sess == s {
		t.sess = nil
	}

	closed := t.closed
	t.mu.Unlock()

	t.failPending(s)

	if !closed {
		reason := "closed"
		if amqpErr != nil {
			reason = amqpErr.Reason
		}

		t.logger.Warn("rabbitmq connection lost",
			"module", "rabbitmq",
			"reason", reason,
		)
	}
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.sess != nil
}

func (t *Transport) session() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.sess
}

// Close stops every consumer and closes the connection. It is idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}

	t.closed = true
	s := t.sess
	t.sess = nil

	for id, c := range t.consumers {
		c.cancel()
		delete(t.consumers, id)
	}
	t.mu.Unlock()

	if s != nil {
		s.close()
		t.failPending(s)
	}

	return nil
}
