package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	berr "github.com/next-trace/scg-edu-bus/contract/errors"

	"github.com/twmb/franz-go/pkg/kgo"
)

type Option func(*Transport)

// WithProducer replaces the franz-go producer, mainly for tests.
func WithProducer(p Producer) Option { return func(t *Transport) { t.producer = p } }

// WithConsumerFactory replaces the franz-go consumer factory, mainly for tests.
func WithConsumerFactory(f ConsumerFactory) Option { return func(t *Transport) { t.consumers = f } }

func WithLogger(l *slog.Logger) Option { return func(t *Transport) { t.logger = l } }

// Transport maps the message bus onto Kafka: topics are Kafka topics, subscription ids are
// consumer groups and the publish key is the record key. Offsets are committed only for records
// whose handler succeeded. Kafka offers no request/reply.
type Transport struct {
	cfg       Config
	producer  Producer
	consumers ConsumerFactory
	logger    *slog.Logger

	mu        sync.Mutex
	connected bool
	closed    bool
	loops     map[*loop]struct{}
}

type loop struct {
	consumer Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ cbus.Transport = (*Transport)(nil)

// New validates cfg and returns a disconnected transport.
func New(cfg Config, opts ...Option) (*Transport, error) {
	if _, err := baseOpts(cfg); err != nil {
		return nil, err
	}

	t := &Transport{cfg: cfg, loops: make(map[*loop]struct{})}
	for _, o := range opts {
		o(t)
	}

	if t.consumers == nil {
		t.consumers = kgoConsumerFactory(cfg)
	}

	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}

	return t, nil
}

// Connect creates the producer on first use and pings the cluster.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return berr.ErrTransportClosed
	}

	if t.producer == nil {
		p, err := newKgoProducer(t.cfg)
		if err != nil {
			return err
		}

		t.producer = p
	}

	if err := t.producer.Ping(ctx); err != nil {
		t.connected = false
		return fmt.Errorf("kafka ping: %w", err)
	}

	t.connected = true

	return nil
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connected && !t.closed
}

// Publish produces one record and waits for the broker ack. A failed produce marks the
// transport disconnected so the next operation pings again.
func (t *Transport) Publish(ctx context.Context, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	p := t.producer
	ok := t.connected && !t.closed
	t.mu.Unlock()

	if !ok || p == nil {
		return berr.ErrNotConnected
	}

	rec := &kgo.Record{Topic: env.Topic, Key: []byte(env.Key), Value: env.Body}
	if env.Key == "" {
		rec.Key = nil
	}

	if len(env.Headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(env.Headers))
		for k, v := range env.Headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	if err := p.Produce(ctx, rec); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()

		return fmt.Errorf("kafka produce to %q: %w", env.Topic, err)
	}

	return nil
}

// Subscribe joins consumer group subscriptionID on topic and polls until unsubscribed.
func (t *Transport) Subscribe(_ context.Context, topic, subscriptionID string, h cbus.DeliveryHandler) (cbus.Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("kafka subscribe %s: nil handler", topic)
	}

	if !t.IsConnected() {
		return nil, berr.ErrNotConnected
	}

	c, err := t.consumers(topic, subscriptionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{consumer: c, cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		c.Close()

		return nil, berr.ErrTransportClosed
	}

	t.loops[l] = struct{}{}
	t.mu.Unlock()

	go t.poll(ctx, l, subscriptionID, h)

	return &subscription{t: t, l: l}, nil
}

func (t *Transport) poll(ctx context.Context, l *loop, group string, h cbus.DeliveryHandler) {
	defer close(l.done)

	for {
		recs, err := l.consumer.Poll(ctx)
		if ctx.Err() != nil || errors.Is(err, kgo.ErrClientClosed) {
			return
		}

		if err != nil {
			t.logger.Warn("kafka fetch errors", "module", "kafka", "group", group, "error", err)
		}

		done := make([]*kgo.Record, 0, len(recs))

		for _, rec := range recs {
			if herr := h(ctx, toDelivery(rec)); herr != nil {
				t.logger.Warn("kafka delivery failed; offset not committed",
					"module", "kafka",
					"topic", rec.Topic,
					"group", group,
					"offset", rec.Offset,
					"error", herr,
				)

				continue
			}

			done = append(done, rec)
		}

		if len(done) > 0 {
			if cerr := l.consumer.Commit(ctx, done...); cerr != nil && ctx.Err() == nil {
				t.logger.Error("kafka commit failed", "module", "kafka", "group", group, "error", cerr)
			}
		}
	}
}

// Request is not available over Kafka.
func (t *Transport) Request(context.Context, cbus.Envelope) ([]byte, error) {
	return nil, berr.ErrRequestUnsupported
}

// Respond is not available over Kafka.
func (t *Transport) Respond(context.Context, string, cbus.Responder) (cbus.Subscription, error) {
	return nil, berr.ErrRequestUnsupported
}

// Close stops every consumer loop and the producer. It is idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}

	t.closed = true
	t.connected = false
	loops := t.loops
	t.loops = map[*loop]struct{}{}
	p := t.producer
	t.mu.Unlock()

	for l := range loops {
		l.stop()
	}

	if p != nil {
		p.Close()
	}

	return nil
}

func (l *loop) stop() {
	l.cancel()
	<-l.done
	l.consumer.Close()
}

type subscription struct {
	t *Transport
	l *loop
}

func (s *subscription) Unsubscribe() error {
	s.t.mu.Lock()
	_, ok := s.t.loops[s.l]
	delete(s.t.loops, s.l)
	s.t.mu.Unlock()

	if ok {
		s.l.stop()
	}

	return nil
}

func toDelivery(rec *kgo.Record) cbus.Delivery {
	hdrs := make(map[string]string, len(rec.Headers)+1)
	for _, h := range rec.Headers {
		hdrs[h.Key] = string(h.Value)
	}

	if len(rec.Key) > 0 {
		if _, ok := hdrs["key"]; !ok {
			hdrs["key"] = string(rec.Key)
		}
	}

	return cbus.Delivery{Topic: rec.Topic, Body: rec.Value, Headers: hdrs}
}
