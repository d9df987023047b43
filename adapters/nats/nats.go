package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	berr "github.com/next-trace/scg-edu-bus/contract/errors"
)

const defaultResponderQueue = "responders"

type Option func(*Transport)

// WithDialer replaces the nats dialer, mainly for tests.
func WithDialer(d Dialer) Option { return func(t *Transport) { t.dial = d } }

func WithLogger(l *slog.Logger) Option { return func(t *Transport) { t.logger = l } }

// Transport maps the message bus onto core NATS: topics are subjects, subscription ids are
// queue groups and requests use the nats request/reply inbox. Core NATS keeps no backlog, so a
// failed delivery is logged and not redelivered.
type Transport struct {
	cfg    Config
	dial   Dialer
	logger *slog.Logger

	mu     sync.Mutex
	conn   Conn
	closed bool
	subs   map[uint64]*sub
	nextID uint64
}

type sub struct {
	subject string
	queue   string
	cb      nats.MsgHandler
	live    Unsubscriber
}

var _ cbus.Transport = (*Transport)(nil)

// New validates cfg and returns a disconnected transport.
func New(cfg Config, opts ...Option) (*Transport, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	if cfg.ResponderQueue == "" {
		cfg.ResponderQueue = defaultResponderQueue
	}

	t := &Transport{cfg: cfg, dial: dialNATS, subs: make(map[uint64]*sub)}
	for _, o := range opts {
		o(t)
	}

	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}

	return t, nil
}

// Connect dials when there is no live connection and re-registers every subscription on it.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return berr.ErrTransportClosed
	}

	if t.conn != nil && t.conn.IsConnected() {
		return nil
	}

	nc, err := t.dial(ctx, t.cfg)
	if err != nil {
		return err
	}

	if t.conn != nil {
		t.conn.Close()
	}

	t.conn = nc

	for _, s := range t.subs {
		live, err := nc.QueueSubscribe(s.subject, s.queue, s.cb)
		if err != nil {
			t.logger.Error("nats resubscribe failed",
				"module", "nats",
				"subject", s.subject,
				"queue", s.queue,
				"error", err,
			)

			continue
		}

		s.live = live
	}

	return nil
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil && t.conn.IsConnected()
}

func (t *Transport) live() (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || !t.conn.IsConnected() {
		return nil, berr.ErrNotConnected
	}

	return t.conn, nil
}

func (t *Transport) Publish(ctx context.Context, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	nc, err := t.live()
	if err != nil {
		return err
	}

	return nc.Publish(ctx, toMsg(env.Topic, env.Body, env.Headers))
}

func (t *Transport) Subscribe(_ context.Context, topic, subscriptionID string, h cbus.DeliveryHandler) (cbus.Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("nats subscribe %s: nil handler", topic)
	}

	cb := func(m *nats.Msg) {
		if err := h(context.Background(), fromMsg(m)); err != nil {
			t.logger.Warn("nats delivery failed; not redelivered",
				"module", "nats",
				"subject", m.Subject,
				"queue", subscriptionID,
				"error", err,
			)
		}
	}

	return t.add(topic, subscriptionID, cb)
}

func (t *Transport) Respond(_ context.Context, topic string, fn cbus.Responder) (cbus.Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("nats respond %s: nil responder", topic)
	}

	cb := func(m *nats.Msg) {
		body, err := fn(context.Background(), fromMsg(m))
		if err != nil {
			t.logger.Warn("nats responder failed; request dropped",
				"module", "nats",
				"subject", m.Subject,
				"error", err,
			)

			return
		}

		if m.Reply == "" {
			return
		}

		nc, err := t.live()
		if err == nil {
			err = nc.Publish(context.Background(), &nats.Msg{Subject: m.Reply, Data: body})
		}

		if err != nil {
			t.logger.Error("nats reply failed", "module", "nats", "subject", m.Subject, "error", err)
		}
	}

	return t.add(topic, t.cfg.ResponderQueue, cb)
}

func (t *Transport) add(subject, queue string, cb nats.MsgHandler) (cbus.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || !t.conn.IsConnected() {
		return nil, berr.ErrNotConnected
	}

	live, err := t.conn.QueueSubscribe(subject, queue, cb)
	if err != nil {
		return nil, err
	}

	t.nextID++
	t.subs[t.nextID] = &sub{subject: subject, queue: queue, cb: cb, live: live}

	return &subscription{t: t, id: t.nextID}, nil
}

// Request sends env on the nats request/reply inbox and returns the reply body.
func (t *Transport) Request(ctx context.Context, env cbus.Envelope) ([]byte, error) {
	nc, err := t.live()
	if err != nil {
		return nil, err
	}

	reply, err := nc.Request(ctx, toMsg(env.Topic, env.Body, env.Headers))
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("nats request %s: %w", env.Topic, err)
		}

		return nil, err
	}

	return reply.Data, nil
}

// Close drains and closes the connection. It is idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true
	t.subs = map[uint64]*sub{}

	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}

	return nil
}

type subscription struct {
	t  *Transport
	id uint64
}

func (s *subscription) Unsubscribe() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()

	entry, ok := s.t.subs[s.id]
	if !ok {
		return nil
	}

	delete(s.t.subs, s.id)

	if entry.live == nil {
		return nil
	}

	return entry.live.Unsubscribe()
}

func toMsg(subject string, body []byte, headers map[string]string) *nats.Msg {
	msg := &nats.Msg{Subject: subject, Data: body}

	if len(headers) > 0 {
		h := nats.Header{}
		for k, v := range headers {
			h[k] = []string{v}
		}

		msg.Header = h
	}

	return msg
}

func fromMsg(m *nats.Msg) cbus.Delivery {
	hdrs := make(map[string]string, len(m.Header))
	for k, v := range m.Header {
		if len(v) > 0 {
			hdrs[k] = v[0]
		}
	}

	return cbus.Delivery{Topic: m.Subject, Body: m.Data, Headers: hdrs}
}
