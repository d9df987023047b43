package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	berr "github.com/next-trace/scg-edu-bus/contract/errors"
)

// ErrUnreachable is returned by Connect while the simulated broker is down.
var ErrUnreachable = errors.New("inmemory: broker unreachable")

// ErrNoResponder is returned by Request when nothing responds on the topic.
var ErrNoResponder = errors.New("inmemory: no responder")

// Transport is a thread-safe in-process cbus.Transport. Deliveries run synchronously on the
// publisher's goroutine; members of one subscription share deliveries round-robin.
// It records every accepted envelope for tests and examples.
type Transport struct {
	mu         sync.Mutex
	connected  bool
	closed     bool
	groups     map[string]map[string]*group
	responders map[string]*group
	published  []cbus.Envelope

	unreachable atomic.Bool
	connects    atomic.Int64
	failures    atomic.Int64
}

type member struct {
	id      uint64
	deliver cbus.DeliveryHandler
	respond cbus.Responder
}

type group struct {
	members []*member
	next    int
}

func (g *group) pick() *member {
	if len(g.members) == 0 {
		return nil
	}

	m := g.members[g.next%len(g.members)]
	g.next++

	return m
}

var _ cbus.Transport = (*Transport)(nil)

var memberSeq atomic.Uint64

// New creates a new, disconnected in-memory transport.
func New() *Transport {
	return &Transport{
		groups:     make(map[string]map[string]*group),
		responders: make(map[string]*group),
	}
}

// SetUnreachable simulates the broker refusing (true) or accepting (false) connections.
// Going unreachable also drops the current connection.
func (t *Transport) SetUnreachable(down bool) {
	t.unreachable.Store(down)

	if down {
		t.Disconnect()
	}
}

// Disconnect simulates a detected transport failure.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
}

// ConnectAttempts returns how many times Connect was called.
func (t *Transport) ConnectAttempts() int { return int(t.connects.Load()) }

// HandlerFailures returns how many deliveries returned an error.
func (t *Transport) HandlerFailures() int { return int(t.failures.Load()) }

// Subscribers returns how many subscription ids are bound to topic.
func (t *Transport) Subscribers(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, g := range t.groups[topic] {
		if len(g.members) > 0 {
			n++
		}
	}

	return n
}

// Published returns a copy of every envelope accepted so far.
func (t *Transport) Published() []cbus.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]cbus.Envelope(nil), t.published...)
}

func (t *Transport) Connect(ctx context.Context) error {
	t.connects.Add(1)

	if err := ctx.Err(); err != nil {
		return err
	}

	if t.unreachable.Load() {
		return ErrUnreachable
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return berr.ErrTransportClosed
	}

	t.connected = true

	return nil
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connected && !t.closed
}

func (t *Transport) ready() error {
	if !t.connected || t.closed {
		return berr.ErrNotConnected
	}

	return nil
}

func (t *Transport) Publish(ctx context.Context, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	if err := t.ready(); err != nil {
		t.mu.Unlock()
		return err
	}

	t.published = append(t.published, env)

	targets := make([]*member, 0, len(t.groups[env.Topic]))
	for _, g := range t.groups[env.Topic] {
		if m := g.pick(); m != nil {
			targets = append(targets, m)
		}
	}
	t.mu.Unlock()

	d := cbus.Delivery{Topic: env.Topic, Body: env.Body, Headers: env.Headers}
	for _, m := range targets {
		if err := m.deliver(ctx, d); err != nil {
			t.failures.Add(1)
		}
	}

	return nil
}

func (t *Transport) Subscribe(_ context.Context, topic, subscriptionID string, h cbus.DeliveryHandler) (cbus.Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("inmemory subscribe %s: nil handler", topic)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return nil, err
	}

	byID, ok := t.groups[topic]
	if !ok {
		byID = make(map[string]*group)
		t.groups[topic] = byID
	}

	g, ok := byID[subscriptionID]
	if !ok {
		g = &group{}
		byID[subscriptionID] = g
	}

	m := &member{id: memberSeq.Add(1), deliver: h}
	g.members = append(g.members, m)

	return &subscription{t: t, g: g, id: m.id}, nil
}

func (t *Transport) Request(ctx context.Context, env cbus.Envelope) ([]byte, error) {
	t.mu.Lock()
	if err := t.ready(); err != nil {
		t.mu.Unlock()
		return nil, err
	}

	t.published = append(t.published, env)

	var m *member
	if g, ok := t.responders[env.Topic]; ok {
		m = g.pick()
	}
	t.mu.Unlock()

	if m == nil {
		return nil, fmt.Errorf("%w on %s", ErrNoResponder, env.Topic)
	}

	return m.respond(ctx, cbus.Delivery{Topic: env.Topic, Body: env.Body, Headers: env.Headers})
}

func (t *Transport) Respond(_ context.Context, topic string, fn cbus.Responder) (cbus.Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("inmemory respond %s: nil responder", topic)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return nil, err
	}

	g, ok := t.responders[topic]
	if !ok {
		g = &group{}
		t.responders[topic] = g
	}

	m := &member{id: memberSeq.Add(1), respond: fn}
	g.members = append(g.members, m)

	return &subscription{t: t, g: g, id: m.id}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.connected = false

	return nil
}

type subscription struct {
	t  *Transport
	g  *group
	id uint64
}

func (s *subscription) Unsubscribe() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()

	for i, m := range s.g.members {
		if m.id == s.id {
			s.g.members = append(s.g.members[:i], s.g.members[i+1:]...)
			break
		}
	}

	return nil
}
