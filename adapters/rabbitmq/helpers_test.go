package rabbitmq_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/next-trace/scg-edu-bus/adapters/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu        sync.Mutex
	exchanges []string
	queues    map[string]bool
	binds     map[string]string
	qos       int
	consumers map[string]chan amqp.Delivery
	consumed  map[string]int
	published []published
	canceled  []string
	onPublish func(p published)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		queues:    map[string]bool{},
		binds:     map[string]string{},
		consumers: map[string]chan amqp.Delivery{},
		consumed:  map[string]int{},
	}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.exchanges = append(f.exchanges, name+"/"+kind)

	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queues[name] = durable

	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.binds[name] = exchange + "/" + key

	return nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.qos = prefetchCount

	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan amqp.Delivery, 8)
	f.consumers[queue] = ch
	f.consumed[queue]++

	return ch, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	p := published{exchange: exchange, key: key, msg: msg}

	f.mu.Lock()
	f.published = append(f.published, p)
	hook := f.onPublish
	f.mu.Unlock()

	if hook != nil {
		hook(p)
	}

	return nil
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.canceled = append(f.canceled, consumer)

	return nil
}

func (f *fakeChannel) push(queue string, d amqp.Delivery) {
	f.mu.Lock()
	ch := f.consumers[queue]
	f.mu.Unlock()

	ch <- d
}

func (f *fakeChannel) publishes() []published {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]published(nil), f.published...)
}

func (f *fakeChannel) consumeCount(queue string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.consumed[queue]
}

type fakeAck struct {
	mu       sync.Mutex
	acks     int
	nacks    int
	requeues int
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.acks++

	return nil
}

func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nacks++
	if requeue {
		a.requeues++
	}

	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

func (a *fakeAck) counts() (int, int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.acks, a.nacks, a.requeues
}

// fakeBroker hands out sessions over one shared fake channel and lets tests drop them.
type fakeBroker struct {
	mu     sync.Mutex
	ch     *fakeChannel
	dials  int
	closes []chan *amqp.Error
}

func (b *fakeBroker) dial(ctx context.Context, cfg rabbitmq.Config) (*rabbitmq.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	closed := make(chan *amqp.Error, 1)
	b.closes = append(b.closes, closed)

	return &rabbitmq.Session{Channel: b.ch, Closed: closed, Close: func() error { return nil }}, nil
}

func (b *fakeBroker) drop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closes[len(b.closes)-1] <- &amqp.Error{Code: 320, Reason: "CONNECTION_FORCED"}
}

func newConnected(t *testing.T) (*rabbitmq.Transport, *fakeBroker) {
	t.Helper()

	b := &fakeBroker{ch: newFakeChannel()}

	tr, err := rabbitmq.New(rabbitmq.Config{URL: "amqp://fake", Prefetch: 4}, rabbitmq.WithDialer(b.dial))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	t.Cleanup(func() { _ = tr.Close() })

	if err := tr.Connect(t.Context()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	return tr, b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", what)
}
