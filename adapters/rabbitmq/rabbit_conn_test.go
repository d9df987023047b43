package rabbitmq_test

import (
	"context"
	"errors"
	"testing"

	"github.com/next-trace/scg-edu-bus/adapters/rabbitmq"
	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	berr "github.com/next-trace/scg-edu-bus/contract/errors"
)

func TestNew_EmptyURL(t *testing.T) {
	_, err := rabbitmq.New(rabbitmq.Config{URL: "", ConnTimeout: 0})
	if err == nil {
		t.Fatalf("expected error for empty URL")
	}

	if !errors.Is(err, berr.ErrConfigurationInvalid) {
		t.Fatalf("want ErrConfigurationInvalid, got %v", err)
	}
}

func TestConnect_DeclaresExchangeAndQos(t *testing.T) {
	tr, b := newConnected(t)

	if !tr.IsConnected() {
		t.Fatalf("want connected")
	}

	if len(b.ch.exchanges) != 1 || b.ch.exchanges[0] != "integration/topic" {
		t.Fatalf("exchanges=%v", b.ch.exchanges)
	}

	if b.ch.qos != 4 {
		t.Fatalf("qos=%d", b.ch.qos)
	}

	// already connected: no second dial
	_ = tr.Connect(t.Context())
	if b.dials != 1 {
		t.Fatalf("dials=%d", b.dials)
	}
}

func TestConnect_DialErrorIsReturned(t *testing.T) {
	dialErr := errors.New("refused")
	tr, _ := rabbitmq.New(rabbitmq.Config{URL: "amqp://x"}, rabbitmq.WithDialer(
		func(ctx context.Context, cfg rabbitmq.Config) (*rabbitmq.Session, error) { return nil, dialErr },
	))

	if err := tr.Connect(t.Context()); !errors.Is(err, dialErr) {
		t.Fatalf("want dial error, got %v", err)
	}

	if tr.IsConnected() {
		t.Fatalf("must stay disconnected")
	}
}

func TestConnectionLoss_ResubscribesOnReconnect(t *testing.T) {
	tr, b := newConnected(t)

	_, err := tr.Subscribe(t.Context(), "payments.payment_confirmed", "enrollment", func(ctx context.Context, d cbus.Delivery) error { return nil })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b.drop()
	waitFor(t, "disconnect", func() bool { return !tr.IsConnected() })

	if err := tr.Connect(t.Context()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	if n := b.ch.consumeCount(rabbitmq.QueueName("enrollment", "payments.payment_confirmed")); n != 2 {
		t.Fatalf("want consumer restarted, consume calls=%d", n)
	}
}

func TestClose_IsIdempotentAndFinal(t *testing.T) {
	tr, _ := newConnected(t)

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if err := tr.Connect(t.Context()); !errors.Is(err, berr.ErrTransportClosed) {
		t.Fatalf("want ErrTransportClosed, got %v", err)
	}
}
