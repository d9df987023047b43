package redis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/next-trace/scg-edu-bus/adapters/redis"
	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	berr "github.com/next-trace/scg-edu-bus/contract/errors"
)

func newTransport(t *testing.T) (*redis.Transport, *miniredis.Miniredis) {
	t.Helper()

	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	t.Cleanup(m.Close)

	tr, err := redis.New(redis.Config{URL: "redis://" + m.Addr(), Block: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	t.Cleanup(func() { _ = tr.Close() })

	if err := tr.Connect(t.Context()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	return tr, m
}

func TestConnect_URLForms(t *testing.T) {
	rc, err := redis.Connect("redis://localhost:6380/2")
	if err != nil {
		t.Fatalf("url: %v", err)
	}

	if rc.Options().Addr != "localhost:6380" || rc.Options().DB != 2 {
		t.Fatalf("options=%+v", rc.Options())
	}

	_ = rc.Close()

	rc, err = redis.Connect("cache:6379")
	if err != nil || rc.Options().Addr != "cache:6379" {
		t.Fatalf("host:port: %v", err)
	}

	_ = rc.Close()

	if _, err := redis.New(redis.Config{}); !errors.Is(err, berr.ErrConfigurationInvalid) {
		t.Fatalf("want ErrConfigurationInvalid, got %v", err)
	}
}

func TestRedis_PublishSubscribeGroups(t *testing.T) {
	tr, _ := newTransport(t)

	var mu sync.Mutex

	got := map[string][]cbus.Delivery{}
	handler := func(name string) cbus.DeliveryHandler {
		return func(ctx context.Context, d cbus.Delivery) error {
			mu.Lock()
			got[name] = append(got[name], d)
			mu.Unlock()

			return nil
		}
	}

	if _, err := tr.Subscribe(t.Context(), "payments.payment_confirmed", "enrollment", handler("enrollment")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := tr.Subscribe(t.Context(), "payments.payment_confirmed", "audit", handler("audit")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	env := cbus.Envelope{Topic: "payments.payment_confirmed", Key: "s1", Body: []byte(`{"paymentId":"p1"}`), Headers: map[string]string{"message-id": "m1"}}
	if err := tr.Publish(t.Context(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got["enrollment"]) + len(got["audit"])
		mu.Unlock()

		if n == 2 {
			break
		}

		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(got["enrollment"]) != 1 || len(got["audit"]) != 1 {
		t.Fatalf("every group must get one copy: %v", got)
	}

	d := got["enrollment"][0]
	if string(d.Body) != `{"paymentId":"p1"}` || d.Headers["message-id"] != "m1" || d.Headers["key"] != "s1" {
		t.Fatalf("delivery=%+v", d)
	}
}

func TestRedis_FailedDeliveryStaysPending(t *testing.T) {
	tr, m := newTransport(t)

	done := make(chan struct{}, 1)

	_, err := tr.Subscribe(t.Context(), "t", "g", func(ctx context.Context, d cbus.Delivery) error {
		done <- struct{}{}
		return errors.New("nope")
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = tr.Publish(t.Context(), cbus.Envelope{Topic: "t", Body: []byte("x")})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("no delivery")
	}

	rc := goredis.NewClient(&goredis.Options{Addr: m.Addr()})
	defer rc.Close()

	// give the loop a moment to decide not to ack
	time.Sleep(50 * time.Millisecond)

	pending, err := rc.XPending(t.Context(), "bus:stream:t", "g").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}

	if pending.Count != 1 {
		t.Fatalf("pending=%d", pending.Count)
	}
}

func TestRedis_RequestRespond(t *testing.T) {
	tr, _ := newTransport(t)

	_, err := tr.Respond(t.Context(), "identity.user_registered", func(ctx context.Context, d cbus.Delivery) ([]byte, error) {
		return append([]byte("ok:"), d.Body...), nil
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	body, err := tr.Request(ctx, cbus.Envelope{Topic: "identity.user_registered", Body: []byte("u1")})
	if err != nil || string(body) != "ok:u1" {
		t.Fatalf("body=%q err=%v", body, err)
	}
}

func TestRedis_RequestWithoutResponderHonorsContext(t *testing.T) {
	tr, _ := newTransport(t)

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Millisecond)
	defer cancel()

	if _, err := tr.Request(ctx, cbus.Envelope{Topic: "nobody"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestRedis_ServerDownMarksDisconnected(t *testing.T) {
	tr, m := newTransport(t)

	m.Close()

	if err := tr.Publish(t.Context(), cbus.Envelope{Topic: "t"}); err == nil {
		t.Fatalf("publish must fail with the server gone")
	}

	if tr.IsConnected() {
		t.Fatalf("failure must mark the transport disconnected")
	}

	if err := tr.Connect(t.Context()); err == nil {
		t.Fatalf("connect must fail while the server is down")
	}

	if err := tr.Publish(t.Context(), cbus.Envelope{Topic: "t"}); !errors.Is(err, berr.ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
}
