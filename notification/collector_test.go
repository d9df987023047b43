package notification_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	berr "github.com/next-trace/scg-edu-bus/contract/errors"
	"github.com/next-trace/scg-edu-bus/notification"
)

func TestCollector_OrderAndClear(t *testing.T) {
	c := notification.NewCollector()
	agg := uuid.New()

	const n = 5
	for i := 0; i < n; i++ {
		_ = c.Handle(t.Context(), notification.New(agg, "Key", fmt.Sprintf("m%d", i)))
	}

	msgs := c.Messages()
	if len(msgs) != n {
		t.Fatalf("want %d messages, got %d", n, len(msgs))
	}

	for i, m := range msgs {
		if m != fmt.Sprintf("m%d", i) {
			t.Fatalf("order broken at %d: %v", i, msgs)
		}
	}

	// re-reading returns current state, not a drained sequence
	if len(c.Messages()) != n {
		t.Fatalf("messages must be re-readable")
	}

	c.Clear()

	if c.HasNotifications() {
		t.Fatalf("expected no notifications after Clear")
	}

	if len(c.Messages()) != 0 {
		t.Fatalf("expected empty messages after Clear")
	}
}

func TestCollector_Validation(t *testing.T) {
	c := notification.NewCollector()
	_ = c.Handle(t.Context(), notification.New(uuid.New(), "Student", "student not found"))

	vr := c.Validation()
	if vr.IsValid() || vr.Errors[0].Key != "Student" {
		t.Fatalf("vr=%+v", vr)
	}
}

func TestScope_IsolatedPerRequest(t *testing.T) {
	var wg sync.WaitGroup

	scopes := make([]*notification.Collector, 20)

	for i := range scopes {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			ctx, c := notification.NewScope(context.Background())
			scopes[i] = c

			_ = notification.ScopedHandler{}.Handle(ctx, notification.New(uuid.New(), "Req", fmt.Sprintf("r%d", i)))
		}(i)
	}

	wg.Wait()

	for i, c := range scopes {
		msgs := c.Messages()
		if len(msgs) != 1 || msgs[0] != fmt.Sprintf("r%d", i) {
			t.Fatalf("scope %d leaked: %v", i, msgs)
		}
	}
}

func TestScopedHandler_NoScope(t *testing.T) {
	err := notification.ScopedHandler{}.Handle(t.Context(), notification.New(uuid.New(), "K", "v"))
	if !errors.Is(err, berr.ErrNoNotificationScope) {
		t.Fatalf("want ErrNoNotificationScope, got %v", err)
	}

	if !notification.OperationValid(t.Context()) {
		t.Fatalf("no scope means nothing collected")
	}

	ctx, c := notification.NewScope(t.Context())
	_ = c.Handle(ctx, notification.New(uuid.New(), "K", "v"))

	if notification.OperationValid(ctx) {
		t.Fatalf("expected invalid operation after a notification")
	}

	if notification.FromContext(ctx) != c {
		t.Fatalf("FromContext must return the scope collector")
	}
}
