package notification

import (
	"context"
	"fmt"

	berr "github.com/next-trace/scg-edu-bus/contract/errors"
)

type scopeKey struct{}

// NewScope allocates a collector for one logical request and returns a context carrying it.
func NewScope(ctx context.Context) (context.Context, *Collector) {
	c := NewCollector()
	return context.WithValue(ctx, scopeKey{}, c), c
}

// FromContext returns the collector of the current scope, or nil outside a scope.
func FromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(scopeKey{}).(*Collector)
	return c
}

// OperationValid reports whether the current scope collected no notification.
// Outside a scope nothing can have been collected, so it reports true.
func OperationValid(ctx context.Context) bool {
	c := FromContext(ctx)
	return c == nil || !c.HasNotifications()
}

// ScopedHandler routes each notification to the collector of the scope it was published in.
type ScopedHandler struct{}

// Handle appends n to the scope collector; publishing outside a scope is a wiring error.
func (ScopedHandler) Handle(ctx context.Context, n Notification) error {
	c := FromContext(ctx)
	if c == nil {
		return fmt.Errorf("notification %s/%s: %w", n.Key, n.ID, berr.ErrNoNotificationScope)
	}

	return c.Handle(ctx, n)
}
