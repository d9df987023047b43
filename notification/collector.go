package notification

import (
	"context"
	"sync"

	"github.com/next-trace/scg-edu-bus/contract/result"
)

// Collector accumulates notifications in publish order.
type Collector struct {
	mu    sync.Mutex
	items []Notification
}

// NewCollector returns an empty collector. Prefer NewScope, which also binds it to a context.
func NewCollector() *Collector { return &Collector{} }

// Handle appends n. It satisfies bus.NotificationHandler[Notification].
func (c *Collector) Handle(_ context.Context, n Notification) error {
	c.mu.Lock()
	c.items = append(c.items, n)
	c.mu.Unlock()

	return nil
}

// HasNotifications reports whether anything was collected.
func (c *Collector) HasNotifications() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items) > 0
}

// Messages returns the collected values in insertion order. Each call reflects current state.
func (c *Collector) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.items))
	for _, n := range c.items {
		out = append(out, n.Value)
	}

	return out
}

// Notifications returns a copy of the collected notifications.
func (c *Collector) Notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Notification(nil), c.items...)
}

// Validation converts the collected notifications into a validation result keyed by Notification.Key.
func (c *Collector) Validation() result.ValidationResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var vr result.ValidationResult
	for _, n := range c.items {
		vr.Add(n.Key, n.Value)
	}

	return vr
}

// Clear empties the collector.
func (c *Collector) Clear() {
	c.mu.Lock()
	c.items = nil
	c.mu.Unlock()
}
