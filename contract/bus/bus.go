package bus

import (
	"context"

	"github.com/next-trace/scg-edu-bus/contract/result"
)

// Dispatcher is the tech-agnostic surface callers (HTTP layer, ingress) depend on.
// Typed bindings remain available via generic helpers in the servicebus package.
type Dispatcher interface {
	// Send dispatches cmd and returns only its validation outcome.
	Send(ctx context.Context, cmd Command) (result.ValidationResult, error)
	// Execute dispatches cmd and returns its full envelope.
	Execute(ctx context.Context, cmd Command) (*result.CommandResult, error)
	// Publish delivers n to every bound notification handler before returning.
	Publish(ctx context.Context, n Notification) error
}
