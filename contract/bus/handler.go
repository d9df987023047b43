package bus

import "context"

// CommandHandler handles commands of type C.
// Validation and domain failures are written to c.Result(); the returned error is reserved
// for infrastructure failures and reaches the caller unmodified.
// Implementations must be safe for concurrent use by multiple goroutines.
type CommandHandler[C Command] interface {
	Handle(ctx context.Context, c C) error
}

// NotificationHandler handles notifications of type N. Multiple handlers may be bound per type.
type NotificationHandler[N Notification] interface {
	Handle(ctx context.Context, n N) error
}
