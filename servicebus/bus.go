package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	berr "github.com/next-trace/scg-edu-bus/contract/errors"
	"github.com/next-trace/scg-edu-bus/contract/result"
	"github.com/next-trace/scg-edu-bus/notification"
)

// Bus is a thin in-process mediator with an internal binder.
// It dispatches commands synchronously, fans notifications out to their handlers and
// forwards integration events to the configured publisher.
//
// Bus is concurrency-safe and contains no global state.
type Bus struct {
	mu sync.RWMutex

	cmd   map[reflect.Type]CommandFunc
	notif map[reflect.Type][]func(ctx context.Context, n any) error

	// global command middleware executed in registration order
	cmdMW []CommandMiddleware

	pub    cbus.EventPublisher
	logger *slog.Logger
}

var _ cbus.Dispatcher = (*Bus)(nil)

// CommandFunc is the untyped form of a bound command handler.
type CommandFunc func(ctx context.Context, cmd cbus.Command) error

// CommandMiddleware wraps command handler execution. Middlewares are executed in registration order.
type CommandMiddleware func(next CommandFunc) CommandFunc

// BusOption configures a Bus instance.
type BusOption func(*Bus)

// WithCommandMiddleware registers global command middleware via an option.
func WithCommandMiddleware(mw ...CommandMiddleware) BusOption {
	return func(b *Bus) { b.cmdMW = append(b.cmdMW, mw...) }
}

// New constructs a Bus. pub may be nil when the service never publishes integration events;
// a nil logger discards.
func New(pub cbus.EventPublisher, logger *slog.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	b := &Bus{
		cmd:    make(map[reflect.Type]CommandFunc),
		notif:  make(map[reflect.Type][]func(context.Context, any) error),
		pub:    pub,
		logger: logger,
	}
	for _, o := range opts {
		o(b)
	}

	return b
}

// NewWithScopedNotifications constructs a Bus with notification.ScopedHandler already bound,
// which is the wiring every request-scoped caller needs.
func NewWithScopedNotifications(pub cbus.EventPublisher, logger *slog.Logger, opts ...BusOption) *Bus {
	b := New(pub, logger, opts...)
	_ = BindNotification[notification.Notification](b, notification.ScopedHandler{})

	return b
}

// BindCommandOf registers a handler for the dynamic type of sample.
// Pass a pointer sample (e.g. (*EnrollStudent)(nil)) since commands are dispatched by pointer.
func (b *Bus) BindCommandOf(sample cbus.Command, handler CommandFunc) error {
	return b.bind(reflect.TypeOf(sample), handler)
}

// BindCommand registers a handler for command type C. Duplicate bindings are rejected.
func BindCommand[C cbus.Command](b *Bus, h cbus.CommandHandler[C]) error {
	var zero C

	return b.bind(reflect.TypeOf(zero), func(ctx context.Context, v cbus.Command) error {
		c, ok := v.(C)
		if !ok {
			return fmt.Errorf("dispatch %s: %w", reflect.TypeOf(v).String(), berr.ErrHandlerTypeMismatch)
		}

		return h.Handle(ctx, c)
	})
}

// CommandHandlerFunc adapts a function to cbus.CommandHandler.
type CommandHandlerFunc[C cbus.Command] func(ctx context.Context, c C) error

func (f CommandHandlerFunc[C]) Handle(ctx context.Context, c C) error { return f(ctx, c) }

// BindCommandFunc registers fn as the handler for command type C.
func BindCommandFunc[C cbus.Command](b *Bus, fn func(ctx context.Context, c C) error) error {
	return BindCommand[C](b, CommandHandlerFunc[C](fn))
}

func (b *Bus) bind(t reflect.Type, f CommandFunc) error {
	if t == nil {
		return fmt.Errorf("bind command <nil>: %w", berr.ErrHandlerTypeMismatch)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.cmd[t]; exists {
		return fmt.Errorf("bind command %s: %w", t.String(), berr.ErrHandlerExists)
	}

	b.cmd[t] = f

	return nil
}

// BindNotification registers a notification handler. Multiple handlers are allowed.
func BindNotification[N cbus.Notification](b *Bus, h cbus.NotificationHandler[N]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero N
	t := reflect.TypeOf(zero)
	b.notif[t] = append(b.notif[t], func(ctx context.Context, v any) error {
		n, ok := v.(N)
		if !ok {
			return fmt.Errorf("publish %s: %w", reflect.TypeOf(v).String(), berr.ErrHandlerTypeMismatch)
		}

		return h.Handle(ctx, n)
	})

	return nil
}

// Execute dispatches cmd to its handler and returns the command's own envelope.
// Handler errors are returned unmodified alongside the (partially filled) envelope.
func (b *Bus) Execute(ctx context.Context, cmd cbus.Command) (*result.CommandResult, error) {
	return b.executeWithMiddleware(ctx, cmd)
}

// ExecuteWithMiddleware executes a command with additional per-call middleware.
func (b *Bus) ExecuteWithMiddleware(ctx context.Context, cmd cbus.Command, mws ...CommandMiddleware) (*result.CommandResult, error) {
	return b.executeWithMiddleware(ctx, cmd, mws...)
}

// Send dispatches cmd and returns only its validation outcome.
func (b *Bus) Send(ctx context.Context, cmd cbus.Command) (result.ValidationResult, error) {
	res, err := b.executeWithMiddleware(ctx, cmd)
	if res == nil {
		return result.ValidationResult{}, err
	}

	return res.Validation(), err
}

func (b *Bus) executeWithMiddleware(ctx context.Context, cmd cbus.Command, mws ...CommandMiddleware) (*result.CommandResult, error) {
	if cmd == nil {
		return nil, fmt.Errorf("dispatch <nil>: %w", berr.ErrHandlerNotFound)
	}

	b.mu.RLock()
	f, ok := b.cmd[reflect.TypeOf(cmd)]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("dispatch %s: %w", reflect.TypeOf(cmd).String(), berr.ErrHandlerNotFound)
	}

	// Combine global and per-call middleware
	chain := make([]CommandMiddleware, 0, len(b.cmdMW)+len(mws))
	chain = append(chain, b.cmdMW...)
	chain = append(chain, mws...)

	// Build chain so the first registered middleware runs first
	final := f
	for i := len(chain) - 1; i >= 0; i-- {
		final = chain[i](final)
	}

	err := final(ctx, cmd)

	return cmd.Result(), err
}

// Publish delivers n to all handlers bound to its type and returns once every handler ran.
// An unbound notification type is reported as ErrHandlerNotFound.
// All errors are aggregated with errors.Join and returned.
func (b *Bus) Publish(ctx context.Context, n cbus.Notification) error {
	b.mu.RLock()
	handlers := append([]func(context.Context, any) error(nil), b.notif[reflect.TypeOf(n)]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return fmt.Errorf("publish %T: %w", n, berr.ErrHandlerNotFound)
	}

	var errs []error

	for _, h := range handlers {
		if err := h(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Notify publishes a notification.Notification built from the arguments.
func (b *Bus) Notify(ctx context.Context, cmd cbus.Command, key, message string) error {
	return b.Publish(ctx, notification.New(cmd.AggregateRoot(), key, message))
}

// PublishIntegration publishes an integration event via the configured EventPublisher.
func (b *Bus) PublishIntegration(ctx context.Context, e cbus.IntegrationEvent, opts cbus.PublishOptions) error {
	if b.pub == nil {
		return fmt.Errorf("publish integration %T: %w", e, berr.ErrAsyncNotConfigured)
	}

	if err := b.pub.PublishIntegration(ctx, e, opts); err != nil {
		b.logger.ErrorContext(ctx, "integration event not published",
			"module", "servicebus",
			"operation", "publish_integration",
			"event", fmt.Sprintf("%T", e),
			"topic", e.Topic(),
			"error", err,
		)

		return err
	}

	return nil
}

// OperationValid reports whether both the command envelope and the request scope are free of failures.
func OperationValid(ctx context.Context, res *result.CommandResult) bool {
	if res != nil && !res.IsValid() {
		return false
	}

	return notification.OperationValid(ctx)
}

// Chain executes commands in order and stops at the first error, invalid envelope or
// notification raised in ctx's scope. It returns the envelopes of the commands that ran.
func (b *Bus) Chain(ctx context.Context, cmds ...cbus.Command) ([]*result.CommandResult, error) {
	out := make([]*result.CommandResult, 0, len(cmds))

	for _, c := range cmds {
		res, err := b.executeWithMiddleware(ctx, c)
		if res != nil {
			out = append(out, res)
		}

		if err != nil {
			return out, err
		}

		if !OperationValid(ctx, res) {
			return out, nil
		}
	}

	return out, nil
}

// LogCommands returns middleware that logs each dispatch and its outcome at debug level.
func LogCommands(logger *slog.Logger) CommandMiddleware {
	return func(next CommandFunc) CommandFunc {
		return func(ctx context.Context, cmd cbus.Command) error {
			name := fmt.Sprintf("%T", cmd)
			logger.DebugContext(ctx, "command dispatch started",
				"module", "servicebus",
				"command", name,
				"aggregate_root", cmd.AggregateRoot(),
			)

			err := next(ctx, cmd)

			outcome := "success"
			if err != nil {
				outcome = "error"
			} else if !cmd.Result().IsValid() {
				outcome = "invalid"
			}

			logger.DebugContext(ctx, "command dispatch finished",
				"module", "servicebus",
				"command", name,
				"outcome", outcome,
				"error", err,
			)

			return err
		}
	}
}
