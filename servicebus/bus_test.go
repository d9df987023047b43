package servicebus_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	berr "github.com/next-trace/scg-edu-bus/contract/errors"
	"github.com/next-trace/scg-edu-bus/notification"
	"github.com/next-trace/scg-edu-bus/servicebus"
)

type createCourse struct {
	cbus.BaseCommand
	Title string
}

func newCreateCourse(title string) *createCourse {
	return &createCourse{BaseCommand: cbus.NewBaseCommand(uuid.New()), Title: title}
}

type archiveCourse struct {
	cbus.BaseCommand
}

type courseHandler struct {
	created []string
}

func (h *courseHandler) Handle(ctx context.Context, c *createCourse) error {
	if c.Title == "" {
		c.Result().Fail("Title", "title is required")
		return nil
	}

	h.created = append(h.created, c.Title)
	c.Result().Succeed(c.AggregateRoot())

	return nil
}

type testOut struct{ T string }

func (o testOut) Topic() string { return o.T }

type fakePub struct {
	events []cbus.IntegrationEvent
	opts   []cbus.PublishOptions
}

func (f *fakePub) PublishIntegration(ctx context.Context, e cbus.IntegrationEvent, opts cbus.PublishOptions) error {
	f.events = append(f.events, e)
	f.opts = append(f.opts, opts)

	return nil
}

func Test_BindAndErrors(t *testing.T) {
	b := servicebus.New(nil, nil)
	if err := servicebus.BindCommand[*createCourse](b, &courseHandler{}); err != nil {
		t.Fatalf("bind cmd: %v", err)
	}

	err := servicebus.BindCommand[*createCourse](b, &courseHandler{})
	if !errors.Is(err, berr.ErrHandlerExists) {
		t.Fatalf("want ErrHandlerExists, got %v", err)
	}

	err = b.BindCommandOf((*createCourse)(nil), func(ctx context.Context, c cbus.Command) error { return nil })
	if !errors.Is(err, berr.ErrHandlerExists) {
		t.Fatalf("untyped bind must also reject duplicates, got %v", err)
	}

	cmd := &archiveCourse{BaseCommand: cbus.NewBaseCommand(uuid.New())}
	if _, err := b.Execute(t.Context(), cmd); !errors.Is(err, berr.ErrHandlerNotFound) {
		t.Fatalf("want ErrHandlerNotFound, got %v", err)
	}

	if _, err := b.Send(t.Context(), cmd); !errors.Is(err, berr.ErrHandlerNotFound) {
		t.Fatalf("want ErrHandlerNotFound from Send, got %v", err)
	}
}

func Test_Execute_ValidAndInvalid(t *testing.T) {
	b := servicebus.New(nil, nil)
	h := &courseHandler{}
	_ = servicebus.BindCommand[*createCourse](b, h)

	ok := newCreateCourse("Go 101")

	res, err := b.Execute(t.Context(), ok)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if !res.IsValid() || res.Data() != ok.AggregateRoot() {
		t.Fatalf("res valid=%v data=%v", res.IsValid(), res.Data())
	}

	if res != ok.Result() {
		t.Fatalf("execute must return the command's own envelope")
	}

	bad := newCreateCourse("")

	res, err = b.Execute(t.Context(), bad)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if res.IsValid() || res.Data() != nil {
		t.Fatalf("invalid result must not carry data: %v", res.Data())
	}

	vr, err := b.Send(t.Context(), newCreateCourse(""))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if vr.IsValid() || vr.Errors[0].Key != "Title" {
		t.Fatalf("vr=%+v", vr)
	}

	if len(h.created) != 1 {
		t.Fatalf("created=%v", h.created)
	}
}

func Test_HandlerErrorPropagatesUnmodified(t *testing.T) {
	b := servicebus.New(nil, nil)
	boom := errors.New("db down")

	_ = servicebus.BindCommandFunc[*archiveCourse](b, func(ctx context.Context, c *archiveCourse) error {
		return boom
	})

	_, err := b.Execute(t.Context(), &archiveCourse{BaseCommand: cbus.NewBaseCommand(uuid.New())})
	if err != boom { //nolint:errorlint // identity is the contract here
		t.Fatalf("want the handler's error unchanged, got %v", err)
	}
}

func Test_Publish_FansOutToAllHandlers(t *testing.T) {
	b := servicebus.New(nil, nil)
	first := notification.NewCollector()
	second := notification.NewCollector()

	_ = servicebus.BindNotification[notification.Notification](b, first)
	_ = servicebus.BindNotification[notification.Notification](b, second)

	if err := b.Publish(t.Context(), notification.New(uuid.New(), "Student", "student not found")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if !first.HasNotifications() || !second.HasNotifications() {
		t.Fatalf("every handler must run before Publish returns")
	}
}

func Test_ScopedNotifications_OperationValid(t *testing.T) {
	b := servicebus.NewWithScopedNotifications(nil, nil)

	_ = servicebus.BindCommandFunc[*createCourse](b, func(ctx context.Context, c *createCourse) error {
		// the command itself is fine but a referenced aggregate is missing
		return b.Notify(ctx, c, "Instructor", "instructor not found")
	})

	ctx, scope := notification.NewScope(t.Context())

	res, err := b.Execute(ctx, newCreateCourse("Go 101"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if !res.IsValid() {
		t.Fatalf("command envelope itself stays valid")
	}

	if servicebus.OperationValid(ctx, res) {
		t.Fatalf("operation must be invalid once the scope collected a notification")
	}

	if got := scope.Messages(); len(got) != 1 || got[0] != "instructor not found" {
		t.Fatalf("scope=%v", got)
	}

	// a different request scope sees nothing
	other, _ := notification.NewScope(t.Context())
	if !servicebus.OperationValid(other, newCreateCourse("x").Result()) {
		t.Fatalf("scopes must not leak")
	}

	// publishing outside any scope is a wiring error
	if err := b.Notify(t.Context(), newCreateCourse("x"), "K", "v"); !errors.Is(err, berr.ErrNoNotificationScope) {
		t.Fatalf("want ErrNoNotificationScope, got %v", err)
	}
}

func Test_PublishIntegrationErrors(t *testing.T) {
	b := servicebus.New(nil, nil)

	err := b.PublishIntegration(t.Context(), testOut{T: "orders"}, cbus.PublishOptions{Key: "k"})
	if !errors.Is(err, berr.ErrAsyncNotConfigured) {
		t.Fatalf("want ErrAsyncNotConfigured, got %v", err)
	}

	pub := &fakePub{}

	b = servicebus.New(pub, nil)

	err = b.PublishIntegration(t.Context(), testOut{T: "orders"}, cbus.PublishOptions{Key: "k"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(pub.events) != 1 || pub.opts[0].Key != "k" {
		t.Fatalf("want 1 event, got %d", len(pub.events))
	}
}

func Test_Middleware_OrderAndLogging(t *testing.T) {
	var order []string

	mw := func(name string) servicebus.CommandMiddleware {
		return func(next servicebus.CommandFunc) servicebus.CommandFunc {
			return func(ctx context.Context, c cbus.Command) error {
				order = append(order, name)
				return next(ctx, c)
			}
		}
	}

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	b := servicebus.New(nil, logger, servicebus.WithCommandMiddleware(mw("a"), servicebus.LogCommands(logger), mw("b")))
	_ = servicebus.BindCommand[*createCourse](b, &courseHandler{})

	if _, err := b.ExecuteWithMiddleware(t.Context(), newCreateCourse(""), mw("c")); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if strings.Join(order, ",") != "a,b,c" {
		t.Fatalf("order=%v", order)
	}

	if !strings.Contains(buf.String(), "outcome=invalid") {
		t.Fatalf("log missing outcome: %s", buf.String())
	}
}

func Test_Chain_StopsAtFirstInvalid(t *testing.T) {
	b := servicebus.New(nil, nil)
	h := &courseHandler{}
	_ = servicebus.BindCommand[*createCourse](b, h)

	out, err := b.Chain(t.Context(), newCreateCourse("A"), newCreateCourse(""), newCreateCourse("C"))
	if err != nil {
		t.Fatalf("chain: %v", err)
	}

	if len(out) != 2 || out[1].IsValid() {
		t.Fatalf("out=%d", len(out))
	}

	if len(h.created) != 1 {
		t.Fatalf("third command must not run, created=%v", h.created)
	}
}

func Test_Publish_UnboundNotificationIsAnError(t *testing.T) {
	b := servicebus.New(nil, nil)

	_ = servicebus.BindCommandFunc[*createCourse](b, func(ctx context.Context, c *createCourse) error {
		return b.Notify(ctx, c, "Instructor", "instructor not found")
	})

	ctx, _ := notification.NewScope(t.Context())

	res, err := b.Execute(ctx, newCreateCourse("Go 101"))
	if !errors.Is(err, berr.ErrHandlerNotFound) {
		t.Fatalf("want ErrHandlerNotFound, got %v", err)
	}

	if res == nil {
		t.Fatal("the command envelope is still returned")
	}
}

func Test_Chain_StopsAtScopeNotification(t *testing.T) {
	b := servicebus.NewWithScopedNotifications(nil, nil)
	h := &courseHandler{}

	_ = servicebus.BindCommand[*createCourse](b, h)
	_ = servicebus.BindCommandFunc[*archiveCourse](b, func(ctx context.Context, c *archiveCourse) error {
		return b.Notify(ctx, c, "Course", "course not found")
	})

	ctx, _ := notification.NewScope(t.Context())

	out, err := b.Chain(ctx, &archiveCourse{BaseCommand: cbus.NewBaseCommand(uuid.New())}, newCreateCourse("A"))
	if err != nil {
		t.Fatalf("chain: %v", err)
	}

	if len(out) != 1 || len(h.created) != 0 {
		t.Fatalf("chain must stop after the notification: ran=%d created=%v", len(out), h.created)
	}
}
