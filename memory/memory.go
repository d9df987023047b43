// Package memory wires a dispatcher, a message bus client and the in-memory transport
// into one process-local stack for tests and local runs.
package memory

import (
	"context"
	"log/slog"

	"github.com/next-trace/scg-edu-bus/adapters/inmemory"
	"github.com/next-trace/scg-edu-bus/messagebus"
	"github.com/next-trace/scg-edu-bus/servicebus"
)

// Stack is a fully wired in-process bus.
type Stack struct {
	Bus       *servicebus.Bus
	Client    *messagebus.Client
	Transport *inmemory.Transport
}

// New constructs the stack with scoped notifications bound and returns a cleanup that closes
// the client. cfg zero values fall back to messagebus.DefaultConfig.
func New(ctx context.Context, logger *slog.Logger, cfg messagebus.Config, opts ...servicebus.BusOption) (*Stack, func(), error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	tr := inmemory.New()

	client, err := messagebus.New(ctx, tr, cfg, messagebus.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	s := &Stack{
		Bus:       servicebus.NewWithScopedNotifications(client, logger, opts...),
		Client:    client,
		Transport: tr,
	}
	cleanup := func() { _ = client.Close() }

	return s, cleanup, nil
}
