// Command enrollment-worker hosts the enrollment service: it answers UserRegistered requests,
// consumes PaymentConfirmed events and exposes health endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/next-trace/scg-edu-bus/adapters/otelprop"
	"github.com/next-trace/scg-edu-bus/config"
	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	"github.com/next-trace/scg-edu-bus/internal/enrollment"
	"github.com/next-trace/scg-edu-bus/messagebus"
	"github.com/next-trace/scg-edu-bus/servicebus"
)

func main() {
	path := flag.String("config", "configs/default.yaml", "path to the YAML configuration")
	flag.Parse()

	if err := run(context.Background(), *path); err != nil {
		slog.Error("enrollment worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()})).
		With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := enrollment.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	store := enrollment.NewGormStore(db)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	transport, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}

	client, err := messagebus.New(ctx, transport, cfg.Bus(),
		messagebus.WithLogger(logger),
		messagebus.WithPropagator(otelprop.Global()),
	)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	bus := servicebus.NewWithScopedNotifications(client, logger,
		servicebus.WithCommandMiddleware(servicebus.LogCommands(logger)),
	)

	if err := enrollment.NewService(bus, store, logger).Register(); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	responder, err := enrollment.NewRegistrationResponder(client, bus, logger).Register(ctx)
	if err != nil {
		return fmt.Errorf("register responder: %w", err)
	}
	defer func() { _ = responder.Unsubscribe() }()

	payments := enrollment.NewPaymentConsumer(client, bus, cbus.SubscribeOptions{
		SubscriptionID: cfg.SubscriptionID,
		Buffer:         cfg.IngressBuffer,
		Workers:        cfg.IngressWorkers,
	}, logger)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           newRouter(client, db),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)

	consumeCtx, stopConsuming := context.WithCancel(ctx)
	defer stopConsuming()

	consumed := make(chan struct{})

	go func() {
		defer close(consumed)

		if err := payments.Run(consumeCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("payment consumer: %w", err)
		}
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.InfoContext(ctx, "enrollment worker started",
		"bus", cfg.BusKind,
		"subscription", cfg.SubscriptionID,
		"http_port", cfg.HTTPPort,
	)

	var runErr error

	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.ErrorContext(ctx, "runtime failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)

	// the consumer finishes accepted deliveries before the deferred client.Close runs
	stopConsuming()
	<-consumed

	return runErr
}
