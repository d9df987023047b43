package main

import (
	"fmt"
	"log/slog"

	"github.com/next-trace/scg-edu-bus/adapters/inmemory"
	"github.com/next-trace/scg-edu-bus/adapters/kafka"
	"github.com/next-trace/scg-edu-bus/adapters/nats"
	"github.com/next-trace/scg-edu-bus/adapters/rabbitmq"
	"github.com/next-trace/scg-edu-bus/adapters/redis"
	"github.com/next-trace/scg-edu-bus/config"
	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	berr "github.com/next-trace/scg-edu-bus/contract/errors"
)

// newTransport builds the broker transport selected by cfg.BusKind.
func newTransport(cfg config.Config, logger *slog.Logger) (cbus.Transport, error) { //nolint:ireturn
	switch cfg.BusKind {
	case config.KindInMemory:
		return inmemory.New(), nil
	case config.KindRabbitMQ:
		return transport(rabbitmq.New(rabbitmq.Config{URL: cfg.BusURL, Prefetch: cfg.IngressBuffer}, rabbitmq.WithLogger(logger)))
	case config.KindNATS:
		return transport(nats.New(nats.Config{URL: cfg.BusURL, Name: cfg.ServiceID}, nats.WithLogger(logger)))
	case config.KindKafka:
		return transport(kafka.New(kafka.Config{Brokers: cfg.Brokers(), ClientID: cfg.ServiceID}, kafka.WithLogger(logger)))
	case config.KindRedis:
		return transport(redis.New(redis.Config{URL: cfg.BusURL}, redis.WithLogger(logger)))
	default:
		return nil, fmt.Errorf("%w: unknown bus kind %q", berr.ErrConfigurationInvalid, cfg.BusKind)
	}
}

// transport keeps a failed constructor from leaking a typed nil into the interface.
func transport(t cbus.Transport, err error) (cbus.Transport, error) { //nolint:ireturn
	if err != nil {
		return nil, err
	}

	return t, nil
}
