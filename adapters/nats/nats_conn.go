package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	berr "github.com/next-trace/scg-edu-bus/contract/errors"
)

type Config struct {
	URL         string
	Name        string
	ConnTimeout time.Duration
	// MaxReconnects is handed to the nats client; -1 retries forever, 0 leaves reconnects to the bus client.
	MaxReconnects int
	// ResponderQueue is the queue group request responders join.
	ResponderQueue string
}

// Unsubscriber is a live nats subscription.
type Unsubscriber interface {
	Unsubscribe() error
}

// Conn is the subset of a nats connection the transport needs.
// Users can provide a wrapper around their own connection to satisfy it.
type Conn interface {
	Publish(ctx context.Context, msg *nats.Msg) error
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (Unsubscriber, error)
	Request(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
	IsConnected() bool
	Close()
}

// Dialer opens a Conn.
type Dialer func(ctx context.Context, cfg Config) (Conn, error)

type natsConn struct{ nc *nats.Conn }

func (c natsConn) Publish(ctx context.Context, msg *nats.Msg) error {
	if err := c.nc.PublishMsg(msg); err != nil {
		return err
	}

	return c.nc.FlushWithContext(ctx)
}

func (c natsConn) QueueSubscribe(subject, queue string, cb nats.MsgHandler) (Unsubscriber, error) {
	return c.nc.QueueSubscribe(subject, queue, cb)
}

func (c natsConn) Request(ctx context.Context, msg *nats.Msg) (*nats.Msg, error) {
	return c.nc.RequestMsgWithContext(ctx, msg)
}

func (c natsConn) IsConnected() bool { return c.nc.IsConnected() }

func (c natsConn) Close() {
	if !c.nc.IsClosed() {
		_ = c.nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
		c.nc.Close()
	}
}

func dialNATS(ctx context.Context, cfg Config) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	} else {
		opts = append(opts, nats.NoReconnect())
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return natsConn{nc: nc}, nil
}

// Wrap adapts an already established connection, e.g. one shared with other code.
func Wrap(nc *nats.Conn) Conn { return natsConn{nc: nc} }

// WithConn makes Connect use an existing connection instead of dialing.
func WithConn(c Conn) Option {
	return WithDialer(func(context.Context, Config) (Conn, error) { return c, nil })
}

func validate(cfg Config) error {
	if cfg.URL == "" {
		return fmt.Errorf("%w: nats url required", berr.ErrConfigurationInvalid)
	}

	return nil
}
