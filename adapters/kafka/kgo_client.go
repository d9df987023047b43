package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	berr "github.com/next-trace/scg-edu-bus/contract/errors"

	"github.com/twmb/franz-go/pkg/kgo"
)

type Config struct {
	Brokers  []string
	TLS      *tls.Config
	ClientID string
	// DisableIdempotence turns off franz-go's default idempotent producer.
	DisableIdempotence bool
	// Compression is one of none, gzip, snappy, lz4 or zstd.
	Compression string
}

// Producer writes records synchronously.
type Producer interface {
	Produce(ctx context.Context, rec *kgo.Record) error
	Ping(ctx context.Context) error
	Close()
}

// Consumer is one consumer-group member.
type Consumer interface {
	Poll(ctx context.Context) ([]*kgo.Record, error)
	Commit(ctx context.Context, recs ...*kgo.Record) error
	Close()
}

// ConsumerFactory creates a group member for topic.
type ConsumerFactory func(topic, group string) (Consumer, error)

type kgoProducer struct{ cl *kgo.Client }

func (p kgoProducer) Produce(ctx context.Context, rec *kgo.Record) error {
	return p.cl.ProduceSync(ctx, rec).FirstErr()
}

func (p kgoProducer) Ping(ctx context.Context) error { return p.cl.Ping(ctx) }

func (p kgoProducer) Close() { p.cl.Close() }

type kgoConsumer struct{ cl *kgo.Client }

func (c kgoConsumer) Poll(ctx context.Context) ([]*kgo.Record, error) {
	fetches := c.cl.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, kgo.ErrClientClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var errs []error

	fetches.EachError(func(topic string, partition int32, err error) {
		errs = append(errs, fmt.Errorf("%s/%d: %w", topic, partition, err))
	})

	return fetches.Records(), errors.Join(errs...)
}

func (c kgoConsumer) Commit(ctx context.Context, recs ...*kgo.Record) error {
	return c.cl.CommitRecords(ctx, recs...)
}

func (c kgoConsumer) Close() { c.cl.Close() }

func baseOpts(cfg Config) ([]kgo.Opt, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers required", berr.ErrConfigurationInvalid)
	}

	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	return opts, nil
}

func compression(name string) (kgo.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return kgo.NoCompression(), nil
	case "gzip":
		return kgo.GzipCompression(), nil
	case "snappy":
		return kgo.SnappyCompression(), nil
	case "lz4":
		return kgo.Lz4Compression(), nil
	case "zstd":
		return kgo.ZstdCompression(), nil
	default:
		return kgo.NoCompression(), fmt.Errorf("%w: unknown kafka compression %q", berr.ErrConfigurationInvalid, name)
	}
}

func newKgoProducer(cfg Config) (Producer, error) {
	opts, err := baseOpts(cfg)
	if err != nil {
		return nil, err
	}

	codec, err := compression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	opts = append(opts, kgo.ProducerBatchCompression(codec))

	if cfg.DisableIdempotence {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client init: %w", err)
	}

	return kgoProducer{cl: cl}, nil
}

func kgoConsumerFactory(cfg Config) ConsumerFactory {
	return func(topic, group string) (Consumer, error) {
		opts, err := baseOpts(cfg)
		if err != nil {
			return nil, err
		}

		opts = append(opts,
			kgo.ConsumerGroup(group),
			kgo.ConsumeTopics(topic),
			kgo.DisableAutoCommit(),
		)

		cl, err := kgo.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("kafka consumer init: %w", err)
		}

		return kgoConsumer{cl: cl}, nil
	}
}
