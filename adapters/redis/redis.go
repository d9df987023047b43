package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	cbus "github.com/next-trace/scg-edu-bus/contract/bus"
	berr "github.com/next-trace/scg-edu-bus/contract/errors"
	"github.com/redis/go-redis/v9"
)

const (
	fieldBody      = "body"
	fieldKey       = "key"
	fieldReplyTo   = "reply-to"
	headerPrefix   = "h:"
	responderGroup = "responders"
)

type Config struct {
	// URL is a redis:// URL or a plain host:port.
	URL string
	// Prefix namespaces every key the transport creates.
	Prefix string
	// Block bounds one XREADGROUP or BLPOP wait.
	Block time.Duration
	// ReplyTTL expires unclaimed reply lists.
	ReplyTTL time.Duration
	// MaxLen approximately caps each stream; zero keeps everything.
	MaxLen int64
}

type Option func(*Transport)

// WithClient reuses an existing client instead of building one from the URL.
func WithClient(rc *redis.Client) Option { return func(t *Transport) { t.rc = rc } }

func WithLogger(l *slog.Logger) Option { return func(t *Transport) { t.logger = l } }

// Transport maps the message bus onto Redis Streams: every topic is a stream, every
// subscription id a consumer group. Requests travel on a per-topic request stream and the
// reply comes back on a short-lived list named in the request.
type Transport struct {
	cfg    Config
	rc     *redis.Client
	logger *slog.Logger

	mu        sync.Mutex
	connected bool
	closed    bool
	loops     map[*loop]struct{}
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

var _ cbus.Transport = (*Transport)(nil)

// Connect builds a client from a redis:// URL or a host:port address.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}

		return redis.NewClient(opt), nil
	}

	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// New returns a disconnected transport.
func New(cfg Config, opts ...Option) (*Transport, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "bus:"
	}

	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}

	if cfg.ReplyTTL <= 0 {
		cfg.ReplyTTL = time.Minute
	}

	t := &Transport{cfg: cfg, loops: make(map[*loop]struct{})}
	for _, o := range opts {
		o(t)
	}

	if t.rc == nil {
		if cfg.URL == "" {
			return nil, fmt.Errorf("%w: redis url required", berr.ErrConfigurationInvalid)
		}

		rc, err := Connect(cfg.URL)
		if err != nil {
			return nil, errors.Join(berr.ErrConfigurationInvalid, err)
		}

		t.rc = rc
	}

	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}

	return t, nil
}

func (t *Transport) stream(topic string) string { return t.cfg.Prefix + "stream:" + topic }

func (t *Transport) requestStream(topic string) string { return t.cfg.Prefix + "rpc:" + topic }

func (t *Transport) replyKey() string { return t.cfg.Prefix + "reply:" + uuid.NewString() }

// Connect pings the server.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return berr.ErrTransportClosed
	}

	if err := t.rc.Ping(ctx).Err(); err != nil {
		t.connected = false
		return fmt.Errorf("redis ping: %w", err)
	}

	t.connected = true

	return nil
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connected && !t.closed
}

func (t *Transport) ready() error {
	if !t.IsConnected() {
		return berr.ErrNotConnected
	}

	return nil
}

// lost marks the transport disconnected after a non-context failure.
func (t *Transport) lost(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
}

func values(env cbus.Envelope) map[string]any {
	v := make(map[string]any, len(env.Headers)+2)
	v[fieldBody] = env.Body

	if env.Key != "" {
		v[fieldKey] = env.Key
	}

	for k, h := range env.Headers {
		v[headerPrefix+k] = h
	}

	return v
}

func (t *Transport) xadd(ctx context.Context, stream string, v map[string]any) error {
	args := &redis.XAddArgs{Stream: stream, Values: v}
	if t.cfg.MaxLen > 0 {
		args.MaxLen = t.cfg.MaxLen
		args.Approx = true
	}

	return t.rc.XAdd(ctx, args).Err()
}

func (t *Transport) Publish(ctx context.Context, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := t.ready(); err != nil {
		return err
	}

	if err := t.xadd(ctx, t.stream(env.Topic), values(env)); err != nil {
		t.lost(err)
		return fmt.Errorf("redis xadd %s: %w", env.Topic, err)
	}

	return nil
}

func (t *Transport) Subscribe(ctx context.Context, topic, subscriptionID string, h cbus.DeliveryHandler) (cbus.Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("redis subscribe %s: nil handler", topic)
	}

	return t.consume(ctx, t.stream(topic), subscriptionID, func(lctx context.Context, msg redis.XMessage) bool {
		if err := h(lctx, toDelivery(topic, msg)); err != nil {
			t.logger.Warn("redis delivery failed; left pending",
				"module", "redis",
				"topic", topic,
				"group", subscriptionID,
				"id", msg.ID,
				"error", err,
			)

			return false
		}

		return true
	})
}

func (t *Transport) Respond(ctx context.Context, topic string, fn cbus.Responder) (cbus.Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("redis respond %s: nil responder", topic)
	}

	return t.consume(ctx, t.requestStream(topic), responderGroup, func(lctx context.Context, msg redis.XMessage) bool {
		body, err := fn(lctx, toDelivery(topic, msg))
		if err != nil {
			t.logger.Warn("redis responder failed; request dropped",
				"module", "redis",
				"topic", topic,
				"error", err,
			)

			return true
		}

		replyTo, _ := msg.Values[fieldReplyTo].(string)
		if replyTo == "" {
			return true
		}

		pipe := t.rc.TxPipeline()
		pipe.LPush(lctx, replyTo, body)
		pipe.Expire(lctx, replyTo, t.cfg.ReplyTTL)

		if _, err := pipe.Exec(lctx); err != nil {
			t.logger.Error("redis reply failed", "module", "redis", "topic", topic, "error", err)
			return false
		}

		return true
	})
}

// consume creates group on stream if needed and reads new entries until unsubscribed.
// handle reports whether the entry may be acknowledged.
func (t *Transport) consume(ctx context.Context, stream, group string, handle func(context.Context, redis.XMessage) bool) (cbus.Subscription, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}

	if err := t.rc.XGroupCreateMkStream(ctx, stream, group, "$").Err(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		t.lost(err)
		return nil, fmt.Errorf("redis create group %s on %s: %w", group, stream, err)
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()

		return nil, berr.ErrTransportClosed
	}

	t.loops[l] = struct{}{}
	t.mu.Unlock()

	consumer := group + "-" + uuid.NewString()

	go func() {
		defer close(l.done)

		for lctx.Err() == nil {
			res, err := t.rc.XReadGroup(lctx, &redis.XReadGroupArgs{
				Group:    group,
				Consumer: consumer,
				Streams:  []string{stream, ">"},
				Count:    16,
				Block:    t.cfg.Block,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || lctx.Err() != nil {
					continue
				}

				t.lost(err)
				t.logger.Warn("redis read failed", "module", "redis", "stream", stream, "group", group, "error", err)
				t.pause(lctx)

				continue
			}

			for _, s := range res {
				for _, msg := range s.Messages {
					if handle(lctx, msg) {
						if err := t.rc.XAck(lctx, stream, group, msg.ID).Err(); err != nil && lctx.Err() == nil {
							t.logger.Error("redis ack failed", "module", "redis", "stream", stream, "id", msg.ID, "error", err)
						}
					}
				}
			}
		}
	}()

	return &subscription{t: t, l: l}, nil
}

func (t *Transport) pause(ctx context.Context) {
	timer := time.NewTimer(t.cfg.Block)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Request appends env to the topic's request stream and waits on its reply list.
func (t *Transport) Request(ctx context.Context, env cbus.Envelope) ([]byte, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}

	replyTo := t.replyKey()
	v := values(env)
	v[fieldReplyTo] = replyTo

	if err := t.xadd(ctx, t.requestStream(env.Topic), v); err != nil {
		t.lost(err)
		return nil, fmt.Errorf("redis request %s: %w", env.Topic, err)
	}

	defer t.rc.Del(context.WithoutCancel(ctx), replyTo)

	for {
		res, err := t.rc.BLPop(ctx, t.cfg.Block, replyTo).Result()
		if err == nil && len(res) == 2 {
			return []byte(res[1]), nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err != nil && !errors.Is(err, redis.Nil) {
			t.lost(err)
			return nil, fmt.Errorf("redis await reply %s: %w", env.Topic, err)
		}
	}
}

// Close stops every consumer loop and closes the client. It is idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}

	t.closed = true
	t.connected = false
	loops := t.loops
	t.loops = map[*loop]struct{}{}
	t.mu.Unlock()

	for l := range loops {
		l.cancel()
		<-l.done
	}

	return t.rc.Close()
}

type subscription struct {
	t *Transport
	l *loop
}

func (s *subscription) Unsubscribe() error {
	s.t.mu.Lock()
	_, ok := s.t.loops[s.l]
	delete(s.t.loops, s.l)
	s.t.mu.Unlock()

	if ok {
		s.l.cancel()
		<-s.l.done
	}

	return nil
}

func toDelivery(topic string, msg redis.XMessage) cbus.Delivery {
	hdrs := make(map[string]string, len(msg.Values))

	var body []byte

	for k, v := range msg.Values {
		s := fmt.Sprint(v)

		switch {
		case k == fieldBody:
			body = []byte(s)
		case k == fieldKey:
			hdrs["key"] = s
		case strings.HasPrefix(k, headerPrefix):
			hdrs[strings.TrimPrefix(k, headerPrefix)] = s
		}
	}

	return cbus.Delivery{Topic: topic, Body: body, Headers: hdrs}
}
