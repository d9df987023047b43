package bus

import "context"

// Header keys the message bus client writes on every outgoing envelope.
const (
	HeaderMessageID   = "message-id"
	HeaderMessageType = "message-type"
	HeaderContentType = "content-type"
	HeaderSentAt      = "sent-at"
)

// Envelope is one serialized message on the wire.
type Envelope struct {
	Topic   string
	Key     string
	Body    []byte
	Headers map[string]string
}

// Delivery is one message handed to a subscriber.
type Delivery struct {
	Topic   string
	Body    []byte
	Headers map[string]string
}

// DeliveryHandler processes one delivery. A non-nil error asks the broker to redeliver
// where the transport supports it.
type DeliveryHandler func(ctx context.Context, d Delivery) error

// Responder answers one request body with a response body.
type Responder func(ctx context.Context, d Delivery) ([]byte, error)

// Subscription is a live consumer registration.
type Subscription interface {
	Unsubscribe() error
}

// Transport is the broker abstraction beneath the message bus client.
// Transports never retry; connection and retry policy live in the client.
// Implementations must be safe for concurrent use.
type Transport interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, topic, subscriptionID string, h DeliveryHandler) (Subscription, error)
	Request(ctx context.Context, env Envelope) ([]byte, error)
	Respond(ctx context.Context, topic string, fn Responder) (Subscription, error)
	Close() error
}
