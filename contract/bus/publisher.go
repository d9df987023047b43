package bus

import "context"

// EventPublisher abstracts publishing integration events to the broker.
// Command handlers depend on this rather than on the message bus client.
type EventPublisher interface {
	PublishIntegration(ctx context.Context, evt IntegrationEvent, opts PublishOptions) error
}
