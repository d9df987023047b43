package bus

// PublishOptions controls integration event publishing.
type PublishOptions struct {
	TopicOverride string
	Key           string
	Headers       map[string]string
}

// SubscribeOptions controls a durable subscription. SubscriptionID names the shared
// competing-consumer queue; instances using the same id split the deliveries.
type SubscribeOptions struct {
	SubscriptionID string
	Buffer         int
	Workers        int
}
