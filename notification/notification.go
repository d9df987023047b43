package notification

import (
	"time"

	"github.com/google/uuid"
)

// Notification is one domain-rule or validation failure. It is never mutated after New.
type Notification struct {
	ID          uuid.UUID
	AggregateID uuid.UUID
	Key         string
	Value       string
	Timestamp   time.Time
}

// New builds a notification about aggregateID; key usually names the offending entity or field.
func New(aggregateID uuid.UUID, key, value string) Notification {
	return Notification{
		ID:          uuid.New(),
		AggregateID: aggregateID,
		Key:         key,
		Value:       value,
		Timestamp:   time.Now().UTC(),
	}
}
