package bus

// Notification is a marker for in-process failure records fanned out to every bound handler.
type Notification interface{}

// IntegrationEvent is a write-once contract exchanged with other services. Topic() routes it.
type IntegrationEvent interface{ Topic() string }
