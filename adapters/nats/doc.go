// Package nats provides a core NATS transport for the message bus client.
package nats
