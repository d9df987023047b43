// Package kafka provides a franz-go based Kafka transport for the message bus client.
package kafka
