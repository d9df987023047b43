// Package redis provides a Redis Streams transport for the message bus client.
package redis
