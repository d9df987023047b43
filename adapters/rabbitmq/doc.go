/*
Package rabbitmq provides a RabbitMQ transport for the message bus client.
Events are published to a durable topic exchange, every subscription id owns a durable queue
bound to its topic, and request/response uses direct reply-to with correlation ids.
Consumers are restarted on every successful Connect.
*/
package rabbitmq
