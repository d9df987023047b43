/*
Package inmemory provides an in-process transport for the message bus client.
It supports competing consumers per subscription id, request/response, simulated broker outages
and records every accepted envelope, which makes it the transport of choice for tests and examples.
*/
package inmemory
