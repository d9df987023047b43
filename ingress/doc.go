/*
Package ingress bridges inbound integration events into local commands.

A Consumer subscribes to one event type, feeds deliveries through a bounded channel to worker
goroutines and dispatches the translated command inside a fresh notification scope. A Responder
does the same for request/response events and answers with a result.ResponseMessage.
Neither ever returns a dispatch failure as an error: failures become validation results, and
unexpected errors or panics become a single failure keyed result.ExceptionKey.
*/
package ingress
