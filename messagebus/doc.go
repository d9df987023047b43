/*
Package messagebus is the only holder of a broker connection. Client wraps a bus.Transport with
a lazy reconnect policy, JSON wire encoding, header propagation and a request/response call that
races every attempt against a timeout and retries with capped exponential backoff.

Transport failures that survive the retry policy are returned as errors; validation outcomes never
are.
*/
package messagebus
