/*
Package servicebus provides the in-process dispatcher: commands go to exactly one bound handler
and come back as result envelopes, notifications fan out to every bound handler.
Handlers are resolved from an explicit registry filled at startup; there is no reflection-driven
discovery and no global state.
*/
package servicebus
