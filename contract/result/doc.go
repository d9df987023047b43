/*
Package result holds the validity/payload/error envelopes returned by command dispatch.
Validation and domain failures travel inside these values; they are never returned as errors.
*/
package result
