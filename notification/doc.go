/*
Package notification records domain and validation failures for one logical request.

A Collector lives exactly as long as the request that created it: NewScope allocates a fresh
one and threads it through the context. ScopedHandler is the process-wide handler bound to the
dispatcher at startup; it only ever writes into the collector found in the context it is given,
so failures from concurrent requests never mix.
*/
package notification
