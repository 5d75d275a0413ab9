// Package transport correlates outbound commands with the worker's eventual
// responses. Each correlated command gets a unique request id stamped into its
// JSON body before it is framed and written to the worker's stdin; an entry in
// the pending table then waits for exactly one of a matching response, a
// per-kind timeout, or batch failure when the worker exits.
//
// Writes are serialized by a single mutex; settlement is decided by whoever
// removes the pending entry first, so a request can never resolve twice.
package transport
