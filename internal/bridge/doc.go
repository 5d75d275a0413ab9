// Package bridge wires the worker supervisor, the stdio transport, and the
// streaming buffer into one host-facing surface. It owns the read loop on the
// worker's stdout, runs the version handshake after every start, and republishes
// worker traffic and lifecycle changes as events.
package bridge
