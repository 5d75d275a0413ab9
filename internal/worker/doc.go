// Package worker supervises the out-of-process agent backend: spawning it
// with piped stdio, probing its health, shutting it down gracefully with
// signal escalation, and restarting it after a crash.
//
// At most one worker is live at a time; Start enforces the guard. Platform
// differences in how a worker tree is killed live behind the Killer
// interface, chosen once at construction.
package worker
