// Package transport implements the per-peer actor pair described in §4.2:
// one reader goroutine that parses frames off a TCP connection and
// dispatches them by kind, and one writer goroutine that owns the write
// half exclusively and serializes outgoing messages from a bounded queue.
// A broken peer never blocks another: each connection's writer is
// independent, and a write failure only tears down that one connection.
package transport
