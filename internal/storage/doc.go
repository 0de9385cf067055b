// Package storage is the in-process, synchronous registry of Requesters,
// Providers, and Requests described in §4.3. It is owned by a single actor
// (internal/node) and performs no I/O: every method is a plain map
// operation, so the owning actor can call it directly from its message loop
// without any suspension point in the middle of a mutation.
package storage
