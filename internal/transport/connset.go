package transport

import (
	"sync"

	"github.com/dreamware/ridecoord/internal/wire"
)

// ConnSet tracks live binary peer writers by id. It is the registry a node
// uses to reach other coordinators by id without holding a direct handle to
// their internals (§9 "one-way channels"); requester, provider and gateway
// links are tracked by TextConnSet instead.
type ConnSet struct {
	mu      sync.RWMutex
	writers map[string]*Writer
}

// NewConnSet returns an empty registry.
func NewConnSet() *ConnSet {
	return &ConnSet{writers: make(map[string]*Writer)}
}

// Add registers w under id, closing and replacing any previous writer for
// the same id (a reconnect supersedes the stale connection).
func (c *ConnSet) Add(id string, w *Writer) {
	c.mu.Lock()
	old := c.writers[id]
	c.writers[id] = w
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// Remove drops id from the registry. It does not close the writer — callers
// typically call this from a writer's own onClose callback.
func (c *ConnSet) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.writers, id)
}

// Send enqueues env for delivery to id. Returns false if id is not
// currently connected.
func (c *ConnSet) Send(id string, env wire.Envelope) bool {
	c.mu.RLock()
	w, ok := c.writers[id]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return w.Enqueue(env) == nil
}

// Broadcast enqueues env to every connected peer. The failure of one peer's
// queue never stops delivery to the others (§4.2).
func (c *ConnSet) Broadcast(env wire.Envelope) {
	c.mu.RLock()
	writers := make([]*Writer, 0, len(c.writers))
	for _, w := range c.writers {
		writers = append(writers, w)
	}
	c.mu.RUnlock()
	for _, w := range writers {
		_ = w.Enqueue(env)
	}
}

// Has reports whether id is currently connected.
func (c *ConnSet) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.writers[id]
	return ok
}

// Len returns the number of connected peers.
func (c *ConnSet) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.writers)
}
