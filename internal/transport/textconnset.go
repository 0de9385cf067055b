package transport

import (
	"sync"

	"github.com/dreamware/ridecoord/internal/wire"
)

// TextConnSet is ConnSet's counterpart for external-role (requester,
// provider, gateway) newline-JSON links.
type TextConnSet struct {
	mu      sync.RWMutex
	writers map[string]*TextWriter
}

// NewTextConnSet returns an empty registry.
func NewTextConnSet() *TextConnSet {
	return &TextConnSet{writers: make(map[string]*TextWriter)}
}

// Add registers w under id, closing and replacing any previous writer.
func (c *TextConnSet) Add(id string, w *TextWriter) {
	c.mu.Lock()
	old := c.writers[id]
	c.writers[id] = w
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// Remove drops id from the registry.
func (c *TextConnSet) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.writers, id)
}

// Send enqueues title/payload for delivery to id. Returns false if id is
// not currently connected.
func (c *TextConnSet) Send(id string, env wire.TextEnvelope) bool {
	c.mu.RLock()
	w, ok := c.writers[id]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return w.Enqueue(env) == nil
}

// Has reports whether id is currently connected.
func (c *TextConnSet) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.writers[id]
	return ok
}

// Len returns the number of connected peers.
func (c *TextConnSet) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.writers)
}
