package replication

import (
	"encoding/json"
	"sync"

	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/dreamware/ridecoord/internal/wire"
)

var log = logging.For("replication")

// SendFunc broadcasts an already-encoded envelope to every follower. It is
// injected so this package never holds a direct handle to the transport
// layer's connection set (§9).
type SendFunc func(env wire.Envelope)

// Broadcaster runs on the leader. It owns the per-epoch sequence counter
// and is the only writer of it, matching §5's single-actor-ownership rule.
type Broadcaster struct {
	mu    sync.Mutex
	epoch int
	seq   int
	send  SendFunc
}

// NewBroadcaster starts a Broadcaster for a fresh leadership epoch.
func NewBroadcaster(epoch int, send SendFunc) *Broadcaster {
	return &Broadcaster{epoch: epoch, send: send}
}

// Publish assigns the next sequence number to d and broadcasts it.
func (b *Broadcaster) Publish(d Delta) {
	b.mu.Lock()
	b.seq++
	d.Epoch = b.epoch
	d.Seq = b.seq
	b.mu.Unlock()

	payload, err := json.Marshal(d)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal replication delta")
		return
	}
	b.send(wire.Envelope{Kind: wire.KindNetworkStateDelta, Payload: payload})
}
