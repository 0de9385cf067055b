package election

import (
	"net"
	"sync"
	"time"

	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/dreamware/ridecoord/internal/wire"
	"github.com/rs/zerolog"
)

// Detector pings the believed leader every interval and starts an election
// after maxMisses consecutive unanswered pings (§4.7 "Failure detector").
type Detector struct {
	ring      *Ring
	resolve   func(id int) (udpAddr string, ok bool)
	interval  time.Duration
	maxMisses int
	log       zerolog.Logger

	mu     sync.Mutex
	misses int
	stopCh chan struct{}
}

// NewDetector creates a failure detector for ring, resolving the current
// leader's UDP address through resolve.
func NewDetector(ring *Ring, resolve func(id int) (string, bool), interval time.Duration, maxMisses int) *Detector {
	return &Detector{
		ring:      ring,
		resolve:   resolve,
		interval:  interval,
		maxMisses: maxMisses,
		log:       logging.For("election.detector"),
		stopCh:    make(chan struct{}),
	}
}

// Run starts the ping loop against conn. Call in its own goroutine; each
// tick sends through Ring's own roundTripAck, which is fed its ack by
// Ring.Run's single reader goroutine on the same socket, so Detector never
// performs its own blocking read.
func (d *Detector) Run(conn net.PacketConn) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.tick(conn)
		case <-d.stopCh:
			return
		}
	}
}

// Stop halts the ping loop.
func (d *Detector) Stop() {
	close(d.stopCh)
}

func (d *Detector) tick(conn net.PacketConn) {
	leaderID := d.ring.LeaderID()
	if leaderID == d.ring.selfID {
		return // we are the leader; nothing to ping
	}
	if leaderID == 0 {
		// Cold start / leader never resolved: treat it the same as a
		// missed ping so a cluster that boots with no leader still
		// converges instead of every node waiting forever for someone
		// else to go first.
		d.countMiss(leaderID)
		return
	}
	addrStr, ok := d.resolve(leaderID)
	if !ok {
		d.countMiss(leaderID)
		return
	}
	addr, err := net.ResolveUDPAddr("udp", addrStr)
	if err != nil {
		d.countMiss(leaderID)
		return
	}

	if d.ring.roundTripAck(addr, wire.KindPing, nil) {
		d.mu.Lock()
		d.misses = 0
		d.mu.Unlock()
		return
	}
	d.countMiss(leaderID)
}

// countMiss records one missed ping (or one tick with no leader known at
// all) and starts an election once maxMisses consecutive misses have
// accumulated. leaderID of 0 means no leader has ever been resolved, so
// there is nothing to MarkDown, only an election to start.
func (d *Detector) countMiss(leaderID int) {
	d.mu.Lock()
	d.misses++
	misses := d.misses
	d.mu.Unlock()

	if misses < d.maxMisses {
		return
	}

	d.mu.Lock()
	d.misses = 0
	d.mu.Unlock()

	if leaderID == 0 {
		d.log.Warn().Msg("no leader known at startup, starting election")
	} else {
		d.log.Warn().Int("leader", leaderID).Int("misses", misses).Msg("leader presumed down, starting election")
		d.ring.MarkDown(leaderID)
	}
	d.ring.StartElection()
}
