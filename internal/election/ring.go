package election

import (
	"bytes"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/dreamware/ridecoord/internal/membership"
	"github.com/dreamware/ridecoord/internal/wire"
	"github.com/rs/zerolog"
)

// Ring drives the ring-walk election protocol over a single UDP socket.
// One Ring is created per coordinator node and owns that node's election
// state exclusively; the socket is read by exactly one goroutine (Run),
// matching §5's rule that the UDP socket is shared read-only by its reader
// and sender, coordinating through the kernel rather than user locks.
type Ring struct {
	selfID  int
	roster  *membership.Roster
	conn    net.PacketConn
	ackWait time.Duration

	OnBecomeLeader   func()
	OnBecomeFollower func(leaderID int)

	mu             sync.Mutex
	state          State
	leaderID       int
	down           map[int]bool
	seqCounter     int
	activeElectMin int // lowest candidate id of the election this node has joined; 0 if none
	startedSeqs    map[int]bool
	pendingAcks    map[string]chan struct{}

	log zerolog.Logger
}

// NewRing creates a Ring bound to conn (already listening) for selfID.
func NewRing(selfID int, roster *membership.Roster, conn net.PacketConn) *Ring {
	return &Ring{
		selfID:      selfID,
		roster:      roster,
		conn:        conn,
		ackWait:     200 * time.Millisecond,
		down:        make(map[int]bool),
		startedSeqs: make(map[int]bool),
		pendingAcks: make(map[string]chan struct{}),
		log:         logging.WithNode("election", selfID),
	}
}

// State returns the current election state.
func (r *Ring) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LeaderID returns the last known leader id (0 if none known).
func (r *Ring) LeaderID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaderID
}

// MarkDown records that id is currently believed unreachable, so ring
// walks skip it.
func (r *Ring) MarkDown(id int) {
	r.mu.Lock()
	r.down[id] = true
	r.mu.Unlock()
}

// MarkUp clears a previously-down id.
func (r *Ring) MarkUp(id int) {
	r.mu.Lock()
	delete(r.down, id)
	r.mu.Unlock()
}

func (r *Ring) isDown(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.down[id]
}

// Run reads UDP packets until the connection is closed, dispatching each
// to the election protocol handler. Intended to run in its own goroutine;
// it is the single reader of r.conn.
func (r *Ring) Run() {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		data := append([]byte(nil), buf[:n]...)
		if n == 1 && data[0] == 'A' {
			r.signalAck(addr)
			continue
		}
		r.handlePacket(data, addr)
	}
}

func (r *Ring) signalAck(from net.Addr) {
	r.mu.Lock()
	ch, ok := r.pendingAcks[from.String()]
	r.mu.Unlock()
	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (r *Ring) handlePacket(data []byte, from net.Addr) {
	env, err := wire.Decode(bytes.NewReader(data))
	if err != nil {
		r.log.Warn().Err(err).Msg("dropping malformed UDP packet")
		return
	}
	switch env.Kind {
	case wire.KindElection:
		r.ackTo(from)
		var p ElectionPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		r.handleElection(p)
	case wire.KindCoordinator:
		r.ackTo(from)
		var p CoordinatorPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		r.handleCoordinator(p)
	case wire.KindPing:
		r.ackTo(from)
		r.send(from, wire.KindPong, nil)
	case wire.KindPong:
		// Pong is informational only; the ack byte already satisfied the
		// pending round-trip in roundTripAck.
	default:
		r.log.Warn().Str("kind", env.Kind.String()).Msg("dropping unexpected ring frame")
	}
}

func (r *Ring) ackTo(addr net.Addr) {
	_, _ = r.conn.WriteTo([]byte{'A'}, addr)
}

func (r *Ring) send(addr net.Addr, kind wire.Kind, payload []byte) {
	var buf bytes.Buffer
	_ = wire.Encode(&buf, wire.Envelope{Kind: kind, Payload: payload})
	_, _ = r.conn.WriteTo(buf.Bytes(), addr)
}

// sendToIDWithAck sends kind/payload to the successor of startID on the
// ring, skipping down nodes, until one acks within ackWait or the ring is
// exhausted. Returns true if some successor acked.
func (r *Ring) sendToIDWithAck(startID int, kind wire.Kind, payload []byte) bool {
	tried := map[int]bool{}
	current := startID
	for len(tried) < len(r.roster.IDs()) {
		next, ok := r.roster.Successor(current, func(id int) bool {
			return tried[id] || r.isDown(id)
		})
		if !ok {
			return false
		}
		member, ok := r.roster.Lookup(next)
		if !ok {
			tried[next] = true
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", member.UDPAddr)
		if err != nil {
			tried[next] = true
			continue
		}
		if r.roundTripAck(addr, kind, payload) {
			return true
		}
		tried[next] = true
		r.MarkDown(next)
		current = next
	}
	return false
}

func (r *Ring) roundTripAck(addr *net.UDPAddr, kind wire.Kind, payload []byte) bool {
	key := addr.String()
	ch := make(chan struct{}, 1)
	r.mu.Lock()
	r.pendingAcks[key] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pendingAcks, key)
		r.mu.Unlock()
	}()

	r.send(addr, kind, payload)
	select {
	case <-ch:
		return true
	case <-time.After(r.ackWait):
		return false
	}
}

// StartElection begins a new election walk originated by this node, per
// §4.7 step 1.
func (r *Ring) StartElection() {
	r.mu.Lock()
	r.seqCounter++
	seq := r.seqCounter
	r.state = StateInElection
	r.activeElectMin = r.selfID
	r.startedSeqs[seq] = true
	r.mu.Unlock()

	r.log.Info().Int("seq", seq).Msg("starting election")
	payload, _ := json.Marshal(ElectionPayload{Candidates: []int{r.selfID}, Originator: r.selfID, Seq: seq})
	if !r.sendToIDWithAck(r.selfID, wire.KindElection, payload) {
		r.declareSelfLeader()
	}
}

func (r *Ring) handleElection(p ElectionPayload) {
	r.mu.Lock()
	if r.activeElectMin != 0 && r.activeElectMin < membership.Min(p.Candidates) {
		// Already participating in a lower-id election; drop the duplicate.
		r.mu.Unlock()
		return
	}
	isOriginator := contains(p.Candidates, r.selfID)
	if !isOriginator {
		p.Candidates = append(append([]int{}, p.Candidates...), r.selfID)
		r.activeElectMin = membership.Min(p.Candidates)
		r.state = StateInElection
	}
	r.mu.Unlock()

	if isOriginator {
		leader := membership.Min(p.Candidates)
		r.log.Info().Int("leader", leader).Ints("candidates", p.Candidates).Msg("election walk returned, announcing coordinator")
		r.mu.Lock()
		r.startedSeqs[p.Seq] = true
		r.mu.Unlock()
		r.announceCoordinator(leader, p.Seq)
		return
	}

	payload, _ := json.Marshal(p)
	if !r.sendToIDWithAck(r.selfID, wire.KindElection, payload) {
		// Every successor unreachable: declare self leader (§4.7 step 4).
		r.declareSelfLeader()
	}
}

func (r *Ring) announceCoordinator(leaderID, seq int) {
	payload, _ := json.Marshal(CoordinatorPayload{LeaderID: leaderID, Seq: seq})
	r.applyLeader(leaderID)
	r.sendToIDWithAck(r.selfID, wire.KindCoordinator, payload)
}

func (r *Ring) handleCoordinator(p CoordinatorPayload) {
	r.mu.Lock()
	started := r.startedSeqs[p.Seq]
	r.mu.Unlock()
	if started {
		// Ring has closed back to the node that announced this result.
		return
	}
	r.applyLeader(p.LeaderID)
	payload, _ := json.Marshal(p)
	r.sendToIDWithAck(r.selfID, wire.KindCoordinator, payload)
}

func (r *Ring) declareSelfLeader() {
	r.log.Warn().Msg("no reachable successor; declaring self leader")
	r.applyLeader(r.selfID)
}

func (r *Ring) applyLeader(leaderID int) {
	r.mu.Lock()
	r.leaderID = leaderID
	r.activeElectMin = 0
	becameLeader := leaderID == r.selfID
	if becameLeader {
		r.state = StateLeader
	} else {
		r.state = StateFollower
	}
	r.mu.Unlock()

	if becameLeader && r.OnBecomeLeader != nil {
		r.OnBecomeLeader()
	} else if !becameLeader && r.OnBecomeFollower != nil {
		r.OnBecomeFollower(leaderID)
	}
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
