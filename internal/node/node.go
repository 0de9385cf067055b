// Package node wires storage, matcher, the two-phase commit coordinator,
// replication, the reaper, and recovery into the single actor that owns a
// coordinator's live state and handles every wire.Kind message (§9: one
// task per component, serialized access to the state it owns). External
// connections enqueue work onto the actor's inbox; the actor's own
// goroutine is the only one that ever touches storage directly.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dreamware/ridecoord/internal/coordfail"
	"github.com/dreamware/ridecoord/internal/gatewayclient"
	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/dreamware/ridecoord/internal/matcher"
	"github.com/dreamware/ridecoord/internal/metrics"
	"github.com/dreamware/ridecoord/internal/model"
	"github.com/dreamware/ridecoord/internal/reaper"
	"github.com/dreamware/ridecoord/internal/recovery"
	"github.com/dreamware/ridecoord/internal/replication"
	"github.com/dreamware/ridecoord/internal/storage"
	"github.com/dreamware/ridecoord/internal/txn"
	"github.com/dreamware/ridecoord/internal/wire"
	"github.com/rs/zerolog"
)

// ExternalSender delivers a newline-JSON envelope to an external role
// (requester, provider) identified by a logical peer id.
type ExternalSender interface {
	Send(id string, env wire.TextEnvelope) bool
}

// PeerSender delivers a binary envelope to one or all coordinator peers.
type PeerSender interface {
	Send(id string, env wire.Envelope) bool
	Broadcast(env wire.Envelope)
}

// Deps are the collaborators a Node wires together. Gateway may be a
// nil-safe stub in tests that never exercise payment; a zero
// PrepareTimeout or StallTimeout defaults to 2s or 5s respectively.
type Deps struct {
	NodeID         int
	Store          *storage.Store
	Matcher        *matcher.Matcher
	Txn            *txn.Coordinator
	Gateway        *gatewayclient.Client
	External       ExternalSender
	Peers          PeerSender
	PrepareTimeout time.Duration
	StallTimeout   time.Duration
}

// Node is the per-coordinator actor. Construct with New and drive its
// inbox with Run; HandleExternal/HandlePeer are safe to call from any
// goroutine (typically a transport.Reader's dispatch callback).
type Node struct {
	id       int
	store    *storage.Store
	matcher  *matcher.Matcher
	txnCoord *txn.Coordinator
	gateway  *gatewayclient.Client
	ext      ExternalSender
	peers    PeerSender
	prepareT time.Duration

	mu          sync.Mutex
	role        model.Role
	leaderTCP   string
	leaderID    int
	epoch       int
	broadcaster *replication.Broadcaster
	applier     *replication.Applier

	requesterPeer map[int]string
	providerPeer  map[int]string
	peerRequester map[string]int
	peerProvider  map[string]int
	excludeSets   map[int]map[int]bool

	voteMu sync.Mutex
	votes  map[int]chan model.Vote // keyed by request id

	reaperInst *reaper.Reaper

	log  zerolog.Logger
	cmds chan func()
}

// New constructs a Node. Its role starts as RoleUnknown with no known
// leader; call BecomeLeader/BecomeFollower as the election layer calls back.
func New(deps Deps) *Node {
	if deps.PrepareTimeout == 0 {
		deps.PrepareTimeout = 2 * time.Second
	}
	if deps.StallTimeout == 0 {
		deps.StallTimeout = 5 * time.Second
	}
	n := &Node{
		id:            deps.NodeID,
		store:         deps.Store,
		matcher:       deps.Matcher,
		txnCoord:      deps.Txn,
		gateway:       deps.Gateway,
		ext:           deps.External,
		peers:         deps.Peers,
		prepareT:      deps.PrepareTimeout,
		applier:       replication.NewApplier(deps.Store, nil),
		requesterPeer: make(map[int]string),
		providerPeer:  make(map[int]string),
		peerRequester: make(map[string]int),
		peerProvider:  make(map[string]int),
		excludeSets:   make(map[int]map[int]bool),
		votes:         make(map[int]chan model.Vote),
		log:           logging.WithNode("node", deps.NodeID),
		cmds:          make(chan func(), 1024),
	}
	// The reaper's own ticker (reaper.Reaper.Run) is never started here —
	// it assumes exclusive ownership of store/matcher, which would race
	// with this actor's inbox. Sweep instead drives the same sweep logic
	// through n.enqueue, so it only ever runs on the actor's goroutine.
	n.reaperInst = reaper.New(deps.Store, deps.Matcher, 0, deps.StallTimeout, n.sendCanAccept, n.sendRejectTrip)
	n.reaperInst.UseSharedExcludeSets(n.excludeSetFor, func(id int) { delete(n.excludeSets, id) })
	return n
}

// Sweep enqueues one reaper pass (§4.8): providers stalled in
// Waiting-for-offer-ack past the configured stall timeout return to
// Active and their request is retried against the next candidate. Safe to
// call from any goroutine, e.g. a ticker owned by internal/supervisor.
func (n *Node) Sweep() {
	n.enqueue(func() {
		n.reaperInst.Sweep()
	})
}

// Run drains the actor's inbox until ctx is cancelled. Every state-mutating
// handler runs here, one at a time.
func (n *Node) Run(ctx context.Context) {
	for {
		select {
		case fn := <-n.cmds:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

func (n *Node) enqueue(fn func()) {
	n.cmds <- fn
}

// BecomeLeader is called by the election layer when this node wins a
// ring walk. It starts a fresh replication epoch and stops applying
// follower-side deltas.
func (n *Node) BecomeLeader(epoch int) {
	n.enqueue(func() {
		n.mu.Lock()
		n.role = model.RoleLeader
		n.epoch = epoch
		n.leaderID = n.id
		n.broadcaster = replication.NewBroadcaster(epoch, n.peers.Broadcast)
		n.mu.Unlock()
		metrics.IsLeader.Set(1)
		n.log.Info().Int("epoch", epoch).Msg("became leader")
		n.resumeInFlightRequests()
	})
}

// resumeInFlightRequests implements §4.5's leader-crash recovery rule
// (scenario S2): walk every request mirrored from the old leader that
// never reached a terminal phase and resolve whether 2PC had already
// committed before the crash, rather than re-running PREPARE against a
// provider that may already believe it is assigned. A request already
// past PhaseAwaitingPayment committed before the crash (its outcome is
// already reflected in the mirrored phase); only PhaseAwaitingPayment is
// ambiguous, since that phase is set before PREPARE runs and never
// advanced until Coordinator.Run returns.
func (n *Node) resumeInFlightRequests() {
	for _, req := range n.store.AllRequests() {
		if req.Phase != model.PhaseAwaitingPayment {
			continue
		}
		// The old leader's in-memory PREPARE round is gone with it; the
		// only committed-state signal that survived replication is
		// whether the provider the old leader had reached already voted
		// yes before the crash.
		providerCommitted := req.ProviderVote == model.VoteYes
		phase := txn.ResumeAfterCrash(req, providerCommitted)
		if phase == model.PhaseCancelled {
			n.log.Warn().Int("request_id", req.ID).Msg("resuming after election: 2pc outcome unresolved, cancelling")
			n.sendRejectTrip(req.RequesterID, coordfail.Internal)
			n.store.RemoveRequest(req.ID)
			n.replicate(replication.RequestDelete(req.ID))
			continue
		}
		if err := n.store.SetPhase(req.ID, phase); err != nil {
			n.log.Warn().Err(err).Int("request_id", req.ID).Msg("resume: could not advance phase")
			continue
		}
		n.log.Info().Int("request_id", req.ID).Msg("resuming after election: provider already committed, re-offering")
		n.replicate(replication.RequestUpsert(req))
		n.offerRequest(req)
	}
}

// BecomeFollower is called when another node wins the ring walk.
func (n *Node) BecomeFollower(leaderID int) {
	n.enqueue(func() {
		n.mu.Lock()
		n.role = model.RoleFollower
		n.leaderID = leaderID
		n.broadcaster = nil
		n.mu.Unlock()
		metrics.IsLeader.Set(0)
		n.log.Info().Int("leader", leaderID).Msg("became follower")
	})
}

// SetLeaderAddr records the current leader's TCP address, used to answer
// WhoIsCoordinator (§6).
func (n *Node) SetLeaderAddr(addr string) {
	n.mu.Lock()
	n.leaderTCP = addr
	n.mu.Unlock()
}

func (n *Node) isLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role == model.RoleLeader
}

// HandleExternal is the dispatch callback for a requester/provider/gateway
// connection's reader. VoteYes/VoteNo bypass the serialized inbox and are
// applied directly: they only touch the votes map (its own mutex, not
// storage), and a RequestTrip being processed right now may itself be
// blocked in the inbox waiting on exactly this vote, the same ask/reply
// split election.Ring uses for roundTripAck versus its packet-receive
// loop.
func (n *Node) HandleExternal(peerID string, env wire.TextEnvelope) {
	switch wire.KindFromTitle(env.Title) {
	case wire.KindVoteYes:
		n.handleProviderVote(env, model.VoteYes)
	case wire.KindVoteNo:
		n.handleProviderVote(env, model.VoteNo)
	default:
		n.enqueue(func() { n.handleExternal(peerID, env) })
	}
}

// HandlePeer is the dispatch callback for an inter-coordinator connection's
// reader.
func (n *Node) HandlePeer(peerID string, env wire.Envelope) {
	n.enqueue(func() { n.handlePeer(peerID, env) })
}

// HandleDisconnect cleans up a peer's association after its connection
// drops. Only the live peer mapping is cleared (and a requester is marked
// not Connected); neither the requester nor the provider record is removed
// from the store, so a disconnected provider stays in the store with its
// last status.
func (n *Node) HandleDisconnect(peerID string) {
	n.enqueue(func() {
		if id, ok := n.peerRequester[peerID]; ok {
			delete(n.peerRequester, peerID)
			delete(n.requesterPeer, id)
			if r, err := n.store.GetRequester(id); err == nil {
				r.Connected = false
			}
		}
		if id, ok := n.peerProvider[peerID]; ok {
			delete(n.peerProvider, peerID)
			delete(n.providerPeer, id)
		}
	})
}

func (n *Node) handleExternal(peerID string, env wire.TextEnvelope) {
	switch wire.KindFromTitle(env.Title) {
	case wire.KindLogin:
		n.handleLogin(peerID, env)
	case wire.KindRegister:
		n.handleRegister(peerID, env)
	case wire.KindRequestTrip:
		n.handleRequestTrip(peerID, env)
	case wire.KindCanAcceptResp:
		n.handleCanAcceptResp(peerID, env)
	case wire.KindVoteYes, wire.KindVoteNo:
		// Routed directly by HandleExternal; reachable here only if a
		// caller invokes handleExternal itself (tests), so handle it the
		// same way rather than silently dropping it.
		vote := model.VoteNo
		if wire.KindFromTitle(env.Title) == wire.KindVoteYes {
			vote = model.VoteYes
		}
		n.handleProviderVote(env, vote)
	case wire.KindFinishTrip:
		n.handleFinishTrip(peerID, env)
	case wire.KindPing:
		n.ext.Send(peerID, wire.TextEnvelope{Title: wire.KindAck.String()})
	case wire.KindWhoIsCoordinator:
		n.handleWhoIsCoordinator(peerID)
	case wire.KindRecoverRequest:
		n.handleRecoverRequest(peerID, env)
	default:
		n.log.Warn().Str("peer", peerID).Str("title", env.Title).Msg("dropping unhandled external message")
	}
}

func (n *Node) handlePeer(peerID string, env wire.Envelope) {
	switch env.Kind {
	case wire.KindNetworkStateDelta:
		if n.isLeader() {
			n.log.Warn().Str("peer", peerID).Msg("leader dropping follower-side delta")
			return
		}
		var d replication.Delta
		if err := json.Unmarshal(env.Payload, &d); err != nil {
			n.log.Warn().Err(err).Msg("dropping malformed delta")
			return
		}
		n.applier.Receive(d)
	default:
		n.log.Warn().Str("peer", peerID).Str("kind", env.Kind.String()).Msg("dropping unhandled peer message")
	}
}

type loginPayload struct {
	Name     string      `json:"name"`
	Position model.Point `json:"position"`
}

func (n *Node) handleLogin(peerID string, env wire.TextEnvelope) {
	var p loginPayload
	if err := env.DecodePayload(&p); err != nil {
		n.log.Warn().Err(err).Msg("malformed Login payload")
		return
	}
	r := n.store.LoginRequester(p.Name)
	r.Origin = p.Position
	n.requesterPeer[r.ID] = peerID
	n.peerRequester[peerID] = r.ID
	n.replicate(replication.RequesterUpsert(r))
	n.ext.Send(peerID, wire.TextEnvelope{Title: wire.KindLoginAck.String(), Payload: mustMarshal(struct {
		ID int `json:"id"`
	}{r.ID})})
}

type registerPayload struct {
	Position model.Point `json:"position"`
}

func (n *Node) handleRegister(peerID string, env wire.TextEnvelope) {
	var p registerPayload
	if err := env.DecodePayload(&p); err != nil {
		n.log.Warn().Err(err).Msg("malformed Register payload")
		return
	}
	prov := n.store.RegisterProvider(p.Position)
	n.providerPeer[prov.ID] = peerID
	n.peerProvider[peerID] = prov.ID
	n.replicate(replication.ProviderUpsert(prov))
	n.ext.Send(peerID, wire.TextEnvelope{Title: wire.KindRegisterAck.String(), Payload: mustMarshal(struct {
		ID int `json:"id"`
	}{prov.ID})})
}

type requestTripPayload struct {
	Origin      model.Point `json:"origin"`
	Destination model.Point `json:"destination"`
	Amount      float64     `json:"amount"`
}

func (n *Node) handleRequestTrip(peerID string, env wire.TextEnvelope) {
	requesterID, ok := n.peerRequester[peerID]
	if !ok {
		n.log.Warn().Str("peer", peerID).Msg("RequestTrip from unknown requester")
		return
	}
	if !n.isLeader() {
		// Single-leader admission (§2, invariant 1): a follower never
		// drives 2PC for a request it cannot commit on its own. Clients
		// are expected to discover the real leader via WhoIsCoordinator
		// (§6) and reconnect there; this rejects rather than silently
		// admitting work that would stall forever on a follower.
		n.log.Warn().Str("peer", peerID).Int("requester_id", requesterID).Msg("RequestTrip received by a non-leader, rejecting")
		n.sendRejectTrip(requesterID, coordfail.Internal)
		return
	}
	var p requestTripPayload
	if err := env.DecodePayload(&p); err != nil {
		n.log.Warn().Err(err).Msg("malformed RequestTrip payload")
		return
	}

	candidate, ok := n.store.FindNearestAvailableProvider(p.Origin, nil)
	if !ok {
		n.sendRejectTrip(requesterID, coordfail.NoDriver)
		return
	}

	req := n.store.AdmitRequest(requesterID, p.Origin, p.Destination, p.Amount)
	metrics.RequestsAdmitted.Inc()
	n.replicate(replication.RequestUpsert(req))

	ctx, cancel := context.WithTimeout(context.Background(), n.prepareT)
	defer cancel()
	committed := n.txnCoord.Run(ctx, req, candidate.ID,
		n.preparePayment,
		n.prepareProviderVote(candidate.ID),
		n.abortProvider,
		n.sendRejectTrip,
		n.broadcastRequestOutcome(req.ID),
	)
	if !committed {
		return
	}

	n.offerRequest(req)
}

func (n *Node) offerRequest(req *model.Request) {
	exclude := n.excludeSetFor(req.ID)
	outcome := n.matcher.Offer(req, exclude, n.sendCanAccept, n.sendRejectTrip)
	if outcome == matcher.OutcomeNoDriver {
		delete(n.excludeSets, req.ID)
	}
}

func (n *Node) excludeSetFor(requestID int) map[int]bool {
	set, ok := n.excludeSets[requestID]
	if !ok {
		set = make(map[int]bool)
		n.excludeSets[requestID] = set
	}
	return set
}

type canAcceptRespPayload struct {
	RequestID int  `json:"request_id"`
	Accepted  bool `json:"accepted"`
}

func (n *Node) handleCanAcceptResp(peerID string, env wire.TextEnvelope) {
	providerID, ok := n.peerProvider[peerID]
	if !ok {
		return
	}
	var p canAcceptRespPayload
	if err := env.DecodePayload(&p); err != nil {
		n.log.Warn().Err(err).Msg("malformed CanAcceptResp payload")
		return
	}

	if !p.Accepted {
		metrics.OffersDeclined.Inc()
		_ = n.matcher.Decline(providerID)
		req, err := n.store.GetRequest(p.RequestID)
		if err != nil || req.Phase.Terminal() {
			return
		}
		n.excludeSetFor(p.RequestID)[providerID] = true
		n.offerRequest(req)
		return
	}

	if err := n.matcher.Accept(providerID, p.RequestID); err != nil {
		n.log.Warn().Err(err).Int("request_id", p.RequestID).Msg("accept failed")
		return
	}
	req, err := n.store.GetRequest(p.RequestID)
	if err != nil {
		return
	}
	delete(n.excludeSets, p.RequestID)
	n.replicate(replication.RequestUpsert(req))
	n.replicate(replication.ProviderUpsert(mustProvider(n.store, providerID)))

	start := wire.TextEnvelope{Title: wire.KindStartTrip.String(), Payload: mustMarshal(struct {
		RequestID   int         `json:"request_id"`
		Origin      model.Point `json:"origin"`
		Destination model.Point `json:"destination"`
	}{req.ID, req.Origin, req.Destination})}
	n.ext.Send(peerID, start)
	if reqPeer, ok := n.requesterPeer[req.RequesterID]; ok {
		n.ext.Send(reqPeer, start)
	}
}

type finishTripPayload struct {
	RequestID    int         `json:"request_id"`
	FinalPoint   model.Point `json:"final_position"`
}

func (n *Node) handleFinishTrip(peerID string, env wire.TextEnvelope) {
	providerID, ok := n.peerProvider[peerID]
	if !ok {
		return
	}
	var p finishTripPayload
	if err := env.DecodePayload(&p); err != nil {
		n.log.Warn().Err(err).Msg("malformed FinishTrip payload")
		return
	}

	req, err := n.store.GetRequest(p.RequestID)
	if err != nil {
		// Idempotent: a repeated FinishTrip for an already-completed
		// request is a no-op ack, never an error (§7 "State").
		n.ext.Send(peerID, wire.TextEnvelope{Title: wire.KindAck.String()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.prepareT)
	defer cancel()
	if n.gateway != nil {
		if err := n.gateway.Capture(ctx, req.RequesterID, req.Amount); err != nil {
			n.log.Error().Err(err).Int("request_id", req.ID).Msg("capture failed, will not retry past this handler")
		}
	}

	_ = n.store.MarkActive(providerID, &p.FinalPoint)
	_ = n.store.SetPhase(req.ID, model.PhaseCompleted)
	n.store.RemoveRequest(req.ID)
	delete(n.excludeSets, req.ID)
	metrics.RequestsByOutcome.WithLabelValues("completed").Inc()

	ack := wire.TextEnvelope{Title: wire.KindAck.String()}
	n.ext.Send(peerID, ack)
	if reqPeer, ok := n.requesterPeer[req.RequesterID]; ok {
		n.ext.Send(reqPeer, ack)
	}
	n.replicate(replication.ProviderUpsert(mustProvider(n.store, providerID)))
	n.replicate(replication.RequestDelete(req.ID))
}

func (n *Node) handleWhoIsCoordinator(peerID string) {
	n.mu.Lock()
	leaderID, addr := n.leaderID, n.leaderTCP
	n.mu.Unlock()
	if addr2, ok := recovery.WhoIsCoordinatorReply(leaderID, addr); ok {
		n.ext.Send(peerID, wire.TextEnvelope{Title: wire.KindWhoIsCoordinatorAck.String(), Payload: mustMarshal(struct {
			Addr string `json:"addr"`
		}{addr2})})
		return
	}
	n.ext.Send(peerID, wire.TextEnvelope{Title: wire.KindWhoIsCoordinatorAck.String()})
}

type recoverRequestPayload struct {
	Role      string `json:"role"`
	RoleID    int    `json:"role_id"`
	RequestID int    `json:"request_id"`
}

func (n *Node) handleRecoverRequest(peerID string, env wire.TextEnvelope) {
	var p recoverRequestPayload
	if err := env.DecodePayload(&p); err != nil {
		n.log.Warn().Err(err).Msg("malformed RecoverRequest payload")
		return
	}
	role := recovery.Role(p.Role)
	if role == recovery.RoleRequester {
		n.requesterPeer[p.RoleID] = peerID
		n.peerRequester[peerID] = p.RoleID
	} else {
		n.providerPeer[p.RoleID] = peerID
		n.peerProvider[peerID] = p.RoleID
	}

	res := recovery.Resolve(n.store, recovery.Request{Role: role, RoleID: p.RoleID, RequestID: p.RequestID})
	if res.Outcome == recovery.OutcomeTerminal {
		n.ext.Send(peerID, wire.TextEnvelope{Title: wire.KindRejectTrip.String(), Payload: mustMarshal(struct {
			Reason string `json:"reason"`
		}{string(coordfail.Internal)})})
		return
	}

	msg, ok := recovery.ResumeMessageFor(n.store, res.Request, role, p.RoleID)
	if !ok {
		return
	}
	n.ext.Send(peerID, wire.TextEnvelope{Title: msg.Kind.String(), Payload: mustMarshal(struct {
		RequestID   int         `json:"request_id"`
		Origin      model.Point `json:"origin"`
		Destination model.Point `json:"destination"`
	}{msg.RequestID, msg.Origin, msg.Destination})})
}

// preparePayment satisfies txn.PreparePaymentFunc.
func (n *Node) preparePayment(ctx context.Context, requesterID int, amount float64) error {
	if n.gateway == nil {
		return nil
	}
	return n.gateway.Authorize(ctx, requesterID, amount)
}

// prepareProviderVote returns a txn.PrepareProviderFunc bound to
// candidateID: it sends PrepareProvider and blocks for that provider's
// vote, delivered asynchronously via handleProviderVote, using a
// reply-channel keyed by request id (§9 ask-pattern).
func (n *Node) prepareProviderVote(candidateID int) txn.PrepareProviderFunc {
	return func(ctx context.Context, providerID, requestID int) error {
		ch := make(chan model.Vote, 1)
		n.voteMu.Lock()
		n.votes[requestID] = ch
		n.voteMu.Unlock()
		defer func() {
			n.voteMu.Lock()
			delete(n.votes, requestID)
			n.voteMu.Unlock()
		}()

		peerID, ok := n.providerPeer[providerID]
		if !ok {
			return fmt.Errorf("node: provider %d not connected", providerID)
		}
		if !n.ext.Send(peerID, wire.TextEnvelope{Title: wire.KindPrepareProvider.String(), Payload: mustMarshal(struct {
			RequestID int `json:"request_id"`
		}{requestID})}) {
			return fmt.Errorf("node: send PrepareProvider to provider %d failed", providerID)
		}

		select {
		case v := <-ch:
			if v == model.VoteYes {
				return nil
			}
			return fmt.Errorf("node: provider %d voted no", providerID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type votePayload struct {
	RequestID int `json:"request_id"`
}

func (n *Node) handleProviderVote(env wire.TextEnvelope, vote model.Vote) {
	var p votePayload
	if err := env.DecodePayload(&p); err != nil {
		return
	}
	n.voteMu.Lock()
	ch, ok := n.votes[p.RequestID]
	n.voteMu.Unlock()
	if ok {
		select {
		case ch <- vote:
		default:
		}
	}
}

// abortProvider satisfies txn.AbortFunc.
func (n *Node) abortProvider(ctx context.Context, providerID int) {
	if peerID, ok := n.providerPeer[providerID]; ok {
		n.ext.Send(peerID, wire.TextEnvelope{Title: wire.KindAbort.String()})
	}
}

// sendRejectTrip satisfies txn.RejectFunc and matcher.RejectFunc.
func (n *Node) sendRejectTrip(requesterID int, reason coordfail.Reason) {
	metrics.AbortsTotal.WithLabelValues(string(reason)).Inc()
	if peerID, ok := n.requesterPeer[requesterID]; ok {
		n.ext.Send(peerID, wire.TextEnvelope{Title: wire.KindRejectTrip.String(), Payload: mustMarshal(struct {
			Reason string `json:"reason"`
		}{string(reason)})})
	}
}

// sendCanAccept satisfies matcher.OfferFunc.
func (n *Node) sendCanAccept(providerID, requestID int) error {
	peerID, ok := n.providerPeer[providerID]
	if !ok {
		return fmt.Errorf("node: provider %d not connected", providerID)
	}
	metrics.OffersSent.Inc()
	if !n.ext.Send(peerID, wire.TextEnvelope{Title: wire.KindCanAccept.String(), Payload: mustMarshal(struct {
		RequestID int `json:"request_id"`
	}{requestID})}) {
		return fmt.Errorf("node: send CanAccept to provider %d failed", providerID)
	}
	return nil
}

// broadcastRequestOutcome returns a txn.BroadcastFunc bound to requestID:
// txn.Coordinator calls it with the committed request on success, or nil
// after having already called store.RemoveRequest on abort. Binding the id
// up front means the abort case still replicates a delete instead of
// silently leaving followers holding the pre-commit RequestUpsert that
// handleRequestTrip sent before 2PC ran.
func (n *Node) broadcastRequestOutcome(requestID int) txn.BroadcastFunc {
	return func(req *model.Request) {
		if req == nil {
			n.replicate(replication.RequestDelete(requestID))
			return
		}
		n.replicate(replication.RequestUpsert(req))
	}
}

func (n *Node) replicate(d replication.Delta) {
	n.mu.Lock()
	b := n.broadcaster
	n.mu.Unlock()
	if b != nil {
		b.Publish(d)
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("node: marshal %T: %v", v, err))
	}
	return data
}

func mustProvider(store *storage.Store, id int) *model.Provider {
	p, err := store.GetProvider(id)
	if err != nil {
		return &model.Provider{ID: id}
	}
	return p
}
