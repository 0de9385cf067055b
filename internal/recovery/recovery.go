// Package recovery implements §4.9: resolving a RecoverRequest from a
// restarted external role against the leader's live request table, and
// deciding which current-state message lets the role rejoin mid-flow.
package recovery

import (
	"github.com/dreamware/ridecoord/internal/model"
	"github.com/dreamware/ridecoord/internal/storage"
	"github.com/dreamware/ridecoord/internal/wire"
)

// Role identifies which external role is recovering.
type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
)

// Request is the decoded payload of a RecoverRequest message: the
// recovering role's own id and the last request id it remembers being
// part of (0 if it remembers none).
type Request struct {
	Role      Role
	RoleID    int
	RequestID int
}

// Outcome is what the leader should tell a recovering role.
type Outcome int

const (
	OutcomeTerminal Outcome = iota // the request is gone; reply with a terminal status
	OutcomeResumed                 // the request is live; reply with a current-state message
)

// Result is the decision produced by Resolve.
type Result struct {
	Outcome Outcome
	Request *model.Request // non-nil only when Outcome == OutcomeResumed
}

// Resolve looks up req.RequestID in store. A request that no longer
// exists, or that has reached a terminal phase, yields OutcomeTerminal —
// the leader has nothing left to resume.
func Resolve(store *storage.Store, req Request) Result {
	if req.RequestID == 0 {
		return Result{Outcome: OutcomeTerminal}
	}
	live, err := store.GetRequest(req.RequestID)
	if err != nil || live.Phase.Terminal() {
		return Result{Outcome: OutcomeTerminal}
	}
	return Result{Outcome: OutcomeResumed, Request: live}
}

// ResumeMessage is the current-state message the leader resends to a
// recovering role so it rejoins mid-flow (§4.9).
type ResumeMessage struct {
	Kind        wire.Kind
	RequestID   int
	Origin      model.Point
	Destination model.Point
}

// ResumeMessageFor decides the ResumeMessage for a recovering role given
// the live request resolved by Resolve. It reports false when nothing
// needs to be resent yet (e.g. a requester recovering while still in
// AwaitingPayment, which carries no role-visible state to repeat).
func ResumeMessageFor(store *storage.Store, req *model.Request, role Role, roleID int) (ResumeMessage, bool) {
	if req.Phase == model.PhaseInProgress {
		return ResumeMessage{Kind: wire.KindStartTrip, RequestID: req.ID, Origin: req.Origin, Destination: req.Destination}, true
	}
	if role == RoleProvider && req.Phase == model.PhaseAwaitingProvider {
		p, err := store.GetProvider(roleID)
		if err == nil && p.Status == model.ProviderWaitingForOfferAck && p.AssignedReqID == req.ID {
			return ResumeMessage{Kind: wire.KindCanAccept, RequestID: req.ID}, true
		}
	}
	return ResumeMessage{}, false
}
