// Package matcher implements §4.4: picking the best candidate provider for
// an admitted request and driving the CanAccept/CanAcceptResp offer
// protocol, retrying against the next candidate on decline or reap.
package matcher

import (
	"time"

	"github.com/dreamware/ridecoord/internal/coordfail"
	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/dreamware/ridecoord/internal/model"
	"github.com/dreamware/ridecoord/internal/storage"
)

// Outcome is what the caller should do after an Offer call.
type Outcome int

const (
	OutcomeOffered Outcome = iota // a CanAccept was sent; wait for the response
	OutcomeNoDriver               // candidate list (and the live registry) is exhausted
)

// Matcher drives provider selection for one coordinator. It holds no state
// of its own beyond the Store it's given — every call reads and mutates
// storage synchronously, matching §4.3's single-actor-owns-storage rule.
type Matcher struct {
	store *storage.Store
}

// New creates a Matcher over store.
func New(store *storage.Store) *Matcher {
	return &Matcher{store: store}
}

var log = logging.For("matcher")

// OfferFunc sends a CanAccept{requestID} to providerID. The matcher does
// not know how to reach a provider — that capability is injected, per §9's
// "narrow capability interface" note.
type OfferFunc func(providerID, requestID int) error

// RejectFunc notifies the requester that no provider could be found.
type RejectFunc func(requesterID int, reason coordfail.Reason)

// Offer selects the nearest eligible Active provider for req, marks it
// Waiting, and invokes offer to send CanAccept. If no provider is
// available it invokes reject with coordfail.NoDriver and removes the
// request. excludeIDs carries providers already known to be unsuitable
// (declined, reaped) across repeated calls for the same request.
func (m *Matcher) Offer(req *model.Request, excludeIDs map[int]bool, offer OfferFunc, reject RejectFunc) Outcome {
	for {
		p, ok := m.store.FindNearestAvailableProvider(req.Origin, excludeIDs)
		if !ok {
			log.Info().Int("request_id", req.ID).Msg("no driver available")
			reject(req.RequesterID, coordfail.NoDriver)
			m.store.RemoveRequest(req.ID)
			return OutcomeNoDriver
		}
		if err := m.store.MarkWaiting(p.ID, req.ID); err != nil {
			excludeIDs[p.ID] = true
			continue
		}
		if err := offer(p.ID, req.ID); err != nil {
			log.Info().Int("provider_id", p.ID).Msg("offer send failed, excluding and retrying")
			_ = m.store.MarkActive(p.ID, nil)
			excludeIDs[p.ID] = true
			continue
		}
		return OutcomeOffered
	}
}

// Accept applies a CanAcceptResp{accepted=true}: the provider moves to
// OnAssignment and the request moves to InProgress.
func (m *Matcher) Accept(providerID, requestID int) error {
	if err := m.store.MarkOnAssignment(providerID, requestID); err != nil {
		return err
	}
	return m.store.SetPhase(requestID, model.PhaseInProgress)
}

// Decline applies a CanAcceptResp{accepted=false}: the provider returns to
// Active and the caller should retry Offer with providerID excluded.
func (m *Matcher) Decline(providerID int) error {
	return m.store.MarkActive(providerID, nil)
}

// NowWaitingSince reports how long a provider has been waiting. The reaper
// does not call it; it decides staleness through storage.Store.ReapStalled.
func NowWaitingSince(p *model.Provider) time.Duration {
	return time.Since(p.WaitingSince)
}
