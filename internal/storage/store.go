package storage

import (
	"errors"
	"time"

	"github.com/dreamware/ridecoord/internal/model"
)

// ErrNotFound is returned by lookups for an id that isn't registered.
var ErrNotFound = errors.New("storage: not found")

// Store is the coordinator's authoritative (on the leader) or mirrored (on
// a follower) view of cluster entities. It is not safe for concurrent use
// from multiple goroutines — callers must serialize access through a single
// owning actor, per §5.
type Store struct {
	requesters map[int]*model.Requester
	providers  map[int]*model.Provider
	requests   map[int]*model.Request

	nextRequesterID int
	nextProviderID  int
	nextRequestID   int

	namesToRequesterID map[string]int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		requesters:         make(map[int]*model.Requester),
		providers:          make(map[int]*model.Provider),
		requests:           make(map[int]*model.Request),
		namesToRequesterID: make(map[string]int),
	}
}

// --- Requesters ---

// LoginRequester returns the stable id for name, assigning a new one on
// first login and reusing it on reconnect (invariant 5).
func (s *Store) LoginRequester(name string) *model.Requester {
	if id, ok := s.namesToRequesterID[name]; ok {
		r := s.requesters[id]
		r.Connected = true
		return r
	}
	s.nextRequesterID++
	r := &model.Requester{ID: s.nextRequesterID, Name: name, Connected: true}
	s.requesters[r.ID] = r
	s.namesToRequesterID[name] = r.ID
	return r
}

// GetRequester looks up a requester by id.
func (s *Store) GetRequester(id int) (*model.Requester, error) {
	r, ok := s.requesters[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// UpsertRequester inserts or replaces a requester record (used to apply
// replication deltas on a follower).
func (s *Store) UpsertRequester(r *model.Requester) {
	s.requesters[r.ID] = r
	s.namesToRequesterID[r.Name] = r.ID
	if r.ID > s.nextRequesterID {
		s.nextRequesterID = r.ID
	}
}

// RemoveRequester deletes a requester record. Its only caller is
// replication.Apply, for a requester-delete delta.
func (s *Store) RemoveRequester(id int) {
	if r, ok := s.requesters[id]; ok {
		delete(s.namesToRequesterID, r.Name)
	}
	delete(s.requesters, id)
}

// AllRequesters returns every known requester, for snapshotting/mirroring.
func (s *Store) AllRequesters() []*model.Requester {
	out := make([]*model.Requester, 0, len(s.requesters))
	for _, r := range s.requesters {
		out = append(out, r)
	}
	return out
}

// --- Providers ---

// RegisterProvider assigns a new id and inserts a provider at position pos.
func (s *Store) RegisterProvider(pos model.Point) *model.Provider {
	s.nextProviderID++
	p := &model.Provider{ID: s.nextProviderID, Position: pos, Status: model.ProviderActive, LastActivity: time.Now()}
	s.providers[p.ID] = p
	return p
}

// GetProvider looks up a provider by id.
func (s *Store) GetProvider(id int) (*model.Provider, error) {
	p, ok := s.providers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// UpsertProvider inserts or replaces a provider record.
func (s *Store) UpsertProvider(p *model.Provider) {
	s.providers[p.ID] = p
	if p.ID > s.nextProviderID {
		s.nextProviderID = p.ID
	}
}

// RemoveProvider deletes a provider record. Its only caller is
// replication.Apply, for a provider-delete delta.
func (s *Store) RemoveProvider(id int) {
	delete(s.providers, id)
}

// AllProviders returns every known provider.
func (s *Store) AllProviders() []*model.Provider {
	out := make([]*model.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	return out
}

// FindNearestAvailableProvider returns the Active provider closest to pos,
// excluding any id in exclude, breaking ties by lowest id (§4.3, §4.4).
func (s *Store) FindNearestAvailableProvider(pos model.Point, exclude map[int]bool) (*model.Provider, bool) {
	var best *model.Provider
	var bestDist float64
	for id, p := range s.providers {
		if p.Status != model.ProviderActive {
			continue
		}
		if exclude[id] {
			continue
		}
		d := pos.Distance(p.Position)
		if best == nil || d < bestDist || (d == bestDist && p.ID < best.ID) {
			best = p
			bestDist = d
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// MarkWaiting transitions a provider to Waiting-for-offer-ack for
// requestID, recording the offer timestamp for the reaper.
func (s *Store) MarkWaiting(providerID, requestID int) error {
	p, ok := s.providers[providerID]
	if !ok {
		return ErrNotFound
	}
	p.Status = model.ProviderWaitingForOfferAck
	p.AssignedReqID = requestID
	p.WaitingSince = time.Now()
	return nil
}

// MarkOnAssignment transitions a provider to OnAssignment for the given
// request (invariant 2).
func (s *Store) MarkOnAssignment(providerID, requestID int) error {
	p, ok := s.providers[providerID]
	if !ok {
		return ErrNotFound
	}
	p.Status = model.ProviderOnAssignment
	p.AssignedReqID = requestID
	p.LastActivity = time.Now()
	return nil
}

// MarkActive returns a provider to Active, e.g. after a decline, a reap, or
// trip completion.
func (s *Store) MarkActive(providerID int, pos *model.Point) error {
	p, ok := s.providers[providerID]
	if !ok {
		return ErrNotFound
	}
	p.Status = model.ProviderActive
	p.AssignedReqID = 0
	p.LastActivity = time.Now()
	if pos != nil {
		p.Position = *pos
	}
	return nil
}

// ReapStalled returns every provider in Waiting whose WaitingSince predates
// cutoff, per §4.8. It does not itself return them to Active — the caller
// (internal/reaper.Reaper.Sweep) does that via MarkActive, then retries
// the provider's in-flight request against the next candidate.
func (s *Store) ReapStalled(cutoff time.Time) []*model.Provider {
	var stalled []*model.Provider
	for _, p := range s.providers {
		if p.Status == model.ProviderWaitingForOfferAck && p.WaitingSince.Before(cutoff) {
			stalled = append(stalled, p)
		}
	}
	return stalled
}

// --- Requests ---

// AdmitRequest creates a new Request owned by requesterID, in
// PhaseAwaitingPayment.
func (s *Store) AdmitRequest(requesterID int, origin, destination model.Point, amount float64) *model.Request {
	s.nextRequestID++
	now := time.Now()
	req := &model.Request{
		ID:             s.nextRequestID,
		RequesterID:    requesterID,
		Phase:          model.PhaseAwaitingPayment,
		Amount:         amount,
		Origin:         origin,
		Destination:    destination,
		CreatedAt:      now,
		PhaseEnteredAt: now,
	}
	s.requests[req.ID] = req
	if r, ok := s.requesters[requesterID]; ok {
		r.RequestID = req.ID
	}
	return req
}

// GetRequest looks up a request by id.
func (s *Store) GetRequest(id int) (*model.Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// UpsertRequest inserts or replaces a request record.
func (s *Store) UpsertRequest(r *model.Request) {
	s.requests[r.ID] = r
	if r.ID > s.nextRequestID {
		s.nextRequestID = r.ID
	}
}

// SetPhase transitions req to phase, enforcing invariant 4 (no backward
// transitions). Returns an error if the transition would move backward.
func (s *Store) SetPhase(requestID int, phase model.RequestPhase) error {
	req, ok := s.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if req.Phase.Terminal() {
		return errors.New("storage: request already in a terminal phase")
	}
	if phase < req.Phase {
		return errors.New("storage: illegal backward phase transition")
	}
	req.Phase = phase
	req.PhaseEnteredAt = time.Now()
	return nil
}

// RemoveRequest deletes a request record (completion or cancellation), and
// clears the owning requester's in-flight pointer if still present.
func (s *Store) RemoveRequest(id int) {
	req, ok := s.requests[id]
	if ok {
		if r, ok := s.requesters[req.RequesterID]; ok && r.RequestID == id {
			r.RequestID = 0
			r.ProviderID = 0
		}
	}
	delete(s.requests, id)
}

// AllRequests returns every known request.
func (s *Store) AllRequests() []*model.Request {
	out := make([]*model.Request, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r)
	}
	return out
}
