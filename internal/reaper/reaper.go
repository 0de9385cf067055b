// Package reaper implements §4.8: a periodic sweep that evicts providers
// stalled in Waiting-for-offer-ack past T_stall and routes their in-flight
// request back to the matcher with that provider excluded.
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/dreamware/ridecoord/internal/matcher"
	"github.com/dreamware/ridecoord/internal/metrics"
	"github.com/dreamware/ridecoord/internal/storage"
)

var log = logging.For("reaper")

// Reaper ticks every interval and reaps any provider that has been Waiting
// for longer than stallTimeout.
type Reaper struct {
	store        *storage.Store
	matcher      *matcher.Matcher
	interval     time.Duration
	stallTimeout time.Duration

	offer  matcher.OfferFunc
	reject matcher.RejectFunc

	// excluded tracks, per request id, the providers already known
	// unsuitable across repeated reap/retry cycles for that request. Used
	// only when no shared set is installed via UseSharedExcludeSets — a
	// standalone Reaper (as driven directly by this package's own tests)
	// owns this bookkeeping itself.
	mu       sync.Mutex
	excluded map[int]map[int]bool

	getExclude   func(requestID int) map[int]bool
	clearExclude func(requestID int)
}

// New creates a Reaper. offer and reject are the same capability functions
// the matcher uses to reach providers and requesters.
func New(store *storage.Store, m *matcher.Matcher, interval, stallTimeout time.Duration, offer matcher.OfferFunc, reject matcher.RejectFunc) *Reaper {
	return &Reaper{
		store:        store,
		matcher:      m,
		interval:     interval,
		stallTimeout: stallTimeout,
		offer:        offer,
		reject:       reject,
		excluded:     make(map[int]map[int]bool),
	}
}

// UseSharedExcludeSets replaces the reaper's own exclude-set bookkeeping
// with get/clear. A coordinator node drives Sweep through its own actor
// inbox and already tracks per-request excluded providers (offers declined
// via CanAcceptResp) in its own map; without this, a reap-driven retry
// would consult a second, divergent exclusion set and could re-offer a
// provider that already declined the same request.
func (r *Reaper) UseSharedExcludeSets(get func(requestID int) map[int]bool, clear func(requestID int)) {
	r.getExclude = get
	r.clearExclude = clear
}

// Run ticks until ctx is cancelled, calling Sweep on its own goroutine. It
// assumes exclusive ownership of store/matcher for as long as it runs,
// per §5 — safe for the standalone Reaper used directly by tests, but a
// coordinator node wires Sweep itself through its own single-actor inbox
// instead of calling Run (see internal/node.Node.Sweep), since store must
// never be touched from two goroutines at once.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep reaps every provider stalled past T_stall and retries its request.
func (r *Reaper) Sweep() {
	cutoff := time.Now().Add(-r.stallTimeout)
	stalled := r.store.ReapStalled(cutoff)
	for _, p := range stalled {
		reqID := p.AssignedReqID
		log.Info().Int("provider_id", p.ID).Int("request_id", reqID).Msg("reaping stalled offer")
		if err := r.store.MarkActive(p.ID, nil); err != nil {
			continue
		}
		metrics.ProvidersReaped.Inc()

		req, err := r.store.GetRequest(reqID)
		if err != nil {
			// The request was already resolved (e.g. cancelled) before the
			// reaper got to it; nothing to retry.
			continue
		}
		if req.Phase.Terminal() {
			continue
		}

		exclude := r.excludeSetFor(reqID)
		exclude[p.ID] = true
		if outcome := r.matcher.Offer(req, exclude, r.offer, r.reject); outcome == matcher.OutcomeNoDriver {
			r.clearExcludeSetFor(reqID)
		}
	}
}

func (r *Reaper) excludeSetFor(requestID int) map[int]bool {
	if r.getExclude != nil {
		return r.getExclude(requestID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.excluded[requestID]
	if !ok {
		set = make(map[int]bool)
		r.excluded[requestID] = set
	}
	return set
}

func (r *Reaper) clearExcludeSetFor(requestID int) {
	if r.clearExclude != nil {
		r.clearExclude(requestID)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.excluded, requestID)
}
