// Package txn implements §4.5's per-request two-phase commit: PREPARE sent
// in parallel to the payment gateway and the matched provider, COMMIT or
// ABORT on the combined vote, with recovery support for a leader that
// crashes mid-protocol.
package txn

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/ridecoord/internal/coordfail"
	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/dreamware/ridecoord/internal/model"
	"github.com/dreamware/ridecoord/internal/storage"
)

var log = logging.For("txn")

// PreparePaymentFunc asks the payment gateway to authorize req's amount. A
// nil error is a yes vote; any error (denial or timeout) is a no vote.
type PreparePaymentFunc func(ctx context.Context, requesterID int, amount float64) error

// PrepareProviderFunc asks providerID to vote on taking requestID. A nil
// error is a yes vote.
type PrepareProviderFunc func(ctx context.Context, providerID, requestID int) error

// AbortFunc notifies a participant that committed (or may have) that the
// overall transaction aborted.
type AbortFunc func(ctx context.Context, providerID int)

// BroadcastFunc replicates req's post-transaction state to followers, or
// its removal when req is nil. It is the coordinator's only hook into
// §4.6 replication; txn itself knows nothing about the wire.
type BroadcastFunc func(req *model.Request)

// RejectFunc notifies the requester's connection that req was rejected.
type RejectFunc func(requesterID int, reason coordfail.Reason)

// Coordinator drives PREPARE/COMMIT/ABORT over a single Store, exactly as
// storage and matcher do: synchronous, single-actor-owned, no goroutine of
// its own beyond the parallel PREPARE fan-out it spawns and joins before
// returning.
type Coordinator struct {
	store          *storage.Store
	prepareTimeout time.Duration
}

// New creates a Coordinator bound to store, with prepareTimeout bounding
// T_prepare (§4.5, §5 "every outbound RPC carries a timeout").
func New(store *storage.Store, prepareTimeout time.Duration) *Coordinator {
	return &Coordinator{store: store, prepareTimeout: prepareTimeout}
}

// Run executes one full PREPARE round for req against providerID, then
// commits or aborts depending on the votes. On commit it advances req to
// AwaitingProvider (the phase S2 expects a resumed leader to find it in,
// ready for the §4.4 offer protocol) and calls broadcast with the updated
// request. On abort it calls abortProvider if the provider voted yes (the
// payment side is sent nothing), calls reject with the appropriate reason, removes req from the store,
// and calls broadcast(nil) to propagate the deletion.
func (c *Coordinator) Run(
	ctx context.Context,
	req *model.Request,
	providerID int,
	payment PreparePaymentFunc,
	provider PrepareProviderFunc,
	abortProvider AbortFunc,
	reject RejectFunc,
	broadcast BroadcastFunc,
) bool {
	paymentVote, providerVote := c.prepare(ctx, req, providerID, payment, provider)
	req.PaymentVote = paymentVote
	req.ProviderVote = providerVote

	if paymentVote == model.VoteYes && providerVote == model.VoteYes {
		if err := c.store.SetPhase(req.ID, model.PhaseAwaitingProvider); err != nil {
			log.Warn().Err(err).Int("request_id", req.ID).Msg("commit could not advance phase")
		}
		log.Info().Int("request_id", req.ID).Msg("2pc committed")
		broadcast(req)
		return true
	}

	reason := coordfail.Internal
	switch {
	case paymentVote == model.VoteNo:
		reason = coordfail.PaymentDenied
	case providerVote == model.VoteNo:
		reason = coordfail.DriverDisconnected
	}

	if providerVote == model.VoteYes {
		abortProvider(ctx, providerID)
	}
	log.Info().Int("request_id", req.ID).Str("reason", string(reason)).Msg("2pc aborted")
	reject(req.RequesterID, reason)
	c.store.RemoveRequest(req.ID)
	broadcast(nil)
	return false
}

// prepare fans PreparePayment and PrepareProvider out in parallel and waits
// for both under a single T_prepare deadline (§4.5). A participant whose
// call errors (denial, timeout, or transport failure — §7 treats all three
// as an equivalent NO) votes No.
func (c *Coordinator) prepare(ctx context.Context, req *model.Request, providerID int, payment PreparePaymentFunc, provider PrepareProviderFunc) (model.Vote, model.Vote) {
	pctx, cancel := context.WithTimeout(ctx, c.prepareTimeout)
	defer cancel()

	var paymentVote, providerVote model.Vote
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := payment(pctx, req.RequesterID, req.Amount); err != nil {
			paymentVote = model.VoteNo
			return
		}
		paymentVote = model.VoteYes
	}()
	go func() {
		defer wg.Done()
		if err := provider(pctx, providerID, req.ID); err != nil {
			providerVote = model.VoteNo
			return
		}
		providerVote = model.VoteYes
	}()
	wg.Wait()
	return paymentVote, providerVote
}

// ResumeAfterCrash decides, without re-running PREPARE, how a newly elected
// leader resumes req: it returns PhaseAwaitingProvider when the mirrored
// payment vote is yes and providerCommitted is true, and PhaseCancelled
// otherwise. It contacts no participant; the caller supplies
// providerCommitted from the mirrored request state.
func ResumeAfterCrash(req *model.Request, providerCommitted bool) model.RequestPhase {
	if req.PaymentVote == model.VoteYes && providerCommitted {
		return model.PhaseAwaitingProvider
	}
	return model.PhaseCancelled
}
