package txn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/ridecoord/internal/coordfail"
	"github.com/dreamware/ridecoord/internal/model"
	"github.com/dreamware/ridecoord/internal/storage"
	"github.com/stretchr/testify/require"
)

func admit(t *testing.T, s *storage.Store) (*model.Request, *model.Provider) {
	t.Helper()
	r := s.LoginRequester("alice")
	p := s.RegisterProvider(model.Point{})
	req := s.AdmitRequest(r.ID, model.Point{}, model.Point{}, 12.5)
	return req, p
}

func TestRunCommitsOnBothYes(t *testing.T) {
	s := storage.New()
	req, p := admit(t, s)
	c := New(s, time.Second)

	var broadcasted *model.Request
	committed := c.Run(context.Background(), req, p.ID,
		func(ctx context.Context, requesterID int, amount float64) error { return nil },
		func(ctx context.Context, providerID, requestID int) error { return nil },
		func(ctx context.Context, providerID int) { t.Fatal("should not abort") },
		func(requesterID int, reason coordfail.Reason) { t.Fatal("should not reject") },
		func(r *model.Request) { broadcasted = r },
	)

	require.True(t, committed)
	require.NotNil(t, broadcasted)
	got, err := s.GetRequest(req.ID)
	require.NoError(t, err)
	require.Equal(t, model.PhaseAwaitingProvider, got.Phase)
}

func TestRunAbortsOnPaymentDenied(t *testing.T) {
	s := storage.New()
	req, p := admit(t, s)
	c := New(s, time.Second)

	var abortCalled bool
	var rejectReason coordfail.Reason
	var deleted bool
	committed := c.Run(context.Background(), req, p.ID,
		func(ctx context.Context, requesterID int, amount float64) error { return errors.New("denied") },
		func(ctx context.Context, providerID, requestID int) error { return nil },
		func(ctx context.Context, providerID int) { abortCalled = true },
		func(requesterID int, reason coordfail.Reason) { rejectReason = reason },
		func(r *model.Request) { deleted = r == nil },
	)

	require.False(t, committed)
	require.True(t, abortCalled, "the provider voted yes so it must receive Abort")
	require.Equal(t, coordfail.PaymentDenied, rejectReason)
	require.True(t, deleted)
	_, err := s.GetRequest(req.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunAbortsOnProviderNoWithoutAbortingPayment(t *testing.T) {
	s := storage.New()
	req, p := admit(t, s)
	c := New(s, time.Second)

	var abortCalled bool
	var rejectReason coordfail.Reason
	c.Run(context.Background(), req, p.ID,
		func(ctx context.Context, requesterID int, amount float64) error { return nil },
		func(ctx context.Context, providerID, requestID int) error { return errors.New("unreachable") },
		func(ctx context.Context, providerID int) { abortCalled = true },
		func(requesterID int, reason coordfail.Reason) { rejectReason = reason },
		func(r *model.Request) {},
	)

	require.False(t, abortCalled, "a no-voting participant is not sent Abort")
	require.Equal(t, coordfail.DriverDisconnected, rejectReason)
}

func TestRunTimesOutBothVotesAsNo(t *testing.T) {
	s := storage.New()
	req, p := admit(t, s)
	c := New(s, 20*time.Millisecond)

	var rejectReason coordfail.Reason
	committed := c.Run(context.Background(), req, p.ID,
		func(ctx context.Context, requesterID int, amount float64) error {
			<-ctx.Done()
			return ctx.Err()
		},
		func(ctx context.Context, providerID, requestID int) error {
			<-ctx.Done()
			return ctx.Err()
		},
		func(ctx context.Context, providerID int) {},
		func(requesterID int, reason coordfail.Reason) { rejectReason = reason },
		func(r *model.Request) {},
	)

	require.False(t, committed)
	require.Equal(t, coordfail.PaymentDenied, rejectReason)
}

func TestPrepareRunsParticipantsConcurrently(t *testing.T) {
	s := storage.New()
	req, p := admit(t, s)
	c := New(s, time.Second)

	var mu sync.Mutex
	var order []string
	block := make(chan struct{})

	c.Run(context.Background(), req, p.ID,
		func(ctx context.Context, requesterID int, amount float64) error {
			<-block
			mu.Lock()
			order = append(order, "payment")
			mu.Unlock()
			return nil
		},
		func(ctx context.Context, providerID, requestID int) error {
			mu.Lock()
			order = append(order, "provider")
			mu.Unlock()
			close(block)
			return nil
		},
		func(ctx context.Context, providerID int) {},
		func(requesterID int, reason coordfail.Reason) {},
		func(r *model.Request) {},
	)

	require.Equal(t, []string{"provider", "payment"}, order)
}

func TestResumeAfterCrash(t *testing.T) {
	req := &model.Request{PaymentVote: model.VoteYes}
	require.Equal(t, model.PhaseAwaitingProvider, ResumeAfterCrash(req, true))
	require.Equal(t, model.PhaseCancelled, ResumeAfterCrash(req, false))

	req2 := &model.Request{PaymentVote: model.VotePending}
	require.Equal(t, model.PhaseCancelled, ResumeAfterCrash(req2, true))
}
