package recovery

import (
	"testing"

	"github.com/dreamware/ridecoord/internal/model"
	"github.com/dreamware/ridecoord/internal/storage"
	"github.com/dreamware/ridecoord/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestResolveTerminalWhenNoRequestRemembered(t *testing.T) {
	s := storage.New()
	res := Resolve(s, Request{Role: RoleRequester, RoleID: 1, RequestID: 0})
	require.Equal(t, OutcomeTerminal, res.Outcome)
}

func TestResolveTerminalWhenRequestGone(t *testing.T) {
	s := storage.New()
	res := Resolve(s, Request{Role: RoleRequester, RoleID: 1, RequestID: 999})
	require.Equal(t, OutcomeTerminal, res.Outcome)
}

func TestResolveTerminalWhenPhaseIsTerminal(t *testing.T) {
	s := storage.New()
	r := s.LoginRequester("alice")
	req := s.AdmitRequest(r.ID, model.Point{}, model.Point{}, 5)
	require.NoError(t, s.SetPhase(req.ID, model.PhaseAwaitingProvider))
	require.NoError(t, s.SetPhase(req.ID, model.PhaseInProgress))
	require.NoError(t, s.SetPhase(req.ID, model.PhaseCompleted))

	res := Resolve(s, Request{Role: RoleRequester, RoleID: r.ID, RequestID: req.ID})
	require.Equal(t, OutcomeTerminal, res.Outcome)
}

func TestResolveResumedForLiveRequest(t *testing.T) {
	s := storage.New()
	r := s.LoginRequester("alice")
	req := s.AdmitRequest(r.ID, model.Point{}, model.Point{}, 5)

	res := Resolve(s, Request{Role: RoleRequester, RoleID: r.ID, RequestID: req.ID})
	require.Equal(t, OutcomeResumed, res.Outcome)
	require.Equal(t, req.ID, res.Request.ID)
}

func TestResumeMessageForInProgressIsStartTrip(t *testing.T) {
	s := storage.New()
	r := s.LoginRequester("alice")
	req := s.AdmitRequest(r.ID, model.Point{X: 1}, model.Point{X: 2}, 5)
	require.NoError(t, s.SetPhase(req.ID, model.PhaseAwaitingProvider))
	require.NoError(t, s.SetPhase(req.ID, model.PhaseInProgress))

	msg, ok := ResumeMessageFor(s, req, RoleRequester, r.ID)
	require.True(t, ok)
	require.Equal(t, wire.KindStartTrip, msg.Kind)
	require.Equal(t, model.Point{X: 1}, msg.Origin)
}

func TestResumeMessageForWaitingProviderResendsCanAccept(t *testing.T) {
	s := storage.New()
	p := s.RegisterProvider(model.Point{})
	r := s.LoginRequester("alice")
	req := s.AdmitRequest(r.ID, model.Point{}, model.Point{}, 5)
	require.NoError(t, s.SetPhase(req.ID, model.PhaseAwaitingProvider))
	require.NoError(t, s.MarkWaiting(p.ID, req.ID))

	msg, ok := ResumeMessageFor(s, req, RoleProvider, p.ID)
	require.True(t, ok)
	require.Equal(t, wire.KindCanAccept, msg.Kind)
}

func TestResumeMessageForAwaitingPaymentHasNothingToResend(t *testing.T) {
	s := storage.New()
	r := s.LoginRequester("alice")
	req := s.AdmitRequest(r.ID, model.Point{}, model.Point{}, 5)

	_, ok := ResumeMessageFor(s, req, RoleRequester, r.ID)
	require.False(t, ok)
}

func TestWhoIsCoordinatorReply(t *testing.T) {
	addr, ok := WhoIsCoordinatorReply(0, "")
	require.False(t, ok)

	addr, ok = WhoIsCoordinatorReply(1, "10.0.0.1:9000")
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:9000", addr)
}
