package node

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/ridecoord/internal/gatewayclient"
	"github.com/dreamware/ridecoord/internal/matcher"
	"github.com/dreamware/ridecoord/internal/model"
	"github.com/dreamware/ridecoord/internal/storage"
	"github.com/dreamware/ridecoord/internal/txn"
	"github.com/dreamware/ridecoord/internal/wire"
	"github.com/stretchr/testify/require"
)

// fakeExternal records every envelope sent to each peer id. When it sees a
// PrepareProvider it immediately votes yes on the provider's behalf, which
// is enough to drive the 2PC prepare phase to completion without a real
// socket: handleProviderVote only touches Node's own vote-reply map, so
// calling it straight from here (as HandleExternal would from a reader
// goroutine) is safe even while handleRequestTrip is still on the stack.
type fakeExternal struct {
	mu   sync.Mutex
	sent map[string][]wire.TextEnvelope
	node *Node
}

func newFakeExternal() *fakeExternal {
	return &fakeExternal{sent: make(map[string][]wire.TextEnvelope)}
}

func (f *fakeExternal) Send(id string, env wire.TextEnvelope) bool {
	f.mu.Lock()
	f.sent[id] = append(f.sent[id], env)
	f.mu.Unlock()

	if env.Title == wire.KindPrepareProvider.String() && f.node != nil {
		var p struct {
			RequestID int `json:"request_id"`
		}
		_ = env.DecodePayload(&p)
		f.node.HandleExternal(id, wire.TextEnvelope{
			Title: wire.KindVoteYes.String(),
			Payload: mustMarshal(struct {
				RequestID int `json:"request_id"`
			}{p.RequestID}),
		})
	}
	return true
}

func (f *fakeExternal) titles(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, env := range f.sent[id] {
		out = append(out, env.Title)
	}
	return out
}

func marshal(_ *testing.T, v interface{}) json.RawMessage {
	return mustMarshal(v)
}

func newTestNode(t *testing.T, gw *gatewayclient.Client) (*Node, *fakeExternal, *storage.Store) {
	t.Helper()
	store := storage.New()
	m := matcher.New(store)
	txnCoord := txn.New(store, time.Second)
	ext := newFakeExternal()
	n := New(Deps{
		NodeID:         1,
		Store:          store,
		Matcher:        m,
		Txn:            txnCoord,
		Gateway:        gw,
		External:       ext,
		PrepareTimeout: time.Second,
	})
	ext.node = n
	// These tests drive handlers directly rather than through the election
	// layer, so BecomeLeader (which also wires a replication.Broadcaster off
	// Deps.Peers, nil here) is never called; set the role field straight
	// since this file is in package node. A fresh Node otherwise starts
	// RoleUnknown (§2 invariant 1: a follower, let alone an unelected node,
	// never admits RequestTrip), which would reject every request below.
	n.role = model.RoleLeader
	return n, ext, store
}

func TestHappyPathLoginRegisterRequestAcceptFinish(t *testing.T) {
	n, ext, store := newTestNode(t, nil)

	n.handleLogin("req-peer", wire.TextEnvelope{Title: "Login", Payload: marshal(t, struct {
		Name     string      `json:"name"`
		Position model.Point `json:"position"`
	}{"alice", model.Point{X: 0, Y: 0}})})
	requester, err := store.GetRequester(1)
	require.NoError(t, err)
	require.Equal(t, "alice", requester.Name)

	n.handleRegister("prov-peer", wire.TextEnvelope{Title: "Register", Payload: marshal(t, struct {
		Position model.Point `json:"position"`
	}{model.Point{X: 1, Y: 1}})})
	provider, err := store.GetProvider(1)
	require.NoError(t, err)
	require.Equal(t, model.ProviderActive, provider.Status)

	n.handleRequestTrip("req-peer", wire.TextEnvelope{Title: "RequestTrip", Payload: marshal(t, struct {
		Origin      model.Point `json:"origin"`
		Destination model.Point `json:"destination"`
		Amount      float64     `json:"amount"`
	}{model.Point{X: 0, Y: 0}, model.Point{X: 5, Y: 5}, 12.5})})

	require.Contains(t, ext.titles("prov-peer"), "PrepareProvider")
	require.Contains(t, ext.titles("prov-peer"), "CanAccept")

	req, err := store.GetRequest(1)
	require.NoError(t, err)
	require.Equal(t, model.PhaseAwaitingProvider, req.Phase)

	n.handleCanAcceptResp("prov-peer", wire.TextEnvelope{Title: "CanAcceptResp", Payload: marshal(t, struct {
		RequestID int  `json:"request_id"`
		Accepted  bool `json:"accepted"`
	}{1, true})})

	req, err = store.GetRequest(1)
	require.NoError(t, err)
	require.Equal(t, model.PhaseInProgress, req.Phase)
	require.Contains(t, ext.titles("prov-peer"), "StartTrip")
	require.Contains(t, ext.titles("req-peer"), "StartTrip")

	n.handleFinishTrip("prov-peer", wire.TextEnvelope{Title: "FinishTrip", Payload: marshal(t, struct {
		RequestID  int         `json:"request_id"`
		FinalPoint model.Point `json:"final_position"`
	}{1, model.Point{X: 5, Y: 5}})})

	_, err = store.GetRequest(1)
	require.Error(t, err)
	provider, err = store.GetProvider(1)
	require.NoError(t, err)
	require.Equal(t, model.ProviderActive, provider.Status)
	require.Contains(t, ext.titles("prov-peer"), "Ack")
	require.Contains(t, ext.titles("req-peer"), "Ack")
}

func TestRequestTripRejectedWhenPaymentDenied(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			_, _ = conn.Write([]byte(`{"CheckPaymentAuthorization":{"passenger_id":1,"authorized":false}}` + "\n"))
		}
	}()

	gw := gatewayclient.New(ln.Addr().String())
	n, ext, store := newTestNode(t, gw)

	n.handleLogin("req-peer", wire.TextEnvelope{Title: "Login", Payload: marshal(t, struct {
		Name     string      `json:"name"`
		Position model.Point `json:"position"`
	}{"bob", model.Point{X: 0, Y: 0}})})
	n.handleRegister("prov-peer", wire.TextEnvelope{Title: "Register", Payload: marshal(t, struct {
		Position model.Point `json:"position"`
	}{model.Point{X: 1, Y: 1}})})

	n.handleRequestTrip("req-peer", wire.TextEnvelope{Title: "RequestTrip", Payload: marshal(t, struct {
		Origin      model.Point `json:"origin"`
		Destination model.Point `json:"destination"`
		Amount      float64     `json:"amount"`
	}{model.Point{X: 0, Y: 0}, model.Point{X: 5, Y: 5}, 12.5})})

	require.Contains(t, ext.titles("prov-peer"), "Abort")
	require.Contains(t, ext.titles("req-peer"), "RejectTrip")

	_, err = store.GetRequest(1)
	require.Error(t, err)
	provider, err := store.GetProvider(1)
	require.NoError(t, err)
	require.Equal(t, model.ProviderActive, provider.Status)
}

func TestRequestTripRejectedWhenNoDriverAvailable(t *testing.T) {
	n, ext, _ := newTestNode(t, nil)

	n.handleLogin("req-peer", wire.TextEnvelope{Title: "Login", Payload: marshal(t, struct {
		Name     string      `json:"name"`
		Position model.Point `json:"position"`
	}{"carol", model.Point{X: 0, Y: 0}})})

	n.handleRequestTrip("req-peer", wire.TextEnvelope{Title: "RequestTrip", Payload: marshal(t, struct {
		Origin      model.Point `json:"origin"`
		Destination model.Point `json:"destination"`
		Amount      float64     `json:"amount"`
	}{model.Point{X: 0, Y: 0}, model.Point{X: 5, Y: 5}, 9})})

	require.Contains(t, ext.titles("req-peer"), "RejectTrip")
}

func TestSweepRetriesStalledOfferThroughNodeInbox(t *testing.T) {
	n, ext, store := newTestNode(t, nil)

	n.handleLogin("req-peer", wire.TextEnvelope{Title: "Login", Payload: marshal(t, struct {
		Name     string      `json:"name"`
		Position model.Point `json:"position"`
	}{"dana", model.Point{X: 0, Y: 0}})})
	n.handleRegister("stalled-peer", wire.TextEnvelope{Title: "Register", Payload: marshal(t, struct {
		Position model.Point `json:"position"`
	}{model.Point{X: 1, Y: 1}})})
	n.handleRegister("fresh-peer", wire.TextEnvelope{Title: "Register", Payload: marshal(t, struct {
		Position model.Point `json:"position"`
	}{model.Point{X: 100, Y: 100}})})

	req := store.AdmitRequest(1, model.Point{X: 0, Y: 0}, model.Point{X: 5, Y: 5}, 10)
	require.NoError(t, store.SetPhase(req.ID, model.PhaseAwaitingProvider))
	require.NoError(t, store.MarkWaiting(1, req.ID))
	stalled, err := store.GetProvider(1)
	require.NoError(t, err)
	stalled.WaitingSince = time.Now().Add(-time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Sweep()

	require.Eventually(t, func() bool {
		return len(ext.titles("fresh-peer")) > 0
	}, time.Second, 10*time.Millisecond)
	require.Contains(t, ext.titles("fresh-peer"), "CanAccept")

	provider, err := store.GetProvider(1)
	require.NoError(t, err)
	require.Equal(t, model.ProviderActive, provider.Status)
}
