package replication

import (
	"encoding/json"
	"testing"

	"github.com/dreamware/ridecoord/internal/model"
	"github.com/dreamware/ridecoord/internal/storage"
	"github.com/dreamware/ridecoord/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterAssignsMonotonicSeqWithinEpoch(t *testing.T) {
	var sent []wire.Envelope
	b := NewBroadcaster(3, func(env wire.Envelope) { sent = append(sent, env) })

	b.Publish(ProviderUpsert(&model.Provider{ID: 1}))
	b.Publish(ProviderUpsert(&model.Provider{ID: 2}))

	require.Len(t, sent, 2)
	var d1, d2 Delta
	require.NoError(t, json.Unmarshal(sent[0].Payload, &d1))
	require.NoError(t, json.Unmarshal(sent[1].Payload, &d2))
	require.Equal(t, 3, d1.Epoch)
	require.Equal(t, 1, d1.Seq)
	require.Equal(t, 2, d2.Seq)
	require.Equal(t, wire.KindNetworkStateDelta, sent[0].Kind)
}

func TestApplierAppliesInOrder(t *testing.T) {
	s := storage.New()
	a := NewApplier(s, nil)

	a.Receive(Delta{Epoch: 1, Seq: 1, Kind: EntityProvider, Op: OpUpsert, ID: 1, Provider: &model.Provider{ID: 1, Status: model.ProviderActive}})
	a.Receive(Delta{Epoch: 1, Seq: 2, Kind: EntityProvider, Op: OpDelete, ID: 1})

	_, err := s.GetProvider(1)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApplierBuffersOutOfOrderAndDrainsOnGapFill(t *testing.T) {
	s := storage.New()
	var gaps int
	a := NewApplier(s, func(epoch, have, want int) { gaps++ })

	a.Receive(Delta{Epoch: 1, Seq: 2, Kind: EntityProvider, Op: OpUpsert, ID: 2, Provider: &model.Provider{ID: 2}})
	_, err := s.GetProvider(2)
	require.ErrorIs(t, err, storage.ErrNotFound, "seq 2 must not apply before seq 1 arrives")
	require.Equal(t, 1, gaps)

	a.Receive(Delta{Epoch: 1, Seq: 1, Kind: EntityProvider, Op: OpUpsert, ID: 1, Provider: &model.Provider{ID: 1}})

	_, err = s.GetProvider(1)
	require.NoError(t, err)
	_, err = s.GetProvider(2)
	require.NoError(t, err, "buffered seq 2 must drain once seq 1 fills the gap")
}

func TestApplierResetsSequenceOnNewEpoch(t *testing.T) {
	s := storage.New()
	a := NewApplier(s, nil)
	a.Receive(Delta{Epoch: 1, Seq: 1, Kind: EntityProvider, Op: OpUpsert, ID: 1, Provider: &model.Provider{ID: 1}})
	a.Receive(Delta{Epoch: 1, Seq: 2, Kind: EntityProvider, Op: OpUpsert, ID: 2, Provider: &model.Provider{ID: 2}})

	// New leader epoch restarts sequencing at 1.
	a.Receive(Delta{Epoch: 2, Seq: 1, Kind: EntityProvider, Op: OpUpsert, ID: 3, Provider: &model.Provider{ID: 3}})

	_, err := s.GetProvider(3)
	require.NoError(t, err)
}

func TestApplierDropsStaleEpoch(t *testing.T) {
	s := storage.New()
	a := NewApplier(s, nil)
	a.Receive(Delta{Epoch: 2, Seq: 1, Kind: EntityProvider, Op: OpUpsert, ID: 1, Provider: &model.Provider{ID: 1}})
	a.Receive(Delta{Epoch: 1, Seq: 1, Kind: EntityProvider, Op: OpUpsert, ID: 9, Provider: &model.Provider{ID: 9}})

	_, err := s.GetProvider(9)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApplierDropsDuplicateSeq(t *testing.T) {
	s := storage.New()
	a := NewApplier(s, nil)
	a.Receive(Delta{Epoch: 1, Seq: 1, Kind: EntityProvider, Op: OpUpsert, ID: 1, Provider: &model.Provider{ID: 1, Position: model.Point{X: 1}}})
	a.Receive(Delta{Epoch: 1, Seq: 1, Kind: EntityProvider, Op: OpUpsert, ID: 1, Provider: &model.Provider{ID: 1, Position: model.Point{X: 99}}})

	p, err := s.GetProvider(1)
	require.NoError(t, err)
	require.Equal(t, 1.0, p.Position.X, "a redelivered seq 1 must not reapply")
}
