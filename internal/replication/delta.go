// Package replication implements §4.6: leader-to-follower broadcast of
// NetworkStateDelta messages carrying Requester/Provider/Request
// insert/update/delete, applied by followers in strict per-epoch sequence
// order with gap detection.
package replication

import "github.com/dreamware/ridecoord/internal/model"

// EntityKind identifies which table a Delta mutates.
type EntityKind int

const (
	EntityRequester EntityKind = iota
	EntityProvider
	EntityRequest
)

// Op is the mutation a Delta applies to the named entity.
type Op int

const (
	OpUpsert Op = iota
	OpDelete
)

// Delta is one self-contained replication event: it either replaces an
// entity's full fields or deletes it by id, and carries a sequence number
// monotonic within Epoch (§4.6, glossary "Epoch").
type Delta struct {
	Epoch int
	Seq   int
	Kind  EntityKind
	Op    Op
	ID    int

	Requester *model.Requester `json:",omitempty"`
	Provider  *model.Provider  `json:",omitempty"`
	Request   *model.Request   `json:",omitempty"`
}

// RequesterUpsert builds a Delta replicating a Requester insert/update.
func RequesterUpsert(r *model.Requester) Delta {
	return Delta{Kind: EntityRequester, Op: OpUpsert, ID: r.ID, Requester: r}
}

// RequesterDelete builds a Delta replicating a Requester removal.
func RequesterDelete(id int) Delta {
	return Delta{Kind: EntityRequester, Op: OpDelete, ID: id}
}

// ProviderUpsert builds a Delta replicating a Provider insert/update.
func ProviderUpsert(p *model.Provider) Delta {
	return Delta{Kind: EntityProvider, Op: OpUpsert, ID: p.ID, Provider: p}
}

// ProviderDelete builds a Delta replicating a Provider removal.
func ProviderDelete(id int) Delta {
	return Delta{Kind: EntityProvider, Op: OpDelete, ID: id}
}

// RequestUpsert builds a Delta replicating a Request insert/update.
func RequestUpsert(r *model.Request) Delta {
	return Delta{Kind: EntityRequest, Op: OpUpsert, ID: r.ID, Request: r}
}

// RequestDelete builds a Delta replicating a Request removal.
func RequestDelete(id int) Delta {
	return Delta{Kind: EntityRequest, Op: OpDelete, ID: id}
}

// Apply mutates store according to d. It is the single place that
// translates a wire-level Delta into storage calls, used identically by a
// follower applying a received delta and by a test asserting convergence.
func Apply(store storageTarget, d Delta) {
	switch d.Kind {
	case EntityRequester:
		if d.Op == OpDelete {
			store.RemoveRequester(d.ID)
		} else if d.Requester != nil {
			store.UpsertRequester(d.Requester)
		}
	case EntityProvider:
		if d.Op == OpDelete {
			store.RemoveProvider(d.ID)
		} else if d.Provider != nil {
			store.UpsertProvider(d.Provider)
		}
	case EntityRequest:
		if d.Op == OpDelete {
			store.RemoveRequest(d.ID)
		} else if d.Request != nil {
			store.UpsertRequest(d.Request)
		}
	}
}

// storageTarget is the narrow slice of *storage.Store that Apply needs,
// per §9's "narrow capability interface" note.
type storageTarget interface {
	UpsertRequester(*model.Requester)
	RemoveRequester(int)
	UpsertProvider(*model.Provider)
	RemoveProvider(int)
	UpsertRequest(*model.Request)
	RemoveRequest(int)
}
