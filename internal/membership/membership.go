// Package membership holds the fixed, deploy-time cluster roster: each
// node's id and its TCP/UDP addresses (§6 "Cluster membership"). It is
// immutable after construction — node churn is handled by the leader and
// down-node state in internal/election.Ring, not by changing the roster.
package membership

import "fmt"

// Member is one coordinator's address pair.
type Member struct {
	ID      int
	TCPAddr string
	UDPAddr string
}

// Roster is the id -> address mapping every coordinator node boots with.
type Roster struct {
	members map[int]Member
	ids     []int // ascending, for ring-walk successor lookups
}

// NewRoster builds a roster from members. Panics on duplicate ids since a
// malformed roster is a deploy-time configuration error, not a runtime one.
func NewRoster(members []Member) *Roster {
	r := &Roster{members: make(map[int]Member, len(members))}
	for _, m := range members {
		if _, exists := r.members[m.ID]; exists {
			panic(fmt.Sprintf("membership: duplicate node id %d", m.ID))
		}
		r.members[m.ID] = m
		r.ids = append(r.ids, m.ID)
	}
	sortInts(r.ids)
	return r
}

func sortInts(ids []int) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// Lookup returns the member for id.
func (r *Roster) Lookup(id int) (Member, bool) {
	m, ok := r.members[id]
	return m, ok
}

// IDs returns every member id in ascending order.
func (r *Roster) IDs() []int {
	out := make([]int, len(r.ids))
	copy(out, r.ids)
	return out
}

// Successor returns the next id in ring order after id, wrapping around,
// skipping any id for which down reports true. Returns (0, false) if every
// other member is down.
func (r *Roster) Successor(id int, down func(int) bool) (int, bool) {
	n := len(r.ids)
	if n == 0 {
		return 0, false
	}
	start := indexOf(r.ids, id)
	for i := 1; i <= n; i++ {
		candidate := r.ids[(start+i)%n]
		if candidate == id {
			continue
		}
		if down == nil || !down(candidate) {
			return candidate, true
		}
	}
	return 0, false
}

func indexOf(ids []int, id int) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return 0
}

// Min returns the lowest id among candidates, which is the election
// extremum this implementation uses (§4.7, §9: minimum-id-wins).
func Min(candidates []int) int {
	if len(candidates) == 0 {
		return 0
	}
	min := candidates[0]
	for _, c := range candidates[1:] {
		if c < min {
			min = c
		}
	}
	return min
}
