package election

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/ridecoord/internal/membership"
	"github.com/stretchr/testify/require"
)

type testCluster struct {
	roster *membership.Roster
	rings  map[int]*Ring
	conns  map[int]net.PacketConn
	leader map[int]int
	mu     sync.Mutex
}

func newTestCluster(t *testing.T, ids []int) *testCluster {
	t.Helper()
	var members []membership.Member
	conns := map[int]net.PacketConn{}
	for _, id := range ids {
		conn, err := net.ListenPacket("udp", "127.0.0.1:0")
		require.NoError(t, err)
		conns[id] = conn
		members = append(members, membership.Member{ID: id, UDPAddr: conn.LocalAddr().String()})
	}
	roster := membership.NewRoster(members)

	tc := &testCluster{roster: roster, rings: map[int]*Ring{}, conns: conns, leader: map[int]int{}}
	for _, id := range ids {
		id := id
		r := NewRing(id, roster, conns[id])
		r.ackWait = 80 * time.Millisecond
		r.OnBecomeLeader = func() {
			tc.mu.Lock()
			tc.leader[id] = id
			tc.mu.Unlock()
		}
		r.OnBecomeFollower = func(leaderID int) {
			tc.mu.Lock()
			tc.leader[id] = leaderID
			tc.mu.Unlock()
		}
		tc.rings[id] = r
		go r.Run()
	}
	t.Cleanup(func() {
		for _, c := range conns {
			c.Close()
		}
	})
	return tc
}

func (tc *testCluster) leaderOf(id int) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.leader[id]
}

func TestElectionConvergesOnMinimumID(t *testing.T) {
	tc := newTestCluster(t, []int{1, 2, 3})
	tc.rings[3].StartElection()

	require.Eventually(t, func() bool {
		return tc.leaderOf(1) == 1 && tc.leaderOf(2) == 1 && tc.leaderOf(3) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestElectionDeterministicRegardlessOfStarter(t *testing.T) {
	for _, starter := range []int{1, 2, 3} {
		tc := newTestCluster(t, []int{1, 2, 3})
		tc.rings[starter].StartElection()

		require.Eventually(t, func() bool {
			return tc.leaderOf(1) == 1 && tc.leaderOf(2) == 1 && tc.leaderOf(3) == 1
		}, 2*time.Second, 10*time.Millisecond, "starter=%d", starter)
	}
}

func TestConcurrentElectionsConvergeOnSingleLeader(t *testing.T) {
	tc := newTestCluster(t, []int{2, 3})
	// Simulate both followers detecting node 1 down simultaneously (S5).
	tc.rings[2].StartElection()
	tc.rings[3].StartElection()

	require.Eventually(t, func() bool {
		return tc.leaderOf(2) == 2 && tc.leaderOf(3) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSoleSurvivorDeclaresSelfLeader(t *testing.T) {
	tc := newTestCluster(t, []int{5})
	tc.rings[5].StartElection()

	require.Eventually(t, func() bool {
		return tc.leaderOf(5) == 5
	}, time.Second, 10*time.Millisecond)
}
