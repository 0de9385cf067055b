package election

import (
	"testing"
	"time"

	"github.com/dreamware/ridecoord/internal/membership"
	"github.com/stretchr/testify/require"
)

// resolveFromRoster builds a Detector's resolve dependency straight off a
// roster, the same way internal/supervisor's resolveElectionAddr does.
func resolveFromRoster(roster *membership.Roster) func(int) (string, bool) {
	return func(id int) (string, bool) {
		m, ok := roster.Lookup(id)
		if !ok {
			return "", false
		}
		return m.UDPAddr, true
	}
}

func TestDetectorColdStartConvergesSoleSurvivor(t *testing.T) {
	tc := newTestCluster(t, []int{7})
	ring := tc.rings[7]
	conn := tc.conns[7]

	d := NewDetector(ring, resolveFromRoster(tc.roster), 10*time.Millisecond, 2)
	go d.Run(conn)
	t.Cleanup(d.Stop)

	require.Eventually(t, func() bool {
		return ring.LeaderID() == 7
	}, 2*time.Second, 10*time.Millisecond, "detector never bootstrapped a leader from a cold start")
}

func TestDetectorReelectsOnUnresponsiveLeader(t *testing.T) {
	tc := newTestCluster(t, []int{1, 2})
	tc.rings[1].StartElection()
	require.Eventually(t, func() bool {
		return tc.leaderOf(1) == 1 && tc.leaderOf(2) == 1
	}, 2*time.Second, 10*time.Millisecond)

	d := NewDetector(tc.rings[2], resolveFromRoster(tc.roster), 10*time.Millisecond, 2)
	go d.Run(tc.conns[2])
	t.Cleanup(d.Stop)

	// Kill node 1's socket to simulate a crashed leader; node 2's detector
	// should stop getting pong acks, mark 1 down, and re-elect itself (the
	// sole remaining member).
	tc.conns[1].Close()

	require.Eventually(t, func() bool {
		return tc.leaderOf(2) == 2
	}, 2*time.Second, 10*time.Millisecond, "detector never re-elected after the leader stopped responding")
}

func TestDetectorRestsWhileItIsTheLeader(t *testing.T) {
	tc := newTestCluster(t, []int{3})
	ring := tc.rings[3]
	ring.StartElection()
	require.Eventually(t, func() bool { return tc.leaderOf(3) == 3 }, time.Second, 10*time.Millisecond)

	d := NewDetector(ring, resolveFromRoster(tc.roster), 5*time.Millisecond, 1)
	d.tick(tc.conns[3])
	d.mu.Lock()
	misses := d.misses
	d.mu.Unlock()
	require.Zero(t, misses, "a leader detector should never count a miss against itself")
}
