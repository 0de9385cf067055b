package recovery

// WhoIsCoordinatorReply answers a WhoIsCoordinator query (§6): if this
// node knows the current leader's address it is returned with ok=true;
// otherwise ok=false, meaning the node should reply with the "ask
// another" Ack and let the caller try a different cluster member.
func WhoIsCoordinatorReply(knownLeaderID int, leaderTCPAddr string) (addr string, ok bool) {
	if knownLeaderID == 0 || leaderTCPAddr == "" {
		return "", false
	}
	return leaderTCPAddr, true
}
