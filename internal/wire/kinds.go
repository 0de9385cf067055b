package wire

// Kind identifies the shape of a message's payload. The set is closed:
// decoders must treat any value outside it as KindUnknown and never fail.
type Kind byte

const (
	KindUnknown Kind = iota

	// External client protocol (§6).
	KindLogin
	KindLoginAck
	KindRegister
	KindRegisterAck
	KindRequestTrip
	KindCanAccept
	KindCanAcceptResp
	KindStartTrip
	KindFinishTrip
	KindRejectTrip
	KindAck
	KindPing
	KindPong

	// Inter-coordinator ring election (§4.7).
	KindElection
	KindCoordinator
	KindWhoIsCoordinator
	KindWhoIsCoordinatorAck

	// Replication (§4.6).
	KindNetworkStateDelta

	// Two-phase commit (§4.5).
	KindPreparePayment
	KindPrepareProvider
	KindVoteYes
	KindVoteNo
	KindCommit
	KindAbort
	KindCaptureDone

	// Recovery (§4.9).
	KindRecoverRequest
)

var names = map[Kind]string{
	KindLogin:               "Login",
	KindLoginAck:            "LoginAck",
	KindRegister:            "Register",
	KindRegisterAck:         "RegisterAck",
	KindRequestTrip:         "RequestTrip",
	KindCanAccept:           "CanAccept",
	KindCanAcceptResp:       "CanAcceptResp",
	KindStartTrip:           "StartTrip",
	KindFinishTrip:          "FinishTrip",
	KindRejectTrip:          "RejectTrip",
	KindAck:                 "Ack",
	KindPing:                "Ping",
	KindPong:                "Pong",
	KindElection:            "Election",
	KindCoordinator:         "Coordinator",
	KindWhoIsCoordinator:    "WhoIsCoordinator",
	KindWhoIsCoordinatorAck: "WhoIsCoordinatorAck",
	KindNetworkStateDelta:   "NetworkStateDelta",
	KindPreparePayment:      "PreparePayment",
	KindPrepareProvider:     "PrepareProvider",
	KindVoteYes:             "VoteYes",
	KindVoteNo:              "VoteNo",
	KindCommit:              "Commit",
	KindAbort:               "Abort",
	KindCaptureDone:         "CaptureDone",
	KindRecoverRequest:      "RecoverRequest",
}

// String renders the kind's wire title, or "Unknown" for anything outside
// the closed set (including a zero value).
func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "Unknown"
}

// titleToKind is the reverse lookup used by the newline-JSON codec, whose
// envelopes carry the title string rather than the raw byte.
var titleToKind = func() map[string]Kind {
	m := make(map[string]Kind, len(names))
	for k, v := range names {
		m[v] = k
	}
	return m
}()

// KindFromTitle resolves a wire title to its Kind, or KindUnknown if the
// title is not one of the closed set's names.
func KindFromTitle(title string) Kind {
	if k, ok := titleToKind[title]; ok {
		return k
	}
	return KindUnknown
}
