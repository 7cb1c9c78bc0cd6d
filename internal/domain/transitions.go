package domain

// Initiator identifies who is driving a status change.
type Initiator string

const (
	// InitiatorClient is a user acting through the API.
	InitiatorClient Initiator = "client"
	// InitiatorCascade is a reaction running off the change feed.
	InitiatorCascade Initiator = "cascade"
)

// transitions lists every legal (from, to) edge and who may take it.
var transitions = map[RequestStatus]map[RequestStatus]Initiator{
	StatusPending: {
		StatusAccepted: InitiatorClient,
		StatusDeclined: InitiatorClient,
		StatusRejected: InitiatorCascade,
	},
}

// CanTransition returns nil when by may move a request from one status to
// another, and an InvalidTransition error otherwise.
func CanTransition(from, to RequestStatus, by Initiator) error {
	if !from.Valid() || !to.Valid() {
		return InvalidTransition("unknown status %q -> %q", from, to)
	}
	if from.Terminal() {
		return InvalidTransition("request is %s; only pending requests can change status", from)
	}
	allowed, ok := transitions[from][to]
	if !ok {
		return InvalidTransition("cannot move request from %s to %s", from, to)
	}
	if allowed != by {
		return InvalidTransition("%s may not move request from %s to %s", by, from, to)
	}
	return nil
}

// ParseOutcome maps a client decision to the target status. Only accepted
// and declined are client outcomes.
func ParseOutcome(s string) (RequestStatus, error) {
	switch RequestStatus(s) {
	case StatusAccepted, StatusDeclined:
		return RequestStatus(s), nil
	}
	return "", InvalidTransition("outcome must be %q or %q, got %q", StatusAccepted, StatusDeclined, s)
}

// BecameAccepted reports whether a status change from before to after is the
// acceptance edge. Cascades on acceptance key off this.
func BecameAccepted(before, after RequestStatus) bool {
	return before != StatusAccepted && after == StatusAccepted
}

// LeftPending reports whether a request stopped being pending.
func LeftPending(before, after RequestStatus) bool {
	return before == StatusPending && after != StatusPending
}
