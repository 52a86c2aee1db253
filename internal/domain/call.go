package domain

import "time"

// CallState is the server-visible state of a CallRecord. Absence of a
// record for a pair means Terminated — there is no explicit Terminated
// value stored anywhere.
type CallState int

const (
	CallInvited CallState = iota
	CallAccepted
)

func (s CallState) String() string {
	switch s {
	case CallInvited:
		return "invited"
	case CallAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// CallRecord is the two-party association the call arbiter owns.
type CallRecord struct {
	Initiator ClientID
	Callee    ClientID
	State     CallState
	CreatedAt time.Time

	// AutoHangupAt is when an Invited record older than the configured
	// timeout is swept and synthetically ended.
	AutoHangupAt time.Time
}

// Pair returns the two participants in a stable order, used as a map key
// so A-invites-B and B-invites-A index the same slot.
func (c *CallRecord) Pair() (ClientID, ClientID) {
	return normalizePair(c.Initiator, c.Callee)
}

// Other returns the participant on the other end from id, and whether id
// actually participates in this record.
func (c *CallRecord) Other(id ClientID) (ClientID, bool) {
	switch id {
	case c.Initiator:
		return c.Callee, true
	case c.Callee:
		return c.Initiator, true
	default:
		return "", false
	}
}

func normalizePair(a, b ClientID) (ClientID, ClientID) {
	if a <= b {
		return a, b
	}
	return b, a
}

// PairKey is the normalized index key for a two-party call.
type PairKey struct {
	A, B ClientID
}

// NewPairKey builds a normalized key from two participants.
func NewPairKey(a, b ClientID) PairKey {
	lo, hi := normalizePair(a, b)
	return PairKey{A: lo, B: hi}
}
