package callarbiter

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/groundvoice/internal/domain"
	"github.com/dkeye/groundvoice/internal/protocol"
	"github.com/dkeye/groundvoice/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	received []json.RawMessage
	closed   bool
}

func (f *fakeConn) TrySend(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, json.RawMessage(data))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) last() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.received) == 0 {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(f.received[len(f.received)-1], &m)
	return m
}

func setup(t *testing.T) (*session.Registry, *Arbiter, *fakeConn, *fakeConn) {
	reg := session.NewRegistry()
	t.Cleanup(reg.Close)
	arb := New(reg)
	t.Cleanup(arb.Close)

	alice, bob := &fakeConn{}, &fakeConn{}
	reg.Register(domain.ClientInfo{ID: "alice"}, alice)
	reg.Register(domain.ClientInfo{ID: "bob"}, bob)
	return reg, arb, alice, bob
}

func TestInviteDeliversOfferToPeer(t *testing.T) {
	_, arb, _, bob := setup(t)

	err := arb.Invite("alice", "bob", "sdp-offer")
	require.NoError(t, err)

	msg := bob.last()
	require.NotNil(t, msg)
	assert.Equal(t, string(protocol.KindCallInvite), msg["type"])
	assert.Equal(t, "alice", msg["from"])
}

func TestSelfCallRejected(t *testing.T) {
	_, arb, _, _ := setup(t)
	err := arb.Invite("alice", "alice", "sdp")
	assert.ErrorIs(t, err, ErrSelfCall)
}

func TestAlreadyInCallRejected(t *testing.T) {
	reg, arb, _, _ := setup(t)
	carol := &fakeConn{}
	reg.Register(domain.ClientInfo{ID: "carol"}, carol)

	require.NoError(t, arb.Invite("alice", "bob", "sdp"))
	err := arb.Invite("alice", "carol", "sdp")
	assert.ErrorIs(t, err, ErrAlreadyInCall)
}

func TestPeerBusyRejected(t *testing.T) {
	reg, arb, _, _ := setup(t)
	carol := &fakeConn{}
	reg.Register(domain.ClientInfo{ID: "carol"}, carol)

	require.NoError(t, arb.Invite("alice", "bob", "sdp"))
	err := arb.Invite("carol", "bob", "sdp")
	assert.ErrorIs(t, err, ErrPeerBusy)
}

func TestInviteToUnknownPeerReportsNotFound(t *testing.T) {
	_, arb, _, _ := setup(t)
	err := arb.Invite("alice", "ghost", "sdp")
	assert.ErrorIs(t, err, ErrPeerNotFound)
}

func TestAcceptCompletesCallAndAllowsIce(t *testing.T) {
	_, arb, alice, bob := setup(t)

	require.NoError(t, arb.Invite("alice", "bob", "offer"))
	require.NoError(t, arb.Accept("bob", "alice", "answer"))

	msg := alice.last()
	require.NotNil(t, msg)
	assert.Equal(t, string(protocol.KindCallAccept), msg["type"])
	assert.Equal(t, "bob", msg["from"])

	require.NoError(t, arb.IceCandidate("alice", "bob", "candidate-1"))
	msg = bob.last()
	assert.Equal(t, string(protocol.KindIceCandidate), msg["type"])
}

func TestRejectClearsCallAndFreesPeers(t *testing.T) {
	reg, arb, alice, _ := setup(t)
	require.NoError(t, arb.Invite("alice", "bob", "offer"))
	require.NoError(t, arb.Reject("bob", "alice"))

	msg := alice.last()
	require.NotNil(t, msg)
	assert.Equal(t, string(protocol.KindCallReject), msg["type"])

	carol := &fakeConn{}
	reg.Register(domain.ClientInfo{ID: "carol"}, carol)
	assert.NoError(t, arb.Invite("alice", "carol", "offer"))
}

func TestClientGoneEndsActiveCall(t *testing.T) {
	_, arb, _, bob := setup(t)
	require.NoError(t, arb.Invite("alice", "bob", "offer"))
	require.NoError(t, arb.Accept("bob", "alice", "answer"))

	arb.ClientGone("alice")

	msg := bob.last()
	require.NotNil(t, msg)
	assert.Equal(t, string(protocol.KindCallEnd), msg["type"])
	assert.Equal(t, "alice", msg["from"])
}

func TestIceCandidateWithoutActiveCallFails(t *testing.T) {
	_, arb, _, _ := setup(t)
	err := arb.IceCandidate("alice", "bob", "candidate")
	assert.ErrorIs(t, err, ErrNoSuchCall)
}
