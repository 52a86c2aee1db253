package clientpeer

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T) *Transport {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "groundvoice")
	require.NoError(t, err)

	tr, err := New(webrtc.Configuration{}, track)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// TestOfferAnswerNegotiationConnects drives a full offer/answer exchange
// between two transports over loopback host candidates and asserts both
// sides reach StateConnected.
func TestOfferAnswerNegotiationConnects(t *testing.T) {
	caller := newTestTransport(t)
	callee := newTestTransport(t)

	caller.OnLocalICECandidate = func(c string) { _ = callee.AddRemoteICE(c) }
	callee.OnLocalICECandidate = func(c string) { _ = caller.AddRemoteICE(c) }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateNegotiating, caller.State())

	answer, err := callee.AcceptOffer(ctx, offer)
	require.NoError(t, err)
	assert.Equal(t, StateNegotiating, callee.State())

	require.NoError(t, caller.ApplyAnswer(answer))

	assert.Eventually(t, func() bool {
		return caller.State() == StateConnected && callee.State() == StateConnected
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCreateOfferTwiceFromIdleFailsSecondTime(t *testing.T) {
	tr := newTestTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := tr.CreateOffer(ctx)
	require.NoError(t, err)

	_, err = tr.CreateOffer(ctx)
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestAddRemoteICEBeforeRemoteDescriptionIsBuffered(t *testing.T) {
	tr := newTestTransport(t)

	candidate := `{"candidate":"candidate:1 1 UDP 1 127.0.0.1 1 typ host","sdpMid":"0","sdpMLineIndex":0}`
	require.NoError(t, tr.AddRemoteICE(candidate))

	tr.mu.Lock()
	buffered := len(tr.pendingCandidates)
	tr.mu.Unlock()
	assert.Equal(t, 1, buffered)
}

func TestPauseStopsWritesWithoutError(t *testing.T) {
	tr := newTestTransport(t)
	tr.Pause()
	assert.Equal(t, SenderPaused, tr.SenderState())

	err := tr.WriteSample(media.Sample{Data: []byte{0x01, 0x02}, Duration: 20 * time.Millisecond})
	assert.NoError(t, err)

	tr.Resume()
	assert.Equal(t, SenderActive, tr.SenderState())
}

func TestCloseMarksSenderRemoved(t *testing.T) {
	tr := newTestTransport(t)
	require.NoError(t, tr.Close())
	assert.Equal(t, SenderRemoved, tr.SenderState())
	assert.Equal(t, StateClosed, tr.State())
}
