// Package clientpeer wraps a single pion PeerConnection on the client
// side of a call: offer/answer negotiation, trickled ICE in both
// directions, and a local-sender pause/resume knob, generalizing the
// offer/answer wrapper and the atomic track-state pattern this is
// grounded on from a server-side SFU relay down to a single P2P leg with
// no relay in the middle.
package clientpeer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// State is the negotiation lifecycle of one call leg.
type State int32

const (
	StateIdle State = iota
	StateOffering
	StateAnswering
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SenderState is the tri-state mute knob on the local audio sender,
// mirroring the SFU outgoing-track state machine one level down: Active
// ships packets, Paused keeps the sender alive but silent, Removed is
// terminal.
type SenderState int32

const (
	SenderActive SenderState = iota
	SenderPaused
	SenderRemoved
)

// IceFailureGrace is how long a disconnected/failed ICE state is given
// to self-heal (pion retries connectivity checks on its own) before the
// transport reports the call as lost.
const IceFailureGrace = 5 * time.Second

var (
	ErrClosed       = errors.New("peer transport closed")
	ErrWrongState   = errors.New("operation not valid in current state")
	ErrNoLocalTrack = errors.New("no local audio track attached")
)

// Transport is one call leg. Build with New, then drive it with
// CreateOffer or AcceptOffer depending on which side initiated.
type Transport struct {
	pc *webrtc.PeerConnection

	state       atomic.Int32
	senderState atomic.Int32

	mu                 sync.Mutex
	remoteDescSet      bool
	pendingCandidates  []webrtc.ICECandidateInit
	localSender        *webrtc.RTPSender
	localTrack         *webrtc.TrackLocalStaticSample
	graceTimer         *time.Timer

	OnLocalICECandidate func(candidateJSON string)
	OnConnectionLost    func()
	OnMediaError        func(error)
}

// New builds a transport with the given ICE configuration and a single
// local audio track it will offer or answer with.
func New(cfg webrtc.Configuration, localTrack *webrtc.TrackLocalStaticSample) (*Transport, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	t := &Transport{pc: pc, localTrack: localTrack}

	sender, err := pc.AddTrack(localTrack)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add local track: %w", err)
	}
	t.localSender = sender

	t.bindCallbacks()
	return t, nil
}

func (t *Transport) bindCallbacks() {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || t.OnLocalICECandidate == nil {
			return
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Error().Err(err).Str("module", "clientpeer").Msg("marshal local candidate")
			return
		}
		t.OnLocalICECandidate(string(b))
	})

	t.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "clientpeer").Str("ice_state", s.String()).Msg("ice state changed")
		switch s {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			t.cancelGraceTimer()
			t.state.Store(int32(StateConnected))
		case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
			t.startGraceTimer()
		case webrtc.ICEConnectionStateClosed:
			t.state.Store(int32(StateClosed))
		}
	})

	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed && t.OnMediaError != nil {
			t.OnMediaError(fmt.Errorf("peer connection entered failed state"))
		}
	})
}

func (t *Transport) startGraceTimer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.graceTimer != nil {
		return
	}
	t.graceTimer = time.AfterFunc(IceFailureGrace, func() {
		t.mu.Lock()
		t.graceTimer = nil
		t.mu.Unlock()
		if t.State() == StateClosed {
			return
		}
		log.Warn().Str("module", "clientpeer").Msg("ice connection did not recover within grace period")
		if t.OnConnectionLost != nil {
			t.OnConnectionLost()
		}
	})
}

func (t *Transport) cancelGraceTimer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.graceTimer != nil {
		t.graceTimer.Stop()
		t.graceTimer = nil
	}
}

// State returns the current negotiation state.
func (t *Transport) State() State {
	return State(t.state.Load())
}

// CreateOffer transitions Idle -> Offering, and to Negotiating once ICE
// gathering completes and the local SDP offer is returned. ApplyAnswer
// does not change the state.
func (t *Transport) CreateOffer(ctx context.Context) (string, error) {
	if !t.transition(StateIdle, StateOffering) {
		return "", ErrWrongState
	}

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	t.state.Store(int32(StateNegotiating))
	return t.pc.LocalDescription().SDP, nil
}

// ApplyAnswer completes negotiation with a remote SDP answer received
// for an offer this transport created.
func (t *Transport) ApplyAnswer(sdp string) error {
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	t.markRemoteDescSet()
	return nil
}

// AcceptOffer transitions Idle -> Answering, applies the remote offer,
// and moves to Negotiating when it returns the local SDP answer once ICE
// gathering completes.
func (t *Transport) AcceptOffer(ctx context.Context, sdp string) (string, error) {
	if !t.transition(StateIdle, StateAnswering) {
		return "", ErrWrongState
	}

	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	t.markRemoteDescSet()

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	t.state.Store(int32(StateNegotiating))
	return t.pc.LocalDescription().SDP, nil
}

func (t *Transport) markRemoteDescSet() {
	t.mu.Lock()
	t.remoteDescSet = true
	pending := t.pendingCandidates
	t.pendingCandidates = nil
	t.mu.Unlock()

	for _, c := range pending {
		if err := t.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "clientpeer").Msg("failed to flush buffered candidate")
		}
	}
}

// AddRemoteICE queues or applies a trickled remote candidate. Candidates
// that arrive before the remote description is set are buffered and
// flushed once it is — pion rejects AddICECandidate before that point.
func (t *Transport) AddRemoteICE(candidateJSON string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidateJSON), &init); err != nil {
		return fmt.Errorf("decode remote candidate: %w", err)
	}

	t.mu.Lock()
	if !t.remoteDescSet {
		t.pendingCandidates = append(t.pendingCandidates, init)
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	return t.pc.AddICECandidate(init)
}

// Pause mutes the local sender without tearing down the connection.
func (t *Transport) Pause() {
	t.senderState.Store(int32(SenderPaused))
}

// Resume un-mutes a previously paused local sender.
func (t *Transport) Resume() {
	t.senderState.Store(int32(SenderActive))
}

// SenderState reports the current mute state of the local sender.
func (t *Transport) SenderState() SenderState {
	return SenderState(t.senderState.Load())
}

// WriteSample writes one media sample to the local track, silently
// dropping it if the sender is paused or removed.
func (t *Transport) WriteSample(sample media.Sample) error {
	if SenderState(t.senderState.Load()) != SenderActive {
		return nil
	}
	if t.localTrack == nil {
		return ErrNoLocalTrack
	}
	return t.localTrack.WriteSample(sample)
}

// Close marks the sender removed and tears down the peer connection.
func (t *Transport) Close() error {
	t.senderState.Store(int32(SenderRemoved))
	t.cancelGraceTimer()
	t.state.Store(int32(StateClosed))
	return t.pc.Close()
}

func (t *Transport) transition(from, to State) bool {
	return t.state.CompareAndSwap(int32(from), int32(to))
}
