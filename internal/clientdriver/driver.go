// Package clientdriver runs the client side of a signaling connection:
// dial-with-backoff, the local roster mirror, and the call controller,
// wired to a single websocket read/write pump the way the signaling
// controller this is grounded on wires its server-side pumps, just
// pointed at an outbound connection instead of an inbound one.
package clientdriver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dkeye/groundvoice/internal/domain"
	"github.com/dkeye/groundvoice/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnState is the driver's externally visible connection lifecycle.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// TokenSource supplies the bearer token to present in each Hello
// handshake — a closure rather than a plain string so a caller can
// refresh an expiring token between reconnects.
type TokenSource func() (string, error)

// Driver owns one logical connection to the signaling service, including
// automatic reconnection.
type Driver struct {
	url    string
	token  TokenSource
	dialer *websocket.Dialer

	backoff *Backoff
	Matcher *ResponseMatcher
	Roster  *Roster
	Calls   *CallController

	state atomic.Int32
	conn  *websocket.Conn

	Self domain.ClientID

	OnStateChange    func(ConnState)
	OnIceConfig      func(protocol.IceConfig)
	OnIceCandidate   func(from domain.ClientID, candidate string)
	OnPeerNotFound   func(id domain.ClientID)
	OnServerError    func(protocol.Error)
}

// New builds a driver against url, authenticating each connection with
// tokens from source.
func New(url string, source TokenSource) *Driver {
	return &Driver{
		url:     url,
		token:   source,
		dialer:  websocket.DefaultDialer,
		backoff: NewBackoff(250*time.Millisecond, 30*time.Second, 0.2),
		Matcher: NewResponseMatcher(),
		Roster:  NewRoster(),
		Calls:   NewCallController(),
	}
}

// State returns the current connection lifecycle state.
func (d *Driver) State() ConnState {
	return ConnState(d.state.Load())
}

func (d *Driver) setState(s ConnState) {
	d.state.Store(int32(s))
	if d.OnStateChange != nil {
		d.OnStateChange(s)
	}
}

// Run connects and reconnects until ctx is canceled, backing off between
// attempts per Driver's backoff schedule and resetting it after every
// connection that lived long enough to complete a handshake.
func (d *Driver) Run(ctx context.Context) {
	d.Calls.Send = d.sendCallFrame

	for {
		if ctx.Err() != nil {
			d.setState(StateDisconnected)
			return
		}

		d.setState(StateConnecting)
		if err := d.connectAndServe(ctx); err != nil {
			log.Warn().Err(err).Str("module", "clientdriver").Msg("connection attempt failed")
		}
		d.Matcher.Clear()
		d.setState(StateDisconnected)

		delay := d.backoff.Next()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (d *Driver) connectAndServe(ctx context.Context) error {
	token, err := d.token()
	if err != nil {
		return fmt.Errorf("obtain token: %w", err)
	}

	conn, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	d.conn = conn

	hello, err := protocol.Encode(protocol.Hello{Token: token})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	if err := d.expectWelcome(conn); err != nil {
		return err
	}

	d.backoff.Reset()
	d.setState(StateConnected)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		d.handleFrame(data)
	}
}

func (d *Driver) expectWelcome(conn *websocket.Conn) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	kind, msg, err := protocol.DecodeServerFrame(data)
	if err != nil {
		return err
	}
	welcome, ok := msg.(protocol.Welcome)
	if kind != protocol.KindWelcome || !ok {
		return fmt.Errorf("expected welcome, got %q", kind)
	}
	d.Self = welcome.Self.ID
	if d.OnIceConfig != nil {
		d.OnIceConfig(welcome.IceConfig)
	}

	_, data, err = conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	kind, msg, err = protocol.DecodeServerFrame(data)
	if err != nil {
		return err
	}
	roster, ok := msg.(protocol.Roster)
	if kind != protocol.KindRoster || !ok {
		return fmt.Errorf("expected roster, got %q", kind)
	}
	d.Roster.Reset(roster.Clients)
	return nil
}

func (d *Driver) handleFrame(data []byte) {
	kind, msg, err := protocol.DecodeServerFrame(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "clientdriver").Msg("failed to decode server frame")
		return
	}

	if d.Matcher.Dispatch(msg) {
		return
	}

	switch m := msg.(type) {
	case protocol.Roster:
		d.Roster.Reset(m.Clients)
	case protocol.ClientConnected:
		d.Roster.Upsert(m.Client)
	case protocol.ClientDisconnected:
		d.Roster.Remove(m.ID)
		d.Calls.HandleRemoteEnd(m.ID)
	case protocol.CallInviteOut:
		d.Calls.HandleIncomingInvite(m.From, m.SDPOffer)
	case protocol.CallAcceptOut:
		d.Calls.HandleRemoteAccept(m.From)
	case protocol.CallRejectOut:
		d.Calls.HandleRemoteReject(m.From)
	case protocol.CallEndOut:
		d.Calls.HandleRemoteEnd(m.From)
	case protocol.IceCandidateOut:
		if d.OnIceCandidate != nil {
			d.OnIceCandidate(m.From, m.Candidate)
		}
	case protocol.PeerNotFound:
		if d.OnPeerNotFound != nil {
			d.OnPeerNotFound(m.ID)
		}
	case protocol.Error:
		if d.OnServerError != nil {
			d.OnServerError(m)
		}
	case protocol.Pong:
		// liveness only, nothing to do
	default:
		_ = kind
	}
}

func (d *Driver) sendCallFrame(kind string, peer domain.ClientID, sdp string) {
	var payload []byte
	var err error

	switch kind {
	case "callInvite":
		payload, err = protocol.Encode(protocol.CallInviteIn{Peer: peer, SDPOffer: sdp})
	case "callAccept":
		payload, err = protocol.Encode(protocol.CallAcceptIn{Peer: peer, SDPAnswer: sdp})
	case "callReject":
		payload, err = protocol.Encode(protocol.CallRejectIn{Peer: peer})
	case "callEnd":
		payload, err = protocol.Encode(protocol.CallEndIn{Peer: peer})
	default:
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "clientdriver").Msg("failed to encode outgoing call frame")
		return
	}
	d.write(payload)
}

// SendIceCandidate relays a locally gathered ICE candidate to peer.
func (d *Driver) SendIceCandidate(peer domain.ClientID, candidate string) {
	payload, err := protocol.Encode(protocol.IceCandidateIn{Peer: peer, Candidate: candidate})
	if err != nil {
		log.Error().Err(err).Str("module", "clientdriver").Msg("failed to encode ice candidate")
		return
	}
	d.write(payload)
}

func (d *Driver) write(payload []byte) {
	conn := d.conn
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Warn().Err(err).Str("module", "clientdriver").Msg("write failed")
	}
}
