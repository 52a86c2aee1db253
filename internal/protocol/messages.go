package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/groundvoice/internal/domain"
)

// IceServer mirrors the WebRTC RTCIceServer dictionary.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// IceConfig is the ordered list of ICE servers issued per session.
type IceConfig struct {
	Servers []IceServer `json:"servers"`
}

// Kind is the wire discriminator carried in every message's "type" field.
type Kind string

const (
	KindHello           Kind = "hello"
	KindCallInvite      Kind = "callInvite"
	KindCallAccept      Kind = "callAccept"
	KindCallReject      Kind = "callReject"
	KindCallEnd         Kind = "callEnd"
	KindIceCandidate    Kind = "iceCandidate"
	KindPing            Kind = "ping"
	KindWelcome         Kind = "welcome"
	KindRoster          Kind = "roster"
	KindClientConnected Kind = "clientConnected"
	KindClientDisconn   Kind = "clientDisconnected"
	KindPeerNotFound    Kind = "peerNotFound"
	KindError           Kind = "error"
	KindPong            Kind = "pong"
)

// envelope is used only to peek at the "type" discriminator before
// unmarshalling the rest of a frame into its concrete struct.
type envelope struct {
	Type Kind `json:"type"`
}

// --- client -> server ---

type Hello struct {
	Token string `json:"token"`
}

func (Hello) Kind() Kind { return KindHello }

type CallInviteIn struct {
	Peer     domain.ClientID `json:"peer"`
	SDPOffer string          `json:"sdp_offer"`
}

func (CallInviteIn) Kind() Kind { return KindCallInvite }

type CallAcceptIn struct {
	Peer      domain.ClientID `json:"peer"`
	SDPAnswer string          `json:"sdp_answer"`
}

func (CallAcceptIn) Kind() Kind { return KindCallAccept }

type CallRejectIn struct {
	Peer domain.ClientID `json:"peer"`
}

func (CallRejectIn) Kind() Kind { return KindCallReject }

type CallEndIn struct {
	Peer domain.ClientID `json:"peer"`
}

func (CallEndIn) Kind() Kind { return KindCallEnd }

type IceCandidateIn struct {
	Peer      domain.ClientID `json:"peer"`
	Candidate string          `json:"candidate"`
}

func (IceCandidateIn) Kind() Kind { return KindIceCandidate }

type Ping struct{}

func (Ping) Kind() Kind { return KindPing }

// --- server -> client ---

type Welcome struct {
	Self      domain.ClientInfo `json:"self"`
	IceConfig IceConfig         `json:"ice_config"`
}

func (Welcome) Kind() Kind { return KindWelcome }

type Roster struct {
	Clients []domain.ClientInfo `json:"clients"`
}

func (Roster) Kind() Kind { return KindRoster }

type ClientConnected struct {
	Client domain.ClientInfo `json:"client"`
}

func (ClientConnected) Kind() Kind { return KindClientConnected }

type ClientDisconnected struct {
	ID domain.ClientID `json:"id"`
}

func (ClientDisconnected) Kind() Kind { return KindClientDisconn }

type CallInviteOut struct {
	From     domain.ClientID `json:"from"`
	SDPOffer string          `json:"sdp_offer"`
}

func (CallInviteOut) Kind() Kind { return KindCallInvite }

type CallAcceptOut struct {
	From      domain.ClientID `json:"from"`
	SDPAnswer string          `json:"sdp_answer"`
}

func (CallAcceptOut) Kind() Kind { return KindCallAccept }

type CallRejectOut struct {
	From domain.ClientID `json:"from"`
}

func (CallRejectOut) Kind() Kind { return KindCallReject }

type CallEndOut struct {
	From domain.ClientID `json:"from"`
}

func (CallEndOut) Kind() Kind { return KindCallEnd }

type IceCandidateOut struct {
	From      domain.ClientID `json:"from"`
	Candidate string          `json:"candidate"`
}

func (IceCandidateOut) Kind() Kind { return KindIceCandidate }

type PeerNotFound struct {
	ID domain.ClientID `json:"id"`
}

func (PeerNotFound) Kind() Kind { return KindPeerNotFound }

type Error struct {
	ErrorKind ErrorKind `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
}

func (Error) Kind() Kind { return KindError }

type Pong struct{}

func (Pong) Kind() Kind { return KindPong }

// Envelope wraps any message with its wire type so Marshal always
// includes the discriminator, regardless of which concrete struct is
// wrapped.
type Envelope struct {
	Type    Kind `json:"type"`
	Payload any  `json:"-"`
}

// Encode marshals v (one of the message structs above) into a framed
// JSON object carrying its own "type" field.
func Encode(v interface{ Kind() Kind }) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("decompose payload: %w", err)
	}
	typ, err := json.Marshal(v.Kind())
	if err != nil {
		return nil, err
	}
	fields["type"] = typ
	return json.Marshal(fields)
}

// DecodeClientFrame decodes a raw client->server frame into its concrete
// type, returning the Kind discriminator and the payload separately so
// the caller can switch on it.
func DecodeClientFrame(data []byte) (Kind, any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case KindHello:
		var m Hello
		return env.Type, m, json.Unmarshal(data, &m)
	case KindCallInvite:
		var m CallInviteIn
		return env.Type, m, json.Unmarshal(data, &m)
	case KindCallAccept:
		var m CallAcceptIn
		return env.Type, m, json.Unmarshal(data, &m)
	case KindCallReject:
		var m CallRejectIn
		return env.Type, m, json.Unmarshal(data, &m)
	case KindCallEnd:
		var m CallEndIn
		return env.Type, m, json.Unmarshal(data, &m)
	case KindIceCandidate:
		var m IceCandidateIn
		return env.Type, m, json.Unmarshal(data, &m)
	case KindPing:
		return env.Type, Ping{}, nil
	default:
		return env.Type, nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

// DecodeServerFrame decodes a raw server->client frame into its concrete
// type, mirroring DecodeClientFrame for the other direction.
func DecodeServerFrame(data []byte) (Kind, any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case KindWelcome:
		var m Welcome
		return env.Type, m, json.Unmarshal(data, &m)
	case KindRoster:
		var m Roster
		return env.Type, m, json.Unmarshal(data, &m)
	case KindClientConnected:
		var m ClientConnected
		return env.Type, m, json.Unmarshal(data, &m)
	case KindClientDisconn:
		var m ClientDisconnected
		return env.Type, m, json.Unmarshal(data, &m)
	case KindCallInvite:
		var m CallInviteOut
		return env.Type, m, json.Unmarshal(data, &m)
	case KindCallAccept:
		var m CallAcceptOut
		return env.Type, m, json.Unmarshal(data, &m)
	case KindCallReject:
		var m CallRejectOut
		return env.Type, m, json.Unmarshal(data, &m)
	case KindCallEnd:
		var m CallEndOut
		return env.Type, m, json.Unmarshal(data, &m)
	case KindIceCandidate:
		var m IceCandidateOut
		return env.Type, m, json.Unmarshal(data, &m)
	case KindPeerNotFound:
		var m PeerNotFound
		return env.Type, m, json.Unmarshal(data, &m)
	case KindError:
		var m Error
		return env.Type, m, json.Unmarshal(data, &m)
	case KindPong:
		return env.Type, Pong{}, nil
	default:
		return env.Type, nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
