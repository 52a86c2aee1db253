package gateway

import (
	"errors"

	"github.com/dkeye/groundvoice/internal/callarbiter"
	"github.com/dkeye/groundvoice/internal/domain"
	"github.com/dkeye/groundvoice/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleFrame decodes and routes one client frame. It returns false when
// the connection must be torn down — either because the frame itself was
// fatal (protocol violation) or because the resulting error kind closes
// the socket.
func (g *Gateway) handleFrame(conn *wsConn, cid domain.ClientID, data []byte) bool {
	kind, msg, err := protocol.DecodeClientFrame(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "gateway").Str("client", string(cid)).Msg("protocol violation")
		g.sendError(conn, protocol.ErrProtocolViolation, err.Error())
		return false
	}

	if !g.RateLimiter.Allow(cid, kind) {
		g.sendError(conn, protocol.ErrRateLimited, string(kind))
		return true
	}

	var callErr error
	switch m := msg.(type) {
	case protocol.Ping:
		_ = sendEncoded(conn, protocol.Pong{})
		return true
	case protocol.CallInviteIn:
		callErr = g.Arbiter.Invite(cid, m.Peer, m.SDPOffer)
	case protocol.CallAcceptIn:
		callErr = g.Arbiter.Accept(cid, m.Peer, m.SDPAnswer)
	case protocol.CallRejectIn:
		callErr = g.Arbiter.Reject(cid, m.Peer)
	case protocol.CallEndIn:
		callErr = g.Arbiter.End(cid, m.Peer)
	case protocol.IceCandidateIn:
		callErr = g.Arbiter.IceCandidate(cid, m.Peer, m.Candidate)
	default:
		g.sendError(conn, protocol.ErrProtocolViolation, "unhandled message type")
		return false
	}

	if callErr == nil {
		return true
	}
	return g.handleCallError(conn, cid, msg, callErr)
}

func (g *Gateway) handleCallError(conn *wsConn, cid domain.ClientID, msg any, err error) bool {
	if errors.Is(err, callarbiter.ErrPeerNotFound) {
		peer := peerOf(msg)
		_ = sendEncoded(conn, protocol.PeerNotFound{ID: peer})
		return true
	}

	kind := protocol.ErrInternal
	switch {
	case errors.Is(err, callarbiter.ErrSelfCall):
		kind = protocol.ErrSelfCall
	case errors.Is(err, callarbiter.ErrAlreadyInCall):
		kind = protocol.ErrAlreadyInCall
	case errors.Is(err, callarbiter.ErrPeerBusy):
		kind = protocol.ErrPeerBusy
	case errors.Is(err, callarbiter.ErrNoSuchCall):
		// Stale or duplicate control message for a call that already
		// ended; not worth surfacing as an error to the client.
		return true
	}

	g.sendError(conn, kind, err.Error())
	return !kind.ClosesSocket()
}

func peerOf(msg any) domain.ClientID {
	switch m := msg.(type) {
	case protocol.CallInviteIn:
		return m.Peer
	case protocol.CallAcceptIn:
		return m.Peer
	case protocol.CallRejectIn:
		return m.Peer
	case protocol.CallEndIn:
		return m.Peer
	case protocol.IceCandidateIn:
		return m.Peer
	default:
		return ""
	}
}

func (g *Gateway) sendError(conn *wsConn, kind protocol.ErrorKind, detail string) {
	_ = sendEncoded(conn, protocol.Error{ErrorKind: kind, Detail: detail})
}
