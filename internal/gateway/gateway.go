// Package gateway terminates client WebSocket connections: it
// authenticates the handshake, registers the client, and pumps frames
// between the socket and the session registry / call arbiter. It is the
// direct descendant of the signaling controller it's grounded on, with
// the many-party room dispatch replaced by the two-party call dispatch
// and the cookie-session auth replaced by a bearer handshake.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/groundvoice/internal/callarbiter"
	"github.com/dkeye/groundvoice/internal/domain"
	"github.com/dkeye/groundvoice/internal/ice"
	"github.com/dkeye/groundvoice/internal/identity"
	"github.com/dkeye/groundvoice/internal/protocol"
	"github.com/dkeye/groundvoice/internal/ratelimit"
	"github.com/dkeye/groundvoice/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	handshakeTimeout  = 10 * time.Second
	defaultReadLimit  = 1 << 16
	defaultPingPeriod = 60 * time.Second
	sendBuffer        = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway wires the registry, call arbiter, rate limiter, identity
// client and ICE credential minter together behind one WebSocket
// endpoint.
type Gateway struct {
	Registry    *session.Registry
	Arbiter     *callarbiter.Arbiter
	RateLimiter *ratelimit.Limiter
	Identity    *identity.Client
	IceMinter   *ice.Minter

	// ReadLimit caps the size of a single inbound WebSocket message.
	// PingPeriod is how long a connection may sit idle before the
	// gateway gives up on it. Both fall back to sane defaults when
	// left zero, so a Gateway built without a Config still works.
	ReadLimit  int64
	PingPeriod time.Duration
}

func (g *Gateway) readLimit() int64 {
	if g.ReadLimit > 0 {
		return g.ReadLimit
	}
	return defaultReadLimit
}

func (g *Gateway) pingPeriod() time.Duration {
	if g.PingPeriod > 0 {
		return g.PingPeriod
	}
	return defaultPingPeriod
}

// HandleWebSocket upgrades the request and runs the connection's full
// lifecycle: handshake, registration, dispatch, and cleanup. It returns
// once the connection has closed.
func (g *Gateway) HandleWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("ws upgrade failed")
		return
	}
	ws.SetReadLimit(g.readLimit())

	cid, err := g.handshake(c.Request.Context(), ws)
	if err != nil {
		log.Warn().Err(err).Str("module", "gateway").Msg("handshake failed")
		_ = ws.Close()
		return
	}

	conn := newWsConn(ws, sendBuffer)
	info := domain.NewClientInfo(cid)
	generation, displaced := g.Registry.Register(info, conn)
	if displaced != nil {
		log.Info().Str("module", "gateway").Str("client", string(cid)).Msg("closing previous connection for this client")
		_ = sendEncoded(displaced, protocol.Error{ErrorKind: protocol.ErrDisplaced})
		_ = displaced.Close()
	}

	go conn.writePump()

	if err := g.sendWelcomeAndRoster(conn, cid); err != nil {
		log.Error().Err(err).Str("module", "gateway").Str("client", string(cid)).Msg("failed to send welcome")
		_ = conn.Close()
		g.Registry.Deregister(cid, generation)
		return
	}
	g.Broadcast(cid, protocol.ClientConnected{Client: info})

	g.readLoop(ws, conn, cid)

	_ = conn.Close()
	if g.Registry.Deregister(cid, generation) {
		// Only run the rest of teardown if this call actually removed the
		// roster entry: a displaced session reaches here after a newer
		// connection has already registered and broadcast
		// ClientConnected, and its stale deregister must not end the new
		// session's calls, wipe its rate buckets, or announce it gone.
		g.RateLimiter.ForgetClient(cid)
		g.Arbiter.ClientGone(cid)
		g.Broadcast(cid, protocol.ClientDisconnected{ID: cid})
	}
	log.Info().Str("module", "gateway").Str("client", string(cid)).Msg("connection closed")
}

func (g *Gateway) handshake(ctx context.Context, ws *websocket.Conn) (domain.ClientID, error) {
	if err := ws.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return "", err
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", err
	}

	kind, msg, err := protocol.DecodeClientFrame(data)
	if err != nil {
		return "", err
	}
	hello, ok := msg.(protocol.Hello)
	if kind != protocol.KindHello || !ok {
		return "", errors.New("first frame was not hello")
	}

	cid, err := g.Identity.Introspect(ctx, hello.Token)
	if err != nil {
		return "", err
	}
	return cid, nil
}

func (g *Gateway) sendWelcomeAndRoster(conn *wsConn, self domain.ClientID) error {
	welcome := protocol.Welcome{
		Self:      domain.NewClientInfo(self),
		IceConfig: g.IceMinter.Mint(self),
	}
	if err := sendEncoded(conn, welcome); err != nil {
		return err
	}

	roster := protocol.Roster{Clients: filterOut(g.Registry.Snapshot(), self)}
	return sendEncoded(conn, roster)
}

func filterOut(clients []domain.ClientInfo, exclude domain.ClientID) []domain.ClientInfo {
	out := make([]domain.ClientInfo, 0, len(clients))
	for _, c := range clients {
		if c.ID != exclude {
			out = append(out, c)
		}
	}
	return out
}

func sendEncoded(conn session.Conn, msg interface{ Kind() protocol.Kind }) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return conn.TrySend(payload)
}

// Broadcast encodes msg and delivers it to every connected client except
// exclude, running full teardown on anyone the registry evicts along the
// way for falling behind. It is the one path to the registry's Broadcast
// that every caller — the gateway's own connect/disconnect events and
// the data feed's roster updates — is expected to go through, so a
// lagged drop is cleaned up the same way no matter what triggered it.
func (g *Gateway) Broadcast(exclude domain.ClientID, msg interface{ Kind() protocol.Kind }) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("failed to encode broadcast")
		return
	}
	g.teardownDropped(g.Registry.Broadcast(exclude, payload))
}

// teardownDropped runs full connection teardown for every client the
// registry just evicted for falling behind on a broadcast: it is the
// same cleanup a normal disconnect runs, since the registry has already
// removed the roster entry by the time this is called — the dropped
// client's own read loop will unblock once its conn closes below and
// find Deregister a no-op, exactly like a displaced session does.
func (g *Gateway) teardownDropped(dropped []session.Entry) {
	for _, entry := range dropped {
		cid := entry.Info.ID
		log.Warn().Str("module", "gateway").Str("client", string(cid)).Msg("dropping lagged connection")
		_ = sendEncoded(entry.Conn, protocol.Error{ErrorKind: protocol.ErrInternal})
		_ = entry.Conn.Close()
		g.RateLimiter.ForgetClient(cid)
		g.Arbiter.ClientGone(cid)
		g.Broadcast(cid, protocol.ClientDisconnected{ID: cid})
	}
}

func (g *Gateway) readLoop(ws *websocket.Conn, conn *wsConn, cid domain.ClientID) {
	for {
		if err := ws.SetReadDeadline(time.Now().Add(g.pingPeriod())); err != nil {
			return
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if !g.handleFrame(conn, cid, data) {
			return
		}
	}
}
