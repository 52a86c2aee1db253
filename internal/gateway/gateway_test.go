package gateway

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/groundvoice/internal/callarbiter"
	"github.com/dkeye/groundvoice/internal/config"
	"github.com/dkeye/groundvoice/internal/ice"
	"github.com/dkeye/groundvoice/internal/identity"
	"github.com/dkeye/groundvoice/internal/protocol"
	"github.com/dkeye/groundvoice/internal/ratelimit"
	"github.com/dkeye/groundvoice/internal/session"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// tokens maps bearer tokens to CIDs for the stub introspection endpoint,
// letting each test dial as a distinct client without a real identity
// provider.
func newTestGateway(t *testing.T, tokens map[string]string) (*Gateway, func(token string) *websocket.Conn) {
	idSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		cid, ok := tokens[r.FormValue("token")]
		_ = json.NewEncoder(w).Encode(map[string]any{"active": ok, "cid": cid})
	}))
	t.Cleanup(idSrv.Close)

	registry := session.NewRegistry()
	t.Cleanup(registry.Close)
	arbiter := callarbiter.New(registry)
	t.Cleanup(arbiter.Close)

	gw := &Gateway{
		Registry:    registry,
		Arbiter:     arbiter,
		RateLimiter: ratelimit.NewLimiter(nil),
		Identity:    identity.NewClient(idSrv.URL, "client", "secret"),
		IceMinter:   ice.NewMinter(ice.Config{StunURLs: ice.DefaultStunURLs}),
	}

	router := SetupRouter(&config.Config{Mode: "release"}, gw)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"

	dial := func(token string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		hello, err := protocol.Encode(protocol.Hello{Token: token})
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, hello))
		return conn
	}

	return gw, dial
}

func readFrame(t *testing.T, conn *websocket.Conn) (protocol.Kind, any) {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	kind, msg, err := protocol.DecodeServerFrame(data)
	require.NoError(t, err)
	return kind, msg
}

func TestHandshakeReceivesWelcomeThenRoster(t *testing.T) {
	_, dial := newTestGateway(t, map[string]string{"alice-token": "111111"})
	conn := dial("alice-token")
	defer conn.Close()

	kind, msg := readFrame(t, conn)
	require.Equal(t, protocol.KindWelcome, kind)
	welcome := msg.(protocol.Welcome)
	require.Equal(t, "111111", string(welcome.Self.ID))

	kind, _ = readFrame(t, conn)
	require.Equal(t, protocol.KindRoster, kind)
}

func TestSecondClientSeesClientConnectedBroadcast(t *testing.T) {
	_, dial := newTestGateway(t, map[string]string{
		"alice-token": "111111",
		"bob-token":   "222222",
	})

	alice := dial("alice-token")
	defer alice.Close()
	readFrame(t, alice) // welcome
	readFrame(t, alice) // roster

	bob := dial("bob-token")
	defer bob.Close()
	readFrame(t, bob) // welcome
	readFrame(t, bob) // roster

	kind, msg := readFrame(t, alice)
	require.Equal(t, protocol.KindClientConnected, kind)
	connected := msg.(protocol.ClientConnected)
	require.Equal(t, "222222", string(connected.Client.ID))
}

func TestCallInviteIsDeliveredToPeer(t *testing.T) {
	_, dial := newTestGateway(t, map[string]string{
		"alice-token": "111111",
		"bob-token":   "222222",
	})

	alice := dial("alice-token")
	defer alice.Close()
	readFrame(t, alice)
	readFrame(t, alice)

	bob := dial("bob-token")
	defer bob.Close()
	readFrame(t, bob)
	readFrame(t, bob)
	readFrame(t, alice) // ClientConnected for bob

	invite, err := protocol.Encode(protocol.CallInviteIn{Peer: "222222", SDPOffer: "v=0 offer"})
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, invite))

	kind, msg := readFrame(t, bob)
	require.Equal(t, protocol.KindCallInvite, kind)
	in := msg.(protocol.CallInviteOut)
	require.Equal(t, "111111", string(in.From))
	require.Equal(t, "v=0 offer", in.SDPOffer)
}

func TestInviteToUnknownPeerReturnsPeerNotFound(t *testing.T) {
	_, dial := newTestGateway(t, map[string]string{"alice-token": "111111"})
	alice := dial("alice-token")
	defer alice.Close()
	readFrame(t, alice)
	readFrame(t, alice)

	invite, err := protocol.Encode(protocol.CallInviteIn{Peer: "999999", SDPOffer: "v=0"})
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, invite))

	kind, msg := readFrame(t, alice)
	require.Equal(t, protocol.KindPeerNotFound, kind)
	pnf := msg.(protocol.PeerNotFound)
	require.Equal(t, "999999", string(pnf.ID))
}

func TestDisplacedSessionReceivesDisplacedErrorThenCloses(t *testing.T) {
	_, dial := newTestGateway(t, map[string]string{"alice-token": "111111"})

	s1 := dial("alice-token")
	defer s1.Close()
	readFrame(t, s1) // welcome
	readFrame(t, s1) // roster

	s2 := dial("alice-token")
	defer s2.Close()
	readFrame(t, s2) // welcome
	readFrame(t, s2) // roster

	kind, msg := readFrame(t, s1)
	require.Equal(t, protocol.KindError, kind)
	errMsg := msg.(protocol.Error)
	require.Equal(t, protocol.ErrDisplaced, errMsg.ErrorKind)

	_, _, err := s1.ReadMessage()
	require.Error(t, err)
}

func TestDisplacementDoesNotBroadcastSpuriousDisconnect(t *testing.T) {
	_, dial := newTestGateway(t, map[string]string{
		"alice-token": "111111",
		"bob-token":   "222222",
	})

	bob := dial("bob-token")
	defer bob.Close()
	readFrame(t, bob) // welcome
	readFrame(t, bob) // roster

	s1 := dial("alice-token")
	defer s1.Close()
	readFrame(t, s1) // welcome
	readFrame(t, s1) // roster
	readFrame(t, bob) // ClientConnected(111111) from s1 registering

	s2 := dial("alice-token")
	defer s2.Close()
	readFrame(t, s2) // welcome
	readFrame(t, s2) // roster

	kind, msg := readFrame(t, bob)
	require.Equal(t, protocol.KindClientConnected, kind)
	connected := msg.(protocol.ClientConnected)
	require.Equal(t, "111111", string(connected.Client.ID))

	// s1 is displaced and its read loop unwinds; bob must not see a
	// ClientDisconnected for 111111 even though s1's own connection closed,
	// since 111111 is still present via s2's live session.
	require.NoError(t, bob.SetReadDeadline(time.Now().Add(500*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	require.Error(t, err, "expected a read timeout, not a spurious ClientDisconnected")
	netErr, ok := err.(net.Error)
	require.True(t, ok, "expected a net.Error timeout")
	require.True(t, netErr.Timeout())
}

func TestBadHandshakeTokenClosesSocket(t *testing.T) {
	_, dial := newTestGateway(t, map[string]string{})
	conn := dial("not-a-real-token")
	defer conn.Close()

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}
