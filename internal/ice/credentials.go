// Package ice mints the ICE server list handed to a client in its
// Welcome message: a fixed STUN entry plus a short-lived TURN credential
// pair generated with the coturn REST API convention (a username of
// "<expiry-unix>:<client-id>" and a password that's the base64 HMAC-SHA1
// of that username under the shared secret). No library in the ecosystem
// wraps this scheme, so it's built directly on crypto/hmac — the scheme
// itself is the contract, not a stand-in for a library.
package ice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/dkeye/groundvoice/internal/domain"
	"github.com/dkeye/groundvoice/internal/protocol"
)

// Minter issues ICE server lists.
type Minter struct {
	stunURLs  []string
	turnURLs  []string
	turnRealm string
	secret    []byte
	ttl       time.Duration
	now       func() time.Time
}

// Config describes the fixed STUN/TURN endpoints and the coturn shared
// secret used to mint per-session TURN credentials.
type Config struct {
	StunURLs  []string
	TurnURLs  []string
	TurnRealm string
	Secret    string
	TTL       time.Duration
}

// NewMinter builds a Minter from cfg. A zero TTL defaults to one hour.
func NewMinter(cfg Config) *Minter {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Minter{
		stunURLs:  cfg.StunURLs,
		turnURLs:  cfg.TurnURLs,
		turnRealm: cfg.TurnRealm,
		secret:    []byte(cfg.Secret),
		ttl:       ttl,
		now:       time.Now,
	}
}

// Mint returns the ICE server list to hand to client for the next TTL
// window. If no TURN URLs are configured, only the STUN entry is
// returned — useful for local development without a relay.
func (m *Minter) Mint(client domain.ClientID) protocol.IceConfig {
	servers := make([]protocol.IceServer, 0, 1+len(m.turnURLs))
	if len(m.stunURLs) > 0 {
		servers = append(servers, protocol.IceServer{URLs: m.stunURLs})
	}

	if len(m.turnURLs) > 0 && len(m.secret) > 0 {
		username, password := m.credential(client)
		servers = append(servers, protocol.IceServer{
			URLs:       m.turnURLs,
			Username:   username,
			Credential: password,
		})
	}

	return protocol.IceConfig{Servers: servers}
}

func (m *Minter) credential(client domain.ClientID) (username, password string) {
	expiry := m.now().Add(m.ttl).Unix()
	username = fmt.Sprintf("%d:%s", expiry, client)

	mac := hmac.New(sha1.New, m.secret)
	mac.Write([]byte(username))
	password = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return username, password
}

// DefaultStunURLs is the public Google STUN endpoint, the same one the
// server config uses as its stun_urls default.
var DefaultStunURLs = []string{"stun:stun.l.google.com:19302"}
