// Package ratelimit enforces a per-client, per-message-kind token bucket,
// generalizing the sliding-window history kept by the signaling
// controller it's grounded on: instead of storing a timestamp per
// attempt and re-scanning it on every call, each (client, kind) pair
// owns a bucket that refills continuously and is checked in O(1).
package ratelimit

import (
	"sync"
	"time"

	"github.com/dkeye/groundvoice/internal/domain"
	"github.com/dkeye/groundvoice/internal/protocol"
)

// Limit describes one bucket's refill rate and capacity.
type Limit struct {
	Rate  float64 // tokens per second
	Burst int     // bucket capacity
}

// DefaultLimits is the out-of-the-box table: call-control messages are
// scarce and bursty (a handful of invites, not a flood), ICE candidates
// trickle in bunches during negotiation, and pings are rare since the
// gateway's own liveness deadline already paces the connection.
var DefaultLimits = map[protocol.Kind]Limit{
	protocol.KindCallInvite:   {Rate: 1, Burst: 3},
	protocol.KindCallAccept:   {Rate: 2, Burst: 5},
	protocol.KindCallReject:   {Rate: 2, Burst: 5},
	protocol.KindCallEnd:      {Rate: 2, Burst: 5},
	protocol.KindIceCandidate: {Rate: 20, Burst: 50},
	protocol.KindPing:         {Rate: 1, Burst: 3},
}

type bucketKey struct {
	client domain.ClientID
	kind   protocol.Kind
}

type bucketState struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter holds one token bucket per (client, kind) pair seen so far.
// Buckets are created lazily on first use and never explicitly expired —
// ForgetClient is called by the gateway on disconnect so memory doesn't
// accumulate across the lifetime of the process.
type Limiter struct {
	mu      sync.Mutex
	limits  map[protocol.Kind]Limit
	buckets map[bucketKey]*bucketState
	now     func() time.Time
}

// NewLimiter builds a limiter from the given table. A nil table uses
// DefaultLimits.
func NewLimiter(limits map[protocol.Kind]Limit) *Limiter {
	if limits == nil {
		limits = DefaultLimits
	}
	return &Limiter{
		limits:  limits,
		buckets: make(map[bucketKey]*bucketState),
		now:     time.Now,
	}
}

// Allow reports whether a message of kind from client may proceed right
// now, consuming one token if so. Kinds with no configured limit are
// always allowed.
func (l *Limiter) Allow(client domain.ClientID, kind protocol.Kind) bool {
	limit, ok := l.limits[kind]
	if !ok {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := bucketKey{client: client, kind: kind}
	b, ok := l.buckets[key]
	now := l.now()
	if !ok {
		b = &bucketState{tokens: float64(limit.Burst), lastRefill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * limit.Rate
	if cap := float64(limit.Burst); b.tokens > cap {
		b.tokens = cap
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// ForgetClient drops every bucket belonging to client, called once the
// client has disconnected.
func (l *Limiter) ForgetClient(client domain.ClientID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.buckets {
		if key.client == client {
			delete(l.buckets, key)
		}
	}
}
