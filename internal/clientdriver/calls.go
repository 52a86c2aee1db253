package clientdriver

import (
	"sync"

	"github.com/dkeye/groundvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// CallPhase is the local view of an in-progress call attempt.
type CallPhase int

const (
	CallIdle CallPhase = iota
	CallInvited
	CallAccepted
	CallRejected
	CallError
	CallEnded
)

func (p CallPhase) String() string {
	switch p {
	case CallIdle:
		return "idle"
	case CallInvited:
		return "invited"
	case CallAccepted:
		return "accepted"
	case CallRejected:
		return "rejected"
	case CallError:
		return "error"
	case CallEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// maxQueuedInvites is how many incoming invites may queue up before the
// newest ones are auto-rejected — a controller on frequency is not
// expected to be fielding a backlog of call requests.
const maxQueuedInvites = 5

// IncomingInvite is one call offer a peer has sent this client.
type IncomingInvite struct {
	From     domain.ClientID
	SDPOffer string
}

// pendingStart is a StartCall request that arrived for a different peer
// while an attempt was already in flight. It is held, not dropped, and
// fires on its own once the active attempt clears.
type pendingStart struct {
	peer     domain.ClientID
	sdpOffer string
}

// CallController runs the local half of the two-party call state
// machine: it tracks the outgoing attempt (if any), the queue of
// incoming invites, and a silent ignore list for peers whose invites
// should never even be queued.
type CallController struct {
	mu sync.Mutex

	ignore       map[domain.ClientID]struct{}
	queue        []IncomingInvite
	phase        CallPhase
	peer         domain.ClientID
	pendingStart *pendingStart

	// Send carries outgoing client->server frames built by the
	// controller's state transitions; the driver wires this to its
	// websocket write path.
	Send func(kind string, peer domain.ClientID, sdp string)

	OnIncomingInvite func(IncomingInvite)
	OnAutoReject     func(domain.ClientID)
	OnPhaseChange    func(CallPhase, domain.ClientID)
}

// NewCallController builds an idle controller.
func NewCallController() *CallController {
	return &CallController{ignore: make(map[domain.ClientID]struct{})}
}

// Ignore adds id to the silent ignore list: future invites from id never
// reach the queue or OnIncomingInvite.
func (c *CallController) Ignore(id domain.ClientID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ignore[id] = struct{}{}
}

// Unignore removes id from the ignore list.
func (c *CallController) Unignore(id domain.ClientID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ignore, id)
}

// Phase returns the current outgoing-call phase and its peer, if any.
func (c *CallController) Phase() (CallPhase, domain.ClientID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase, c.peer
}

// StartCall begins an outgoing invite to peer. A repeat request for the
// attempt already in flight is debounced and dropped rather than
// re-sent; a request for a different peer while one is in flight is
// queued and fires on its own once the active attempt clears. It
// reports whether the invite was actually sent.
func (c *CallController) StartCall(peer domain.ClientID, sdpOffer string) bool {
	c.mu.Lock()
	if c.phase == CallInvited || c.phase == CallAccepted {
		if c.peer == peer {
			c.mu.Unlock()
			log.Debug().Str("module", "clientdriver").Str("peer", string(peer)).Msg("debouncing duplicate start_call")
			return false
		}
		c.pendingStart = &pendingStart{peer: peer, sdpOffer: sdpOffer}
		c.mu.Unlock()
		log.Debug().Str("module", "clientdriver").Str("peer", string(peer)).Msg("queuing start_call behind active attempt")
		return false
	}
	c.phase = CallInvited
	c.peer = peer
	c.mu.Unlock()

	c.setPhase(CallInvited, peer)
	if c.Send != nil {
		c.Send("callInvite", peer, sdpOffer)
	}
	return true
}

// drainPendingStart fires a queued StartCall now that the active
// attempt has cleared. It takes the queued request and re-enters
// StartCall exactly as any other caller would, so the same debounce and
// queueing rules apply if yet another request is already waiting.
func (c *CallController) drainPendingStart() {
	c.mu.Lock()
	next := c.pendingStart
	c.pendingStart = nil
	c.mu.Unlock()
	if next != nil {
		c.StartCall(next.peer, next.sdpOffer)
	}
}

// HandleIncomingInvite processes an invite pushed by the server. Invites
// from an ignored peer are dropped with no trace. Once the queue is at
// capacity, the newest invite is auto-rejected rather than queued.
func (c *CallController) HandleIncomingInvite(from domain.ClientID, sdpOffer string) {
	c.mu.Lock()
	if _, ignored := c.ignore[from]; ignored {
		c.mu.Unlock()
		return
	}

	if len(c.queue) >= maxQueuedInvites {
		c.mu.Unlock()
		log.Info().Str("module", "clientdriver").Str("peer", string(from)).Msg("auto-rejecting invite, queue full")
		if c.Send != nil {
			c.Send("callReject", from, "")
		}
		if c.OnAutoReject != nil {
			c.OnAutoReject(from)
		}
		return
	}

	invite := IncomingInvite{From: from, SDPOffer: sdpOffer}
	c.queue = append(c.queue, invite)
	c.mu.Unlock()

	if c.OnIncomingInvite != nil {
		c.OnIncomingInvite(invite)
	}
}

// AcceptInvite accepts the queued invite from peer with the given SDP
// answer, dropping every other queued invite (auto-rejecting them) since
// this client can only be in one call at a time. The invite leaves the
// queue the moment it is accepted, so a duplicate accept for the same
// peer finds nothing left to act on and is debounced for free.
func (c *CallController) AcceptInvite(peer domain.ClientID, sdpAnswer string) bool {
	c.mu.Lock()
	idx := -1
	for i, inv := range c.queue {
		if inv.From == peer {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	rest := append(c.queue[:idx:idx], c.queue[idx+1:]...)
	c.queue = nil
	c.phase = CallAccepted
	c.peer = peer
	c.mu.Unlock()

	for _, other := range rest {
		if c.Send != nil {
			c.Send("callReject", other.From, "")
		}
	}

	c.setPhase(CallAccepted, peer)
	if c.Send != nil {
		c.Send("callAccept", peer, sdpAnswer)
	}
	return true
}

// RejectInvite rejects a single queued invite without touching the rest
// of the queue.
func (c *CallController) RejectInvite(peer domain.ClientID) bool {
	c.mu.Lock()
	idx := -1
	for i, inv := range c.queue {
		if inv.From == peer {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue[:idx], c.queue[idx+1:]...)
	c.mu.Unlock()

	if c.Send != nil {
		c.Send("callReject", peer, "")
	}
	return true
}

// EndCall ends the current call, whatever its phase, and returns to
// Idle. Calling it again with nothing active is a debounced no-op.
func (c *CallController) EndCall() {
	c.mu.Lock()
	peer := c.peer
	had := c.phase != CallIdle
	c.phase = CallIdle
	c.peer = ""
	c.mu.Unlock()

	if !had {
		return
	}
	c.setPhase(CallEnded, peer)
	if c.Send != nil {
		c.Send("callEnd", peer, "")
	}
	c.drainPendingStart()
}

// HandleRemoteAccept/Reject/End update local phase in response to server
// pushes about the current call. HandleRemoteAccept only acts on an
// outgoing invite; HandleRemoteEnd also ends an accepted incoming call and
// drops any queued invite from that peer.

func (c *CallController) HandleRemoteAccept(from domain.ClientID) {
	c.mu.Lock()
	if c.peer != from || c.phase != CallInvited {
		c.mu.Unlock()
		return
	}
	c.phase = CallAccepted
	c.mu.Unlock()
	c.setPhase(CallAccepted, from)
}

func (c *CallController) HandleRemoteReject(from domain.ClientID) {
	c.mu.Lock()
	if c.peer != from {
		c.mu.Unlock()
		return
	}
	c.phase = CallRejected
	c.peer = ""
	c.mu.Unlock()
	c.setPhase(CallRejected, from)
	c.drainPendingStart()
}

func (c *CallController) HandleRemoteEnd(from domain.ClientID) {
	c.mu.Lock()
	c.removeQueued(from)
	if c.peer != from {
		c.mu.Unlock()
		return
	}
	c.phase = CallIdle
	c.peer = ""
	c.mu.Unlock()
	c.setPhase(CallEnded, from)
	c.drainPendingStart()
}

func (c *CallController) removeQueued(from domain.ClientID) {
	for i, inv := range c.queue {
		if inv.From == from {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

func (c *CallController) setPhase(phase CallPhase, peer domain.ClientID) {
	if c.OnPhaseChange != nil {
		c.OnPhaseChange(phase, peer)
	}
}
