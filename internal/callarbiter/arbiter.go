// Package callarbiter runs the two-party call state machine as a single
// actor, generalizing the room-join/leave bookkeeping the orchestrator
// does for many-party rooms down to the at-most-one-call-per-client case,
// and the pair-keyed attempt/active maps a Rust signaling server kept
// under two RwLocks down to one goroutine with no locks at all.
package callarbiter

import (
	"errors"
	"time"

	"github.com/dkeye/groundvoice/internal/domain"
	"github.com/dkeye/groundvoice/internal/protocol"
	"github.com/dkeye/groundvoice/internal/session"
	"github.com/rs/zerolog/log"
)

// InviteTimeout is how long an Invited call may sit unanswered before the
// sweep ends it automatically.
const InviteTimeout = 60 * time.Second

const sweepInterval = 5 * time.Second

var (
	ErrSelfCall      = errors.New("cannot call self")
	ErrAlreadyInCall = errors.New("already in a call")
	ErrPeerBusy      = errors.New("peer is busy")
	ErrNoSuchCall    = errors.New("no matching call")
	ErrPeerNotFound  = errors.New("peer not connected")
)

type command interface{}

type cmdInvite struct {
	from, to domain.ClientID
	sdpOffer string
	reply    chan<- error
}

type cmdAccept struct {
	from, to  domain.ClientID
	sdpAnswer string
	reply     chan<- error
}

type cmdReject struct {
	from, to domain.ClientID
	reply    chan<- error
}

type cmdEnd struct {
	from, to domain.ClientID
	reply    chan<- error
}

type cmdIceCandidate struct {
	from, to  domain.ClientID
	candidate string
	reply     chan<- error
}

type cmdClientGone struct {
	id    domain.ClientID
	reply chan<- struct{}
}

type cmdSweep struct{}

// Arbiter is the actor handle. Build one with New.
type Arbiter struct {
	cmds     chan command
	registry *session.Registry
}

// New starts the arbiter's goroutine. registry is used to look up and
// message the other party in a call; the arbiter never touches
// connection state directly.
func New(registry *session.Registry) *Arbiter {
	a := &Arbiter{
		cmds:     make(chan command, 256),
		registry: registry,
	}
	go a.run()
	return a
}

// Close stops the actor's goroutine.
func (a *Arbiter) Close() {
	close(a.cmds)
}

func (a *Arbiter) run() {
	calls := make(map[domain.PairKey]*domain.CallRecord)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd, ok := <-a.cmds:
			if !ok {
				return
			}
			a.handle(calls, cmd)
		case <-ticker.C:
			a.sweep(calls)
		}
	}
}

func (a *Arbiter) handle(calls map[domain.PairKey]*domain.CallRecord, cmd command) {
	switch c := cmd.(type) {
	case cmdInvite:
		c.reply <- a.doInvite(calls, c)
	case cmdAccept:
		c.reply <- a.doAccept(calls, c)
	case cmdReject:
		c.reply <- a.doReject(calls, c)
	case cmdEnd:
		c.reply <- a.doEnd(calls, c)
	case cmdIceCandidate:
		c.reply <- a.doIceCandidate(calls, c)
	case cmdClientGone:
		a.doClientGone(calls, c.id)
		close(c.reply)
	}
}

func (a *Arbiter) busy(calls map[domain.PairKey]*domain.CallRecord, id domain.ClientID) bool {
	for _, rec := range calls {
		if rec.Initiator == id || rec.Callee == id {
			return true
		}
	}
	return false
}

func (a *Arbiter) callFor(calls map[domain.PairKey]*domain.CallRecord, id domain.ClientID) (domain.PairKey, *domain.CallRecord, bool) {
	for key, rec := range calls {
		if rec.Initiator == id || rec.Callee == id {
			return key, rec, true
		}
	}
	return domain.PairKey{}, nil, false
}

func (a *Arbiter) doInvite(calls map[domain.PairKey]*domain.CallRecord, c cmdInvite) error {
	if c.from == c.to {
		return ErrSelfCall
	}
	if a.busy(calls, c.from) {
		return ErrAlreadyInCall
	}
	if a.busy(calls, c.to) {
		return ErrPeerBusy
	}

	now := time.Now()
	key := domain.NewPairKey(c.from, c.to)
	rec := &domain.CallRecord{
		Initiator:    c.from,
		Callee:       c.to,
		State:        domain.CallInvited,
		CreatedAt:    now,
		AutoHangupAt: now.Add(InviteTimeout),
	}
	calls[key] = rec

	if err := a.send(c.to, protocol.CallInviteOut{From: c.from, SDPOffer: c.sdpOffer}); err != nil {
		delete(calls, key)
		return err
	}
	return nil
}

func (a *Arbiter) doAccept(calls map[domain.PairKey]*domain.CallRecord, c cmdAccept) error {
	key := domain.NewPairKey(c.from, c.to)
	rec, ok := calls[key]
	if !ok || rec.State != domain.CallInvited || rec.Callee != c.from || rec.Initiator != c.to {
		return ErrNoSuchCall
	}
	rec.State = domain.CallAccepted
	return a.send(c.to, protocol.CallAcceptOut{From: c.from, SDPAnswer: c.sdpAnswer})
}

func (a *Arbiter) doReject(calls map[domain.PairKey]*domain.CallRecord, c cmdReject) error {
	key := domain.NewPairKey(c.from, c.to)
	rec, ok := calls[key]
	if !ok || rec.State != domain.CallInvited || rec.Callee != c.from || rec.Initiator != c.to {
		return ErrNoSuchCall
	}
	delete(calls, key)
	return a.send(c.to, protocol.CallRejectOut{From: c.from})
}

func (a *Arbiter) doEnd(calls map[domain.PairKey]*domain.CallRecord, c cmdEnd) error {
	key := domain.NewPairKey(c.from, c.to)
	if _, ok := calls[key]; !ok {
		return ErrNoSuchCall
	}
	delete(calls, key)
	return a.send(c.to, protocol.CallEndOut{From: c.from})
}

func (a *Arbiter) doIceCandidate(calls map[domain.PairKey]*domain.CallRecord, c cmdIceCandidate) error {
	key := domain.NewPairKey(c.from, c.to)
	if _, ok := calls[key]; !ok {
		return ErrNoSuchCall
	}
	return a.send(c.to, protocol.IceCandidateOut{From: c.from, Candidate: c.candidate})
}

func (a *Arbiter) doClientGone(calls map[domain.PairKey]*domain.CallRecord, id domain.ClientID) {
	key, rec, ok := a.callFor(calls, id)
	if !ok {
		return
	}
	delete(calls, key)
	if other, ok := rec.Other(id); ok {
		_ = a.send(other, protocol.CallEndOut{From: id})
	}
}

func (a *Arbiter) sweep(calls map[domain.PairKey]*domain.CallRecord) {
	now := time.Now()
	for key, rec := range calls {
		if rec.State != domain.CallInvited || now.Before(rec.AutoHangupAt) {
			continue
		}
		delete(calls, key)
		log.Info().Str("module", "callarbiter").Str("initiator", string(rec.Initiator)).Str("callee", string(rec.Callee)).Msg("auto-hangup: invite expired")
		_ = a.send(rec.Callee, protocol.CallEndOut{From: rec.Initiator})
		_ = a.send(rec.Initiator, protocol.CallEndOut{From: rec.Callee})
	}
}

func (a *Arbiter) send(to domain.ClientID, msg interface{ Kind() protocol.Kind }) error {
	entry, ok := a.registry.Lookup(to)
	if !ok {
		return ErrPeerNotFound
	}
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return entry.Conn.TrySend(payload)
}

// Invite starts a call attempt from "from" to "to", carrying the SDP
// offer. It fails fast on self-calls and busy parties before ever
// touching the peer's connection.
func (a *Arbiter) Invite(from, to domain.ClientID, sdpOffer string) error {
	reply := make(chan error, 1)
	a.cmds <- cmdInvite{from: from, to: to, sdpOffer: sdpOffer, reply: reply}
	return <-reply
}

// Accept completes an invite that "to" sent to "from", carrying the SDP
// answer back to the inviter.
func (a *Arbiter) Accept(from, to domain.ClientID, sdpAnswer string) error {
	reply := make(chan error, 1)
	a.cmds <- cmdAccept{from: from, to: to, sdpAnswer: sdpAnswer, reply: reply}
	return <-reply
}

// Reject declines an invite from "to", removing the pending record.
func (a *Arbiter) Reject(from, to domain.ClientID) error {
	reply := make(chan error, 1)
	a.cmds <- cmdReject{from: from, to: to, reply: reply}
	return <-reply
}

// End terminates an active or pending call between "from" and "to".
func (a *Arbiter) End(from, to domain.ClientID) error {
	reply := make(chan error, 1)
	a.cmds <- cmdEnd{from: from, to: to, reply: reply}
	return <-reply
}

// IceCandidate relays a trickled ICE candidate to the other party in an
// existing call.
func (a *Arbiter) IceCandidate(from, to domain.ClientID, candidate string) error {
	reply := make(chan error, 1)
	a.cmds <- cmdIceCandidate{from: from, to: to, candidate: candidate, reply: reply}
	return <-reply
}

// ClientGone ends any call the departing client participates in and
// notifies the other party, returning once that is done. Called once
// from the gateway's cleanup path.
func (a *Arbiter) ClientGone(id domain.ClientID) {
	reply := make(chan struct{})
	a.cmds <- cmdClientGone{id: id, reply: reply}
	<-reply
}
