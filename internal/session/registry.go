// Package session owns the single source of truth for which clients are
// currently connected. It is an actor: every read and write to its state
// happens on one goroutine via a command mailbox, so callers never need a
// mutex and the registry never needs one either.
package session

import (
	"github.com/dkeye/groundvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// Conn is the minimal outbound surface the registry needs from a live
// connection: a non-blocking send and a close. The gateway's websocket
// wrapper implements this.
type Conn interface {
	TrySend(data []byte) error
	Close() error
}

// Entry is a point-in-time snapshot of a registered client, safe to read
// after it's returned since the registry never mutates a returned value.
type Entry struct {
	Info       domain.ClientInfo
	Conn       Conn
	Generation uint64
}

type command interface{}

type cmdRegister struct {
	info  domain.ClientInfo
	conn  Conn
	reply chan<- registerResult
}

type registerResult struct {
	generation uint64
	displaced  Conn // previous connection for this ID, or nil
}

type cmdDeregister struct {
	id         domain.ClientID
	generation uint64
	reply      chan<- bool
}

type cmdLookup struct {
	id    domain.ClientID
	reply chan<- lookupResult
}

type lookupResult struct {
	entry Entry
	ok    bool
}

type cmdSnapshot struct {
	reply chan<- []domain.ClientInfo
}

type cmdUpdateInfo struct {
	id   domain.ClientID
	info domain.ClientInfo
}

// Broadcast is delivered to every registered client except Exclude.
type cmdBroadcast struct {
	exclude domain.ClientID
	payload []byte
	reply   chan<- []Entry
}

// Registry is the actor handle. The zero value is not usable; build one
// with NewRegistry.
type Registry struct {
	cmds chan command
	done chan struct{}
}

// NewRegistry starts the registry's actor goroutine and returns a handle.
func NewRegistry() *Registry {
	r := &Registry{
		cmds: make(chan command, 256),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

// Close stops the actor goroutine once the commands already queued have
// been processed (their replies still fire). Any method called after
// Close panics, since it sends on the closed mailbox.
func (r *Registry) Close() {
	close(r.cmds)
}

func (r *Registry) run() {
	defer close(r.done)

	clients := make(map[domain.ClientID]*clientState)
	var nextGeneration uint64

	for cmd := range r.cmds {
		switch c := cmd.(type) {
		case cmdRegister:
			nextGeneration++
			gen := nextGeneration
			var displaced Conn
			if prev, ok := clients[c.info.ID]; ok {
				displaced = prev.conn
				log.Info().Str("module", "session.registry").Str("client", string(c.info.ID)).Msg("displacing existing connection")
			}
			clients[c.info.ID] = &clientState{info: c.info, conn: c.conn, generation: gen}
			c.reply <- registerResult{generation: gen, displaced: displaced}

		case cmdDeregister:
			removed := false
			if cur, ok := clients[c.id]; ok && cur.generation == c.generation {
				delete(clients, c.id)
				removed = true
				log.Info().Str("module", "session.registry").Str("client", string(c.id)).Msg("deregistered")
			}
			if c.reply != nil {
				c.reply <- removed
			}

		case cmdLookup:
			cur, ok := clients[c.id]
			if !ok {
				c.reply <- lookupResult{}
				continue
			}
			c.reply <- lookupResult{entry: Entry{Info: cur.info, Conn: cur.conn, Generation: cur.generation}, ok: true}

		case cmdUpdateInfo:
			if cur, ok := clients[c.id]; ok {
				cur.info = c.info
			}

		case cmdSnapshot:
			out := make([]domain.ClientInfo, 0, len(clients))
			for _, cur := range clients {
				out = append(out, cur.info)
			}
			c.reply <- out

		case cmdBroadcast:
			var dropped []Entry
			for id, cur := range clients {
				if id == c.exclude {
					continue
				}
				if err := cur.conn.TrySend(c.payload); err != nil {
					log.Warn().Str("module", "session.registry").Str("client", string(id)).Err(err).Msg("dropping slow subscriber")
					dropped = append(dropped, Entry{Info: cur.info, Conn: cur.conn, Generation: cur.generation})
					delete(clients, id)
				}
			}
			c.reply <- dropped
		}
	}
}

type clientState struct {
	info       domain.ClientInfo
	conn       Conn
	generation uint64
}

// Register adds or displaces the connection for info.ID, returning the
// generation assigned to this registration and the previous connection
// for the same ID, if any — the caller is responsible for closing it.
func (r *Registry) Register(info domain.ClientInfo, conn Conn) (generation uint64, displaced Conn) {
	reply := make(chan registerResult, 1)
	r.cmds <- cmdRegister{info: info, conn: conn, reply: reply}
	res := <-reply
	return res.generation, res.displaced
}

// Deregister removes the entry for id, but only if it is still at
// generation — a stale deregister from a connection that has already
// been displaced by a newer one is a no-op. It reports whether this call
// actually removed the entry, so a caller can tell its own session apart
// from one that's already been superseded.
func (r *Registry) Deregister(id domain.ClientID, generation uint64) (removed bool) {
	reply := make(chan bool, 1)
	r.cmds <- cmdDeregister{id: id, generation: generation, reply: reply}
	return <-reply
}

// Lookup returns the current entry for id, if connected.
func (r *Registry) Lookup(id domain.ClientID) (Entry, bool) {
	reply := make(chan lookupResult, 1)
	r.cmds <- cmdLookup{id: id, reply: reply}
	res := <-reply
	return res.entry, res.ok
}

// UpdateInfo refreshes the roster-visible info for an already-registered
// client, e.g. when the data feed reports a new frequency.
func (r *Registry) UpdateInfo(id domain.ClientID, info domain.ClientInfo) {
	r.cmds <- cmdUpdateInfo{id: id, info: info}
}

// Snapshot returns the full current roster.
func (r *Registry) Snapshot() []domain.ClientInfo {
	reply := make(chan []domain.ClientInfo, 1)
	r.cmds <- cmdSnapshot{reply: reply}
	return <-reply
}

// Broadcast delivers payload to every connected client except exclude.
// A client whose send buffer is full is treated as unreachable and is
// removed from the registry immediately, so no later lookup can observe
// it as still connected. Broadcast reports every client it dropped this
// way, Conn included, so the caller can notify and close it — the
// registry itself never touches a connection's wire state, only the
// roster.
func (r *Registry) Broadcast(exclude domain.ClientID, payload []byte) []Entry {
	reply := make(chan []Entry, 1)
	r.cmds <- cmdBroadcast{exclude: exclude, payload: payload, reply: reply}
	return <-reply
}
