package clientdriver

import (
	"sort"
	"sync"

	"github.com/dkeye/groundvoice/internal/domain"
)

// Roster is the client's local mirror of who else is connected, kept in
// sync by feeding it Roster/ClientConnected/ClientDisconnected pushes as
// they arrive.
type Roster struct {
	mu      sync.RWMutex
	clients map[domain.ClientID]domain.ClientInfo
}

// NewRoster builds an empty mirror.
func NewRoster() *Roster {
	return &Roster{clients: make(map[domain.ClientID]domain.ClientInfo)}
}

// Reset replaces the mirror's contents wholesale, used on the initial
// Roster snapshot a connection receives right after Welcome.
func (r *Roster) Reset(clients []domain.ClientInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = make(map[domain.ClientID]domain.ClientInfo, len(clients))
	for _, c := range clients {
		r.clients[c.ID] = c
	}
}

// Upsert adds or updates one client's info, used for ClientConnected and
// data-feed-driven info refreshes.
func (r *Roster) Upsert(info domain.ClientInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[info.ID] = info
}

// Remove drops a client, used for ClientDisconnected.
func (r *Roster) Remove(id domain.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// Get returns one client's info.
func (r *Roster) Get(id domain.ClientID) (domain.ClientInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Snapshot returns every known client sorted by display name, then ID,
// for a stable presentation order.
func (r *Roster) Snapshot() []domain.ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out
}
