// Package datafeed periodically reconciles connected clients against the
// VATSIM data feed, updating roster display names and frequencies and
// disconnecting clients who no longer have an active VATSIM controller
// session — with a one-cycle grace period before acting on an absence,
// since the public feed is itself polled on a delay and a single missed
// cycle is not evidence of a real disconnect.
package datafeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dkeye/groundvoice/internal/domain"
	"github.com/dkeye/groundvoice/internal/session"
	"github.com/rs/zerolog/log"
)

// ControllerInfo is one controller entry from the data feed, reduced to
// the fields the roster cares about.
type ControllerInfo struct {
	CID         domain.ClientID
	Callsign    string
	Frequency   string
	FacilityRaw int
}

// Unknown reports whether this entry represents an observer or otherwise
// non-controlling position, which is treated the same as absence.
func (c ControllerInfo) Unknown() bool {
	return c.FacilityRaw <= 0
}

// Fetcher retrieves the current set of active controllers.
type Fetcher interface {
	FetchControllers(ctx context.Context) ([]ControllerInfo, error)
}

// HTTPFetcher fetches and decodes the public VATSIM data feed JSON.
type HTTPFetcher struct {
	URL  string
	HTTP *http.Client
}

// NewHTTPFetcher builds a fetcher against url with a 15s client timeout.
func NewHTTPFetcher(url string) *HTTPFetcher {
	return &HTTPFetcher{URL: url, HTTP: &http.Client{Timeout: 15 * time.Second}}
}

type dataFeedDoc struct {
	Controllers []struct {
		CID       int    `json:"cid"`
		Callsign  string `json:"callsign"`
		Frequency string `json:"frequency"`
		Facility  int    `json:"facility"`
	} `json:"controllers"`
}

func (f *HTTPFetcher) FetchControllers(ctx context.Context) ([]ControllerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build data feed request: %w", err)
	}
	resp, err := f.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch data feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("data feed returned %d", resp.StatusCode)
	}

	var doc dataFeedDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode data feed: %w", err)
	}

	out := make([]ControllerInfo, 0, len(doc.Controllers))
	for _, c := range doc.Controllers {
		out = append(out, ControllerInfo{
			CID:         domain.ClientID(fmt.Sprintf("%d", c.CID)),
			Callsign:    c.Callsign,
			Frequency:   c.Frequency,
			FacilityRaw: c.Facility,
		})
	}
	return out, nil
}

// Poller reconciles the registry against the data feed on a fixed
// interval, calling OnInfoChanged when a connected client's roster info
// changes and OnStale once a client has been absent from the feed for a
// full grace cycle.
type Poller struct {
	Fetcher  Fetcher
	Registry *session.Registry
	Interval time.Duration

	OnInfoChanged func(domain.ClientInfo)
	OnStale       func(domain.ClientID)

	pending map[domain.ClientID]struct{}
}

// Run blocks, polling until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	if p.pending == nil {
		p.pending = make(map[domain.ClientID]struct{})
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	roster := p.Registry.Snapshot()
	if len(roster) == 0 {
		return
	}

	controllers, err := p.Fetcher.FetchControllers(ctx)
	if err != nil {
		log.Warn().Str("module", "datafeed").Err(err).Msg("failed to refresh controller info")
		return
	}

	current := make(map[domain.ClientID]ControllerInfo, len(controllers))
	for _, c := range controllers {
		current[c.CID] = c
	}

	for _, info := range roster {
		controller, found := current[info.ID]
		switch {
		case !found || controller.Unknown():
			p.flagOrDisconnect(info.ID)
		default:
			p.clearPending(info.ID)
			if info.DisplayName == controller.Callsign && info.Frequency == controller.Frequency {
				continue
			}
			updated := domain.ClientInfo{ID: info.ID, DisplayName: controller.Callsign, Frequency: controller.Frequency}
			p.Registry.UpdateInfo(info.ID, updated)
			if p.OnInfoChanged != nil {
				p.OnInfoChanged(updated)
			}
		}
	}
}

func (p *Poller) clearPending(id domain.ClientID) {
	if _, ok := p.pending[id]; ok {
		delete(p.pending, id)
		log.Debug().Str("module", "datafeed").Str("client", string(id)).Msg("active VATSIM connection found again")
	}
}

func (p *Poller) flagOrDisconnect(id domain.ClientID) {
	if _, ok := p.pending[id]; ok {
		delete(p.pending, id)
		log.Info().Str("module", "datafeed").Str("client", string(id)).Msg("no active VATSIM connection after grace period, disconnecting")
		if p.OnStale != nil {
			p.OnStale(id)
		}
		return
	}
	if p.pending == nil {
		p.pending = make(map[domain.ClientID]struct{})
	}
	p.pending[id] = struct{}{}
}
