package datafeed

import (
	"context"
	"testing"

	"github.com/dkeye/groundvoice/internal/domain"
	"github.com/dkeye/groundvoice/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct{}

func (stubConn) TrySend([]byte) error { return nil }
func (stubConn) Close() error         { return nil }

type fakeFetcher struct {
	controllers []ControllerInfo
	err         error
}

func (f *fakeFetcher) FetchControllers(context.Context) ([]ControllerInfo, error) {
	return f.controllers, f.err
}

func TestTickUpdatesInfoOnChange(t *testing.T) {
	reg := session.NewRegistry()
	defer reg.Close()
	_, _ = reg.Register(domain.NewClientInfo("123"), stubConn{})

	fetcher := &fakeFetcher{controllers: []ControllerInfo{
		{CID: "123", Callsign: "JFK_TWR", Frequency: "118.700", FacilityRaw: 2},
	}}

	var changed domain.ClientInfo
	p := &Poller{Fetcher: fetcher, Registry: reg, OnInfoChanged: func(info domain.ClientInfo) { changed = info }}
	p.tick(context.Background())

	assert.Equal(t, domain.ClientInfo{ID: "123", DisplayName: "JFK_TWR", Frequency: "118.700"}, changed)
	entry, ok := reg.Lookup("123")
	require.True(t, ok)
	assert.Equal(t, "JFK_TWR", entry.Info.DisplayName)
}

func TestTickDoesNotFireOnInfoChangedWhenUnchanged(t *testing.T) {
	reg := session.NewRegistry()
	defer reg.Close()
	_, _ = reg.Register(domain.ClientInfo{ID: "123", DisplayName: "JFK_TWR", Frequency: "118.700"}, stubConn{})

	fetcher := &fakeFetcher{controllers: []ControllerInfo{
		{CID: "123", Callsign: "JFK_TWR", Frequency: "118.700", FacilityRaw: 2},
	}}

	called := false
	p := &Poller{Fetcher: fetcher, Registry: reg, OnInfoChanged: func(domain.ClientInfo) { called = true }}
	p.tick(context.Background())

	assert.False(t, called)
}

func TestTickGracePeriodBeforeStale(t *testing.T) {
	reg := session.NewRegistry()
	defer reg.Close()
	_, _ = reg.Register(domain.NewClientInfo("123"), stubConn{})

	fetcher := &fakeFetcher{controllers: nil}

	var staleCalls int
	p := &Poller{Fetcher: fetcher, Registry: reg, OnStale: func(domain.ClientID) { staleCalls++ }}

	p.tick(context.Background())
	assert.Equal(t, 0, staleCalls, "first miss should only start the grace period")

	p.tick(context.Background())
	assert.Equal(t, 1, staleCalls, "second consecutive miss should fire OnStale")
}

func TestTickClearsPendingWhenControllerReappears(t *testing.T) {
	reg := session.NewRegistry()
	defer reg.Close()
	_, _ = reg.Register(domain.NewClientInfo("123"), stubConn{})

	fetcher := &fakeFetcher{}
	staleCalls := 0
	p := &Poller{Fetcher: fetcher, Registry: reg, OnStale: func(domain.ClientID) { staleCalls++ }}

	fetcher.controllers = nil
	p.tick(context.Background())

	fetcher.controllers = []ControllerInfo{{CID: "123", Callsign: "JFK_TWR", FacilityRaw: 2}}
	p.tick(context.Background())

	fetcher.controllers = nil
	p.tick(context.Background())
	assert.Equal(t, 0, staleCalls, "grace period should restart after a clean cycle")
}

func TestTickSkipsWhenRosterEmpty(t *testing.T) {
	reg := session.NewRegistry()
	defer reg.Close()

	fetcher := &fakeFetcher{err: assert.AnError}
	p := &Poller{Fetcher: fetcher, Registry: reg}
	p.tick(context.Background())
}

func TestUnknownFacilityTreatedAsAbsent(t *testing.T) {
	reg := session.NewRegistry()
	defer reg.Close()
	_, _ = reg.Register(domain.NewClientInfo("123"), stubConn{})

	fetcher := &fakeFetcher{controllers: []ControllerInfo{
		{CID: "123", Callsign: "JFK_OBS", FacilityRaw: 0},
	}}

	var staleCalls int
	p := &Poller{Fetcher: fetcher, Registry: reg, OnStale: func(domain.ClientID) { staleCalls++ }}
	p.tick(context.Background())
	p.tick(context.Background())
	assert.Equal(t, 1, staleCalls)
}
