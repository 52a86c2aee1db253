package ratelimit

import (
	"testing"
	"time"

	"github.com/dkeye/groundvoice/internal/domain"
	"github.com/dkeye/groundvoice/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUpToBurst(t *testing.T) {
	l := NewLimiter(map[protocol.Kind]Limit{
		protocol.KindCallInvite: {Rate: 1, Burst: 3},
	})

	client := domain.ClientID("1234567")
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(client, protocol.KindCallInvite))
	}
	assert.False(t, l.Allow(client, protocol.KindCallInvite))
}

func TestLimiterRefillsOverTime(t *testing.T) {
	l := NewLimiter(map[protocol.Kind]Limit{
		protocol.KindCallInvite: {Rate: 10, Burst: 1},
	})
	now := time.Now()
	l.now = func() time.Time { return now }

	client := domain.ClientID("1234567")
	require.True(t, l.Allow(client, protocol.KindCallInvite))
	require.False(t, l.Allow(client, protocol.KindCallInvite))

	now = now.Add(200 * time.Millisecond) // 10 tokens/sec * 0.2s = 2 tokens, capped at burst 1
	assert.True(t, l.Allow(client, protocol.KindCallInvite))
}

func TestLimiterUnconfiguredKindAlwaysAllowed(t *testing.T) {
	l := NewLimiter(map[protocol.Kind]Limit{})
	client := domain.ClientID("1234567")
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow(client, protocol.KindPing))
	}
}

func TestLimiterTracksClientsIndependently(t *testing.T) {
	l := NewLimiter(map[protocol.Kind]Limit{
		protocol.KindCallInvite: {Rate: 1, Burst: 1},
	})
	a, b := domain.ClientID("111"), domain.ClientID("222")

	assert.True(t, l.Allow(a, protocol.KindCallInvite))
	assert.False(t, l.Allow(a, protocol.KindCallInvite))
	assert.True(t, l.Allow(b, protocol.KindCallInvite))
}

func TestForgetClientDropsBuckets(t *testing.T) {
	l := NewLimiter(map[protocol.Kind]Limit{
		protocol.KindCallInvite: {Rate: 1, Burst: 1},
	})
	client := domain.ClientID("111")

	require.True(t, l.Allow(client, protocol.KindCallInvite))
	require.False(t, l.Allow(client, protocol.KindCallInvite))

	l.ForgetClient(client)
	assert.True(t, l.Allow(client, protocol.KindCallInvite))
}
