package clientstore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	sess := Session{Token: "abc123", CID: "123456"}
	require.NoError(t, s.Save(sess))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, sess, got)
}

func TestLoadWithoutSaveReturnsErrNoSession(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestClearRemovesSessionButKeepsKey(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save(Session{Token: "tok", CID: "1"}))
	require.NoError(t, s.Clear())

	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	_, keyErr := os.Stat(s.keyPath())
	require.NoError(t, keyErr)
}

func TestLoadFailsWithWrongKey(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	a, err := NewStore(dirA)
	require.NoError(t, err)
	require.NoError(t, a.Save(Session{Token: "tok", CID: "1"}))

	b, err := NewStore(dirB)
	require.NoError(t, err)
	_, err = b.loadOrCreateKey()
	require.NoError(t, err)

	// Swap in a session file encrypted under a's key but keep b's own key.
	data, err := os.ReadFile(a.sessionPath())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(b.sessionPath(), data, 0o600))

	_, err = b.Load()
	assert.Error(t, err)
}
