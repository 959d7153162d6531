package sessionmap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordThenLookupWithinTTL(t *testing.T) {
	m := New(60 * time.Second)
	m.Record("B1", "C1", Flags{})

	chatID, res := m.Lookup("B1")
	require.Equal(t, Hit, res)
	require.Equal(t, "C1", chatID)
}

func TestLookupMissWhenAbsent(t *testing.T) {
	m := New(0)
	_, res := m.Lookup("nope")
	require.Equal(t, Miss, res)
}

func TestLookupMissAfterTTLExpiry(t *testing.T) {
	now := time.Now()
	m := New(60 * time.Second)
	m.SetClock(func() time.Time { return now })
	m.Record("B1", "C1", Flags{})

	now = now.Add(61 * time.Second)
	_, res := m.Lookup("B1")
	require.Equal(t, Miss, res)
}

func TestFreshNegativeMarkersShortCircuit(t *testing.T) {
	now := time.Now()
	m := New(60 * time.Second)
	m.SetClock(func() time.Time { return now })

	m.Record("B1", "", Flags{PermissionDenied: true})
	_, res := m.Lookup("B1")
	require.Equal(t, DeniedRecently, res)

	m.Record("B2", "", Flags{NotFound: true})
	_, res = m.Lookup("B2")
	require.Equal(t, NotFoundRecently, res)

	// after the window both are plain misses again
	now = now.Add(61 * time.Second)
	_, res = m.Lookup("B1")
	require.Equal(t, Miss, res)
	_, res = m.Lookup("B2")
	require.Equal(t, Miss, res)
}

func TestRecordOverwritesPriorEntry(t *testing.T) {
	m := New(60 * time.Second)
	m.Record("B1", "", Flags{NotFound: true})
	m.Record("B1", "C2", Flags{})

	chatID, res := m.Lookup("B1")
	require.Equal(t, Hit, res)
	require.Equal(t, "C2", chatID)
}

func TestReverseLookup(t *testing.T) {
	m := New(60 * time.Second)
	m.Record("B1", "C1", Flags{})

	b, ok := m.ReverseLookup("C1")
	require.True(t, ok)
	require.Equal(t, "B1", b)

	_, ok = m.ReverseLookup("C2")
	require.False(t, ok)
}

func TestReverseIndexSurvivesForwardExpiry(t *testing.T) {
	now := time.Now()
	m := New(60 * time.Second)
	m.SetClock(func() time.Time { return now })
	m.Record("B1", "C1", Flags{})

	now = now.Add(2 * time.Minute)
	_, res := m.Lookup("B1")
	require.Equal(t, Miss, res)

	// the reverse index is append-only for the process lifetime
	b, ok := m.ReverseLookup("C1")
	require.True(t, ok)
	require.Equal(t, "B1", b)
}
