package store_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/events"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestRoundTripSensitiveAndPlainKeys(t *testing.T) {
	backend := store.NewMemoryBackend()
	s := store.New(backend)

	keys := append([]string{sessions.KeyIsPaidUser, "theme"}, sessions.SensitiveKeys...)
	for _, k := range keys {
		require.NoError(t, s.Set(k, "value-for-"+k))
	}
	for _, k := range keys {
		v, ok := s.Get(k)
		require.True(t, ok, k)
		require.Equal(t, "value-for-"+k, v)
	}

	raw, ok, err := backend.Get(sessions.KeyAuthToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotContains(t, raw, "value-for-")

	raw, _, _ = backend.Get("theme")
	require.Equal(t, "value-for-theme", raw)
}

func TestMissingKey(t *testing.T) {
	s := store.NewMemory()
	_, ok := s.Get("nothing")
	require.False(t, ok)
	require.False(t, s.Has("nothing"))
	require.NoError(t, s.Remove("nothing"))
}

func TestRoundTripSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.db")

	b1, err := store.OpenSQLite(path)
	require.NoError(t, err)
	s1 := store.New(b1)
	require.NoError(t, s1.Set(sessions.KeyAuthToken, "a1"))
	require.NoError(t, s1.SetBool(sessions.KeyIsPaidUser, true))
	require.NoError(t, s1.SetJSON(sessions.KeyUserData, users.User{ID: "u1", Email: "u1@example.com"}))
	require.NoError(t, b1.Close())

	b2, err := store.OpenSQLite(path)
	require.NoError(t, err)
	defer b2.Close()
	s2 := store.New(b2)

	v, ok := s2.Get(sessions.KeyAuthToken)
	require.True(t, ok)
	require.Equal(t, "a1", v)

	paid, ok := s2.GetBool(sessions.KeyIsPaidUser)
	require.True(t, ok)
	require.True(t, paid)

	var u users.User
	require.True(t, s2.GetJSON(sessions.KeyUserData, &u))
	require.Equal(t, users.ID("u1"), u.ID)
	require.Equal(t, []string{sessions.KeyAuthToken, sessions.KeyIsPaidUser, sessions.KeyUserData}, s2.Keys())
}

func TestOpenDurableFallsBackToMemory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	backend, durable := store.OpenDurable(filepath.Join(blocker, "sub", "session.db"), zerolog.Nop())
	require.False(t, durable)
	require.IsType(t, &store.MemoryBackend{}, backend)

	s := store.New(backend)
	require.NoError(t, s.Set(sessions.KeyAuthToken, "a1"))
	v, ok := s.Get(sessions.KeyAuthToken)
	require.True(t, ok)
	require.Equal(t, "a1", v)
}

func TestOpenDurable(t *testing.T) {
	backend, durable := store.OpenDurable(filepath.Join(t.TempDir(), "session.db"), zerolog.Nop())
	require.True(t, durable)
	require.IsType(t, &store.SQLiteBackend{}, backend)
	require.NoError(t, backend.(*store.SQLiteBackend).Close())
}

func TestTTLExpiry(t *testing.T) {
	c := newClock()
	backend := store.NewMemoryBackend()
	s := store.New(backend, store.WithNowFunc(c.Now))

	require.NoError(t, s.SetWithTTL("marketSnapshot", map[string]float64{"AAPL": 189.5}, time.Minute))

	var got map[string]float64
	c.Advance(59 * time.Second)
	require.True(t, s.GetWithTTL("marketSnapshot", &got))
	require.Equal(t, 189.5, got["AAPL"])

	c.Advance(2 * time.Second)
	require.False(t, s.GetWithTTL("marketSnapshot", &got))

	_, present, err := backend.Get("marketSnapshot")
	require.NoError(t, err)
	require.False(t, present, "expired entry is removed on read")
}

func TestTTLOnSensitiveKey(t *testing.T) {
	c := newClock()
	s := store.New(store.NewMemoryBackend(), store.WithNowFunc(c.Now))

	require.NoError(t, s.SetWithTTL(sessions.KeyUserPermissions, []string{"budget"}, 5*time.Minute))
	var perms []string
	require.True(t, s.GetWithTTL(sessions.KeyUserPermissions, &perms))
	require.Equal(t, []string{"budget"}, perms)
}

func TestCorruptEntriesAreRemoved(t *testing.T) {
	backend := store.NewMemoryBackend()
	s := store.New(backend)

	t.Run("undecodable obfuscation", func(t *testing.T) {
		require.NoError(t, backend.Set(sessions.KeyRefreshToken, "not-obfuscated"))
		_, ok := s.Get(sessions.KeyRefreshToken)
		require.False(t, ok)
		_, present, _ := backend.Get(sessions.KeyRefreshToken)
		require.False(t, present)
	})

	t.Run("bad json", func(t *testing.T) {
		require.NoError(t, s.Set(sessions.KeyUserData, "{not json"))
		var u users.User
		require.False(t, s.GetJSON(sessions.KeyUserData, &u))
		require.False(t, s.Has(sessions.KeyUserData))
	})

	t.Run("bad bool", func(t *testing.T) {
		require.NoError(t, backend.Set(sessions.KeyIsPaidUser, "sometimes"))
		_, ok := s.GetBool(sessions.KeyIsPaidUser)
		require.False(t, ok)
		_, present, _ := backend.Get(sessions.KeyIsPaidUser)
		require.False(t, present)
	})

	t.Run("bad ttl envelope", func(t *testing.T) {
		require.NoError(t, backend.Set("prefs", `{"value":`))
		var v any
		require.False(t, s.GetWithTTL("prefs", &v))
		_, present, _ := backend.Get("prefs")
		require.False(t, present)
	})
}

func TestSetPropagatesMarshalErrors(t *testing.T) {
	s := store.NewMemory()
	err := s.SetJSON("bad", make(chan int))
	require.Error(t, err)
	require.False(t, s.Has("bad"))
}

func TestPremiumKeyPublishesOnChangeOnly(t *testing.T) {
	bus := events.NewBus()
	s := store.NewMemory(store.WithEventBus(bus))
	require.NoError(t, s.SetJSON(sessions.KeyUserData, users.User{ID: "u7"}))

	var got []events.PremiumStatusChangedPayload
	bus.Subscribe(events.PremiumStatusChanged, events.Handle(func(p events.PremiumStatusChangedPayload, _ events.Event) {
		got = append(got, p)
	}))

	require.NoError(t, s.SetBool(sessions.KeyIsPaidUser, false)) // absent reads as false: no change
	require.NoError(t, s.SetBool(sessions.KeyIsPaidUser, true))
	require.NoError(t, s.SetBool(sessions.KeyIsPaidUser, true))
	require.NoError(t, s.Remove(sessions.KeyIsPaidUser))
	require.NoError(t, s.Set("unrelated", "x"))

	require.Equal(t, []events.PremiumStatusChangedPayload{
		{UserID: "u7", Previous: false, Current: true},
		{UserID: "u7", Previous: true, Current: false},
	}, got)
}

func TestBatchIsVisibleBeforePremiumEvent(t *testing.T) {
	bus := events.NewBus()
	s := store.NewMemory(store.WithEventBus(bus))

	var tokenSeen string
	bus.Subscribe(events.PremiumStatusChanged, func(events.Event) {
		tokenSeen, _ = s.Get(sessions.KeyAuthToken)
	})

	err := s.Batch().
		SetBool(sessions.KeyIsPaidUser, true).
		Set(sessions.KeyAuthToken, "a2").
		SetJSON(sessions.KeyUserData, users.User{ID: "u1"}).
		Commit()
	require.NoError(t, err)
	require.Equal(t, "a2", tokenSeen)
}

func TestBatchLastOperationWins(t *testing.T) {
	s := store.NewMemory()
	require.NoError(t, s.Set("k", "old"))

	require.NoError(t, s.Batch().Set("k", "new").Remove("k").Commit())
	require.False(t, s.Has("k"))

	require.NoError(t, s.Batch().Remove("k").Set("k", "again").Commit())
	v, _ := s.Get("k")
	require.Equal(t, "again", v)
}

func TestBatchErrorAppliesNothing(t *testing.T) {
	s := store.NewMemory()
	err := s.Batch().Set(sessions.KeyAuthToken, "a1").SetJSON("bad", func() {}).Commit()
	require.Error(t, err)
	require.False(t, s.Has(sessions.KeyAuthToken))
}

func TestClear(t *testing.T) {
	s := store.NewMemory()
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set(sessions.KeySessionID, "s1"))
	require.NoError(t, s.Clear())
	require.Empty(t, s.Keys())
}

func TestSQLiteBatchIsAtomic(t *testing.T) {
	b, err := store.OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Set("old", "1"))
	require.NoError(t, b.Apply(map[string]string{"a": "1", "b": "2"}, []string{"old"}))

	keys, err := b.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, keys)
	require.True(t, strings.HasSuffix(b.Path(), "kv.db"))
}
