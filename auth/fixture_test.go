package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/backend"
	"github.com/jrsteele09/go-auth-session/backend/backendfake"
	"github.com/jrsteele09/go-auth-session/cache"
	"github.com/jrsteele09/go-auth-session/events"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/testtoken"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "jane@example.com"
	testPassword = "password123"
	testUserID   = users.ID("u1")
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder keeps every published event in order.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) record(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (r *recorder) Of(kind events.Kind) []events.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Payload
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// testFixture holds a manager wired to in-memory components and a fake
// backend.
type testFixture struct {
	clock     *clock
	fake      *backendfake.FakeBackend
	store     *store.Store
	ephemeral *store.Store
	cache     *cache.Manager
	bus       *events.Bus
	recorder  *recorder
	manager   *auth.SessionManager
}

func newFixture(t *testing.T, options ...auth.Option) *testFixture {
	t.Helper()
	f := &testFixture{
		clock:    &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		fake:     backendfake.New(),
		recorder: &recorder{},
	}
	f.bus = events.NewBus(events.WithNowFunc(f.clock.Now))
	f.store = store.NewMemory(store.WithEventBus(f.bus))
	f.ephemeral = store.NewMemory()
	f.cache = cache.New(cache.WithNowFunc(f.clock.Now))
	for _, k := range events.Kinds() {
		f.bus.Subscribe(k, f.recorder.record)
	}

	opts := append([]auth.Option{auth.WithNowFunc(f.clock.Now)}, options...)
	m, err := auth.NewSessionManager(auth.Components{
		Store:     f.store,
		Ephemeral: f.ephemeral,
		Cache:     f.cache,
		Bus:       f.bus,
		Backend:   f.fake,
	}, config.New(), opts...)
	require.NoError(t, err)
	f.manager = m
	return f
}

// token issues an access token for sub valid for d from the fixture clock.
func (f *testFixture) token(t *testing.T, sub string, d time.Duration) string {
	t.Helper()
	now := f.clock.Now()
	return testtoken.Issue(t, sub, now, now.Add(d), nil)
}

// expiredToken issues an access token that expired a minute ago.
func (f *testFixture) expiredToken(t *testing.T, sub string) string {
	t.Helper()
	now := f.clock.Now()
	return testtoken.Issue(t, sub, now.Add(-time.Hour), now.Add(-time.Minute), nil)
}

func (f *testFixture) withAccount(access, refresh string, user *users.User, permissions ...string) {
	f.fake.WithAccount(backendfake.Account{
		Email:    testEmail,
		Password: testPassword,
		Response: backend.LoginResponse{
			Access:      access,
			Refresh:     refresh,
			User:        user,
			Permissions: permissions,
		},
	})
}

func testCredentials() backend.Credentials {
	return backend.Credentials{Email: testEmail, Password: testPassword}
}

func (f *testFixture) login(t *testing.T, access, refresh string, premium bool) {
	t.Helper()
	f.withAccount(access, refresh, &users.User{ID: testUserID, Email: testEmail, IsPaidUser: utils.Ptr(premium)})
	require.NoError(t, f.manager.Login(context.Background(), testCredentials()))
}
