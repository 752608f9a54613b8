// Package auth is the session manager: the one component the application
// talks to for login, logout, startup restore, revalidation and premium
// status.
package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/backend"
	"github.com/jrsteele09/go-auth-session/cache"
	"github.com/jrsteele09/go-auth-session/events"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/rs/zerolog"
)

// ReloadFunc is called once after a renewal changed the subscription tier,
// after the change events have been published. It is the hook for
// applications that rebuild premium-gated state wholesale instead of
// reacting to PremiumStatusChanged.
type ReloadFunc func(ctx context.Context, userID users.ID, premium bool)

// Components holds the collaborators of a SessionManager. Backend and Store
// are required; the rest default to fresh in-memory instances.
type Components struct {
	Store     *store.Store   // Durable session keys
	Ephemeral *store.Store   // Session-scoped scratch storage, wiped on logout
	Cache     *cache.Manager // Per-user TTL cache
	Bus       *events.Bus    // Event fan-out
	Backend   backend.API    // Network boundary
}

// SessionManager owns the Session and every transition of it.
type SessionManager struct {
	comps       Components
	validator   *token.Validator
	coordinator *refresh.Coordinator

	profileTTL     time.Duration
	requestTimeout time.Duration
	crossCheck     bool
	reload         ReloadFunc
	baseTransport  http.RoundTripper
	nowFunc        func() time.Time
	log            zerolog.Logger
	metrics        *metrics.Metrics

	mu      sync.RWMutex
	state   State
	session sessions.Session
	user    *users.User
}

type Option func(*SessionManager)

func WithLogger(log zerolog.Logger) Option {
	return func(m *SessionManager) {
		m.log = log
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *SessionManager) {
		m.metrics = mt
	}
}

// WithNowFunc sets the clock used for token validity and timestamps.
func WithNowFunc(now func() time.Time) Option {
	return func(m *SessionManager) {
		m.nowFunc = now
	}
}

// WithReloadOnPremiumFlip installs the forced-reload fallback. Without it a
// premium flip during renewal propagates through events only.
func WithReloadOnPremiumFlip(fn ReloadFunc) Option {
	return func(m *SessionManager) {
		m.reload = fn
	}
}

// WithProfileCrossCheck overrides the configured Revalidate behaviour.
func WithProfileCrossCheck(enabled bool) Option {
	return func(m *SessionManager) {
		m.crossCheck = enabled
	}
}

// WithBaseTransport sets the transport HTTPClient builds on. By default it
// is the backend client's API key transport.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(m *SessionManager) {
		m.baseTransport = rt
	}
}

// NewSessionManager wires a manager from its components. The manager starts
// Unauthenticated; call Bootstrap to restore a persisted session.
func NewSessionManager(comps Components, cfg config.Config, options ...Option) (*SessionManager, error) {
	if comps.Backend == nil {
		return nil, errors.New("[NewSessionManager] Backend is required")
	}
	if comps.Store == nil {
		return nil, errors.New("[NewSessionManager] Store is required")
	}
	if cfg == nil {
		cfg = config.New()
	}

	m := &SessionManager{
		profileTTL:     cfg.GetProfileTTL(),
		requestTimeout: cfg.GetRequestTimeout(),
		crossCheck:     cfg.GetProfileCrossCheck(),
		nowFunc:        time.Now,
		log:            zerolog.Nop(),
		state:          Unauthenticated,
	}
	for _, opt := range options {
		opt(m)
	}

	if comps.Ephemeral == nil {
		comps.Ephemeral = store.NewMemory(store.WithLogger(m.log))
	}
	if comps.Cache == nil {
		comps.Cache = cache.New(
			cache.WithNowFunc(m.nowFunc),
			cache.WithLogger(m.log),
			cache.WithMetrics(m.metrics),
			cache.WithSweepInterval(cfg.GetSweepInterval()),
			cache.WithClassTTL(cache.ProfileData, cfg.GetProfileTTL()),
			cache.WithClassTTL(cache.VolatileData, cfg.GetVolatileTTL()),
			cache.WithClassTTL(cache.PreferenceData, cfg.GetPreferencesTTL()),
		)
	}
	if comps.Bus == nil {
		comps.Bus = events.NewBus(events.WithLogger(m.log), events.WithMetrics(m.metrics), events.WithNowFunc(m.nowFunc))
	}
	m.comps = comps

	if m.baseTransport == nil {
		if t, ok := comps.Backend.(interface{ Transport() http.RoundTripper }); ok {
			m.baseTransport = t.Transport()
		} else {
			m.baseTransport = http.DefaultTransport
		}
	}

	m.validator = token.NewValidator(
		token.WithSafetyMargin(cfg.GetTokenSafetyMargin()),
		token.WithNowFunc(m.nowFunc),
	)
	m.coordinator = refresh.NewCoordinator(comps.Backend, comps.Store,
		refresh.WithValidator(m.validator),
		refresh.WithTimeout(m.requestTimeout),
		refresh.WithNowFunc(m.nowFunc),
		refresh.WithOnStart(m.onRefreshStart),
		refresh.WithOnSuccess(m.onRefreshSuccess),
		refresh.WithOnFailure(m.onRefreshFailure),
		refresh.WithLogger(m.log),
		refresh.WithMetrics(m.metrics),
	)
	return m, nil
}

func (m *SessionManager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Session returns a copy of the current session. It is zero when
// Unauthenticated.
func (m *SessionManager) Session() sessions.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// User returns a copy of the last known user record, or nil.
func (m *SessionManager) User() *users.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user.Clone()
}

func (m *SessionManager) IsAuthenticated() bool {
	return m.State() == Authenticated
}

func (m *SessionManager) Bus() *events.Bus {
	return m.comps.Bus
}

func (m *SessionManager) Cache() *cache.Manager {
	return m.comps.Cache
}

// Ephemeral is storage that lives until the next logout.
func (m *SessionManager) Ephemeral() *store.Store {
	return m.comps.Ephemeral
}

func (m *SessionManager) Validator() *token.Validator {
	return m.validator
}

func (m *SessionManager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// adopt makes sess the current session.
func (m *SessionManager) adopt(sess sessions.Session, u *users.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = sess
	if u != nil {
		m.user = u.Clone()
	}
	m.state = Authenticated
}

func (m *SessionManager) currentUserID() users.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session.UserID != "" {
		return m.session.UserID
	}
	if m.user != nil {
		return m.user.ID
	}
	return ""
}

func (m *SessionManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.requestTimeout)
}
