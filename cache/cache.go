// Package cache holds short-lived values scoped to the user that wrote them.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/rs/zerolog"
)

// Well-known keys used by the session manager.
const (
	KeyPremiumStatus = "premium_status"
	KeyUserProfile   = "user_profile"
)

const defaultSweepInterval = 5 * time.Minute

// Class is a kind of cached data with its own default lifetime.
type Class int

const (
	ProfileData Class = iota
	VolatileData
	PreferenceData
)

func defaultClassTTLs() map[Class]time.Duration {
	return map[Class]time.Duration{
		ProfileData:    5 * time.Minute,
		VolatileData:   2 * time.Minute,
		PreferenceData: 24 * time.Hour,
	}
}

type entry struct {
	value     any
	writtenAt time.Time
	ttl       time.Duration
	ownerID   string
}

func (e entry) expired(now time.Time) bool {
	return !now.Before(e.writtenAt.Add(e.ttl))
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// Manager is an in-memory TTL cache. Every entry belongs to an owner and is
// only visible to reads made for that same owner.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]entry
	hits    uint64
	misses  uint64

	sweepInterval time.Duration
	classTTLs     map[Class]time.Duration
	nowFunc       func() time.Time
	log           zerolog.Logger
	metrics       *metrics.Metrics

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type Option func(*Manager)

func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithClassTTL overrides the default lifetime of a data class.
func WithClassTTL(class Class, ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.classTTLs[class] = ttl
		}
	}
}

func New(options ...Option) *Manager {
	m := &Manager{
		entries:       make(map[string]entry),
		sweepInterval: defaultSweepInterval,
		classTTLs:     defaultClassTTLs(),
		nowFunc:       time.Now,
		log:           zerolog.Nop(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

func scopedKey(key, owner string) string {
	return owner + "\x00" + key
}

// Set stores value for owner until ttl elapses. A non-positive ttl stores
// nothing and removes any previous value.
func (m *Manager) Set(key string, value any, ttl time.Duration, owner string) {
	k := scopedKey(key, owner)
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl <= 0 {
		delete(m.entries, k)
		return
	}
	m.entries[k] = entry{
		value:     value,
		writtenAt: m.nowFunc(),
		ttl:       ttl,
		ownerID:   owner,
	}
}

// ClassTTL returns the default lifetime for class. Unknown classes get the
// profile lifetime.
func (m *Manager) ClassTTL(class Class) time.Duration {
	if ttl, ok := m.classTTLs[class]; ok {
		return ttl
	}
	return m.classTTLs[ProfileData]
}

// SetFor stores value for owner with the default lifetime of class.
func (m *Manager) SetFor(key string, value any, class Class, owner string) {
	m.Set(key, value, m.ClassTTL(class), owner)
}

// Get returns the live value stored for owner. Expired entries are evicted.
func (m *Manager) Get(key, owner string) (any, bool) {
	k := scopedKey(key, owner)
	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[k]
	switch {
	case !ok || e.ownerID != owner:
		m.misses++
		m.metrics.CacheLookup("miss")
		return nil, false
	case e.expired(now):
		delete(m.entries, k)
		m.misses++
		m.metrics.CacheLookup("expired")
		return nil, false
	}
	m.hits++
	m.metrics.CacheLookup("hit")
	return e.value, true
}

// Get is the typed form of Manager.Get. A value of another type reads as a
// miss.
func Get[T any](m *Manager, key, owner string) (T, bool) {
	var zero T
	v, ok := m.Get(key, owner)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

func (m *Manager) Has(key, owner string) bool {
	_, ok := m.Get(key, owner)
	return ok
}

func (m *Manager) Delete(key, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, scopedKey(key, owner))
}

// ClearOwner drops every entry written for owner and returns how many were
// removed.
func (m *Manager) ClearOwner(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if e.ownerID == owner {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// CleanupExpired evicts every expired entry and returns how many were
// removed.
func (m *Manager) CleanupExpired() int {
	now := m.nowFunc()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Hits: m.hits, Misses: m.misses, Entries: len(m.entries)}
}

// Start runs the periodic sweep until ctx is cancelled or Close is called.
// Calls after the first are ignored.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				if n := m.CleanupExpired(); n > 0 {
					m.log.Debug().Int("evicted", n).Msg("[Cache] sweep")
				}
			}
		}
	}()
}

// Close stops a sweep started with Start and waits for it to exit. It is
// safe to call without Start and more than once.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
}
