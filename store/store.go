package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/events"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/rs/zerolog"
)

// Store is the persistent key/value store used by the session manager.
// Sensitive keys are obfuscated, corrupt entries read as absent, and writes
// to the premium key are the single place PremiumStatusChanged comes from.
type Store struct {
	backend    Backend
	obfuscator Obfuscator
	sensitive  map[string]struct{}
	premiumKey string
	bus        *events.Bus
	log        zerolog.Logger
	nowFunc    func() time.Time

	// writeMu orders commits so the previous premium value read before a
	// write is the one the write replaces.
	writeMu sync.Mutex
}

type Option func(*Store)

func WithObfuscator(o Obfuscator) Option {
	return func(s *Store) {
		s.obfuscator = o
	}
}

func WithSensitiveKeys(keys ...string) Option {
	return func(s *Store) {
		s.sensitive = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			s.sensitive[k] = struct{}{}
		}
	}
}

// WithEventBus enables PremiumStatusChanged notifications.
func WithEventBus(bus *events.Bus) Option {
	return func(s *Store) {
		s.bus = bus
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func New(backend Backend, options ...Option) *Store {
	s := &Store{
		backend:    backend,
		obfuscator: EncodingObfuscator{},
		premiumKey: sessions.KeyIsPaidUser,
		log:        zerolog.Nop(),
		nowFunc:    time.Now,
	}
	WithSensitiveKeys(sessions.SensitiveKeys...)(s)
	for _, opt := range options {
		opt(s)
	}
	return s
}

// NewMemory returns a store over a fresh in-memory backend.
func NewMemory(options ...Option) *Store {
	return New(NewMemoryBackend(), options...)
}

func (s *Store) isSensitive(key string) bool {
	_, ok := s.sensitive[key]
	return ok
}

func (s *Store) encode(key, value string) (string, error) {
	if !s.isSensitive(key) {
		return value, nil
	}
	encoded, err := s.obfuscator.Encode(value)
	if err != nil {
		return "", fmt.Errorf("[Store encode] %s: %w", key, err)
	}
	return encoded, nil
}

// Set writes value under key. Errors are always returned: a lost token must
// never look like a logout.
func (s *Store) Set(key, value string) error {
	return s.Batch().Set(key, value).Commit()
}

// Get returns the value under key. Missing, unreadable and corrupt entries
// all read as absent; corrupt ones are deleted.
func (s *Store) Get(key string) (string, bool) {
	raw, ok, err := s.backend.Get(key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("[Store Get] backend read failed")
		return "", false
	}
	if !ok {
		return "", false
	}
	if !s.isSensitive(key) {
		return raw, true
	}
	plain, err := s.obfuscator.Decode(raw)
	if err != nil {
		s.discard(key, err)
		return "", false
	}
	return plain, true
}

func (s *Store) discard(key string, cause error) {
	s.log.Warn().Err(cause).Str("key", key).Msg("[Store] removing corrupt entry")
	if err := s.backend.Delete(key); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("[Store] failed to remove corrupt entry")
	}
}

func (s *Store) Remove(key string) error {
	return s.Batch().Remove(key).Commit()
}

func (s *Store) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *Store) SetJSON(key string, v any) error {
	return s.Batch().SetJSON(key, v).Commit()
}

// GetJSON decodes the value under key into out. A value that fails to
// decode is corrupt: it is deleted and reported as absent.
func (s *Store) GetJSON(key string, out any) bool {
	raw, ok := s.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.discard(key, fmt.Errorf("%w: %v", autherrors.ErrCorruptEntry, err))
		return false
	}
	return true
}

func (s *Store) SetBool(key string, v bool) error {
	return s.Batch().SetBool(key, v).Commit()
}

func (s *Store) GetBool(key string) (value bool, ok bool) {
	raw, ok := s.Get(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		s.discard(key, fmt.Errorf("%w: %v", autherrors.ErrCorruptEntry, err))
		return false, false
	}
	return b, true
}

type ttlEnvelope struct {
	Value     json.RawMessage `json:"value"`
	WrittenAt int64           `json:"writtenAt"` // Unix milliseconds
	TTLMillis int64           `json:"ttlMs"`
}

// SetWithTTL stores v so that GetWithTTL stops returning it after ttl.
func (s *Store) SetWithTTL(key string, v any, ttl time.Duration) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("[Store SetWithTTL] marshal %s: %w", key, err)
	}
	return s.SetJSON(key, ttlEnvelope{
		Value:     value,
		WrittenAt: s.nowFunc().UnixMilli(),
		TTLMillis: ttl.Milliseconds(),
	})
}

// GetWithTTL decodes a value written by SetWithTTL into out. Expired entries
// are removed and reported as absent.
func (s *Store) GetWithTTL(key string, out any) bool {
	var env ttlEnvelope
	if !s.GetJSON(key, &env) {
		return false
	}
	expiresAt := time.UnixMilli(env.WrittenAt).Add(time.Duration(env.TTLMillis) * time.Millisecond)
	if !s.nowFunc().Before(expiresAt) {
		if err := s.Remove(key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("[Store GetWithTTL] failed to remove expired entry")
		}
		return false
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		s.discard(key, fmt.Errorf("%w: %v", autherrors.ErrCorruptEntry, err))
		return false
	}
	return true
}

// Keys lists every stored key.
func (s *Store) Keys() []string {
	keys, err := s.backend.Keys()
	if err != nil {
		s.log.Warn().Err(err).Msg("[Store Keys] backend read failed")
		return nil
	}
	return keys
}

// Clear removes every key in one unit.
func (s *Store) Clear() error {
	b := s.Batch()
	for _, k := range s.Keys() {
		b.Remove(k)
	}
	return b.Commit()
}

// Batch starts a unit of writes. Nothing is visible until Commit.
func (s *Store) Batch() *Batch {
	return &Batch{store: s, sets: make(map[string]string)}
}

// Batch collects sets and removals applied atomically by Commit. A later
// operation on the same key replaces an earlier one.
type Batch struct {
	store   *Store
	sets    map[string]string
	removes map[string]struct{}
	err     error
}

func (b *Batch) Set(key, value string) *Batch {
	if b.err != nil {
		return b
	}
	encoded, err := b.store.encode(key, value)
	if err != nil {
		b.err = err
		return b
	}
	delete(b.removes, key)
	b.sets[key] = encoded
	return b
}

func (b *Batch) SetJSON(key string, v any) *Batch {
	if b.err != nil {
		return b
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("[Batch SetJSON] marshal %s: %w", key, err)
		return b
	}
	return b.Set(key, string(data))
}

func (b *Batch) SetBool(key string, v bool) *Batch {
	return b.Set(key, strconv.FormatBool(v))
}

func (b *Batch) Remove(key string) *Batch {
	if b.removes == nil {
		b.removes = make(map[string]struct{})
	}
	delete(b.sets, key)
	b.removes[key] = struct{}{}
	return b
}

// Commit applies the batch. PremiumStatusChanged is published only after
// every write in the batch is in place.
func (b *Batch) Commit() error {
	if b.err != nil {
		return b.err
	}
	s := b.store

	deletes := make([]string, 0, len(b.removes))
	for k := range b.removes {
		deletes = append(deletes, k)
	}

	s.writeMu.Lock()
	previous, _ := s.GetBool(s.premiumKey)
	if err := s.backend.Apply(b.sets, deletes); err != nil {
		s.writeMu.Unlock()
		return fmt.Errorf("[Store Commit] %w", err)
	}
	current, _ := s.GetBool(s.premiumKey)
	_, touched := b.sets[s.premiumKey]
	_, removed := b.removes[s.premiumKey]
	var userID users.ID
	if (touched || removed) && previous != current {
		userID = s.currentUserID()
	}
	s.writeMu.Unlock()

	if (touched || removed) && previous != current && s.bus != nil {
		s.bus.Publish(events.PremiumStatusChangedPayload{
			UserID:   userID,
			Previous: previous,
			Current:  current,
		})
	}
	return nil
}

func (s *Store) currentUserID() users.ID {
	var u users.User
	if !s.GetJSON(sessions.KeyUserData, &u) {
		return ""
	}
	return u.ID
}
