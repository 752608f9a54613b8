package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrsteele09/go-auth-session/cache"
	"github.com/jrsteele09/go-auth-session/events"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/users"
)

// PremiumStatus resolves the canonical subscription flag for the current
// user. Sources are consulted in order: the user's cache scope, the last
// known profile, the stored flag, the flag inside the stored user record.
// The result is written back to every place that disagrees.
func (m *SessionManager) PremiumStatus() bool {
	uid := m.currentUserID()
	premium, from := m.resolvePremium(uid, m.User(), true)
	if uid == "" {
		return premium
	}
	m.syncPremium(uid, premium, from)
	return premium
}

// resolvePremium runs the precedence chain. includeStored=false skips the
// persisted sources, for when they belong to a different user.
func (m *SessionManager) resolvePremium(uid users.ID, profile *users.User, includeStored bool) (bool, string) {
	owner := uid.String()
	sources := []PremiumSource{
		{Name: PremiumSourceCache, Lookup: func() (bool, bool) {
			if uid == "" {
				return false, false
			}
			return cache.Get[bool](m.comps.Cache, cache.KeyPremiumStatus, owner)
		}},
		{Name: PremiumSourceProfile, Lookup: func() (bool, bool) {
			if profile == nil && uid != "" {
				if cached, ok := cache.Get[*users.User](m.comps.Cache, cache.KeyUserProfile, owner); ok {
					return cached.PremiumFlag()
				}
			}
			return profile.PremiumFlag()
		}},
	}
	if !includeStored {
		return ResolvePremium(sources...)
	}
	sources = append(sources,
		PremiumSource{Name: PremiumSourceFlag, Lookup: func() (bool, bool) {
			return m.comps.Store.GetBool(sessions.KeyIsPaidUser)
		}},
		PremiumSource{Name: PremiumSourceUserData, Lookup: func() (bool, bool) {
			var stored users.User
			if !m.comps.Store.GetJSON(sessions.KeyUserData, &stored) {
				return false, false
			}
			return stored.PremiumFlag()
		}},
	)
	return ResolvePremium(sources...)
}

// syncPremium writes premium to the cache, the in-memory session and
// profile, the stored flag and the stored user record.
func (m *SessionManager) syncPremium(uid users.ID, premium bool, from string) {
	owner := uid.String()
	m.comps.Cache.Set(cache.KeyPremiumStatus, premium, m.profileTTL, owner)
	if cached, ok := cache.Get[*users.User](m.comps.Cache, cache.KeyUserProfile, owner); ok {
		if flag, _ := cached.PremiumFlag(); flag != premium {
			updated := cached.Clone()
			updated.SetPremium(premium)
			m.comps.Cache.Set(cache.KeyUserProfile, updated, m.profileTTL, owner)
		}
	}

	m.mu.Lock()
	m.session.Premium = premium
	if m.user != nil {
		m.user.SetPremium(premium)
	}
	m.mu.Unlock()

	batch := m.comps.Store.Batch()
	dirty := false
	if flag, ok := m.comps.Store.GetBool(sessions.KeyIsPaidUser); !ok || flag != premium {
		batch.SetBool(sessions.KeyIsPaidUser, premium)
		dirty = true
	}
	var stored users.User
	if m.comps.Store.GetJSON(sessions.KeyUserData, &stored) {
		if flag, ok := stored.PremiumFlag(); !ok || flag != premium || stored.Premium == nil || *stored.Premium != premium {
			stored.SetPremium(premium)
			batch.SetJSON(sessions.KeyUserData, stored)
			dirty = true
		}
	}
	if !dirty {
		return
	}
	if err := batch.Commit(); err != nil {
		m.log.Warn().Err(err).Msg("[SessionManager PremiumStatus] write-back failed")
		return
	}
	m.log.Debug().Str("user_id", uid.String()).Bool("premium", premium).Str("source", from).Msg("[SessionManager PremiumStatus] reconciled")
}

// Profile returns the current user's profile, from the cache when fresh and
// from the backend otherwise.
func (m *SessionManager) Profile(ctx context.Context) (*users.User, error) {
	uid := m.currentUserID()
	if uid != "" {
		if cached, ok := cache.Get[*users.User](m.comps.Cache, cache.KeyUserProfile, uid.String()); ok {
			return cached.Clone(), nil
		}
	}
	if err := m.fetchProfile(ctx); err != nil {
		return nil, fmt.Errorf("[SessionManager Profile] %w", err)
	}
	return m.User(), nil
}

// fetchProfile loads the profile with the current bearer. A 401 triggers
// exactly one renewal and one retry.
func (m *SessionManager) fetchProfile(ctx context.Context) error {
	access := m.Session().AccessToken
	if access == "" {
		return autherrors.ErrNotAuthenticated
	}

	u, err := m.profile(ctx, access)
	if errors.Is(err, autherrors.ErrUnauthorized) {
		sess, refreshErr := m.Refresh(ctx)
		if refreshErr != nil {
			return refreshErr
		}
		u, err = m.profile(ctx, sess.AccessToken)
	}
	if err != nil {
		return err
	}
	return m.applyProfile(u)
}

func (m *SessionManager) profile(ctx context.Context, access string) (*users.User, error) {
	callCtx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.comps.Backend.Profile(callCtx, access)
}

// applyProfile makes a fetched profile the last known record and persists
// it. A flag carried by the profile becomes the cached premium value. A
// profile for a different user than the session's is rejected untouched.
func (m *SessionManager) applyProfile(fetched *users.User) error {
	if fetched == nil {
		return errors.New("[SessionManager applyProfile] backend returned no profile")
	}
	u := fetched.Clone()
	uid := m.currentUserID()
	if uid != "" && u.ID != "" && u.ID != uid {
		m.log.Warn().Str("user_id", uid.String()).Str("profile_id", u.ID.String()).Msg("[SessionManager] profile belongs to another user; ignored")
		return fmt.Errorf("[SessionManager applyProfile] session %s, profile %s: %w", uid, u.ID, autherrors.ErrUserMismatch)
	}
	if u.ID == "" {
		u.ID = uid
	}
	if uid == "" {
		uid = u.ID
	}

	batch := m.comps.Store.Batch()
	if premium, ok := u.PremiumFlag(); ok {
		u.SetPremium(premium)
		batch.SetBool(sessions.KeyIsPaidUser, premium)
		m.mu.Lock()
		m.session.Premium = premium
		m.mu.Unlock()
	}
	batch.SetJSON(sessions.KeyUserData, u)
	if len(u.Permissions) > 0 {
		batch.SetJSON(sessions.KeyUserPermissions, u.Permissions)
	}
	if err := batch.Commit(); err != nil {
		m.log.Warn().Err(err).Msg("[SessionManager] failed to persist profile")
	}

	m.mu.Lock()
	m.user = u.Clone()
	if m.session.UserID == "" {
		m.session.UserID = uid
	}
	m.mu.Unlock()

	m.cacheUser(uid, u)
	m.comps.Bus.Publish(events.UserDataUpdatedPayload{User: u.Clone()})
	return nil
}
