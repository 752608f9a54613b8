package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/backend"
	"github.com/jrsteele09/go-auth-session/cache"
	"github.com/jrsteele09/go-auth-session/events"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/jrsteele09/go-auth-session/users"
)

// Login exchanges credentials for a session. Rejected credentials return an
// error wrapping ErrInvalidCredentials and leave the previous state in
// place.
func (m *SessionManager) Login(ctx context.Context, creds backend.Credentials) error {
	m.mu.Lock()
	previous := m.state
	previousUser := m.session.UserID
	m.state = Authenticating
	m.mu.Unlock()

	resp, err := m.comps.Backend.Login(ctx, creds)
	if err == nil && (resp == nil || resp.Access == "") {
		err = fmt.Errorf("response carries no access token: %w", autherrors.ErrTokenMalformed)
	}
	if err != nil {
		m.setState(previous)
		m.log.Info().Err(err).Msg("[SessionManager Login] login failed")
		return fmt.Errorf("[SessionManager Login] %w", err)
	}

	user := resp.User.Clone()
	claims, claimsErr := m.validator.DecodeClaims(resp.Access)
	if user == nil {
		user = &users.User{ID: users.ID(claims.SubjectID)}
	}
	if len(resp.Permissions) > 0 {
		user.Permissions = append([]string(nil), resp.Permissions...)
	}
	if len(user.Permissions) == 0 && claimsErr == nil {
		user.Permissions = claims.Permissions()
	}
	uid := user.ID
	if uid == "" && claimsErr == nil {
		uid = users.ID(claims.SubjectID)
		user.ID = uid
	}

	if previousUser != "" && previousUser != uid {
		m.comps.Cache.ClearOwner(previousUser.String())
	}

	var stored users.User
	sameUser := m.comps.Store.GetJSON(sessions.KeyUserData, &stored) && stored.ID == uid
	premium, from := m.resolvePremium(uid, user, sameUser)
	user.SetPremium(premium)

	batch := m.comps.Store.Batch().
		Set(sessions.KeyAuthToken, resp.Access).
		Set(sessions.KeyRefreshToken, resp.Refresh).
		SetJSON(sessions.KeyUserData, user).
		SetJSON(sessions.KeyUserPermissions, user.Permissions).
		Set(sessions.KeySessionID, uuid.NewString()).
		SetBool(sessions.KeyIsPaidUser, premium)
	if !m.comps.Store.Has(sessions.KeyDeviceFingerprint) {
		batch.Set(sessions.KeyDeviceFingerprint, uuid.NewString())
	}
	if m.coordinator.Outstanding() {
		m.log.Warn().Msg("[SessionManager Login] token keys written while a renewal is outstanding")
	}
	if err := batch.Commit(); err != nil {
		m.setState(previous)
		return fmt.Errorf("[SessionManager Login] persist session: %w", err)
	}

	issuedAt := m.nowFunc()
	if claimsErr == nil {
		issuedAt = claims.IssuedAt
	}
	m.cacheUser(uid, user)
	m.adopt(sessions.Session{
		AccessToken:  resp.Access,
		RefreshToken: resp.Refresh,
		UserID:       uid,
		IssuedAt:     issuedAt,
		Premium:      premium,
	}, user)

	m.log.Info().Str("user_id", uid.String()).Bool("premium", premium).Str("premium_source", from).Msg("[SessionManager Login] authenticated")
	m.comps.Bus.Publish(events.LoginSuccessPayload{UserID: uid, Premium: premium})
	m.comps.Bus.Publish(events.UserDataUpdatedPayload{User: user.Clone()})
	return nil
}

// Logout ends the session. The backend is told on a best-effort basis;
// local state is cleared regardless.
func (m *SessionManager) Logout(ctx context.Context) error {
	sess := m.Session()
	if sess.AccessToken == "" {
		sess.AccessToken, _ = m.comps.Store.Get(sessions.KeyAuthToken)
	}
	if sess.RefreshToken == "" {
		sess.RefreshToken, _ = m.comps.Store.Get(sessions.KeyRefreshToken)
	}
	if sess.AccessToken != "" || sess.RefreshToken != "" {
		callCtx, cancel := m.withTimeout(ctx)
		if err := m.comps.Backend.Logout(callCtx, sess.AccessToken, sess.RefreshToken); err != nil {
			m.log.Info().Err(err).Msg("[SessionManager Logout] backend notification failed")
		}
		cancel()
	}
	if m.coordinator.Outstanding() {
		m.log.Warn().Msg("[SessionManager Logout] clearing session while a renewal is outstanding")
	}
	return m.clearSession(events.LogoutRequested)
}

// clearSession wipes every per-session key, the user's cache scope and the
// ephemeral store, then publishes Logout.
func (m *SessionManager) clearSession(reason events.LogoutReason) error {
	m.mu.Lock()
	uid := m.session.UserID
	if uid == "" && m.user != nil {
		uid = m.user.ID
	}
	m.session = sessions.Session{}
	m.user = nil
	m.state = Unauthenticated
	m.mu.Unlock()

	if uid == "" {
		var stored users.User
		if m.comps.Store.GetJSON(sessions.KeyUserData, &stored) {
			uid = stored.ID
		}
	}

	var errs []error
	batch := m.comps.Store.Batch()
	for _, k := range sessions.LogoutKeys {
		batch.Remove(k)
	}
	if err := batch.Commit(); err != nil {
		errs = append(errs, fmt.Errorf("clear store: %w", err))
	}
	m.comps.Cache.ClearOwner(uid.String())
	if err := m.comps.Ephemeral.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("clear ephemeral: %w", err))
	}

	m.log.Info().Str("user_id", uid.String()).Str("reason", string(reason)).Msg("[SessionManager] session cleared")
	m.comps.Bus.Publish(events.LogoutPayload{UserID: uid, Reason: reason})

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("[SessionManager clearSession] %w", err)
	}
	return nil
}

// Bootstrap restores the persisted session at process start. A valid token
// is adopted directly, an unusable one is renewed when a refresh token is
// stored, and anything else ends Unauthenticated. An empty store is not an
// error.
func (m *SessionManager) Bootstrap(ctx context.Context) error {
	access, _ := m.comps.Store.Get(sessions.KeyAuthToken)
	refreshToken, _ := m.comps.Store.Get(sessions.KeyRefreshToken)
	if access == "" && refreshToken == "" {
		m.setState(Unauthenticated)
		return nil
	}

	_, err := m.validator.Check(access)
	switch {
	case err == nil:
		if err := m.restore(ctx, access, refreshToken, true); err != nil {
			return m.failRevalidation("Bootstrap", err)
		}
		return nil
	case refreshToken == "":
		_ = m.clearSession(events.LogoutInvalidSession)
		return m.failRevalidation("Bootstrap", err)
	}

	if _, err := m.Refresh(ctx); err != nil {
		return m.failRevalidation("Bootstrap", err)
	}
	if m.User() == nil {
		if err := m.fetchProfile(ctx); err != nil {
			m.endSession(events.LogoutInvalidSession)
			return m.failRevalidation("Bootstrap", err)
		}
	}
	return nil
}

// Revalidate re-derives the session from the store, for use after the
// application regains control (for example after an external redirect).
// When the token is locally valid and the profile cross-check is enabled,
// the profile is fetched; a failed fetch never downgrades the session
// unless the backend rejects the credentials outright.
func (m *SessionManager) Revalidate(ctx context.Context) error {
	access, _ := m.comps.Store.Get(sessions.KeyAuthToken)
	refreshToken, _ := m.comps.Store.Get(sessions.KeyRefreshToken)

	if _, err := m.validator.Check(access); err == nil {
		hadUser := m.comps.Store.Has(sessions.KeyUserData)
		if err := m.restore(ctx, access, refreshToken, false); err != nil {
			return m.failRevalidation("Revalidate", err)
		}
		if !m.crossCheck || !hadUser {
			return nil
		}
		if err := m.fetchProfile(ctx); err != nil {
			if m.State() == Unauthenticated {
				return m.failRevalidation("Revalidate", err)
			}
			m.log.Info().Err(err).Msg("[SessionManager Revalidate] profile cross-check failed; keeping session")
		}
		return nil
	}

	if refreshToken != "" {
		if _, err := m.Refresh(ctx); err != nil {
			return m.failRevalidation("Revalidate", err)
		}
		return nil
	}

	if m.State() != Unauthenticated || access != "" {
		_ = m.clearSession(events.LogoutInvalidSession)
	}
	return m.failRevalidation("Revalidate", autherrors.ErrNotAuthenticated)
}

// restore adopts a locally valid token and the stored user record. A
// missing record is fetched from the backend; strict makes a failed fetch
// end the session.
func (m *SessionManager) restore(ctx context.Context, access, refreshToken string, strict bool) error {
	claims, err := m.validator.DecodeClaims(access)
	if err != nil {
		return err
	}

	var stored users.User
	hasUser := m.comps.Store.GetJSON(sessions.KeyUserData, &stored)
	uid := users.ID(claims.SubjectID)
	if hasUser && stored.ID != "" {
		uid = stored.ID
	}

	sess := sessions.Session{
		AccessToken:  access,
		RefreshToken: refreshToken,
		UserID:       uid,
		IssuedAt:     claims.IssuedAt,
	}
	if hasUser {
		m.adopt(sess, &stored)
	} else {
		m.adopt(sess, nil)
		if err := m.fetchProfile(ctx); err != nil {
			if strict || m.State() == Unauthenticated {
				m.endSession(events.LogoutInvalidSession)
				return err
			}
			m.log.Info().Err(err).Msg("[SessionManager] user record missing and profile unavailable")
		}
	}

	premium := m.PremiumStatus()
	m.mu.Lock()
	m.session.Premium = premium
	m.mu.Unlock()
	return nil
}

// endSession clears the session unless a failed renewal already did.
func (m *SessionManager) endSession(reason events.LogoutReason) {
	if m.State() == Unauthenticated {
		return
	}
	if err := m.clearSession(reason); err != nil {
		m.log.Error().Err(err).Msg("[SessionManager] failed to clear session")
	}
}

func (m *SessionManager) failRevalidation(op string, cause error) error {
	m.comps.Bus.Publish(events.RevalidationFailedPayload{Err: cause})
	return fmt.Errorf("[SessionManager %s] %w", op, cause)
}

// Refresh renews the access token, joining any renewal already in flight.
// A failed renewal is terminal: the session is cleared and Logout is
// published before Refresh returns. Event handlers and the ReloadFunc run
// inside the renewal and must not call Refresh synchronously.
func (m *SessionManager) Refresh(ctx context.Context) (sessions.Session, error) {
	res, err := m.coordinator.Refresh(ctx, "")
	if err != nil {
		return sessions.Session{}, fmt.Errorf("[SessionManager Refresh] %w", err)
	}
	return res.Session, nil
}

// onRefreshStart enters Refreshing and picks the refresh token for the
// flight. The store wins over memory since a previous flight may have
// rotated it.
func (m *SessionManager) onRefreshStart(context.Context) string {
	m.mu.Lock()
	m.state = Refreshing
	refreshToken := m.session.RefreshToken
	m.mu.Unlock()
	if stored, ok := m.comps.Store.Get(sessions.KeyRefreshToken); ok && stored != "" {
		refreshToken = stored
	}
	return refreshToken
}

func (m *SessionManager) onRefreshSuccess(ctx context.Context, res refresh.Result) {
	sess := res.Session
	m.adopt(sess, res.User)

	if res.User != nil {
		m.cacheUser(sess.UserID, res.User)
	} else {
		m.comps.Cache.Set(cache.KeyPremiumStatus, sess.Premium, m.profileTTL, sess.UserID.String())
	}

	m.comps.Bus.Publish(events.AuthTokenRefreshedPayload{
		UserID:         sess.UserID,
		Premium:        sess.Premium,
		PremiumFlipped: res.PremiumFlipped,
	})
	if res.User != nil {
		m.comps.Bus.Publish(events.UserDataUpdatedPayload{User: res.User.Clone()})
	}
	if res.PremiumFlipped && m.reload != nil {
		m.log.Info().Str("user_id", sess.UserID.String()).Bool("premium", sess.Premium).Msg("[SessionManager] premium changed during renewal; reloading")
		m.reload(ctx, sess.UserID, sess.Premium)
	}
}

func (m *SessionManager) onRefreshFailure(_ context.Context, err error) {
	m.log.Warn().Err(err).Msg("[SessionManager] renewal failed; ending session")
	if clearErr := m.clearSession(events.LogoutRefreshFailed); clearErr != nil {
		m.log.Error().Err(clearErr).Msg("[SessionManager] failed to clear session after renewal failure")
	}
}

// cacheUser seeds the profile and premium entries for uid.
func (m *SessionManager) cacheUser(uid users.ID, u *users.User) {
	owner := uid.String()
	m.comps.Cache.Set(cache.KeyUserProfile, u.Clone(), m.profileTTL, owner)
	if premium, ok := u.PremiumFlag(); ok {
		m.comps.Cache.Set(cache.KeyPremiumStatus, premium, m.profileTTL, owner)
	}
}
