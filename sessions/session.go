package sessions

import (
	"time"

	"github.com/jrsteele09/go-auth-session/users"
)

// Session is the authenticated state of the current user. It is owned by
// the session manager and handed out by value.
type Session struct {
	AccessToken  string    // Short-lived bearer token (JWT)
	RefreshToken string    // Longer-lived renewal credential
	UserID       users.ID  // Subject of the session
	IssuedAt     time.Time // "iat" of the access token, or the time of login
	Premium      bool      // Canonical subscription status
}

// Persisted layout of the durable store.
const (
	KeyAuthToken         = "authToken"
	KeyRefreshToken      = "refreshToken"
	KeyUserData          = "userData"
	KeyUserPermissions   = "userPermissions"
	KeySessionID         = "sessionId"
	KeyDeviceFingerprint = "deviceFingerprint"
	KeyIsPaidUser        = "isPaidUser"
)

// SensitiveKeys are obfuscated (or encrypted) before they touch storage.
var SensitiveKeys = []string{
	KeyAuthToken,
	KeyRefreshToken,
	KeyUserData,
	KeyUserPermissions,
	KeySessionID,
	KeyDeviceFingerprint,
}

// LogoutKeys are removed when a session ends. The device fingerprint
// identifies the device, not the session, and survives logout.
var LogoutKeys = []string{
	KeyAuthToken,
	KeyRefreshToken,
	KeyUserData,
	KeyUserPermissions,
	KeySessionID,
	KeyIsPaidUser,
}

func (s Session) IsZero() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}
