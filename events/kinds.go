package events

import (
	"github.com/jrsteele09/go-auth-session/users"
)

// Kind identifies an event. The set is closed: every kind has exactly one
// payload type below.
type Kind int

const (
	PremiumStatusChanged Kind = iota + 1
	UserDataUpdated
	AuthTokenRefreshed
	LoginSuccess
	Logout
	RevalidationFailed
)

var kindNames = map[Kind]string{
	PremiumStatusChanged: "PREMIUM_STATUS_CHANGED",
	UserDataUpdated:      "USER_DATA_UPDATED",
	AuthTokenRefreshed:   "AUTH_TOKEN_REFRESHED",
	LoginSuccess:         "LOGIN_SUCCESS",
	Logout:               "LOGOUT",
	RevalidationFailed:   "REVALIDATION_FAILED",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	return []Kind{PremiumStatusChanged, UserDataUpdated, AuthTokenRefreshed, LoginSuccess, Logout, RevalidationFailed}
}

// Payload is implemented only by the payload types of this package, which
// ties each payload to its kind at compile time.
type Payload interface {
	Kind() Kind
	sealed()
}

type PremiumStatusChangedPayload struct {
	UserID   users.ID
	Previous bool
	Current  bool
}

type UserDataUpdatedPayload struct {
	User *users.User
}

type AuthTokenRefreshedPayload struct {
	UserID         users.ID
	Premium        bool
	PremiumFlipped bool // Subscription tier changed during this renewal
}

type LoginSuccessPayload struct {
	UserID  users.ID
	Premium bool
}

// LogoutReason says why a session ended.
type LogoutReason string

const (
	LogoutRequested      LogoutReason = "requested"
	LogoutRefreshFailed  LogoutReason = "refresh_failed"
	// The stored session could not be restored.
	LogoutInvalidSession LogoutReason = "invalid_session"
)

type LogoutPayload struct {
	UserID users.ID
	Reason LogoutReason
}

type RevalidationFailedPayload struct {
	Err error
}

func (PremiumStatusChangedPayload) Kind() Kind { return PremiumStatusChanged }
func (UserDataUpdatedPayload) Kind() Kind      { return UserDataUpdated }
func (AuthTokenRefreshedPayload) Kind() Kind   { return AuthTokenRefreshed }
func (LoginSuccessPayload) Kind() Kind         { return LoginSuccess }
func (LogoutPayload) Kind() Kind               { return Logout }
func (RevalidationFailedPayload) Kind() Kind   { return RevalidationFailed }

func (PremiumStatusChangedPayload) sealed() {}
func (UserDataUpdatedPayload) sealed()      {}
func (AuthTokenRefreshedPayload) sealed()   {}
func (LoginSuccessPayload) sealed()         {}
func (LogoutPayload) sealed()               {}
func (RevalidationFailedPayload) sealed()   {}
