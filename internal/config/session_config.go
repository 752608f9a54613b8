package config

import "time"

type SessionConfig interface {
	GetTokenSafetyMargin() time.Duration
	GetProfileCrossCheck() bool
	GetStoreSecret() string
}

type Session struct{}

var _ SessionConfig = Session{}

// GetTokenSafetyMargin is how long before "exp" a token stops being treated
// as usable, so requests in transit don't race server-side expiry.
func (Session) GetTokenSafetyMargin() time.Duration {
	return GetDurationEnv("SESSION_TOKEN_SAFETY_MARGIN", 60*time.Second)
}

func (Session) GetProfileCrossCheck() bool {
	return GetBoolEnv("SESSION_PROFILE_CROSSCHECK", true)
}

// GetStoreSecret returns the user-scoped secret used to encrypt sensitive
// keys at rest. Empty means cosmetic obfuscation only.
func (Session) GetStoreSecret() string {
	return GetEnv("SESSION_STORE_SECRET", "")
}
