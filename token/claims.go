package token

import (
	"time"

	"github.com/jrsteele09/go-auth-session/internal/utils"
)

// Claims is the inspected content of an access token. It is derived on
// demand and never persisted.
type Claims struct {
	SubjectID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// Extra holds every claim not mapped above.
	Extra map[string]any
}

// Remaining returns how long until the token expires, measured from now.
func (c Claims) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// Permissions returns the string entries of a "permissions" claim, or nil.
func (c Claims) Permissions() []string {
	raw, ok := c.Extra["permissions"].([]any)
	if !ok {
		return nil
	}
	return utils.ToStringSlice(raw)
}
