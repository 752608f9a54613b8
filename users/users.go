package users

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-auth-session/internal/utils"
)

// ID is a user identifier. Backends send it either as a JSON string or as a
// number; both decode to the same textual form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("users.ID: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("users.ID: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// User is the user record returned by the backend on login, on refresh and
// from the profile endpoint. It is persisted under the userData key.
type User struct {
	ID          ID       `json:"id"`                    // Unique identifier for the user
	Email       string   `json:"email,omitempty"`       // User's email address
	Username    string   `json:"username,omitempty"`    // Login name
	FirstName   string   `json:"first_name,omitempty"`  // First name of the user
	LastName    string   `json:"last_name,omitempty"`   // Last name of the user
	Permissions []string `json:"permissions,omitempty"` // Feature permissions granted by the backend

	// Subscription flags. When both are sent, isPaidUser is authoritative.
	IsPaidUser *bool `json:"isPaidUser,omitempty"`
	Premium    *bool `json:"premium,omitempty"`
}

// UnmarshalJSON accepts the subscription flags as booleans, "true"/"false"
// strings or 0/1 numbers. Anything else reads as absent.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	aux := struct {
		*plain
		IsPaidUser any `json:"isPaidUser"`
		Premium    any `json:"premium"`
	}{plain: (*plain)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("users.User: %w", err)
	}
	u.IsPaidUser = looseFlag(aux.IsPaidUser)
	u.Premium = looseFlag(aux.Premium)
	return nil
}

func looseFlag(v any) *bool {
	b, ok := utils.ToBool(v)
	if !ok {
		return nil
	}
	return utils.Ptr(b)
}

// PremiumFlag returns the subscription flag carried by the record and
// whether the record carried one at all.
func (u *User) PremiumFlag() (premium bool, ok bool) {
	if u == nil {
		return false, false
	}
	if u.IsPaidUser != nil {
		return *u.IsPaidUser, true
	}
	if u.Premium != nil {
		return *u.Premium, true
	}
	return false, false
}

// SetPremium rewrites both flag spellings so later reads agree.
func (u *User) SetPremium(premium bool) {
	if u == nil {
		return
	}
	paid, prem := premium, premium
	u.IsPaidUser = &paid
	u.Premium = &prem
}

// Clone returns a deep copy so callers can't mutate a cached record.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Permissions != nil {
		c.Permissions = append([]string(nil), u.Permissions...)
	}
	if u.IsPaidUser != nil {
		v := *u.IsPaidUser
		c.IsPaidUser = &v
	}
	if u.Premium != nil {
		v := *u.Premium
		c.Premium = &v
	}
	return &c
}

func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

func (u *User) HasPermission(permission string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
