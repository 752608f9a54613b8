package backend

import (
	"encoding/json"

	"github.com/jrsteele09/go-auth-session/users"
)

// Credentials is the body of a login request.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /login.
type LoginResponse struct {
	// Access is the short-lived bearer token. Clients send it as
	// "Authorization: Bearer <access>".
	Access string `json:"access"`

	// Refresh is the long-lived renewal token.
	Refresh string `json:"refresh"`

	User *users.User `json:"user,omitempty"`

	// Permissions, when sent, override the ones embedded in User.
	Permissions []string `json:"permissions,omitempty"`
}

// RefreshResponse is returned by POST /token/refresh. Refresh is only set
// when the backend rotates the renewal token. User is optional.
type RefreshResponse struct {
	Access  string      `json:"access"`
	Refresh string      `json:"refresh,omitempty"`
	User    *users.User `json:"user,omitempty"`
}

// Some backends use the OAuth2 field names instead.
type tokenAliases struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (r *LoginResponse) UnmarshalJSON(data []byte) error {
	type plain LoginResponse
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var a tokenAliases
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = LoginResponse(p)
	if r.Access == "" {
		r.Access = a.AccessToken
	}
	if r.Refresh == "" {
		r.Refresh = a.RefreshToken
	}
	return nil
}

func (r *RefreshResponse) UnmarshalJSON(data []byte) error {
	type plain RefreshResponse
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var a tokenAliases
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = RefreshResponse(p)
	if r.Access == "" {
		r.Access = a.AccessToken
	}
	if r.Refresh == "" {
		r.Refresh = a.RefreshToken
	}
	return nil
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}
