// Package token inspects bearer tokens without verifying their signature.
// The backend is the authority on signatures; the client only needs to know
// whether a token is well formed and how long it has left.
package token

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/utils"
)

const DefaultSafetyMargin = 60 * time.Second

// Validator checks the shape and expiry of JWT access tokens.
type Validator struct {
	parser       *jwtlib.Parser
	safetyMargin time.Duration
	nowFunc      func() time.Time
}

type Option func(*Validator)

// WithSafetyMargin sets how long before "exp" a token stops counting as
// currently valid.
func WithSafetyMargin(d time.Duration) Option {
	return func(v *Validator) {
		if d >= 0 {
			v.safetyMargin = d
		}
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(v *Validator) {
		v.nowFunc = now
	}
}

func NewValidator(options ...Option) *Validator {
	v := &Validator{
		parser:       jwtlib.NewParser(),
		safetyMargin: DefaultSafetyMargin,
		nowFunc:      time.Now,
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// SafetyMargin reports the configured margin.
func (v *Validator) SafetyMargin() time.Duration {
	return v.safetyMargin
}

// DecodeClaims parses the token's claims. The token must have three
// base64url segments and numeric "iat" and "exp" claims.
func (v *Validator) DecodeClaims(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, fmt.Errorf("[Validator DecodeClaims] empty token: %w", autherrors.ErrTokenMalformed)
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("[Validator DecodeClaims] %d segments: %w", len(parts), autherrors.ErrTokenMalformed)
	}

	parsed, _, err := v.parser.ParseUnverified(raw, jwtlib.MapClaims{})
	if err != nil {
		return Claims{}, fmt.Errorf("[Validator DecodeClaims] %v: %w", err, autherrors.ErrTokenMalformed)
	}
	if _, err := v.parser.DecodeSegment(parts[2]); err != nil {
		return Claims{}, fmt.Errorf("[Validator DecodeClaims] signature segment: %v: %w", err, autherrors.ErrTokenMalformed)
	}

	mapClaims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("[Validator DecodeClaims] unexpected claims type: %w", autherrors.ErrTokenMalformed)
	}

	iat, ok := utils.ToInt64(mapClaims["iat"])
	if !ok {
		return Claims{}, fmt.Errorf("[Validator DecodeClaims] iat missing or not numeric: %w", autherrors.ErrTokenMalformed)
	}
	exp, ok := utils.ToInt64(mapClaims["exp"])
	if !ok {
		return Claims{}, fmt.Errorf("[Validator DecodeClaims] exp missing or not numeric: %w", autherrors.ErrTokenMalformed)
	}

	claims := Claims{
		SubjectID: subject(mapClaims),
		IssuedAt:  time.Unix(iat, 0),
		ExpiresAt: time.Unix(exp, 0),
		Extra:     make(map[string]any),
	}
	for k, val := range mapClaims {
		switch k {
		case "sub", "user_id", "iat", "exp":
			continue
		}
		claims.Extra[k] = val
	}
	return claims, nil
}

// subject reads "sub", falling back to "user_id". Numeric IDs are formatted
// without a fractional part.
func subject(claims jwtlib.MapClaims) string {
	for _, k := range []string{"sub", "user_id"} {
		switch s := claims[k].(type) {
		case string:
			if s != "" {
				return s
			}
		case float64:
			return strconv.FormatInt(int64(s), 10)
		}
	}
	return ""
}

// IsStructurallyValid reports whether the token decodes. It says nothing
// about expiry.
func (v *Validator) IsStructurallyValid(raw string) bool {
	_, err := v.DecodeClaims(raw)
	return err == nil
}

// IsCurrentlyValid reports whether the token decodes and expires more than
// the safety margin from now.
func (v *Validator) IsCurrentlyValid(raw string) bool {
	claims, err := v.DecodeClaims(raw)
	if err != nil {
		return false
	}
	return claims.Remaining(v.nowFunc()) > v.safetyMargin
}

// Check is IsCurrentlyValid with a reason: ErrTokenMalformed or
// ErrTokenExpired.
func (v *Validator) Check(raw string) (Claims, error) {
	claims, err := v.DecodeClaims(raw)
	if err != nil {
		return Claims{}, err
	}
	if claims.Remaining(v.nowFunc()) <= v.safetyMargin {
		return claims, fmt.Errorf("[Validator Check] expires %s: %w", claims.ExpiresAt.UTC().Format(time.RFC3339), autherrors.ErrTokenExpired)
	}
	return claims, nil
}

// Expiry returns the token's "exp" time, or the zero time if it does not
// decode.
func (v *Validator) Expiry(raw string) time.Time {
	claims, err := v.DecodeClaims(raw)
	if err != nil {
		return time.Time{}
	}
	return claims.ExpiresAt
}
