package errors

import (
	"context"
	"errors"
	"fmt"
)

// Common error types for the session core
var (
	// Token errors
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenExpired   = errors.New("token expired")
	ErrRefreshFailed  = errors.New("token refresh failed")

	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrUserMismatch       = errors.New("profile belongs to a different user")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrCorruptEntry       = errors.New("corrupt storage entry")

	// Transport errors
	ErrNetwork = errors.New("network error")
	ErrTimeout = errors.New("request timed out")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsTransient reports whether err is a network-level failure whose outcome is
// unknown. State must be preserved on such errors rather than downgraded.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
