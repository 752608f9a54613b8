package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

// HTTPError is a non-2xx response that has no more specific mapping.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
}

// StatusCode extracts the HTTP status from err, or 0 if err is not an
// HTTPError.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if autherrors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// statusError maps a failed response. A 401 on login means the credentials
// were rejected; anywhere else it means the bearer was.
func statusError(method, path string, status int, body string, login bool) error {
	if status == http.StatusUnauthorized {
		if login {
			return autherrors.ErrInvalidCredentials
		}
		return fmt.Errorf("%s %s: %w", method, path, autherrors.ErrUnauthorized)
	}
	return &HTTPError{Method: method, Path: path, StatusCode: status, Body: body}
}

// transportError maps a failure to get any response at all.
func transportError(method, path string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w: %w", method, path, autherrors.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s %s: %w: %w", method, path, autherrors.ErrTimeout, err)
	}
	return fmt.Errorf("%s %s: %w: %w", method, path, autherrors.ErrNetwork, err)
}
