package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-session/backend"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"golang.org/x/oauth2"
)

var _ oauth2.TokenSource = (*SessionManager)(nil)

// Token returns the current access token, renewing it first when it is
// inside the safety margin. It makes the manager an oauth2.TokenSource.
func (m *SessionManager) Token() (*oauth2.Token, error) {
	sess := m.Session()
	if sess.AccessToken != "" && m.validator.IsCurrentlyValid(sess.AccessToken) {
		return m.oauthToken(sess.AccessToken, sess.RefreshToken), nil
	}
	if sess.RefreshToken == "" && sess.AccessToken == "" {
		return nil, fmt.Errorf("[SessionManager Token] %w", autherrors.ErrNotAuthenticated)
	}

	ctx, cancel := m.withTimeout(context.Background())
	defer cancel()
	renewed, err := m.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("[SessionManager Token] %w", err)
	}
	return m.oauthToken(renewed.AccessToken, renewed.RefreshToken), nil
}

func (m *SessionManager) oauthToken(access, refreshToken string) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: refreshToken,
	}
	if exp := m.validator.Expiry(access); !exp.IsZero() {
		tok.Expiry = exp.Add(-m.validator.SafetyMargin())
	}
	return tok
}

// HTTPClient returns a client for authenticated API calls. Requests carry
// the API key and the current bearer. A 401 on anything other than login,
// refresh or logout renews the token once and retries.
func (m *SessionManager) HTTPClient() *http.Client {
	return &http.Client{
		Transport: &retryTransport{
			manager: m,
			next:    &oauth2.Transport{Source: m, Base: m.baseTransport},
		},
	}
}

type retryTransport struct {
	manager *SessionManager
	next    http.RoundTripper
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !retryable(req) {
		return resp, err
	}

	retry, err := rewind(req)
	if err != nil {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if _, err := t.manager.Refresh(req.Context()); err != nil {
		return nil, fmt.Errorf("[SessionManager HTTPClient] %w: %w", autherrors.ErrUnauthorized, err)
	}
	return t.next.RoundTrip(retry)
}

// retryable excludes the endpoints whose 401 means something other than a
// stale bearer.
func retryable(req *http.Request) bool {
	path := strings.TrimRight(req.URL.Path, "/")
	for _, p := range []string{backend.LoginPath, backend.RefreshPath, backend.LogoutPath} {
		if strings.HasSuffix(path, p) {
			return false
		}
	}
	return true
}

// rewind returns a copy of req with a fresh body.
func rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	retry.Body = body
	return retry, nil
}
