package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/backend"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.HandlerFunc) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return backend.NewClient(srv.URL+"/api/", backend.WithAPIKey("", "k-123"))
}

func TestLogin(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/login", r.URL.Path)
		require.Equal(t, "k-123", r.Header.Get(backend.DefaultAPIKeyHeader))
		require.Empty(t, r.Header.Get("Authorization"))

		var creds backend.Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		require.Equal(t, backend.Credentials{Email: "a@b.c", Password: "pw"}, creds)

		_, _ = w.Write([]byte(`{"access":"a1","refresh":"r1","user":{"id":17,"email":"a@b.c","isPaidUser":false},"permissions":["budget"]}`))
	})

	resp, err := c.Login(context.Background(), backend.Credentials{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "a1", resp.Access)
	require.Equal(t, "r1", resp.Refresh)
	require.Equal(t, users.ID("17"), resp.User.ID)
	require.Equal(t, []string{"budget"}, resp.Permissions)
	premium, ok := resp.User.PremiumFlag()
	require.True(t, ok)
	require.False(t, premium)
}

func TestLoginRejected(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Login(context.Background(), backend.Credentials{Email: "a@b.c", Password: "bad"})
	require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
}

func TestRefreshAcceptsOAuthFieldNames(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/token/refresh", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "r1", body["refresh"])
		_, _ = w.Write([]byte(`{"access_token":"a2","refresh_token":"r2"}`))
	})

	resp, err := c.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, "a2", resp.Access)
	require.Equal(t, "r2", resp.Refresh)
	require.Nil(t, resp.User)
}

func TestStatusMapping(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnauthorized)
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte("nope"))
	})

	_, err := c.Refresh(context.Background(), "r1")
	require.ErrorIs(t, err, autherrors.ErrUnauthorized)
	require.NotErrorIs(t, err, autherrors.ErrInvalidCredentials)

	status.Store(http.StatusBadGateway)
	_, err = c.Profile(context.Background(), "a1")
	var httpErr *backend.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	require.Equal(t, "nope", httpErr.Body)
	require.Equal(t, http.StatusBadGateway, backend.StatusCode(err))
	require.False(t, autherrors.IsTransient(err))
}

func TestProfileAndLogoutSendBearer(t *testing.T) {
	var logoutSeen bool
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer a1", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/profile":
			require.Equal(t, http.MethodGet, r.Method)
			_, _ = w.Write([]byte(`{"id":"u1","premium":true}`))
		case "/api/logout":
			logoutSeen = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	u, err := c.Profile(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, users.ID("u1"), u.ID)

	require.NoError(t, c.Logout(context.Background(), "a1", "r1"))
	require.True(t, logoutSeen)
}

func TestTimeoutMapsToErrTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := backend.NewClient(srv.URL, backend.WithTimeout(20*time.Millisecond))
	_, err := c.Refresh(context.Background(), "r1")
	require.ErrorIs(t, err, autherrors.ErrTimeout)
	require.True(t, autherrors.IsTransient(err))
}

func TestUnreachableMapsToErrNetwork(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := backend.NewClient(url)
	_, err := c.Profile(context.Background(), "a1")
	require.ErrorIs(t, err, autherrors.ErrNetwork)
	require.True(t, autherrors.IsTransient(err))
}

func TestBadJSON(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access":`))
	})
	_, err := c.Refresh(context.Background(), "r1")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "decode response"))
}

func TestAPIKeyTransportLeavesRequestUntouched(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Custom-Key")
	}))
	defer srv.Close()

	client := &http.Client{Transport: &backend.APIKeyTransport{Header: "X-Custom-Key", Key: "secret"}}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, "secret", seen)
	require.Empty(t, req.Header.Get("X-Custom-Key"))
}
