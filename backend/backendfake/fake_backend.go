// Package backendfake is an in-memory backend.API for tests.
package backendfake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jrsteele09/go-auth-session/backend"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/users"
)

var _ backend.API = (*FakeBackend)(nil)

// FakeBackend answers each call with its hook. A nil hook fails the call
// with ErrNetwork, except Logout which succeeds.
type FakeBackend struct {
	LoginFunc   func(ctx context.Context, creds backend.Credentials) (*backend.LoginResponse, error)
	RefreshFunc func(ctx context.Context, refreshToken string) (*backend.RefreshResponse, error)
	LogoutFunc  func(ctx context.Context, accessToken, refreshToken string) error
	ProfileFunc func(ctx context.Context, accessToken string) (*users.User, error)

	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	profileCalls atomic.Int32

	lock             sync.Mutex
	refreshTokens    []string
	profileBearers   []string
	logoutAccessSeen []string
}

func New() *FakeBackend {
	return &FakeBackend{}
}

func (f *FakeBackend) Login(ctx context.Context, creds backend.Credentials) (*backend.LoginResponse, error) {
	f.loginCalls.Add(1)
	if f.LoginFunc == nil {
		return nil, fmt.Errorf("[FakeBackend Login] no handler: %w", autherrors.ErrNetwork)
	}
	return f.LoginFunc(ctx, creds)
}

func (f *FakeBackend) Refresh(ctx context.Context, refreshToken string) (*backend.RefreshResponse, error) {
	f.refreshCalls.Add(1)
	f.lock.Lock()
	f.refreshTokens = append(f.refreshTokens, refreshToken)
	f.lock.Unlock()
	if f.RefreshFunc == nil {
		return nil, fmt.Errorf("[FakeBackend Refresh] no handler: %w", autherrors.ErrNetwork)
	}
	return f.RefreshFunc(ctx, refreshToken)
}

func (f *FakeBackend) Logout(ctx context.Context, accessToken, refreshToken string) error {
	f.logoutCalls.Add(1)
	f.lock.Lock()
	f.logoutAccessSeen = append(f.logoutAccessSeen, accessToken)
	f.lock.Unlock()
	if f.LogoutFunc == nil {
		return nil
	}
	return f.LogoutFunc(ctx, accessToken, refreshToken)
}

func (f *FakeBackend) Profile(ctx context.Context, accessToken string) (*users.User, error) {
	f.profileCalls.Add(1)
	f.lock.Lock()
	f.profileBearers = append(f.profileBearers, accessToken)
	f.lock.Unlock()
	if f.ProfileFunc == nil {
		return nil, fmt.Errorf("[FakeBackend Profile] no handler: %w", autherrors.ErrNetwork)
	}
	return f.ProfileFunc(ctx, accessToken)
}

func (f *FakeBackend) LoginCalls() int   { return int(f.loginCalls.Load()) }
func (f *FakeBackend) RefreshCalls() int { return int(f.refreshCalls.Load()) }
func (f *FakeBackend) LogoutCalls() int  { return int(f.logoutCalls.Load()) }
func (f *FakeBackend) ProfileCalls() int { return int(f.profileCalls.Load()) }

// RefreshTokens lists the refresh tokens presented, in call order.
func (f *FakeBackend) RefreshTokens() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.refreshTokens...)
}

// ProfileBearers lists the access tokens presented to Profile.
func (f *FakeBackend) ProfileBearers() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.profileBearers...)
}

// LogoutBearers lists the access tokens presented to Logout.
func (f *FakeBackend) LogoutBearers() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.logoutAccessSeen...)
}

// Account is a credential accepted by WithAccount.
type Account struct {
	Email    string
	Password string
	Response backend.LoginResponse
}

// WithAccount installs a LoginFunc that accepts the given accounts and
// rejects anything else with ErrInvalidCredentials.
func (f *FakeBackend) WithAccount(accounts ...Account) *FakeBackend {
	byEmail := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		byEmail[a.Email] = a
	}
	f.LoginFunc = func(_ context.Context, creds backend.Credentials) (*backend.LoginResponse, error) {
		a, ok := byEmail[creds.Email]
		if !ok || a.Password != creds.Password {
			return nil, fmt.Errorf("[FakeBackend Login] %w", autherrors.ErrInvalidCredentials)
		}
		resp := a.Response
		if resp.User != nil {
			resp.User = resp.User.Clone()
		}
		return &resp, nil
	}
	return f
}
