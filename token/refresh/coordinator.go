// Package refresh renews access tokens. Concurrent callers share a single
// renewal and all observe its result.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-auth-session/backend"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTimeout = 15 * time.Second

	// Every caller joins the same flight regardless of the token presented.
	flightKey = "refresh"
)

// Result is what every caller of a renewal cycle receives.
type Result struct {
	Session         sessions.Session
	User            *users.User // nil unless the backend sent one or one was stored
	PremiumFlipped  bool
	PreviousPremium bool
}

// SuccessFunc and FailureFunc run once per renewal cycle, inside the flight,
// before any caller sees the outcome.
type (
	SuccessFunc func(ctx context.Context, res Result)
	FailureFunc func(ctx context.Context, err error)
)

// StartFunc runs first inside the flight. A non-empty return replaces the
// refresh token passed to Refresh, so late joiners never renew with a token
// the flight has already rotated.
type StartFunc func(ctx context.Context) string

// Coordinator performs token renewal against the backend and commits the
// new credentials to the store.
type Coordinator struct {
	api       backend.API
	store     *store.Store
	validator *token.Validator

	group       singleflight.Group
	outstanding atomic.Bool

	timeout   time.Duration
	nowFunc   func() time.Time
	onStart   StartFunc
	onSuccess SuccessFunc
	onFailure FailureFunc
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Coordinator)

func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithValidator(v *token.Validator) Option {
	return func(c *Coordinator) {
		c.validator = v
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.nowFunc = now
	}
}

func WithOnStart(fn StartFunc) Option {
	return func(c *Coordinator) {
		c.onStart = fn
	}
}

func WithOnSuccess(fn SuccessFunc) Option {
	return func(c *Coordinator) {
		c.onSuccess = fn
	}
}

func WithOnFailure(fn FailureFunc) Option {
	return func(c *Coordinator) {
		c.onFailure = fn
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func NewCoordinator(api backend.API, st *store.Store, options ...Option) *Coordinator {
	c := &Coordinator{
		api:       api,
		store:     st,
		validator: token.NewValidator(),
		timeout:   DefaultTimeout,
		nowFunc:   time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Outstanding reports whether a renewal is in flight.
func (c *Coordinator) Outstanding() bool {
	return c.outstanding.Load()
}

// Refresh renews the access token using refreshToken, or joins the renewal
// already in flight. Cancelling ctx abandons the wait but not the renewal.
// Errors wrap ErrRefreshFailed, except a cancelled wait which returns
// ctx.Err().
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string) (Result, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.run(flightCtx, refreshToken)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	}
}

func (c *Coordinator) run(ctx context.Context, refreshToken string) (Result, error) {
	c.outstanding.Store(true)
	defer c.outstanding.Store(false)

	if c.onStart != nil {
		if rt := c.onStart(ctx); rt != "" {
			refreshToken = rt
		}
	}
	if refreshToken == "" {
		return Result{}, c.fail(ctx, errors.New("no refresh token"))
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	resp, err := c.api.Refresh(reqCtx, refreshToken)
	cancel()
	if err != nil {
		return Result{}, c.fail(ctx, err)
	}
	if resp == nil || resp.Access == "" {
		return Result{}, c.fail(ctx, errors.New("response carries no access token"))
	}

	previous, _ := c.store.GetBool(sessions.KeyIsPaidUser)
	current := previous

	rotated := refreshToken
	batch := c.store.Batch().Set(sessions.KeyAuthToken, resp.Access)
	if resp.Refresh != "" {
		rotated = resp.Refresh
		batch.Set(sessions.KeyRefreshToken, rotated)
	}

	user := resp.User.Clone()
	if user != nil {
		if flag, ok := user.PremiumFlag(); ok {
			current = flag
			batch.SetBool(sessions.KeyIsPaidUser, flag)
		}
		user.SetPremium(current)
		batch.SetJSON(sessions.KeyUserData, user)
		if len(user.Permissions) > 0 {
			batch.SetJSON(sessions.KeyUserPermissions, user.Permissions)
		}
	} else {
		var stored users.User
		if c.store.GetJSON(sessions.KeyUserData, &stored) {
			user = &stored
		}
	}

	if err := batch.Commit(); err != nil {
		return Result{}, c.fail(ctx, err)
	}

	session := sessions.Session{
		AccessToken:  resp.Access,
		RefreshToken: rotated,
		IssuedAt:     c.nowFunc(),
		Premium:      current,
	}
	if claims, err := c.validator.DecodeClaims(resp.Access); err == nil {
		session.IssuedAt = claims.IssuedAt
		session.UserID = users.ID(claims.SubjectID)
	}
	if user != nil && user.ID != "" {
		session.UserID = user.ID
	}

	res := Result{
		Session:         session,
		User:            user,
		PremiumFlipped:  current != previous,
		PreviousPremium: previous,
	}
	c.metrics.Refreshed("success")
	c.log.Info().
		Str("user_id", session.UserID.String()).
		Bool("rotated", resp.Refresh != "").
		Bool("premium_flipped", res.PremiumFlipped).
		Msg("[Coordinator Refresh] access token renewed")
	if c.onSuccess != nil {
		c.onSuccess(ctx, res)
	}
	return res, nil
}

func (c *Coordinator) fail(ctx context.Context, cause error) error {
	err := fmt.Errorf("[Coordinator Refresh] %w: %w", autherrors.ErrRefreshFailed, cause)
	c.metrics.Refreshed("failure")
	c.log.Warn().Err(cause).Bool("transient", autherrors.IsTransient(cause)).Msg("[Coordinator Refresh] renewal failed")
	if c.onFailure != nil {
		c.onFailure(ctx, err)
	}
	return err
}
