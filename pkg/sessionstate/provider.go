// Package sessionstate tracks whether the storefront user is signed in and
// who they are, on top of a sessionclient.Client. Route guards read this
// state to gate pages.
package sessionstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/sessionclient"
)

// Status is the coarse authentication state.
type Status int

const (
	// StatusUnknown holds until Init has asked the server.
	StatusUnknown Status = iota
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// User is the signed-in account as seen by the UI.
type User = sessionclient.User

// State is an immutable snapshot. User is nil unless Status is
// StatusAuthenticated.
type State struct {
	Status Status
	User   *User
}

// Session is the part of sessionclient.Client the provider drives.
type Session interface {
	Login(ctx context.Context, email, password string) (*sessionclient.AuthResult, error)
	Logout(ctx context.Context) error
	Refresh(ctx context.Context) (string, error)
	Verify(ctx context.Context) (*sessionclient.VerifyResult, error)
	AccessToken() string
	HasRefreshCookie() bool
	OnSessionEnded(fn func(error)) (unsubscribe func())
}

// Provider owns the authentication state for one session.
type Provider struct {
	session Session
	logger  *slog.Logger

	mu     sync.RWMutex
	state  State
	subs   []subscriber
	nextID int

	// pending holds changes not yet delivered. Only the goroutine that set
	// delivering drains it.
	pending    []State
	delivering bool

	detach func()
}

type subscriber struct {
	id int
	fn func(State)
}

// Option customizes a Provider.
type Option func(*Provider)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New returns a provider in StatusUnknown. A session the client ends after a
// failed refresh moves the provider to StatusAnonymous.
func New(session Session, opts ...Option) *Provider {
	p := &Provider{
		session: session,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.detach = session.OnSessionEnded(func(err error) {
		p.logger.Info("session ended, signing out", slog.String("cause", err.Error()))
		p.set(State{Status: StatusAnonymous})
	})
	return p
}

// Close stops listening for session-ended notifications.
func (p *Provider) Close() {
	p.detach()
}

// Init resolves StatusUnknown. With neither credential held the user is
// anonymous without a network call. With only the refresh cookie a refresh
// runs first. The server's verify answer then decides the state; a held
// access credential the server rejects gets one refresh when the cookie is
// present.
func (p *Provider) Init(ctx context.Context) error {
	if p.session.AccessToken() != "" {
		user, err := p.verify(ctx)
		if err != nil || user != nil || !p.session.HasRefreshCookie() {
			return p.settle(user, err)
		}
	} else if !p.session.HasRefreshCookie() {
		p.set(State{Status: StatusAnonymous})
		return nil
	}

	if _, err := p.session.Refresh(ctx); err != nil {
		p.set(State{Status: StatusAnonymous})
		if errors.Is(err, sessionclient.ErrSessionEnded) {
			return nil
		}
		return fmt.Errorf("init session: %w", err)
	}
	return p.settle(p.verify(ctx))
}

// verify asks the server who the held credential belongs to. A nil user
// with a nil error means the credential was rejected.
func (p *Provider) verify(ctx context.Context) (*User, error) {
	result, err := p.session.Verify(ctx)
	if err != nil {
		if errors.Is(err, sessionclient.ErrSessionEnded) {
			return nil, nil
		}
		return nil, fmt.Errorf("verify session: %w", err)
	}
	if !result.Valid || result.User == nil {
		return nil, nil
	}
	user := *result.User
	return &user, nil
}

// settle records the outcome of verify.
func (p *Provider) settle(user *User, err error) error {
	if user == nil {
		p.set(State{Status: StatusAnonymous})
		return err
	}
	p.set(State{Status: StatusAuthenticated, User: user})
	return nil
}

// Login signs in. A failed attempt leaves an existing session untouched.
func (p *Provider) Login(ctx context.Context, email, password string) error {
	result, err := p.session.Login(ctx, email, password)
	if err != nil {
		p.mu.Lock()
		unknown := p.state.Status == StatusUnknown
		p.mu.Unlock()
		if unknown {
			p.set(State{Status: StatusAnonymous})
		}
		return err
	}
	user := result.User
	p.set(State{Status: StatusAuthenticated, User: &user})
	return nil
}

// Logout signs out. The provider is anonymous afterwards even when the server
// could not be reached; the error is still returned.
func (p *Provider) Logout(ctx context.Context) error {
	err := p.session.Logout(ctx)
	p.set(State{Status: StatusAnonymous})
	if err != nil {
		p.logger.WarnContext(ctx, "logout request failed", slog.String("error", err.Error()))
	}
	return err
}

// Refresh renews the access credential and reloads the user. A failed
// refresh leaves the provider anonymous.
func (p *Provider) Refresh(ctx context.Context) error {
	if _, err := p.session.Refresh(ctx); err != nil {
		p.set(State{Status: StatusAnonymous})
		return err
	}
	return p.settle(p.verify(ctx))
}

// State returns the current snapshot.
func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// User returns the signed-in user, or nil.
func (p *Provider) User() *User {
	return p.State().User
}

// IsAuthenticated reports whether a user is signed in.
func (p *Provider) IsAuthenticated() bool {
	return p.State().Status == StatusAuthenticated
}

// HasRole reports whether the signed-in user has one of roles.
func (p *Provider) HasRole(roles ...string) bool {
	return p.State().HasRole(roles...)
}

// HasRole reports whether s is authenticated with one of roles.
func (s State) HasRole(roles ...string) bool {
	return s.Status == StatusAuthenticated && s.User != nil && slices.Contains(roles, s.User.Role)
}

// Subscribe calls fn with each new state until unsubscribe is called.
// Subscribers are called in registration order, one state at a time, in the
// order the states changed. Delivery runs on a goroutine that changed the
// state; a change made from inside a callback is delivered after it returns.
func (p *Provider) Subscribe(fn func(State)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs = append(p.subs, subscriber{id: id, fn: fn})
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		p.subs = slices.DeleteFunc(p.subs, func(s subscriber) bool { return s.id == id })
		p.mu.Unlock()
	}
}

func (p *Provider) set(next State) {
	p.mu.Lock()
	prev := p.state
	p.state = next
	if prev.Status == next.Status && sameUser(prev.User, next.User) {
		p.mu.Unlock()
		return
	}
	p.pending = append(p.pending, next)
	if p.delivering {
		p.mu.Unlock()
		return
	}
	p.delivering = true
	p.mu.Unlock()

	p.deliver()
}

// deliver drains pending until it is empty.
func (p *Provider) deliver() {
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.delivering = false
			p.pending = nil
			p.mu.Unlock()
			panic(r)
		}
	}()

	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.delivering = false
			p.mu.Unlock()
			return
		}
		state := p.pending[0]
		p.pending = p.pending[1:]
		subs := slices.Clone(p.subs)
		p.mu.Unlock()

		for _, s := range subs {
			s.fn(state)
		}
	}
}

func sameUser(a, b *User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
