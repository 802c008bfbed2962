// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session holds the client side of the ticket handshake. A
// Coordinator logs an identity in against an Authority, keeps its
// client-server ticket alive and hands out fresh envelopes for
// authenticated calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opentrusty/ticketd/internal/authority"
	"github.com/opentrusty/ticketd/internal/clock"
	"github.com/opentrusty/ticketd/internal/credential"
	"github.com/opentrusty/ticketd/internal/crypto"
	"github.com/opentrusty/ticketd/internal/identity"
	"github.com/opentrusty/ticketd/internal/observability/logger"
	"github.com/opentrusty/ticketd/internal/ticket"
)

// DefaultRenewInterval is how often a started Coordinator renews its ticket.
const DefaultRenewInterval = 5 * time.Minute

// minRenewInterval bounds the keep-alive ticker away from zero.
const minRenewInterval = time.Millisecond

// Authority is the remote side of the handshake. *authority.Authority
// satisfies it in process and the HTTP client satisfies it over the network.
type Authority interface {
	RequestTicketGrantingTicket(ctx context.Context, id string) (*ticket.Grant, error)
	RequestClientServerTicket(ctx context.Context, env ticket.Envelope) (*ticket.Grant, error)
	ValidateClientServerTicket(ctx context.Context, env ticket.Envelope) (ticket.Envelope, error)

	Register(ctx context.Context, env ticket.Envelope, reg authority.Registration) error
	SetAdministrator(ctx context.Context, env ticket.Envelope, id string, admin bool) error
	RemoveCredentials(ctx context.Context, env ticket.Envelope, id string) error
	ChangeCredentials(ctx context.Context, env ticket.Envelope, id string, oldSecret, newSecret []byte) error
	IsAdmin(ctx context.Context, env ticket.Envelope) (bool, error)
}

// state is the LoggedIn payload. A nil *state means LoggedOut.
type state struct {
	identity   identity.Identity
	sessionKey []byte
	envelope   ticket.Envelope
	expires    time.Time
}

// Coordinator tracks the login state of one process.
type Coordinator struct {
	auth    Authority
	local   credential.Vault
	deriver *crypto.KeyDeriver
	clock   clock.Clock
	logger  *slog.Logger

	lifetime      time.Duration
	renewInterval time.Duration

	// mu serializes every state transition including the RPCs that lead
	// to it. client remembers the bare client session underneath a
	// composite login.
	mu      sync.Mutex
	current *state
	client  *state

	observers observers

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithKeyDeriver sets the password derivation. It must match the one used
// when the password was registered.
func WithKeyDeriver(d *crypto.KeyDeriver) Option {
	return func(co *Coordinator) { co.deriver = d }
}

// WithLifetime tells the coordinator how long the authority keeps a ticket
// valid, so it can drop sessions that were not renewed in time.
func WithLifetime(d time.Duration) Option {
	return func(co *Coordinator) { co.lifetime = d }
}

func WithRenewInterval(d time.Duration) Option {
	return func(co *Coordinator) { co.renewInterval = d }
}

// NewCoordinator creates a logged out Coordinator. local holds the age
// identities of clients registered from this process and may be nil if
// LoginClient and RegisterClient are never used.
func NewCoordinator(auth Authority, local credential.Vault, opts ...Option) *Coordinator {
	c := &Coordinator{
		auth:          auth,
		local:         local,
		deriver:       crypto.DefaultKeyDeriver(),
		clock:         clock.Real(),
		logger:        slog.Default(),
		lifetime:      ticket.DefaultLifetime,
		renewInterval: DefaultRenewInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.Component("session"))
	if c.lifetime <= 0 {
		c.lifetime = ticket.DefaultLifetime
	}
	if c.renewInterval <= 0 || c.renewInterval >= c.lifetime {
		c.logger.Warn("renew interval must be shorter than the ticket lifetime, using a third of it",
			logger.String("renew_interval", c.renewInterval.String()),
			logger.String("lifetime", c.lifetime.String()))
		c.renewInterval = c.lifetime / 3
	}
	if c.renewInterval < minRenewInterval {
		c.renewInterval = minRenewInterval
	}
	return c
}

// Login authenticates user with password. When a client is logged in, the
// user logs in on top of it and the session identity becomes user@client.
func (c *Coordinator) Login(ctx context.Context, user, password string) error {
	if user == "" {
		return ErrAuthenticationFailed
	}
	key := c.deriver.Derive(user, password)

	c.mu.Lock()
	target := identity.User(user)
	client := c.client
	if c.current != nil && c.current.identity.ClientID() != "" {
		target = c.current.identity.WithUser(user)
		if c.current.identity.Kind() == identity.KindClient {
			client = c.current
		}
	} else {
		client = nil
	}

	next, err := c.handshake(ctx, target, func(sealed []byte) ([]byte, error) {
		return crypto.Decrypt(sealed, key)
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.current, c.client = next, client
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "logged in", logger.Identity(target.String()))
	c.observers.notify(target.String())
	return nil
}

// LoginClient authenticates as a client using the age identity stored for
// clientID in the local vault.
func (c *Coordinator) LoginClient(ctx context.Context, clientID string) error {
	if c.local == nil {
		return fmt.Errorf("%w: no local credential store", ErrAuthenticationFailed)
	}
	rec, err := c.local.Get(ctx, clientID)
	if err != nil || rec.Symmetric {
		c.logger.WarnContext(ctx, "no local key for client", logger.ClientID(clientID))
		return fmt.Errorf("%w: no local key for %s", ErrAuthenticationFailed, clientID)
	}
	target := identity.Client(clientID)

	c.mu.Lock()
	next, err := c.handshake(ctx, target, func(sealed []byte) ([]byte, error) {
		return crypto.Open(sealed, string(rec.Secret))
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.current, c.client = next, nil
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "client logged in", logger.Identity(target.String()))
	c.observers.notify(target.String())
	return nil
}

// handshake runs the KDC and TGS steps for target. open recovers the TGS
// session key from its sealed form.
func (c *Coordinator) handshake(ctx context.Context, target identity.Identity, open func([]byte) ([]byte, error)) (*state, error) {
	name := target.String()

	tgt, err := c.auth.RequestTicketGrantingTicket(ctx, name)
	if err != nil {
		return nil, c.loginError(ctx, name, err)
	}
	tgsKey, err := open(tgt.SessionKey)
	if err != nil {
		return nil, c.loginError(ctx, name, err)
	}

	now := c.clock.Now()
	auth, err := ticket.SealAuthenticator(ticket.NewAuthenticator(name, now), tgsKey)
	if err != nil {
		return nil, err
	}
	cst, err := c.auth.RequestClientServerTicket(ctx, ticket.Envelope{Ticket: tgt.Ticket, Authenticator: auth})
	if err != nil {
		return nil, c.loginError(ctx, name, err)
	}
	ssKey, err := crypto.Decrypt(cst.SessionKey, tgsKey)
	if err != nil {
		return nil, c.loginError(ctx, name, err)
	}

	now = c.clock.Now()
	auth, err = ticket.SealAuthenticator(ticket.NewAuthenticator(name, now), ssKey)
	if err != nil {
		return nil, err
	}
	return &state{
		identity:   target,
		sessionKey: ssKey,
		envelope:   ticket.Envelope{Ticket: cst.Ticket, Authenticator: auth},
		expires:    now.Add(c.lifetime),
	}, nil
}

// loginError hides why a login failed from the caller. Rejections by the
// authority and keys that do not open all look the same; transport failures
// are passed through.
func (c *Coordinator) loginError(ctx context.Context, name string, err error) error {
	var protocolErr *authority.Error
	if errors.As(err, &protocolErr) || errors.Is(err, crypto.ErrDecrypt) {
		c.logger.WarnContext(ctx, "login rejected", logger.Identity(name), logger.Error(err))
		return ErrAuthenticationFailed
	}
	c.logger.ErrorContext(ctx, "login failed", logger.Identity(name), logger.Error(err))
	return fmt.Errorf("login failed: %w", err)
}

// Logout ends the current session. A user logged in on a client returns to
// the client session; anything else becomes logged out.
func (c *Coordinator) Logout() {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return
	}
	prev := c.current.identity.String()
	if c.current.identity.Kind() == identity.KindComposite && c.client != nil {
		c.current = c.client
	} else {
		c.current = nil
	}
	c.client = nil
	next := c.identityLocked()
	c.mu.Unlock()

	c.logger.Info("logged out", logger.Identity(prev), logger.String("now", next))
	c.observers.notify(next)
}

// Renew runs the SS step for the current session and checks that the
// authority echoed the authenticator it was sent. On any failure the
// previous state is kept; the ticket then expires on its own.
func (c *Coordinator) Renew(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNotLoggedIn
	}
	next, err := c.renew(ctx, c.current)
	if err != nil {
		return err
	}
	c.current = next

	if c.client != nil {
		if next, err := c.renew(ctx, c.client); err != nil {
			c.logger.WarnContext(ctx, "failed to renew client session", logger.Identity(c.client.identity.String()), logger.Error(err))
		} else {
			c.client = next
		}
	}
	return nil
}

func (c *Coordinator) renew(ctx context.Context, st *state) (*state, error) {
	name := st.identity.String()
	now := c.clock.Now()
	sent := ticket.NewAuthenticator(name, now)
	sealed, err := ticket.SealAuthenticator(sent, st.sessionKey)
	if err != nil {
		return nil, err
	}

	echo, err := c.auth.ValidateClientServerTicket(ctx, ticket.Envelope{Ticket: st.envelope.Ticket, Authenticator: sealed})
	if err != nil {
		return nil, fmt.Errorf("failed to renew ticket for %s: %w", name, err)
	}

	got, err := ticket.OpenAuthenticator(echo.Authenticator, st.sessionKey)
	if err != nil || got.Timestamp != sent.Timestamp || got.Identity != sent.Identity {
		c.logger.ErrorContext(ctx, "authority echoed a different authenticator", logger.Identity(name))
		return nil, ErrServerAuthenticationFailed
	}

	return &state{
		identity:   st.identity,
		sessionKey: st.sessionKey,
		envelope:   echo,
		expires:    now.Add(c.lifetime),
	}, nil
}

// Start renews the session every renew interval until ctx is done or Close
// is called. Calling Start on a running Coordinator does nothing.
func (c *Coordinator) Start(ctx context.Context) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	ticker := c.clock.NewTicker(c.renewInterval)

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !c.IsLoggedIn() {
					continue
				}
				if err := c.Renew(ctx); err != nil {
					c.logger.WarnContext(ctx, "session renewal failed", logger.Error(err))
				}
			}
		}
	}()
}

// Close stops the renewal loop and waits for it to exit.
func (c *Coordinator) Close() {
	c.loopMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.loopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// expire drops a session whose ticket ran out without being renewed.
func (c *Coordinator) expire() {
	c.mu.Lock()
	if c.current == nil || !c.clock.Now().After(c.current.expires) {
		c.mu.Unlock()
		return
	}
	prev := c.current.identity.String()
	c.current, c.client = nil, nil
	c.mu.Unlock()

	c.logger.Info("session expired", logger.Identity(prev))
	c.observers.notify("")
}

func (c *Coordinator) identityLocked() string {
	if c.current == nil {
		return ""
	}
	return c.current.identity.String()
}

// IsLoggedIn reports whether a session with an unexpired ticket exists.
func (c *Coordinator) IsLoggedIn() bool {
	c.expire()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Identity returns the session identity, or the zero identity when logged out.
func (c *Coordinator) Identity() identity.Identity {
	c.expire()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return identity.Identity{}
	}
	return c.current.identity
}

// Envelope returns the envelope of the last login or renewal.
func (c *Coordinator) Envelope() (ticket.Envelope, bool) {
	c.expire()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ticket.Envelope{}, false
	}
	return c.current.envelope, true
}

// SessionKey returns a copy of the SS session key.
func (c *Coordinator) SessionKey() ([]byte, bool) {
	c.expire()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, false
	}
	return append([]byte(nil), c.current.sessionKey...), true
}

// Authenticate returns an envelope with a fresh authenticator for one
// authenticated call.
func (c *Coordinator) Authenticate() (ticket.Envelope, error) {
	st, err := c.snapshot()
	if err != nil {
		return ticket.Envelope{}, err
	}
	return c.envelopeFor(st)
}

func (c *Coordinator) snapshot() (*state, error) {
	c.expire()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNotLoggedIn
	}
	return c.current, nil
}

func (c *Coordinator) envelopeFor(st *state) (ticket.Envelope, error) {
	auth, err := ticket.SealAuthenticator(ticket.NewAuthenticator(st.identity.String(), c.clock.Now()), st.sessionKey)
	if err != nil {
		return ticket.Envelope{}, err
	}
	return ticket.Envelope{Ticket: st.envelope.Ticket, Authenticator: auth}, nil
}

// IsAdmin asks the authority whether the current identity is an
// administrator. Logged out sessions and failed checks report false.
func (c *Coordinator) IsAdmin(ctx context.Context) bool {
	st, err := c.snapshot()
	if err != nil {
		return false
	}
	env, err := c.envelopeFor(st)
	if err != nil {
		return false
	}
	admin, err := c.auth.IsAdmin(ctx, env)
	if err != nil {
		c.logger.DebugContext(ctx, "admin check failed", logger.Identity(st.identity.String()), logger.Error(err))
		return false
	}
	return admin
}

// AddLoginObserver registers fn for login state changes.
func (c *Coordinator) AddLoginObserver(fn LoginObserver) ObserverID {
	return c.observers.add(fn)
}

// RemoveLoginObserver unregisters an observer. Unknown ids are ignored.
func (c *Coordinator) RemoveLoginObserver(id ObserverID) {
	c.observers.remove(id)
}
