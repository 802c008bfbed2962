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

package session

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/ticketd/internal/authority"
	"github.com/opentrusty/ticketd/internal/clock"
	"github.com/opentrusty/ticketd/internal/credential"
	"github.com/opentrusty/ticketd/internal/crypto"
	"github.com/opentrusty/ticketd/internal/ticket"
)

var testDeriver = crypto.NewKeyDeriver(1024, 1, 1)

type harness struct {
	auth  *authority.Authority
	vault *credential.MemoryVault
	local *credential.MemoryVault
	clock *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	vault := credential.NewMemoryVault()
	require.NoError(t, vault.Put(context.Background(), credential.Record{
		ID: "root", Secret: testDeriver.Derive("root", "toor"), Admin: true, Symmetric: true,
	}))
	a, err := authority.New(vault, authority.NewMemoryKeyStore(), authority.WithClock(fc))
	require.NoError(t, err)
	return &harness{auth: a, vault: vault, local: credential.NewMemoryVault(), clock: fc}
}

func (h *harness) coordinator(auth Authority, opts ...Option) *Coordinator {
	opts = append([]Option{WithClock(h.clock), WithKeyDeriver(testDeriver)}, opts...)
	return NewCoordinator(auth, h.local, opts...)
}

// recorder collects observer notifications.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) observe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// TestPurpose: Validates the administrator and user login flow end to end against an in-process authority.
// Scope: Unit Test
// Security: Only administrators may register users; wrong passwords never log in
// Expected: Registered users can log in, are not administrators and cannot register others.
// Test Case ID: SES-01
func TestCoordinator_LoginFlow(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(h.auth)
	ctx := context.Background()

	assert.False(t, c.IsLoggedIn())
	assert.True(t, c.Identity().IsZero())

	require.NoError(t, c.Login(ctx, "root", "toor"))
	assert.True(t, c.IsAdmin(ctx))
	require.NoError(t, c.RegisterUser(ctx, "alice", "wonderland", false))

	c.Logout()
	assert.False(t, c.IsLoggedIn())

	require.NoError(t, c.Login(ctx, "alice", "wonderland"))
	assert.True(t, c.IsLoggedIn())
	assert.Equal(t, "alice@", c.Identity().String())
	assert.False(t, c.IsAdmin(ctx))

	err := c.RegisterUser(ctx, "bob", "builder", false)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, credential.Has(ctx, h.vault, "bob"))

	// A failed login keeps the previous session.
	assert.ErrorIs(t, c.Login(ctx, "alice", "wrong"), ErrAuthenticationFailed)
	assert.ErrorIs(t, c.Login(ctx, "nobody", "x"), ErrAuthenticationFailed)
	assert.Equal(t, "alice@", c.Identity().String())

	env, err := c.Authenticate()
	require.NoError(t, err)
	_, err = h.auth.ValidateClientServerTicket(ctx, env)
	assert.NoError(t, err)
}

// TestPurpose: Validates that logging out forgets the ticket and the session key.
// Scope: Unit Test
// Security: A logged out process must not keep material that authenticates it
// Expected: After each logout Envelope and SessionKey report nothing held.
// Test Case ID: SES-05
func TestCoordinator_LogoutClearsSession(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(h.auth)
	ctx := context.Background()

	require.NoError(t, c.Login(ctx, "root", "toor"))
	_, ok := c.Envelope()
	assert.True(t, ok)
	_, ok = c.SessionKey()
	assert.True(t, ok)

	require.NoError(t, c.RegisterUser(ctx, "bob", "builder", false))
	c.Logout()

	require.NoError(t, c.Login(ctx, "bob", "builder"))
	assert.Equal(t, "bob@", c.Identity().String())
	assert.False(t, c.IsAdmin(ctx))

	c.Logout()
	assert.False(t, c.IsLoggedIn())
	_, ok = c.Envelope()
	assert.False(t, ok)
	_, ok = c.SessionKey()
	assert.False(t, ok)
	_, err := c.Authenticate()
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestCoordinator_AdminRequiresLogin(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(h.auth)
	ctx := context.Background()

	assert.False(t, c.IsAdmin(ctx))
	assert.ErrorIs(t, c.RegisterUser(ctx, "alice", "x", false), ErrPermissionDenied)
	assert.ErrorIs(t, c.RegisterClient(ctx, "terminal", false), ErrPermissionDenied)
	assert.ErrorIs(t, c.SetAdministrator(ctx, "root", false), ErrPermissionDenied)
	assert.ErrorIs(t, c.RemoveUser(ctx, "root"), ErrPermissionDenied)
	assert.ErrorIs(t, c.ChangePassword(ctx, "root", "toor", "new"), ErrNotLoggedIn)

	_, err := c.Authenticate()
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.ErrorIs(t, c.Renew(ctx), ErrNotLoggedIn)
}

// TestPurpose: Validates user logins on top of a client session.
// Scope: Unit Test
// Security: A user on a client must be distinguishable from the bare client identity
// Expected: Identity becomes user@client; logout returns to @client, a second logout ends the session.
// Test Case ID: SES-02
func TestCoordinator_CompositeLogin(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(h.auth)
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, c.Login(ctx, "root", "toor"))
	require.NoError(t, c.RegisterUser(ctx, "alice", "wonderland", false))
	require.NoError(t, c.RegisterClient(ctx, "terminal", false))
	assert.True(t, credential.Has(ctx, h.local, "terminal"))
	c.Logout()

	c.AddLoginObserver(rec.observe)

	require.NoError(t, c.LoginClient(ctx, "terminal"))
	assert.Equal(t, "@terminal", c.Identity().String())

	require.NoError(t, c.Login(ctx, "alice", "wonderland"))
	assert.Equal(t, "alice@terminal", c.Identity().String())

	// Switching users on the same client keeps the client underneath.
	require.NoError(t, c.Login(ctx, "root", "toor"))
	assert.Equal(t, "root@terminal", c.Identity().String())
	assert.True(t, c.IsAdmin(ctx))

	c.Logout()
	assert.Equal(t, "@terminal", c.Identity().String())
	env, err := c.Authenticate()
	require.NoError(t, err)
	_, err = h.auth.ValidateClientServerTicket(ctx, env)
	require.NoError(t, err)

	c.Logout()
	assert.False(t, c.IsLoggedIn())

	assert.Equal(t, []string{"@terminal", "alice@terminal", "root@terminal", "@terminal", ""}, rec.seen())
}

func TestCoordinator_LoginClientWithoutLocalKey(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(h.auth)

	assert.ErrorIs(t, c.LoginClient(context.Background(), "terminal"), ErrAuthenticationFailed)
	assert.ErrorIs(t, NewCoordinator(h.auth, nil).LoginClient(context.Background(), "terminal"), ErrAuthenticationFailed)
}

func TestCoordinator_Observers(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(h.auth)
	ctx := context.Background()
	first, second := &recorder{}, &recorder{}

	c.AddLoginObserver(first.observe)
	id := c.AddLoginObserver(second.observe)

	require.NoError(t, c.Login(ctx, "root", "toor"))
	c.RemoveLoginObserver(id)
	c.Logout()
	c.Logout()

	assert.Equal(t, []string{"root@", ""}, first.seen())
	assert.Equal(t, []string{"root@"}, second.seen())

	// Observers may call back into the coordinator.
	var loggedIn bool
	c.AddLoginObserver(func(string) { loggedIn = c.IsLoggedIn() })
	require.NoError(t, c.Login(ctx, "root", "toor"))
	assert.True(t, loggedIn)
}

// TestPurpose: Validates administrator credential management through the coordinator.
// Scope: Unit Test
// Security: Administrators cannot lock themselves out; removed users cannot log in
// Expected: Self removal fails; removed users fail to log in; promoted users become administrators.
// Test Case ID: SES-03
func TestCoordinator_CredentialManagement(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(h.auth)
	ctx := context.Background()

	require.NoError(t, c.Login(ctx, "root", "toor"))
	require.NoError(t, c.RegisterUser(ctx, "alice", "wonderland", false))
	require.NoError(t, c.RegisterUser(ctx, "bob", "builder", false))
	assert.ErrorIs(t, c.RegisterUser(ctx, "bob", "again", false), authority.ErrAlreadyExists)

	assert.ErrorIs(t, c.RemoveUser(ctx, "root"), ErrSelfRemovalDenied)
	require.NoError(t, c.RemoveUser(ctx, "bob"))
	require.NoError(t, c.SetAdministrator(ctx, "alice", true))

	other := h.coordinator(h.auth)
	assert.ErrorIs(t, other.Login(ctx, "bob", "builder"), ErrAuthenticationFailed)
	require.NoError(t, other.Login(ctx, "alice", "wonderland"))
	assert.True(t, other.IsAdmin(ctx))

	require.NoError(t, other.ChangePassword(ctx, "alice", "wonderland", "looking-glass"))
	other.Logout()
	assert.ErrorIs(t, other.Login(ctx, "alice", "wonderland"), ErrAuthenticationFailed)
	require.NoError(t, other.Login(ctx, "alice", "looking-glass"))
}

// TestPurpose: Validates that renewal slides the ticket window and that unrenewed sessions expire.
// Scope: Unit Test
// Security: Sessions must not outlive their ticket without proof of key possession
// Expected: Renewed sessions stay valid past the lifetime; unrenewed sessions report logged out.
// Test Case ID: SES-04
func TestCoordinator_Renew(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(h.auth)
	ctx := context.Background()
	rec := &recorder{}
	c.AddLoginObserver(rec.observe)

	require.NoError(t, c.Login(ctx, "root", "toor"))
	for i := 0; i < 3; i++ {
		h.clock.Advance(10 * time.Minute)
		require.NoError(t, c.Renew(ctx), "renewal %d", i)
	}

	env, err := c.Authenticate()
	require.NoError(t, err)
	_, err = h.auth.ValidateClientServerTicket(ctx, env)
	require.NoError(t, err)

	h.clock.Advance(ticket.DefaultLifetime + time.Millisecond)
	assert.False(t, c.IsLoggedIn())
	assert.Equal(t, []string{"root@", ""}, rec.seen())
}

// tamperingAuthority replays a stale authenticator instead of echoing the one
// it was sent.
type tamperingAuthority struct {
	Authority
	replay []byte
}

func (a *tamperingAuthority) ValidateClientServerTicket(ctx context.Context, env ticket.Envelope) (ticket.Envelope, error) {
	echo, err := a.Authority.ValidateClientServerTicket(ctx, env)
	if err != nil || a.replay == nil {
		return echo, err
	}
	echo.Authenticator = a.replay
	return echo, nil
}

func TestCoordinator_RenewRejectsWrongEcho(t *testing.T) {
	h := newHarness(t)
	tamper := &tamperingAuthority{Authority: h.auth}
	c := h.coordinator(tamper)
	ctx := context.Background()

	require.NoError(t, c.Login(ctx, "root", "toor"))
	before, ok := c.Envelope()
	require.True(t, ok)
	tamper.replay = before.Authenticator

	h.clock.Advance(time.Minute)
	assert.ErrorIs(t, c.Renew(ctx), ErrServerAuthenticationFailed)

	after, ok := c.Envelope()
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.True(t, c.IsLoggedIn())
}

func TestCoordinator_KeepAlive(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(h.auth, WithRenewInterval(5*time.Minute))
	ctx := context.Background()

	require.NoError(t, c.Login(ctx, "root", "toor"))
	before, _ := c.Envelope()

	c.Start(ctx)
	t.Cleanup(c.Close)

	h.clock.Advance(5 * time.Minute)
	assert.Eventually(t, func() bool {
		after, ok := c.Envelope()
		return ok && !bytes.Equal(before.Ticket, after.Ticket)
	}, time.Second, 10*time.Millisecond)

	c.Close()
	c.Close()
}

func TestNewCoordinator_ClampsRenewInterval(t *testing.T) {
	c := NewCoordinator(nil, nil, WithRenewInterval(time.Hour))
	assert.Equal(t, ticket.DefaultLifetime/3, c.renewInterval)
}

// TestPurpose: Validates that a tiny ticket lifetime still yields a usable keep-alive interval.
// Scope: Unit Test
// Security: A misconfigured lifetime must not crash the session keep-alive
// Expected: The renew interval is clamped to a positive minimum and Start/Close succeed.
// Test Case ID: SES-06
func TestNewCoordinator_MinimumRenewInterval(t *testing.T) {
	for _, lifetime := range []time.Duration{time.Nanosecond, 2 * time.Nanosecond, 3 * time.Nanosecond} {
		c := NewCoordinator(nil, nil, WithLifetime(lifetime), WithClock(clock.NewFake(time.Now())))
		assert.Equal(t, minRenewInterval, c.renewInterval, lifetime.String())
		assert.NotPanics(t, func() {
			c.Start(context.Background())
			c.Close()
		})
	}
}
