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

package http

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/ticketd/internal/audit"
	"github.com/opentrusty/ticketd/internal/authority"
	"github.com/opentrusty/ticketd/internal/credential"
	"github.com/opentrusty/ticketd/internal/permission"
	"github.com/opentrusty/ticketd/internal/session"
	"github.com/opentrusty/ticketd/internal/ticket"
)

var _ session.Authority = (*Client)(nil)

func newRemoteCoordinator(s *testServer) (*session.Coordinator, *Client) {
	client := NewClient(s.srv.URL)
	return session.NewCoordinator(client, credential.NewMemoryVault(), session.WithKeyDeriver(testDeriver)), client
}

// TestPurpose: Validates the complete handshake and administration over HTTP.
// Scope: Integration Test (in-process server)
// Security: Remote callers get the same guarantees as in-process callers
// Expected: The admin registers a user, the user logs in, renews and cannot administer.
// Test Case ID: HTP-05
func TestClient_RemoteSession(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, nil)
	c, client := newRemoteCoordinator(s)

	require.NoError(t, client.Health(ctx))

	require.NoError(t, c.Login(ctx, "root", "toor"))
	assert.Equal(t, "root@", c.Identity().String())
	assert.True(t, c.IsAdmin(ctx))

	require.NoError(t, c.RegisterUser(ctx, "alice", "wonderland", false))
	assert.ErrorIs(t, c.RegisterUser(ctx, "alice", "again", false), authority.ErrAlreadyExists)
	require.Len(t, s.audit.ofType(audit.TypeCredentialRegistered), 1)

	require.NoError(t, c.RegisterClient(ctx, "terminal", false))
	require.NoError(t, c.SetAdministrator(ctx, "terminal", true))
	assert.True(t, s.vault.IsAdmin(ctx, "terminal"))

	c.Logout()
	require.NoError(t, c.Login(ctx, "alice", "wonderland"))
	assert.False(t, c.IsAdmin(ctx))
	assert.ErrorIs(t, c.RegisterUser(ctx, "mallory", "x", false), session.ErrPermissionDenied)

	require.NoError(t, c.Renew(ctx))
	require.NoError(t, c.ChangePassword(ctx, "alice", "wonderland", "looking-glass"))

	c.Logout()
	assert.ErrorIs(t, c.Login(ctx, "alice", "wonderland"), session.ErrAuthenticationFailed)
	assert.ErrorIs(t, c.Login(ctx, "nobody", "x"), session.ErrAuthenticationFailed)
	require.NoError(t, c.Login(ctx, "alice", "looking-glass"))

	c.Logout()
	require.NoError(t, c.LoginClient(ctx, "terminal"))
	assert.Equal(t, "@terminal", c.Identity().String())
	require.NoError(t, c.Login(ctx, "alice", "looking-glass"))
	assert.Equal(t, "alice@terminal", c.Identity().String())
}

// TestPurpose: Validates authenticated permission checks against the loaded registry.
// Scope: Integration Test (in-process server)
// Security: Rights follow the location hierarchy; denied reads are audited
// Expected: Owners get full rights, others read only where allowed, unknown units are 404.
// Test Case ID: HTP-06
func TestClient_CheckPermission(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, nil)
	c, client := newRemoteCoordinator(s)

	require.NoError(t, c.Login(ctx, "root", "toor"))
	require.NoError(t, c.RegisterUser(ctx, "alice", "wonderland", false))

	env, err := c.Authenticate()
	require.NoError(t, err)
	rights, err := client.CheckPermission(ctx, env, "lamp")
	require.NoError(t, err)
	assert.Equal(t, permission.Rights{Read: true, Write: true, Access: true}, rights)

	c.Logout()
	require.NoError(t, c.Login(ctx, "alice", "wonderland"))

	env, err = c.Authenticate()
	require.NoError(t, err)
	rights, err = client.CheckPermission(ctx, env, "lamp")
	require.NoError(t, err)
	assert.Equal(t, permission.Rights{Read: true}, rights)

	env, err = c.Authenticate()
	require.NoError(t, err)
	rights, err = client.CheckPermission(ctx, env, "vault")
	require.NoError(t, err)
	assert.Equal(t, permission.Rights{}, rights)

	denied := s.audit.ofType(audit.TypeAccessDenied)
	require.Len(t, denied, 1)
	assert.Equal(t, "alice@", denied[0].ActorID)

	env, err = c.Authenticate()
	require.NoError(t, err)
	_, err = client.CheckPermission(ctx, env, "garage")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, codeUnknownUnit, apiErr.Code)
}

func TestClient_ProtocolErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, nil)
	client := NewClient(s.srv.URL + "/")

	_, err := client.ValidateClientServerTicket(ctx, ticket.Envelope{Ticket: []byte("x"), Authenticator: []byte("y")})
	assert.ErrorIs(t, err, authority.ErrMalformedTicket)

	_, err = client.RequestTicketGrantingTicket(ctx, "nobody")
	assert.ErrorIs(t, err, authority.ErrUnknownIdentity)

	_, err = client.IsAdmin(ctx, ticket.Envelope{})
	assert.Error(t, err)
}
