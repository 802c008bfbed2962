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
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/ticketd/internal/audit"
	"github.com/opentrusty/ticketd/internal/authority"
	"github.com/opentrusty/ticketd/internal/credential"
	"github.com/opentrusty/ticketd/internal/crypto"
	"github.com/opentrusty/ticketd/internal/permission"
	"github.com/opentrusty/ticketd/internal/registry"
)

var testDeriver = crypto.NewKeyDeriver(1024, 1, 1)

const testRegistry = `
units:
  - id: home
    type: LOCATION
    root: true
    permission:
      owner_id: root
      owner: {read: true, write: true, access: true}
      other: {read: true, write: false, access: false}
  - id: vault
    type: LOCATION
    location_id: home
    permission:
      owner_id: root
      owner: {read: true, write: true, access: true}
      other: {read: false, write: false, access: false}
  - id: lamp
    type: DEVICE
    location_id: home
`

type recordingAuditLogger struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *recordingAuditLogger) Log(_ context.Context, e audit.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recordingAuditLogger) ofType(typ string) []audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []audit.Event
	for _, e := range l.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type testServer struct {
	router http.Handler
	vault  *credential.MemoryVault
	audit  *recordingAuditLogger
	srv    *httptest.Server
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()
	vault := credential.NewMemoryVault()
	require.NoError(t, vault.Put(context.Background(), credential.Record{
		ID: "root", Secret: testDeriver.Derive("root", "toor"), Admin: true, Symmetric: true,
	}))

	al := &recordingAuditLogger{}
	auth, err := authority.New(vault, authority.NewMemoryKeyStore(), authority.WithAuditLogger(al))
	require.NoError(t, err)

	reg, err := registry.Parse([]byte(testRegistry))
	require.NoError(t, err)

	if limiter == nil {
		limiter = NewRateLimiter(1000, 1000)
	}
	router := NewRouter(NewHandler(auth, reg, permission.NewResolver(slog.Default()), al), limiter)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{router: router, vault: vault, audit: al, srv: srv}
}

func (s *testServer) post(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// TestPurpose: Validates that malformed request bodies are rejected without leaking internals.
// Scope: Unit Test
// Security: Information disclosure prevention (CWE-209)
// Expected: HTTP 400 with code invalid_body and no stack or path fragments in the body.
// Test Case ID: HTP-01
func TestHandler_MalformedBody(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{
		"/v1/tickets/grant",
		"/v1/tickets/client-server",
		"/v1/tickets/validate",
		"/v1/credentials",
		"/v1/permissions/check",
	} {
		t.Run(path, func(t *testing.T) {
			w := s.post(path, `{invalid}`)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, codeInvalidBody, decodeErrorBody(t, w).Error)

			body := strings.ToLower(w.Body.String())
			for _, pattern := range []string{"panic", "goroutine", "runtime.", ".go:", "/home/"} {
				assert.NotContains(t, body, pattern)
			}
		})
	}
}

// TestPurpose: Validates that protocol errors surface with their stable codes and statuses.
// Scope: Unit Test
// Security: Clients must be able to tell rejected tickets from server faults
// Expected: Unknown identities are 404, forged tickets 401.
// Test Case ID: HTP-02
func TestHandler_ProtocolErrors(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.post("/v1/tickets/grant", `{"identity":"nobody@"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, authority.ErrUnknownIdentity.Code, decodeErrorBody(t, w).Error)

	w = s.post("/v1/tickets/validate", `{"ticket":"AAEC","authenticator":"AAEC"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, authority.ErrMalformedTicket.Code, decodeErrorBody(t, w).Error)

	w = s.post("/v1/credentials/admin-check", `{"envelope":{"ticket":"AAEC","authenticator":"AAEC"}}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_GrantTicket(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.post("/v1/tickets/grant", `{"identity":"root"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var grant struct {
		Ticket     []byte `json:"ticket"`
		SessionKey []byte `json:"session_key"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &grant))
	assert.NotEmpty(t, grant.Ticket)

	key, err := crypto.Decrypt(grant.SessionKey, testDeriver.Derive("root", "toor"))
	require.NoError(t, err)
	assert.Len(t, key, crypto.KeySize)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  *authority.Error
		want int
	}{
		{authority.ErrUnknownIdentity, http.StatusNotFound},
		{authority.ErrUnknownSession, http.StatusUnauthorized},
		{authority.ErrIdentityMismatch, http.StatusUnauthorized},
		{authority.ErrMalformedTicket, http.StatusUnauthorized},
		{authority.ErrMalformedAuthenticator, http.StatusUnauthorized},
		{authority.ErrMalformedPayload, http.StatusBadRequest},
		{authority.ErrTicketExpired, http.StatusUnauthorized},
		{authority.ErrPermissionDenied, http.StatusForbidden},
		{authority.ErrSelfRemovalDenied, http.StatusForbidden},
		{authority.ErrAlreadyExists, http.StatusConflict},
		{authority.ErrInvalidRequest, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

// TestPurpose: Validates that JSON responses include the application/json Content-Type header.
// Scope: Unit Test
// Security: Prevents MIME sniffing attacks
// Expected: Content-Type header contains "application/json" and the body reports healthy.
// Test Case ID: HTP-03
func TestHandler_HealthCheck(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

// TestPurpose: Validates per-IP rate limiting on the ticket endpoints.
// Scope: Unit Test
// Security: Bounds password guessing against the KDC step
// Expected: Requests beyond the burst get HTTP 429; other IPs and other routes are unaffected.
// Test Case ID: HTP-04
func TestRateLimit(t *testing.T) {
	s := newTestServer(t, NewRateLimiter(0.001, 1))

	grant := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/tickets/grant", bytes.NewReader([]byte(`{"identity":"root"}`)))
		req.RemoteAddr = ip + ":4242"
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, grant("192.0.2.1"))
	assert.Equal(t, http.StatusTooManyRequests, grant("192.0.2.1"))
	assert.Equal(t, http.StatusOK, grant("192.0.2.2"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.0.2.1:4242"
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	assert.Equal(t, "198.51.100.7", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getClientIP(req))
}
