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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/ticketd/internal/authority"
	"github.com/opentrusty/ticketd/internal/permission"
	"github.com/opentrusty/ticketd/internal/ticket"
)

// APIError is a failed response whose code is not a protocol error.
type APIError struct {
	Status      int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ticketd: %s: %s (HTTP %d)", e.Code, e.Description, e.Status)
}

// Client talks to a ticketd server. It satisfies session.Authority, so a
// Coordinator can run the handshake over the network exactly as it does in
// process. Protocol errors come back as the authority sentinels.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) RequestTicketGrantingTicket(ctx context.Context, id string) (*ticket.Grant, error) {
	var grant ticket.Grant
	if err := c.do(ctx, http.MethodPost, "/v1/tickets/grant", GrantRequest{Identity: id}, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

func (c *Client) RequestClientServerTicket(ctx context.Context, env ticket.Envelope) (*ticket.Grant, error) {
	var grant ticket.Grant
	if err := c.do(ctx, http.MethodPost, "/v1/tickets/client-server", env, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

func (c *Client) ValidateClientServerTicket(ctx context.Context, env ticket.Envelope) (ticket.Envelope, error) {
	var renewed ticket.Envelope
	if err := c.do(ctx, http.MethodPost, "/v1/tickets/validate", env, &renewed); err != nil {
		return ticket.Envelope{}, err
	}
	return renewed, nil
}

func (c *Client) Register(ctx context.Context, env ticket.Envelope, reg authority.Registration) error {
	return c.do(ctx, http.MethodPost, "/v1/credentials", RegisterRequest{
		Envelope:  env,
		ID:        reg.ID,
		Secret:    reg.Secret,
		Admin:     reg.Admin,
		Symmetric: reg.Symmetric,
	}, nil)
}

func (c *Client) SetAdministrator(ctx context.Context, env ticket.Envelope, id string, admin bool) error {
	return c.do(ctx, http.MethodPut, credentialPath(id, "admin"), SetAdminRequest{Envelope: env, Admin: admin}, nil)
}

func (c *Client) RemoveCredentials(ctx context.Context, env ticket.Envelope, id string) error {
	return c.do(ctx, http.MethodPost, credentialPath(id, "remove"), EnvelopeRequest{Envelope: env}, nil)
}

func (c *Client) ChangeCredentials(ctx context.Context, env ticket.Envelope, id string, oldSecret, newSecret []byte) error {
	return c.do(ctx, http.MethodPost, credentialPath(id, "change"), ChangeRequest{
		Envelope:  env,
		OldSecret: oldSecret,
		NewSecret: newSecret,
	}, nil)
}

func (c *Client) IsAdmin(ctx context.Context, env ticket.Envelope) (bool, error) {
	var resp AdminCheckResponse
	if err := c.do(ctx, http.MethodPost, "/v1/credentials/admin-check", EnvelopeRequest{Envelope: env}, &resp); err != nil {
		return false, err
	}
	return resp.Admin, nil
}

// CheckPermission asks for the rights of the envelope's identity on unitID.
func (c *Client) CheckPermission(ctx context.Context, env ticket.Envelope, unitID string) (permission.Rights, error) {
	var rights permission.Rights
	err := c.do(ctx, http.MethodPost, "/v1/permissions/check", PermissionCheckRequest{Envelope: env, UnitID: unitID}, &rights)
	return rights, err
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func credentialPath(id, action string) string {
	return "/v1/credentials/" + url.PathEscape(id) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(middleware.RequestIDHeader, uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil || body.Error == "" {
		return &APIError{Status: resp.StatusCode, Code: codeServerError, Description: http.StatusText(resp.StatusCode)}
	}
	if e := authority.ErrorByCode(body.Error); e != nil {
		return e
	}
	return &APIError{Status: resp.StatusCode, Code: body.Error, Description: body.Description}
}
