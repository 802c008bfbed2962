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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/ticketd/internal/audit"
	"github.com/opentrusty/ticketd/internal/authority"
	"github.com/opentrusty/ticketd/internal/observability/logger"
	"github.com/opentrusty/ticketd/internal/permission"
	"github.com/opentrusty/ticketd/internal/registry"
	"github.com/opentrusty/ticketd/internal/ticket"
)

// Error codes that exist only at the HTTP edge.
const (
	codeInvalidBody = "invalid_body"
	codeUnknownUnit = "unknown_unit"
	codeServerError = "server_error"
	codeRateLimited = "rate_limited"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	authority   *authority.Authority
	registry    *registry.Registry
	resolver    *permission.Resolver
	auditLogger audit.Logger
}

// NewHandler creates a new HTTP handler. reg may be nil, in which case every
// permission check reports an unknown unit.
func NewHandler(auth *authority.Authority, reg *registry.Registry, resolver *permission.Resolver, auditLogger audit.Logger) *Handler {
	if reg == nil {
		reg = registry.Empty()
	}
	return &Handler{
		authority:   auth,
		registry:    reg,
		resolver:    resolver,
		auditLogger: auditLogger,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.HealthCheck)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tickets", func(r chi.Router) {
			r.Use(RateLimitMiddleware(rateLimiter))
			r.Post("/grant", h.GrantTicket)
			r.Post("/client-server", h.GrantClientServerTicket)
			r.Post("/validate", h.ValidateTicket)
		})

		r.Route("/credentials", func(r chi.Router) {
			r.Post("/", h.RegisterCredentials)
			r.Post("/admin-check", h.AdminCheck)
			r.Put("/{id}/admin", h.SetAdministrator)
			r.Post("/{id}/change", h.ChangeCredentials)
			r.Post("/{id}/remove", h.RemoveCredentials)
		})

		r.Post("/permissions/check", h.CheckPermission)
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "ticketd",
	})
}

// GrantRequest asks the KDC for a ticket granting ticket.
type GrantRequest struct {
	Identity string `json:"identity"`
}

// RegisterRequest carries a new credential. Secret is sealed with the
// caller's SS session key.
type RegisterRequest struct {
	Envelope  ticket.Envelope `json:"envelope"`
	ID        string          `json:"id"`
	Secret    []byte          `json:"secret"`
	Admin     bool            `json:"admin"`
	Symmetric bool            `json:"symmetric"`
}

// SetAdminRequest changes the admin flag of the credential in the path.
type SetAdminRequest struct {
	Envelope ticket.Envelope `json:"envelope"`
	Admin    bool            `json:"admin"`
}

// ChangeRequest replaces the secret of the credential in the path.
type ChangeRequest struct {
	Envelope  ticket.Envelope `json:"envelope"`
	OldSecret []byte          `json:"old_secret,omitempty"`
	NewSecret []byte          `json:"new_secret"`
}

// EnvelopeRequest is the body of calls that need nothing but a proof of
// identity.
type EnvelopeRequest struct {
	Envelope ticket.Envelope `json:"envelope"`
}

// AdminCheckResponse answers whether the caller is an administrator.
type AdminCheckResponse struct {
	Admin bool `json:"admin"`
}

// PermissionCheckRequest asks for the caller's rights on a unit.
type PermissionCheckRequest struct {
	Envelope ticket.Envelope `json:"envelope"`
	UnitID   string          `json:"unit_id"`
}

// GrantTicket is the KDC step.
func (h *Handler) GrantTicket(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if !decode(w, r, &req) {
		return
	}
	setCaller(r.Context(), req.Identity)

	grant, err := h.authority.RequestTicketGrantingTicket(r.Context(), req.Identity)
	if err != nil {
		respondAuthorityError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, grant)
}

// GrantClientServerTicket is the TGS step.
func (h *Handler) GrantClientServerTicket(w http.ResponseWriter, r *http.Request) {
	var env ticket.Envelope
	if !decode(w, r, &env) {
		return
	}

	grant, err := h.authority.RequestClientServerTicket(r.Context(), env)
	if err != nil {
		respondAuthorityError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, grant)
}

// ValidateTicket is the SS step.
func (h *Handler) ValidateTicket(w http.ResponseWriter, r *http.Request) {
	var env ticket.Envelope
	if !decode(w, r, &env) {
		return
	}

	renewed, err := h.authority.ValidateClientServerTicket(r.Context(), env)
	if err != nil {
		respondAuthorityError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, renewed)
}

// RegisterCredentials stores a new credential.
func (h *Handler) RegisterCredentials(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.authority.Register(r.Context(), req.Envelope, authority.Registration{
		ID:        req.ID,
		Secret:    req.Secret,
		Admin:     req.Admin,
		Symmetric: req.Symmetric,
	})
	if err != nil {
		respondAuthorityError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// SetAdministrator changes the admin flag of a credential.
func (h *Handler) SetAdministrator(w http.ResponseWriter, r *http.Request) {
	var req SetAdminRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.authority.SetAdministrator(r.Context(), req.Envelope, chi.URLParam(r, "id"), req.Admin); err != nil {
		respondAuthorityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangeCredentials replaces the secret of a credential.
func (h *Handler) ChangeCredentials(w http.ResponseWriter, r *http.Request) {
	var req ChangeRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.authority.ChangeCredentials(r.Context(), req.Envelope, chi.URLParam(r, "id"), req.OldSecret, req.NewSecret); err != nil {
		respondAuthorityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveCredentials deletes a credential.
func (h *Handler) RemoveCredentials(w http.ResponseWriter, r *http.Request) {
	var req EnvelopeRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.authority.RemoveCredentials(r.Context(), req.Envelope, chi.URLParam(r, "id")); err != nil {
		respondAuthorityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdminCheck reports whether the caller is an administrator.
func (h *Handler) AdminCheck(w http.ResponseWriter, r *http.Request) {
	var req EnvelopeRequest
	if !decode(w, r, &req) {
		return
	}

	admin, err := h.authority.IsAdmin(r.Context(), req.Envelope)
	if err != nil {
		respondAuthorityError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, AdminCheckResponse{Admin: admin})
}

// CheckPermission authenticates the caller with its client-server ticket
// and resolves its rights on a unit of the loaded registry.
func (h *Handler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var req PermissionCheckRequest
	if !decode(w, r, &req) {
		return
	}

	caller, _, err := h.authority.Authenticate(r.Context(), req.Envelope)
	if err != nil {
		respondAuthorityError(w, r, err)
		return
	}
	setCaller(r.Context(), caller.String())

	unit, ok := h.registry.Unit(req.UnitID)
	if !ok {
		respondError(w, http.StatusNotFound, codeUnknownUnit, "unit is not registered")
		return
	}

	rights := h.resolver.Resolve(unit, caller, h.registry.Snapshot())
	if !rights.Read {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeAccessDenied,
			ActorID:   caller.String(),
			Resource:  audit.ResourceUnit,
			IPAddress: getClientIP(r),
			Metadata:  map[string]any{audit.AttrTarget: unit.ID},
		})
	}
	respondJSON(w, http.StatusOK, rights)
}

// statusFor maps a protocol error onto an HTTP status.
func statusFor(e *authority.Error) int {
	switch {
	case e == authority.ErrUnknownIdentity:
		return http.StatusNotFound
	case e == authority.ErrAlreadyExists:
		return http.StatusConflict
	case e == authority.ErrInvalidRequest, e == authority.ErrMalformedPayload:
		return http.StatusBadRequest
	}

	switch e.Kind {
	case authority.KindIdentity, authority.KindCrypto, authority.KindTemporal:
		return http.StatusUnauthorized
	case authority.KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func respondAuthorityError(w http.ResponseWriter, r *http.Request, err error) {
	var e *authority.Error
	if errors.As(err, &e) {
		respondError(w, statusFor(e), e.Code, e.Description)
		return
	}

	slog.ErrorContext(r.Context(), "request failed",
		logger.Path(r.URL.Path),
		logger.Error(err),
	)
	respondError(w, http.StatusInternalServerError, codeServerError, "internal error")
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidBody, "invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func respondError(w http.ResponseWriter, status int, code, description string) {
	respondJSON(w, status, ErrorResponse{Error: code, Description: description})
}
