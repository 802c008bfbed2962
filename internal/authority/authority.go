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

// Package authority implements the server side of the ticket handshake: the
// key distribution center (KDC), the ticket granting service (TGS) and the
// service server (SS) validation step.
package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/opentrusty/ticketd/internal/audit"
	"github.com/opentrusty/ticketd/internal/clock"
	"github.com/opentrusty/ticketd/internal/credential"
	"github.com/opentrusty/ticketd/internal/crypto"
	"github.com/opentrusty/ticketd/internal/identity"
	"github.com/opentrusty/ticketd/internal/observability/logger"
	"github.com/opentrusty/ticketd/internal/observability/metrics"
	"github.com/opentrusty/ticketd/internal/ticket"
)

// Protocol steps, used in logs, spans and metrics.
const (
	StepKDC = "kdc"
	StepTGS = "tgs"
	StepSS  = "ss"
)

// Authority issues and validates tickets. Its two service secrets live only
// in memory for the lifetime of the instance, so every ticket it issued
// becomes unusable when it is discarded.
type Authority struct {
	vault    credential.Vault
	keys     KeyStore
	clock    clock.Clock
	lifetime time.Duration

	tgsSecret []byte
	ssSecret  []byte

	logger      *slog.Logger
	auditLogger audit.Logger
	tracer      trace.Tracer
	instruments *metrics.TicketInstruments
}

// Option configures an Authority.
type Option func(*Authority)

func WithClock(c clock.Clock) Option {
	return func(a *Authority) { a.clock = c }
}

// WithLifetime overrides the ticket validity window.
func WithLifetime(d time.Duration) Option {
	return func(a *Authority) { a.lifetime = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Authority) { a.logger = l }
}

func WithAuditLogger(l audit.Logger) Option {
	return func(a *Authority) { a.auditLogger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(a *Authority) { a.tracer = t }
}

func WithInstruments(i *metrics.TicketInstruments) Option {
	return func(a *Authority) { a.instruments = i }
}

// New creates an Authority with freshly generated service secrets.
func New(vault credential.Vault, keys KeyStore, opts ...Option) (*Authority, error) {
	a := &Authority{
		vault:       vault,
		keys:        keys,
		clock:       clock.Real(),
		lifetime:    ticket.DefaultLifetime,
		logger:      slog.Default(),
		auditLogger: audit.NewSlogLogger(),
		tracer:      otel.Tracer("github.com/opentrusty/ticketd/internal/authority"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.lifetime <= 0 {
		return nil, fmt.Errorf("ticket lifetime must be positive, got %s", a.lifetime)
	}
	if a.instruments == nil {
		m := noop.NewMeterProvider().Meter("authority")
		a.instruments = &metrics.TicketInstruments{}
		a.instruments.Issued, _ = m.Int64Counter("noop")
		a.instruments.Rejected, _ = m.Int64Counter("noop")
		a.instruments.Duration, _ = m.Float64Histogram("noop")
	}
	a.logger = a.logger.With(logger.Component("authority"))

	var err error
	if a.tgsSecret, err = crypto.GenerateKey(); err != nil {
		return nil, fmt.Errorf("failed to generate TGS secret: %w", err)
	}
	if a.ssSecret, err = crypto.GenerateKey(); err != nil {
		return nil, fmt.Errorf("failed to generate SS secret: %w", err)
	}
	return a, nil
}

// Lifetime returns the validity window length of issued tickets.
func (a *Authority) Lifetime() time.Duration { return a.lifetime }

// RequestTicketGrantingTicket is the KDC step. The returned session key is
// sealed with the stored secret of the identity, so only its legitimate
// holder can use the ticket.
func (a *Authority) RequestTicketGrantingTicket(ctx context.Context, id string) (*ticket.Grant, error) {
	ctx, span := a.tracer.Start(ctx, "authority.RequestTicketGrantingTicket")
	defer span.End()
	defer a.observe(ctx, StepKDC, a.clock.Now())

	ident := identity.Parse(id)
	if ident.IsZero() {
		return nil, a.reject(ctx, span, StepKDC, id, fmt.Errorf("%w: empty identity", ErrUnknownIdentity))
	}

	rec, err := a.vault.Get(ctx, ident.Principal())
	if err != nil {
		return nil, a.reject(ctx, span, StepKDC, id, a.lookupError(ident.Principal(), err))
	}
	if ident.Kind() == identity.KindComposite {
		if _, err := a.vault.Get(ctx, ident.ClientID()); err != nil {
			return nil, a.reject(ctx, span, StepKDC, id, a.lookupError(ident.ClientID(), err))
		}
	}

	name := ident.String()
	sessionKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := a.keys.Put(ctx, TableTGS, name, sessionKey); err != nil {
		return nil, fmt.Errorf("failed to store TGS session key: %w", err)
	}

	sealedTicket, err := ticket.SealTicket(ticket.Ticket{
		Identity:   name,
		Validity:   ticket.NewValidity(a.clock.Now(), a.lifetime),
		SessionKey: sessionKey,
	}, a.tgsSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to seal ticket granting ticket: %w", err)
	}

	sealedKey, err := sealFor(rec, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal session key for %s: %w", name, err)
	}

	a.issued(ctx, StepKDC, name, sessionKey, audit.ResourceTicketGrantingTicket)
	return &ticket.Grant{Ticket: sealedTicket, SessionKey: sealedKey}, nil
}

// RequestClientServerTicket is the TGS step. It exchanges a valid ticket
// granting ticket for a client-server ticket; the new session key is sealed
// with the TGS session key the caller just proved it holds.
func (a *Authority) RequestClientServerTicket(ctx context.Context, env ticket.Envelope) (*ticket.Grant, error) {
	ctx, span := a.tracer.Start(ctx, "authority.RequestClientServerTicket")
	defer span.End()
	defer a.observe(ctx, StepTGS, a.clock.Now())

	tgt, tgsKey, err := a.validate(ctx, env, a.tgsSecret, TableTGS)
	if err != nil {
		return nil, a.reject(ctx, span, StepTGS, "", err)
	}

	ssKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := a.keys.Put(ctx, TableSS, tgt.Identity, ssKey); err != nil {
		return nil, fmt.Errorf("failed to store SS session key: %w", err)
	}

	sealedTicket, err := ticket.SealTicket(ticket.Ticket{
		Identity:   tgt.Identity,
		Validity:   ticket.NewValidity(a.clock.Now(), a.lifetime),
		SessionKey: ssKey,
	}, a.ssSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to seal client server ticket: %w", err)
	}

	sealedKey, err := crypto.Encrypt(ssKey, tgsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal SS session key: %w", err)
	}

	a.issued(ctx, StepTGS, tgt.Identity, ssKey, audit.ResourceClientServerTicket)
	return &ticket.Grant{Ticket: sealedTicket, SessionKey: sealedKey}, nil
}

// ValidateClientServerTicket is the SS step, run on every authenticated
// request. The ticket window slides forward and the authenticator is echoed
// untouched so the caller can check that the responder holds its session key.
func (a *Authority) ValidateClientServerTicket(ctx context.Context, env ticket.Envelope) (ticket.Envelope, error) {
	ctx, span := a.tracer.Start(ctx, "authority.ValidateClientServerTicket")
	defer span.End()
	defer a.observe(ctx, StepSS, a.clock.Now())

	cst, _, err := a.validate(ctx, env, a.ssSecret, TableSS)
	if err != nil {
		return ticket.Envelope{}, a.reject(ctx, span, StepSS, "", err)
	}

	cst.Validity = ticket.NewValidity(a.clock.Now(), a.lifetime)
	sealedTicket, err := ticket.SealTicket(*cst, a.ssSecret)
	if err != nil {
		return ticket.Envelope{}, fmt.Errorf("failed to seal client server ticket: %w", err)
	}

	a.instruments.Issued.Add(ctx, 1, metric.WithAttributes(attribute.String("step", StepSS)))
	a.logger.DebugContext(ctx, "client server ticket renewed", logger.Identity(cst.Identity))
	return ticket.Envelope{Ticket: sealedTicket, Authenticator: env.Authenticator}, nil
}

// validate opens both halves of env and checks that they belong together.
// It returns the opened ticket and the session key the authenticator was
// sealed with.
func (a *Authority) validate(ctx context.Context, env ticket.Envelope, secret []byte, table Table) (*ticket.Ticket, []byte, error) {
	tk, err := ticket.OpenTicket(env.Ticket, secret)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedTicket, err)
	}

	sessionKey, err := a.keys.Get(ctx, table, tk.Identity)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownSession, tk.Identity)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session key: %w", err)
	}

	auth, err := ticket.OpenAuthenticator(env.Authenticator, sessionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedAuthenticator, err)
	}

	if auth.Identity != tk.Identity {
		return nil, nil, fmt.Errorf("%w: ticket %q, authenticator %q", ErrIdentityMismatch, tk.Identity, auth.Identity)
	}
	if !tk.Validity.Contains(auth.Timestamp) {
		return nil, nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrTicketExpired, auth.Timestamp, tk.Validity.Begin, tk.Validity.End)
	}
	return tk, sessionKey, nil
}

func (a *Authority) lookupError(id string, err error) error {
	if errors.Is(err, credential.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownIdentity, id)
	}
	return fmt.Errorf("failed to look up credentials: %w", err)
}

// sealFor seals key so that only the holder of rec's secret can open it.
func sealFor(rec *credential.Record, key []byte) ([]byte, error) {
	if rec.Symmetric {
		return crypto.Encrypt(key, rec.Secret)
	}
	return crypto.Seal(key, string(rec.Secret))
}

func (a *Authority) issued(ctx context.Context, step, name string, key []byte, resource string) {
	fp := crypto.Fingerprint(key)
	a.instruments.Issued.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
	a.logger.InfoContext(ctx, "ticket issued", logger.Step(step), logger.Identity(name), logger.Fingerprint(fp))
	a.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTicketGranted,
		ActorID:  name,
		Resource: resource,
		Metadata: map[string]any{
			audit.AttrStep:        step,
			audit.AttrFingerprint: fp,
		},
	})
}

func (a *Authority) reject(ctx context.Context, span trace.Span, step, id string, err error) error {
	code := CodeOf(err)
	if code == "" {
		code = "internal"
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, code)
	a.instruments.Rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("code", code),
	))
	a.logger.WarnContext(ctx, "ticket request rejected",
		logger.Step(step), logger.Identity(id), logger.Code(code), logger.Error(err))
	a.auditLogger.Log(ctx, audit.Event{
		Type:    audit.TypeTicketRejected,
		ActorID: id,
		Metadata: map[string]any{
			audit.AttrStep: step,
			audit.AttrCode: code,
		},
	})
	return err
}

func (a *Authority) observe(ctx context.Context, step string, start time.Time) {
	elapsed := a.clock.Now().Sub(start)
	a.instruments.Duration.Record(ctx, float64(elapsed.Microseconds())/1000,
		metric.WithAttributes(attribute.String("step", step)))
}
