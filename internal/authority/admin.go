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

package authority

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/opentrusty/ticketd/internal/audit"
	"github.com/opentrusty/ticketd/internal/credential"
	"github.com/opentrusty/ticketd/internal/crypto"
	"github.com/opentrusty/ticketd/internal/identity"
	"github.com/opentrusty/ticketd/internal/observability/logger"
	"github.com/opentrusty/ticketd/internal/ticket"
)

// Registration describes a new credential. Secret is sealed with the
// caller's SS session key; for symmetric records it carries the password
// derived key, otherwise an age recipient.
type Registration struct {
	ID        string
	Secret    []byte
	Admin     bool
	Symmetric bool
}

// Authenticate runs the SS validation on env without renewing it and
// returns the caller identity with the session key it proved to hold.
// Services use it to learn who is calling before authorizing an action.
func (a *Authority) Authenticate(ctx context.Context, env ticket.Envelope) (identity.Identity, []byte, error) {
	tk, key, err := a.validate(ctx, env, a.ssSecret, TableSS)
	if err != nil {
		return identity.Identity{}, nil, err
	}
	return identity.Parse(tk.Identity), key, nil
}

func (a *Authority) requireAdmin(ctx context.Context, env ticket.Envelope) (identity.Identity, []byte, error) {
	caller, key, err := a.Authenticate(ctx, env)
	if err != nil {
		return identity.Identity{}, nil, err
	}
	if !a.vault.IsAdmin(ctx, caller.Principal()) {
		return identity.Identity{}, nil, fmt.Errorf("%w: %s", ErrPermissionDenied, caller)
	}
	return caller, key, nil
}

// IsAdmin reports whether the caller behind env is an administrator.
func (a *Authority) IsAdmin(ctx context.Context, env ticket.Envelope) (bool, error) {
	caller, _, err := a.Authenticate(ctx, env)
	if err != nil {
		return false, err
	}
	return a.vault.IsAdmin(ctx, caller.Principal()), nil
}

// Register stores a new credential. Only administrators may register.
func (a *Authority) Register(ctx context.Context, env ticket.Envelope, reg Registration) error {
	caller, key, err := a.requireAdmin(ctx, env)
	if err != nil {
		return err
	}
	if reg.ID == "" || len(reg.Secret) == 0 {
		return ErrInvalidRequest
	}
	// The separator would make the stored id parse as a different identity.
	if strings.Contains(reg.ID, identity.Separator) {
		return fmt.Errorf("%w: id must not contain %q", ErrInvalidRequest, identity.Separator)
	}
	if credential.Has(ctx, a.vault, reg.ID) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, reg.ID)
	}

	secret, err := crypto.Decrypt(reg.Secret, key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if reg.Symmetric && len(secret) != crypto.KeySize {
		return fmt.Errorf("%w: symmetric secret must be %d bytes", ErrInvalidRequest, crypto.KeySize)
	}
	if !reg.Symmetric {
		if err := crypto.ValidateRecipient(string(secret)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	if err := a.vault.Put(ctx, credential.Record{
		ID:        reg.ID,
		Secret:    secret,
		Admin:     reg.Admin,
		Symmetric: reg.Symmetric,
	}); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	a.logger.InfoContext(ctx, "credential registered", logger.Identity(reg.ID), logger.String("by", caller.String()))
	a.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeCredentialRegistered,
		ActorID:  caller.String(),
		Resource: audit.ResourceCredential,
		Metadata: map[string]any{
			audit.AttrTarget: reg.ID,
			audit.AttrAdmin:  reg.Admin,
		},
	})
	return nil
}

// SetAdministrator changes the admin flag of id.
func (a *Authority) SetAdministrator(ctx context.Context, env ticket.Envelope, id string, admin bool) error {
	caller, _, err := a.requireAdmin(ctx, env)
	if err != nil {
		return err
	}
	if err := credential.SetAdmin(ctx, a.vault, id, admin); err != nil {
		return a.lookupError(id, err)
	}

	a.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAdminChanged,
		ActorID:  caller.String(),
		Resource: audit.ResourceCredential,
		Metadata: map[string]any{
			audit.AttrTarget: id,
			audit.AttrAdmin:  admin,
		},
	})
	return nil
}

// RemoveCredentials deletes the record of id. An administrator cannot remove
// itself.
func (a *Authority) RemoveCredentials(ctx context.Context, env ticket.Envelope, id string) error {
	caller, _, err := a.requireAdmin(ctx, env)
	if err != nil {
		return err
	}
	if id == caller.Principal() {
		return fmt.Errorf("%w: %s", ErrSelfRemovalDenied, id)
	}
	if err := a.vault.Remove(ctx, id); err != nil {
		return a.lookupError(id, err)
	}

	a.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeCredentialRemoved,
		ActorID:  caller.String(),
		Resource: audit.ResourceCredential,
		Metadata: map[string]any{audit.AttrTarget: id},
	})
	return nil
}

// ChangeCredentials replaces the secret of id. Callers may change their own
// secret by presenting the current one; administrators may reset anyone's.
// Both secrets are sealed with the caller's SS session key.
func (a *Authority) ChangeCredentials(ctx context.Context, env ticket.Envelope, id string, oldSecret, newSecret []byte) error {
	caller, key, err := a.Authenticate(ctx, env)
	if err != nil {
		return err
	}

	self := id == caller.Principal()
	if !self && !a.vault.IsAdmin(ctx, caller.Principal()) {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, caller)
	}

	rec, err := a.vault.Get(ctx, id)
	if err != nil {
		return a.lookupError(id, err)
	}

	if self {
		old, err := crypto.Decrypt(oldSecret, key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if subtle.ConstantTimeCompare(old, rec.Secret) != 1 {
			return fmt.Errorf("%w: current secret does not match", ErrPermissionDenied)
		}
	}

	secret, err := crypto.Decrypt(newSecret, key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if rec.Symmetric && len(secret) != crypto.KeySize {
		return fmt.Errorf("%w: symmetric secret must be %d bytes", ErrInvalidRequest, crypto.KeySize)
	}

	if err := credential.SetSecret(ctx, a.vault, id, secret); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return a.lookupError(id, err)
		}
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	a.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeCredentialChanged,
		ActorID:  caller.String(),
		Resource: audit.ResourceCredential,
		Metadata: map[string]any{audit.AttrTarget: id},
	})
	return nil
}
