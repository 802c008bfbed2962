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
	"context"
	"errors"
	"fmt"

	"github.com/opentrusty/ticketd/internal/authority"
	"github.com/opentrusty/ticketd/internal/credential"
	"github.com/opentrusty/ticketd/internal/crypto"
	"github.com/opentrusty/ticketd/internal/observability/logger"
	"github.com/opentrusty/ticketd/internal/ticket"
)

// requireAdmin fails with ErrPermissionDenied before any mutating request
// unless the current session belongs to an administrator.
func (c *Coordinator) requireAdmin(ctx context.Context) (*state, error) {
	st, err := c.snapshot()
	if err != nil {
		return nil, ErrPermissionDenied
	}
	env, err := c.envelopeFor(st)
	if err != nil {
		return nil, err
	}
	admin, err := c.auth.IsAdmin(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("failed to check administrator flag: %w", err)
	}
	if !admin {
		return nil, ErrPermissionDenied
	}
	return st, nil
}

func (c *Coordinator) sealed(st *state, secret []byte) ([]byte, error) {
	if secret == nil {
		return nil, nil
	}
	return crypto.Encrypt(secret, st.sessionKey)
}

// RegisterUser registers a password identity.
func (c *Coordinator) RegisterUser(ctx context.Context, id, password string, admin bool) error {
	st, err := c.requireAdmin(ctx)
	if err != nil {
		return err
	}
	secret, err := c.sealed(st, c.deriver.Derive(id, password))
	if err != nil {
		return err
	}
	env, err := c.envelopeFor(st)
	if err != nil {
		return err
	}
	return c.auth.Register(ctx, env, authority.Registration{
		ID:        id,
		Secret:    secret,
		Admin:     admin,
		Symmetric: true,
	})
}

// RegisterClient generates an age keypair for a new client, registers its
// recipient with the authority and keeps the private identity in the local
// vault so LoginClient can use it later.
func (c *Coordinator) RegisterClient(ctx context.Context, id string, admin bool) error {
	if c.local == nil {
		return errors.New("no local credential store for client keys")
	}
	st, err := c.requireAdmin(ctx)
	if err != nil {
		return err
	}
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		return err
	}
	secret, err := c.sealed(st, []byte(kp.Recipient))
	if err != nil {
		return err
	}
	env, err := c.envelopeFor(st)
	if err != nil {
		return err
	}
	if err := c.auth.Register(ctx, env, authority.Registration{ID: id, Secret: secret, Admin: admin}); err != nil {
		return err
	}

	if err := c.local.Put(ctx, credential.Record{ID: id, Secret: []byte(kp.Identity)}); err != nil {
		// Without the private key the registration is useless.
		if env, envErr := c.envelopeFor(st); envErr == nil {
			if rmErr := c.auth.RemoveCredentials(ctx, env, id); rmErr != nil {
				c.logger.ErrorContext(ctx, "failed to roll back client registration", logger.ClientID(id), logger.Error(rmErr))
			}
		}
		return fmt.Errorf("failed to store client key: %w", err)
	}
	return nil
}

// SetAdministrator changes the administrator flag of id.
func (c *Coordinator) SetAdministrator(ctx context.Context, id string, admin bool) error {
	st, err := c.requireAdmin(ctx)
	if err != nil {
		return err
	}
	env, err := c.envelopeFor(st)
	if err != nil {
		return err
	}
	return c.auth.SetAdministrator(ctx, env, id, admin)
}

// RemoveUser removes the credentials of id. The logged in administrator
// cannot remove itself.
func (c *Coordinator) RemoveUser(ctx context.Context, id string) error {
	st, err := c.requireAdmin(ctx)
	if err != nil {
		return err
	}
	if id == st.identity.Principal() {
		return ErrSelfRemovalDenied
	}
	env, err := c.envelopeFor(st)
	if err != nil {
		return err
	}
	if err := c.auth.RemoveCredentials(ctx, env, id); err != nil {
		return err
	}
	if c.local != nil {
		if err := c.local.Remove(ctx, id); err != nil && !errors.Is(err, credential.ErrNotFound) {
			c.logger.WarnContext(ctx, "failed to remove local client key", logger.ClientID(id), logger.Error(err))
		}
	}
	return nil
}

// ChangePassword sets a new password for id. Users changing their own
// password must give the current one; administrators may pass "" to reset
// someone else's.
func (c *Coordinator) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	st, err := c.snapshot()
	if err != nil {
		return err
	}

	var oldSecret []byte
	if oldPassword != "" {
		if oldSecret, err = c.sealed(st, c.deriver.Derive(id, oldPassword)); err != nil {
			return err
		}
	}
	newSecret, err := c.sealed(st, c.deriver.Derive(id, newPassword))
	if err != nil {
		return err
	}

	var env ticket.Envelope
	if env, err = c.envelopeFor(st); err != nil {
		return err
	}
	return c.auth.ChangeCredentials(ctx, env, id, oldSecret, newSecret)
}
