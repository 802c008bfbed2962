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

// Package credential stores the secret material that identities prove
// possession of during the ticket handshake.
package credential

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrNotFound = errors.New("credential not found")
	ErrEmptyID  = errors.New("credential id is empty")
)

// Record is the stored credential of one identity.
//
// For symmetric records Secret is the password derived key. For asymmetric
// records it is the age recipient of the identity on the authority side, and
// the age identity on the client side.
type Record struct {
	ID        string
	Secret    []byte
	Admin     bool
	Symmetric bool
}

func (r Record) clone() *Record {
	r.Secret = append([]byte(nil), r.Secret...)
	return &r
}

// Vault defines the interface for credential persistence
type Vault interface {
	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Put creates or replaces the record. Once Put returns, a following Get
	// observes the new record.
	Put(ctx context.Context, rec Record) error

	// Remove deletes the record or returns ErrNotFound.
	Remove(ctx context.Context, id string) error

	// IsAdmin reports the admin flag of id; absent records are not admins.
	IsAdmin(ctx context.Context, id string) bool

	// AdminCount returns the number of records with the admin flag set.
	AdminCount(ctx context.Context) (int, error)
}

// SetAdmin changes the admin flag of an existing record.
func SetAdmin(ctx context.Context, v Vault, id string, admin bool) error {
	rec, err := v.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.Admin = admin
	if err := v.Put(ctx, *rec); err != nil {
		return fmt.Errorf("failed to update admin flag: %w", err)
	}
	return nil
}

// SetSecret replaces the secret of an existing record and keeps its flags.
func SetSecret(ctx context.Context, v Vault, id string, secret []byte) error {
	rec, err := v.Get(ctx, id)
	if err != nil {
		return err
	}
	rec.Secret = secret
	if err := v.Put(ctx, *rec); err != nil {
		return fmt.Errorf("failed to update secret: %w", err)
	}
	return nil
}

// Has reports whether id has a record. Storage failures count as absent.
func Has(ctx context.Context, v Vault, id string) bool {
	_, err := v.Get(ctx, id)
	return err == nil
}
