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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/ticketd/internal/credential"
)

// CredentialRepository implements credential.Vault
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Get retrieves a credential record by id
func (r *CredentialRepository) Get(ctx context.Context, id string) (*credential.Record, error) {
	var rec credential.Record
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, secret, is_admin, symmetric
		FROM credentials
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.Secret, &rec.Admin, &rec.Symmetric)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, credential.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	return &rec, nil
}

// Put inserts or replaces a credential record
func (r *CredentialRepository) Put(ctx context.Context, rec credential.Record) error {
	if rec.ID == "" {
		return credential.ErrEmptyID
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO credentials (id, secret, is_admin, symmetric)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			secret = EXCLUDED.secret,
			is_admin = EXCLUDED.is_admin,
			symmetric = EXCLUDED.symmetric,
			updated_at = NOW()
	`, rec.ID, rec.Secret, rec.Admin, rec.Symmetric)

	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	return nil
}

// Remove deletes a credential record
func (r *CredentialRepository) Remove(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}

	if result.RowsAffected() == 0 {
		return credential.ErrNotFound
	}

	return nil
}

// IsAdmin reports whether id is an administrator. Lookup failures count as
// not an administrator.
func (r *CredentialRepository) IsAdmin(ctx context.Context, id string) bool {
	var admin bool
	err := r.db.pool.QueryRow(ctx, `SELECT is_admin FROM credentials WHERE id = $1`, id).Scan(&admin)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			slog.WarnContext(ctx, "failed to read administrator flag", slog.String("identity", id), slog.Any("error", err))
		}
		return false
	}
	return admin
}

// AdminCount returns the number of administrators
func (r *CredentialRepository) AdminCount(ctx context.Context) (int, error) {
	var n int
	if err := r.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM credentials WHERE is_admin`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count administrators: %w", err)
	}
	return n, nil
}
