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

package identity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/opentrusty/ticketd/internal/audit"
	"github.com/opentrusty/ticketd/internal/credential"
	"github.com/opentrusty/ticketd/internal/crypto"
)

const (
	EnvBootstrapAdminID       = "TICKETD_BOOTSTRAP_ADMIN_ID"
	EnvBootstrapAdminPassword = "TICKETD_BOOTSTRAP_ADMIN_PASSWORD"
)

// BootstrapService provisions the first administrator of an empty vault
type BootstrapService struct {
	vault       credential.Vault
	deriver     *crypto.KeyDeriver
	auditLogger audit.Logger
	getenv      func(string) string
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(vault credential.Vault, deriver *crypto.KeyDeriver, auditLogger audit.Logger) *BootstrapService {
	return &BootstrapService{
		vault:       vault,
		deriver:     deriver,
		auditLogger: auditLogger,
		getenv:      os.Getenv,
	}
}

// Bootstrap creates the administrator named by the environment unless the
// vault already has one. It returns true when an administrator was created.
func (s *BootstrapService) Bootstrap(ctx context.Context) (bool, error) {
	id := strings.TrimSpace(s.getenv(EnvBootstrapAdminID))
	password := s.getenv(EnvBootstrapAdminPassword)

	if id == "" {
		return false, nil
	}
	if strings.Contains(id, Separator) {
		return false, fmt.Errorf("bootstrap administrator id %q must not contain %q", id, Separator)
	}
	if password == "" {
		return false, fmt.Errorf("%s is set but %s is empty", EnvBootstrapAdminID, EnvBootstrapAdminPassword)
	}

	// 1. Skip if any administrator already exists
	n, err := s.vault.AdminCount(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check for existing administrators: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	// 2. Store the password derived key, promoting an existing record
	if err := s.vault.Put(ctx, credential.Record{
		ID:        id,
		Secret:    s.deriver.Derive(id, password),
		Admin:     true,
		Symmetric: true,
	}); err != nil {
		return false, fmt.Errorf("failed to store bootstrap administrator: %w", err)
	}

	// 3. Record audit log
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAdminBootstrapped,
		ActorID:  audit.ActorSystemBootstrap,
		Resource: audit.ResourceCredential,
		Metadata: map[string]any{
			audit.AttrTarget: id,
		},
	})

	slog.InfoContext(ctx, "bootstrapped initial administrator", slog.String("identity", User(id).String()))
	return true, nil
}
