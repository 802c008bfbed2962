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

package registry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/ticketd/internal/identity"
	"github.com/opentrusty/ticketd/internal/permission"
)

const sample = `
units:
  - id: home
    type: LOCATION
    root: true
    permission:
      owner_id: admin
      owner: {read: true, write: true, access: true}
      other: {read: true, write: false, access: false}
  - id: kitchen
    type: LOCATION
    location_id: home
    permission:
      other: {read: false, write: false, access: false}
      groups:
        - group_id: family
          permission: {read: true, write: true, access: true}
  - id: family
    type: AUTHORIZATION_GROUP
    members: [alice]
    permission:
      other: {read: true, write: false, access: false}
  - id: lamp
    type: DEVICE
    location_id: kitchen
`

// TestPurpose: Validates that a registry file loads into a snapshot the resolver can use.
// Scope: Unit Test
// Security: Permission decisions depend on the registry being indexed correctly
// Expected: Locations and groups are indexed; family members may write the lamp.
// Test Case ID: REG-01
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, reg.Len())

	snap := reg.Snapshot()
	assert.Len(t, snap.Locations, 2)
	assert.Len(t, snap.Groups, 1)

	home, ok := reg.Unit("home")
	require.True(t, ok)
	assert.True(t, home.Root)
	require.NotNil(t, home.Permission)
	assert.True(t, home.Permission.Other.Complete())

	lamp, ok := reg.Unit("lamp")
	require.True(t, ok)
	assert.Nil(t, lamp.Permission)

	r := permission.NewResolver(slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.True(t, r.CanWrite(lamp, identity.User("alice"), snap))
	assert.False(t, r.CanRead(lamp, identity.User("bob"), snap))
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"not yaml":  "units: [",
		"no id":     "units:\n  - type: DEVICE\n",
		"no type":   "units:\n  - id: lamp\n",
		"duplicate": "units:\n  - {id: lamp, type: DEVICE}\n  - {id: lamp, type: DEVICE}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEmpty(t *testing.T) {
	reg := Empty()
	assert.Equal(t, 0, reg.Len())
	_, ok := reg.Unit("lamp")
	assert.False(t, ok)
}
