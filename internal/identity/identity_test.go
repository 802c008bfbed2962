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
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPurpose: Validates the identity splitting rules at the wire boundary.
// Scope: Unit Test
// Security: Ambiguous identity strings must resolve to exactly one principal
// Expected: Empty halves are absent, a bare string is a client, the first separator wins.
// Test Case ID: IDN-01
func TestParse(t *testing.T) {
	tests := []struct {
		in        string
		kind      Kind
		user      string
		client    string
		canonical string
	}{
		{in: "alice@", kind: KindUser, user: "alice", canonical: "alice@"},
		{in: "@panel", kind: KindClient, client: "panel", canonical: "@panel"},
		{in: "panel", kind: KindClient, client: "panel", canonical: "@panel"},
		{in: "alice@panel", kind: KindComposite, user: "alice", client: "panel", canonical: "alice@panel"},
		{in: "alice@panel@x", kind: KindComposite, user: "alice", client: "panel@x", canonical: "alice@panel@x"},
		{in: "@", kind: KindNone, canonical: ""},
		{in: "", kind: KindNone, canonical: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id := Parse(tt.in)
			assert.Equal(t, tt.kind, id.Kind())
			assert.Equal(t, tt.user, id.UserID())
			assert.Equal(t, tt.client, id.ClientID())
			assert.Equal(t, tt.canonical, id.String())
			assert.Equal(t, id, Parse(id.String()), "canonical form must parse back to the same identity")
		})
	}
}

func TestPrincipalAndSplit(t *testing.T) {
	id := Composite("alice", "panel")
	assert.Equal(t, "alice", id.Principal())

	u, c := id.Split()
	assert.Equal(t, User("alice"), u)
	assert.Equal(t, Client("panel"), c)

	assert.Equal(t, "panel", Client("panel").Principal())
	assert.True(t, Identity{}.IsZero())
}

func TestWithUser(t *testing.T) {
	assert.Equal(t, "bob@panel", Client("panel").WithUser("bob").String())
	assert.Equal(t, "bob@panel", Composite("alice", "panel").WithUser("bob").String())
	assert.Equal(t, "bob@", User("alice").WithUser("bob").String())
}
