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

package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that symmetric sealing round-trips and rejects wrong keys and tampering.
// Scope: Unit Test
// Security: Session keys and tickets must only open under the key they were sealed with
// Expected: Decrypt returns the plaintext for the right key and ErrDecrypt otherwise.
// Test Case ID: CRY-01
func TestSymmetric_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	require.Len(t, key, KeySize)

	sealed, err := Encrypt([]byte("session key"), key)
	require.NoError(t, err)

	plain, err := Decrypt(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, "session key", string(plain))

	other, err := GenerateKey()
	require.NoError(t, err)
	_, err = Decrypt(sealed, other)
	assert.ErrorIs(t, err, ErrDecrypt)

	sealed[len(sealed)-1] ^= 0xff
	_, err = Decrypt(sealed, key)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = Decrypt([]byte("short"), key)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestSymmetric_InvalidKey(t *testing.T) {
	_, err := Encrypt([]byte("x"), []byte("too short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

// TestPurpose: Validates that asymmetric sealing to an age recipient only opens with its identity.
// Scope: Unit Test
// Security: Password-less clients recover session keys with their private key only
// Expected: Open succeeds with the matching identity and fails with another one.
// Test Case ID: CRY-02
func TestAsymmetric_RoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	require.NoError(t, ValidateRecipient(kp.Recipient))

	sealed, err := Seal([]byte("tgs session key"), kp.Recipient)
	require.NoError(t, err)

	plain, err := Open(sealed, kp.Identity)
	require.NoError(t, err)
	assert.Equal(t, "tgs session key", string(plain))

	stranger, err := GenerateKeypair()
	require.NoError(t, err)
	_, err = Open(sealed, stranger.Identity)
	assert.ErrorIs(t, err, ErrDecrypt)

	assert.Error(t, ValidateRecipient("not-a-recipient"))
}

// TestPurpose: Validates that password derivation is deterministic and bound to the identity.
// Scope: Unit Test
// Security: Two users with the same password must not share a secret
// Expected: Same inputs give the same key, different ids or passwords give different keys.
// Test Case ID: CRY-03
func TestKeyDeriver_Derive(t *testing.T) {
	d := NewKeyDeriver(1024, 1, 1)

	a := d.Derive("alice", "pw")
	assert.Len(t, a, KeySize)
	assert.Equal(t, a, d.Derive("alice", "pw"))
	assert.NotEqual(t, a, d.Derive("bob", "pw"))
	assert.NotEqual(t, a, d.Derive("alice", "pw2"))
}

func TestFingerprint(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	fp := Fingerprint(key)
	assert.Len(t, fp, 16)
	assert.Equal(t, fp, Fingerprint(key))
	assert.Empty(t, Fingerprint(nil))
}
