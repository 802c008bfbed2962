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
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/argon2"
)

const saltContext = "ticketd password salt v1:"

// KeyDeriver turns a password into the symmetric secret stored in the
// credential vault. Client and authority must agree on the parameters, so
// derivation is deterministic: the salt is bound to the identity instead of
// being random.
type KeyDeriver struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
}

// NewKeyDeriver creates an Argon2id deriver. memory is in KiB.
func NewKeyDeriver(memory, iterations uint32, parallelism uint8) *KeyDeriver {
	return &KeyDeriver{
		memory:      memory,
		iterations:  iterations,
		parallelism: parallelism,
	}
}

// DefaultKeyDeriver uses the RFC 9106 second recommended parameter set.
func DefaultKeyDeriver() *KeyDeriver {
	return NewKeyDeriver(64*1024, 3, 4)
}

// Derive returns a KeySize secret for id and password.
func (d *KeyDeriver) Derive(id, password string) []byte {
	salt := blake3.Sum256([]byte(saltContext + id))
	return argon2.IDKey([]byte(password), salt[:16], d.iterations, d.memory, d.parallelism, KeySize)
}
