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
	"errors"
	"sync"
)

// Table names one of the two session-key tables.
type Table string

const (
	TableTGS Table = "tgs"
	TableSS  Table = "ss"
)

// ErrKeyNotFound is returned by a KeyStore when no key exists for an identity.
var ErrKeyNotFound = errors.New("session key not found")

// KeyStore holds the per-identity session keys issued by the KDC and TGS
// steps. Put overwrites any previous key for the identity.
type KeyStore interface {
	Put(ctx context.Context, table Table, identity string, key []byte) error
	Get(ctx context.Context, table Table, identity string) ([]byte, error)
}

// MemoryKeyStore is a KeyStore local to one process. Lookups for different
// identities never contend on a shared lock.
type MemoryKeyStore struct {
	tables map[Table]*sync.Map
}

// NewMemoryKeyStore creates an empty store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		tables: map[Table]*sync.Map{
			TableTGS: {},
			TableSS:  {},
		},
	}
}

func (s *MemoryKeyStore) Put(_ context.Context, table Table, identity string, key []byte) error {
	m, ok := s.tables[table]
	if !ok {
		return errors.New("unknown session key table: " + string(table))
	}
	m.Store(identity, append([]byte(nil), key...))
	return nil
}

func (s *MemoryKeyStore) Get(_ context.Context, table Table, identity string) ([]byte, error) {
	m, ok := s.tables[table]
	if !ok {
		return nil, errors.New("unknown session key table: " + string(table))
	}
	v, ok := m.Load(identity)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v.([]byte)...), nil
}
