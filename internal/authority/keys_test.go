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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKeyStore(t *testing.T) {
	s := NewMemoryKeyStore()
	ctx := context.Background()

	_, err := s.Get(ctx, TableTGS, "alice@")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	key := []byte("0123456789abcdef0123456789abcdef")
	require.NoError(t, s.Put(ctx, TableTGS, "alice@", key))

	// Tables are independent.
	_, err = s.Get(ctx, TableSS, "alice@")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	got, err := s.Get(ctx, TableTGS, "alice@")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	// Stored keys are copies.
	key[0] = 'X'
	got[1] = 'Y'
	again, err := s.Get(ctx, TableTGS, "alice@")
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), again)

	assert.Error(t, s.Put(ctx, Table("bogus"), "alice@", key))
}
