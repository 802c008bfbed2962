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

package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/opentrusty/ticketd/internal/authority"
)

func TestKeyStore_Keys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	s := NewKeyStore(client, time.Minute)
	assert.Equal(t, "ticketd:session-key:tgs:alice@", s.buildKey(authority.TableTGS, "alice@"))

	scoped := s.WithPrefix("replica-a:")
	assert.Equal(t, "replica-a:ss:@terminal", scoped.buildKey(authority.TableSS, "@terminal"))
	assert.Equal(t, "ticketd:session-key:ss:@terminal", s.buildKey(authority.TableSS, "@terminal"))
}
