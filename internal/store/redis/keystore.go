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

// Package redis keeps the authority's session-key tables in Redis, where
// keys of abandoned sessions expire on their own instead of accumulating in
// process memory.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opentrusty/ticketd/internal/authority"
)

const defaultPrefix = "ticketd:session-key:"

// KeyStore implements authority.KeyStore. Entries expire after ttl without
// use; every lookup restarts the countdown, matching the sliding validity
// window of the tickets they belong to.
type KeyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewKeyStore wraps client. ttl should be the ticket lifetime.
func NewKeyStore(client *redis.Client, ttl time.Duration) *KeyStore {
	return &KeyStore{client: client, prefix: defaultPrefix, ttl: ttl}
}

// WithPrefix returns a copy of s that namespaces its keys under prefix.
func (s *KeyStore) WithPrefix(prefix string) *KeyStore {
	c := *s
	c.prefix = prefix
	return &c
}

// buildKey keeps the identity readable so operators can inspect a session
// with redis-cli.
func (s *KeyStore) buildKey(table authority.Table, identity string) string {
	return fmt.Sprintf("%s%s:%s", s.prefix, table, identity)
}

func (s *KeyStore) Put(ctx context.Context, table authority.Table, identity string, key []byte) error {
	if err := s.client.SetEx(ctx, s.buildKey(table, identity), key, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session key: %w", err)
	}
	return nil
}

func (s *KeyStore) Get(ctx context.Context, table authority.Table, identity string) ([]byte, error) {
	key, err := s.client.GetEx(ctx, s.buildKey(table, identity), s.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, authority.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session key: %w", err)
	}
	return key, nil
}

// Ping checks that Redis is reachable.
func (s *KeyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
