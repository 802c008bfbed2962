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

package http

import (
	"context"
	"sync"
)

type contextKey string

const callerKey contextKey = "caller"

// caller is filled in by handlers once they know who is calling, and read
// back by LoggingMiddleware when the request ends.
type caller struct {
	mu       sync.Mutex
	identity string
}

func withCaller(ctx context.Context) context.Context {
	return context.WithValue(ctx, callerKey, &caller{})
}

func setCaller(ctx context.Context, identity string) {
	if c, ok := ctx.Value(callerKey).(*caller); ok {
		c.mu.Lock()
		c.identity = identity
		c.mu.Unlock()
	}
}

// GetCaller retrieves the identity the current request claimed or proved.
func GetCaller(ctx context.Context) string {
	if c, ok := ctx.Value(callerKey).(*caller); ok {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.identity
	}
	return ""
}
