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

package session

import (
	"errors"

	"github.com/opentrusty/ticketd/internal/authority"
)

// Domain errors
var (
	ErrAuthenticationFailed       = errors.New("authentication failed")
	ErrServerAuthenticationFailed = errors.New("server authentication failed")
	ErrNotLoggedIn                = errors.New("not logged in")

	// Shared with the authority so callers can match either side with one
	// errors.Is check.
	ErrPermissionDenied  = authority.ErrPermissionDenied
	ErrSelfRemovalDenied = authority.ErrSelfRemovalDenied
)
