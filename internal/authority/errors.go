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
	"errors"
	"fmt"
)

// Kind groups protocol errors by what went wrong.
type Kind string

const (
	KindIdentity      Kind = "identity"
	KindCrypto        Kind = "crypto"
	KindTemporal      Kind = "temporal"
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
)

// Error is a protocol-level failure with a stable code that survives the
// transport. Compare with errors.Is against the sentinels below.
type Error struct {
	Code        string `json:"error"`
	Kind        Kind   `json:"-"`
	Description string `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("authority error: %s (%s)", e.Code, e.Description)
}

var (
	ErrUnknownIdentity        = newError("unknown_identity", KindIdentity, "identity is not registered")
	ErrIdentityMismatch       = newError("identity_mismatch", KindIdentity, "authenticator does not match ticket")
	ErrUnknownSession         = newError("unknown_session", KindIdentity, "no session key for identity")
	ErrMalformedTicket        = newError("malformed_ticket", KindCrypto, "ticket could not be opened")
	ErrMalformedAuthenticator = newError("malformed_authenticator", KindCrypto, "authenticator could not be opened")
	ErrMalformedPayload       = newError("malformed_payload", KindCrypto, "sealed payload could not be opened")
	ErrTicketExpired          = newError("ticket_expired", KindTemporal, "authenticator outside ticket validity")
	ErrPermissionDenied       = newError("permission_denied", KindAuthorization, "administrator rights required")
	ErrSelfRemovalDenied      = newError("self_removal_denied", KindAuthorization, "an identity cannot remove itself")
	ErrAlreadyExists          = newError("already_exists", KindState, "identity is already registered")
	ErrInvalidRequest         = newError("invalid_request", KindState, "request is missing required fields")
)

var byCode = map[string]*Error{}

func newError(code string, kind Kind, description string) *Error {
	e := &Error{Code: code, Kind: kind, Description: description}
	byCode[code] = e
	return e
}

// ErrorByCode returns the sentinel for a wire code, or nil if the code is
// unknown.
func ErrorByCode(code string) *Error {
	return byCode[code]
}

// KindOf returns the kind of the protocol error wrapped in err, or the empty
// kind if err is not a protocol error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the wire code of the protocol error wrapped in err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
