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

// Package ticket defines the objects exchanged during the ticket handshake
// and their sealed encoding.
//
// A Ticket is only ever seen in sealed form by the client; it is encrypted
// with a service secret the client does not know. An Authenticator is sealed
// with the session key carried inside the ticket and proves that the holder
// knows that key at a given moment.
package ticket

import "time"

// DefaultLifetime is how long a ticket stays valid after it was issued or
// last renewed.
const DefaultLifetime = 15 * time.Minute

// Validity is the closed interval [Begin, End] in unix milliseconds.
type Validity struct {
	Begin int64 `cbor:"1,keyasint"`
	End   int64 `cbor:"2,keyasint"`
}

// NewValidity returns the window [now, now+lifetime].
func NewValidity(now time.Time, lifetime time.Duration) Validity {
	return Validity{
		Begin: now.UnixMilli(),
		End:   now.Add(lifetime).UnixMilli(),
	}
}

// Contains reports whether ts lies in the window. Both bounds are inclusive.
func (v Validity) Contains(ts int64) bool {
	return ts >= v.Begin && ts <= v.End
}

// Ticket binds an identity to a session key for a validity window.
type Ticket struct {
	Identity   string   `cbor:"1,keyasint"`
	Validity   Validity `cbor:"2,keyasint"`
	SessionKey []byte   `cbor:"3,keyasint"`
}

// Authenticator is produced fresh for every request.
type Authenticator struct {
	Identity  string `cbor:"1,keyasint"`
	Timestamp int64  `cbor:"2,keyasint"` // unix milliseconds
}

// NewAuthenticator stamps identity with now.
func NewAuthenticator(identity string, now time.Time) Authenticator {
	return Authenticator{Identity: identity, Timestamp: now.UnixMilli()}
}

// Envelope pairs a sealed ticket with a sealed authenticator. It crosses the
// wire unchanged; neither half is ever re-encoded in transit.
type Envelope struct {
	Ticket        []byte `json:"ticket"`
	Authenticator []byte `json:"authenticator"`
}

// IsZero reports whether the envelope is empty.
func (e Envelope) IsZero() bool {
	return len(e.Ticket) == 0 && len(e.Authenticator) == 0
}

// Grant is returned by the KDC and TGS steps: a sealed ticket for the next
// step and the session key sealed for the requester.
type Grant struct {
	Ticket     []byte `json:"ticket"`
	SessionKey []byte `json:"session_key"`
}
