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

// Package identity defines who a caller is: a user, a client device, or a
// user acting through a client.
package identity

import "strings"

// Separator joins the user and client halves of an identity string.
const Separator = "@"

// Kind tells which halves of an Identity are present.
type Kind int

const (
	KindNone Kind = iota
	KindUser
	KindClient
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindClient:
		return "client"
	case KindComposite:
		return "composite"
	default:
		return "none"
	}
}

// Identity is a parsed caller identity. The zero value is the anonymous
// identity. Build one with User, Client, Composite or Parse; never split the
// wire string by hand.
type Identity struct {
	user   string
	client string
}

// User returns an identity authenticated by a user password only.
func User(id string) Identity { return Identity{user: id} }

// Client returns an identity authenticated by a client key only.
func Client(id string) Identity { return Identity{client: id} }

// Composite returns a user logged in on a client. Either half may be empty,
// in which case the result degrades to a single-half identity.
func Composite(user, client string) Identity { return Identity{user: user, client: client} }

// Parse converts a wire string into an Identity. The string is split on the
// first separator and empty halves are treated as absent. A string without a
// separator names a client.
func Parse(s string) Identity {
	user, client, found := strings.Cut(s, Separator)
	if !found {
		return Identity{client: s}
	}
	return Identity{user: user, client: client}
}

func (i Identity) Kind() Kind {
	switch {
	case i.user != "" && i.client != "":
		return KindComposite
	case i.user != "":
		return KindUser
	case i.client != "":
		return KindClient
	default:
		return KindNone
	}
}

func (i Identity) IsZero() bool { return i.user == "" && i.client == "" }

func (i Identity) UserID() string { return i.user }

func (i Identity) ClientID() string { return i.client }

// Principal is the id whose credentials authenticate the caller: the user
// half when present, the client half otherwise.
func (i Identity) Principal() string {
	if i.user != "" {
		return i.user
	}
	return i.client
}

// Split returns the user and client halves as single-half identities.
func (i Identity) Split() (Identity, Identity) {
	return User(i.user), Client(i.client)
}

// WithUser returns the identity of user logging in on top of i. The client
// half of i is kept, any previous user half is replaced.
func (i Identity) WithUser(user string) Identity {
	return Identity{user: user, client: i.client}
}

// String returns the canonical wire form: "user@", "@client" or
// "user@client". The anonymous identity renders as the empty string.
func (i Identity) String() string {
	if i.IsZero() {
		return ""
	}
	return i.user + Separator + i.client
}
