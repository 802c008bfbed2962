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

package ticket

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/opentrusty/ticketd/internal/crypto"
)

// ErrDecode is returned when a decrypted payload is not a valid encoding.
var ErrDecode = errors.New("ticket: invalid encoding")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ticket: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 16,
	}.DecMode()
	if err != nil {
		panic("ticket: CBOR decoder initialization failed: " + err.Error())
	}
}

// SealTicket encodes t and encrypts it with a service secret.
func SealTicket(t Ticket, secret []byte) ([]byte, error) {
	return seal(t, secret)
}

// OpenTicket reverses SealTicket. Wrong keys and tampering surface as
// crypto.ErrDecrypt, undecodable plaintext as ErrDecode.
func OpenTicket(sealed, secret []byte) (*Ticket, error) {
	var t Ticket
	if err := open(sealed, secret, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SealAuthenticator encodes a and encrypts it with a session key.
func SealAuthenticator(a Authenticator, sessionKey []byte) ([]byte, error) {
	return seal(a, sessionKey)
}

// OpenAuthenticator reverses SealAuthenticator.
func OpenAuthenticator(sealed, sessionKey []byte) (*Authenticator, error) {
	var a Authenticator
	if err := open(sealed, sessionKey, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func seal(v any, key []byte) ([]byte, error) {
	plain, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	return crypto.Encrypt(plain, key)
}

func open(sealed, key []byte, v any) error {
	plain, err := crypto.Decrypt(sealed, key)
	if err != nil {
		return err
	}
	if err := decMode.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
