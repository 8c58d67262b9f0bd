// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package overlay defines the address under which a node is known in the
// gossip overlay, independent of its transport (underlay) addresses.
package overlay

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Size is the length of an overlay address in bytes.
const Size = 32

var (
	ErrInvalidAddress = errors.New("invalid overlay address")

	ZeroAddress = Address{}
)

// Address is a fixed size, comparable overlay address. It can be used as a
// map key directly.
type Address [Size]byte

// NewAddress copies b into an Address.
func NewAddress(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// ParseHexAddress returns an Address from a hex-encoded string.
func ParseHexAddress(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroAddress, err
	}
	return NewAddress(b)
}

// MustParseHexAddress returns an Address from a hex-encoded string
// and panics if there is a parse error.
func MustParseHexAddress(s string) Address {
	a, err := ParseHexAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// ShortString returns the first eight hex characters, for logs.
func (a Address) ShortString() string {
	return hex.EncodeToString(a[:4])
}

func (a Address) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, a[:])
	return b
}

// ByteString returns the address bytes as a string, suitable for keyed
// structures that take strings.
func (a Address) ByteString() string {
	return string(a[:])
}

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseHexAddress(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
