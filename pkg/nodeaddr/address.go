// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nodeaddr exposes the signed node address which binds an overlay
// address to an underlay (dialable) address. It is used in the handshake,
// the address book and the peer exchange protocol.
package nodeaddr

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/overlay"

	ma "github.com/multiformats/go-multiaddr"
)

var ErrInvalidAddress = errors.New("invalid address")

// Address consists of the peer's underlay (physical) address, its overlay
// address and a signature over both. The signature is produced by the key
// the overlay address is derived from, so a reported peer cannot be spoofed.
type Address struct {
	Underlay  ma.Multiaddr
	Overlay   overlay.Address
	PublicKey crypto.PublicKey
	Signature []byte
}

type addressJSON struct {
	Overlay   string `json:"overlay"`
	Underlay  string `json:"underlay"`
	Signature string `json:"signature"`
}

// NewAddress signs the (underlay, overlay) pair for the given network.
func NewAddress(signer crypto.Signer, underlay ma.Multiaddr, o overlay.Address, networkID uint64) (*Address, error) {
	underlayBinary, err := underlay.MarshalBinary()
	if err != nil {
		return nil, err
	}

	signature, err := signer.Sign(generateSignData(underlayBinary, o.Bytes(), networkID))
	if err != nil {
		return nil, err
	}

	pub, err := signer.PublicKey()
	if err != nil {
		return nil, err
	}
	key, err := crypto.NewPublicKey(pub)
	if err != nil {
		return nil, err
	}

	return &Address{
		Underlay:  underlay,
		Overlay:   o,
		PublicKey: key,
		Signature: signature,
	}, nil
}

// ParseAddress verifies the signature and returns the address it proves.
func ParseAddress(underlay, o, signature []byte, networkID uint64) (*Address, error) {
	recoveredPK, err := crypto.Recover(signature, generateSignData(underlay, o, networkID))
	if err != nil {
		return nil, ErrInvalidAddress
	}

	recoveredOverlay, err := crypto.NewOverlayAddress(*recoveredPK, networkID)
	if err != nil {
		return nil, ErrInvalidAddress
	}
	overlayAddr, err := overlay.NewAddress(o)
	if err != nil {
		return nil, ErrInvalidAddress
	}
	if recoveredOverlay != overlayAddr {
		return nil, ErrInvalidAddress
	}

	multiUnderlay, err := ma.NewMultiaddrBytes(underlay)
	if err != nil {
		return nil, ErrInvalidAddress
	}

	key, err := crypto.NewPublicKey(recoveredPK)
	if err != nil {
		return nil, ErrInvalidAddress
	}

	return &Address{
		Underlay:  multiUnderlay,
		Overlay:   overlayAddr,
		PublicKey: key,
		Signature: signature,
	}, nil
}

func generateSignData(underlay, o []byte, networkID uint64) []byte {
	networkIDBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(networkIDBytes, networkID)
	signData := append([]byte("gossipd-address-"), underlay...)
	signData = append(signData, o...)
	return append(signData, networkIDBytes...)
}

func (a *Address) Equal(b *Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Overlay == b.Overlay && a.Underlay.Equal(b.Underlay) && string(a.Signature) == string(b.Signature)
}

func (a *Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(&addressJSON{
		Overlay:   a.Overlay.String(),
		Underlay:  a.Underlay.String(),
		Signature: base64.StdEncoding.EncodeToString(a.Signature),
	})
}

// UnmarshalJSON decodes the address without verifying it. Use Verify on
// addresses that come from an untrusted source.
func (a *Address) UnmarshalJSON(b []byte) error {
	v := &addressJSON{}
	err := json.Unmarshal(b, v)
	if err != nil {
		return err
	}

	addr, err := overlay.ParseHexAddress(v.Overlay)
	if err != nil {
		return err
	}

	a.Overlay = addr

	m, err := ma.NewMultiaddr(v.Underlay)
	if err != nil {
		return err
	}

	a.Underlay = m
	a.Signature, err = base64.StdEncoding.DecodeString(v.Signature)
	return err
}

// Verify re-checks the signature of a decoded address and fills in the
// recovered public key.
func (a *Address) Verify(networkID uint64) error {
	underlay, err := a.Underlay.MarshalBinary()
	if err != nil {
		return ErrInvalidAddress
	}
	v, err := ParseAddress(underlay, a.Overlay.Bytes(), a.Signature, networkID)
	if err != nil {
		return err
	}
	a.PublicKey = v.PublicKey
	return nil
}

func (a *Address) String() string {
	return fmt.Sprintf("[Underlay: %v, Overlay %v, Signature %x]", a.Underlay, a.Overlay, a.Signature)
}

// ShortString returns shortened versions of the address in a format: [Overlay, Underlay]
// It can be used for logging
func (a *Address) ShortString() string {
	return fmt.Sprintf("[Overlay: %s, Underlay: %s]", a.Overlay.String(), a.Underlay.String())
}
