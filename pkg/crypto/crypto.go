// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/tradenet/gossipd/pkg/overlay"
	"golang.org/x/crypto/sha3"
)

// PublicKeySize is the length of a compressed secp256k1 public key.
const PublicKeySize = btcec.PubKeyBytesLenCompressed

var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey is a compressed secp256k1 public key. It is comparable and is
// used wherever a key identifies an owner or a recipient.
type PublicKey [PublicKeySize]byte

// NewPublicKey compresses an ECDSA public key.
func NewPublicKey(p *ecdsa.PublicKey) (k PublicKey, err error) {
	if p == nil || p.X == nil || p.Y == nil {
		return k, ErrInvalidPublicKey
	}
	copy(k[:], (*btcec.PublicKey)(p).SerializeCompressed())
	return k, nil
}

// ParsePublicKey parses a compressed or uncompressed key encoding.
func ParsePublicKey(b []byte) (k PublicKey, err error) {
	p, err := btcec.ParsePubKey(b, btcec.S256())
	if err != nil {
		return k, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	copy(k[:], p.SerializeCompressed())
	return k, nil
}

// ParseHexPublicKey parses a hex-encoded public key.
func ParseHexPublicKey(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, err
	}
	return ParsePublicKey(b)
}

// ECDSA decompresses the key.
func (k PublicKey) ECDSA() (*ecdsa.PublicKey, error) {
	p, err := btcec.ParsePubKey(k[:], btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return p.ToECDSA(), nil
}

func (k PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeySize)
	copy(b, k[:])
	return b
}

func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

func (k PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *PublicKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseHexPublicKey(s)
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// NewOverlayAddress derives the overlay address of a node from its public
// key and the network it participates in.
func NewOverlayAddress(p ecdsa.PublicKey, networkID uint64) (overlay.Address, error) {
	k, err := NewPublicKey(&p)
	if err != nil {
		return overlay.ZeroAddress, err
	}
	netIDBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(netIDBytes, networkID)
	h, err := LegacyKeccak256(append(k[:], netIDBytes...))
	if err != nil {
		return overlay.ZeroAddress, err
	}
	return overlay.NewAddress(h)
}

// GenerateSecp256k1Key generates an ECDSA private key using
// secp256k1 elliptic curve.
func GenerateSecp256k1Key() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(btcec.S256(), rand.Reader)
}

// EncodeSecp256k1PrivateKey encodes raw ECDSA private key.
func EncodeSecp256k1PrivateKey(k *ecdsa.PrivateKey) []byte {
	return (*btcec.PrivateKey)(k).Serialize()
}

// DecodeSecp256k1PrivateKey decodes raw ECDSA private key.
func DecodeSecp256k1PrivateKey(data []byte) (*ecdsa.PrivateKey, error) {
	if l := len(data); l != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("secp256k1 data size %d expected %d", l, btcec.PrivKeyBytesLen)
	}
	privk, _ := btcec.PrivKeyFromBytes(btcec.S256(), data)
	return (*ecdsa.PrivateKey)(privk), nil
}

func LegacyKeccak256(data []byte) ([]byte, error) {
	hasher := sha3.NewLegacyKeccak256()
	if _, err := hasher.Write(data); err != nil {
		return nil, err
	}
	return hasher.Sum(nil), nil
}
