// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/ecdsa"
	"errors"

	"github.com/btcsuite/btcd/btcec"
)

// SignatureSize is the length of a compact recoverable signature.
const SignatureSize = 65

var ErrInvalidSignature = errors.New("invalid signature")

type Signer interface {
	// Sign signs the keccak256 digest of data.
	Sign(data []byte) ([]byte, error)
	PublicKey() (*ecdsa.PublicKey, error)
}

// Recover recovers the public key that produced signature over data.
func Recover(signature, data []byte) (*ecdsa.PublicKey, error) {
	if len(signature) != SignatureSize {
		return nil, ErrInvalidSignature
	}
	digest, err := LegacyKeccak256(data)
	if err != nil {
		return nil, err
	}
	p, _, err := btcec.RecoverCompact(btcec.S256(), signature, digest)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	return (*ecdsa.PublicKey)(p), nil
}

// Verify reports whether signature over data was produced by the owner of
// key.
func Verify(key PublicKey, signature, data []byte) bool {
	p, err := Recover(signature, data)
	if err != nil {
		return false
	}
	k, err := NewPublicKey(p)
	if err != nil {
		return false
	}
	return k == key
}

type defaultSigner struct {
	key *ecdsa.PrivateKey
}

func NewDefaultSigner(key *ecdsa.PrivateKey) Signer {
	return &defaultSigner{
		key: key,
	}
}

func (d *defaultSigner) PublicKey() (*ecdsa.PublicKey, error) {
	return &d.key.PublicKey, nil
}

func (d *defaultSigner) Sign(data []byte) (signature []byte, err error) {
	digest, err := LegacyKeccak256(data)
	if err != nil {
		return nil, err
	}
	return btcec.SignCompact(btcec.S256(), (*btcec.PrivateKey)(d.key), digest, true)
}
