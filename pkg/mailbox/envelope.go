// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mailbox

import (
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/tradenet/gossipd/pkg/crypto"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidEnvelope = errors.New("invalid envelope")

	envelopeInfo = []byte("gossipd-mailbox-envelope")
)

// envelope layout:
// - compressed ephemeral public key
// - nonce
// - sealed plaintext
const envelopeHeaderSize = crypto.PublicKeySize + chacha20poly1305.NonceSize

// Seal encrypts plaintext to the recipient. An ephemeral key agrees on a
// shared secret with the recipient key, the secret is expanded to a
// ChaCha20-Poly1305 key and the ephemeral public key is prepended to the
// ciphertext.
func Seal(recipient crypto.PublicKey, plaintext []byte) ([]byte, error) {
	pub, err := recipient.ECDSA()
	if err != nil {
		return nil, err
	}

	ephemeral, err := crypto.GenerateSecp256k1Key()
	if err != nil {
		return nil, err
	}
	ephemeralPub, err := crypto.NewPublicKey(&ephemeral.PublicKey)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(crypto.SharedKey(ephemeral, pub), ephemeralPub, recipient)
	if err != nil {
		return nil, err
	}

	envelope := make([]byte, envelopeHeaderSize, envelopeHeaderSize+len(plaintext)+aead.Overhead())
	copy(envelope, ephemeralPub[:])
	nonce := envelope[crypto.PublicKeySize:envelopeHeaderSize]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(envelope, nonce, plaintext, ephemeralPub[:]), nil
}

// Open decrypts an envelope sealed to the public key of key.
func Open(key *ecdsa.PrivateKey, envelope []byte) ([]byte, error) {
	if len(envelope) < envelopeHeaderSize {
		return nil, ErrInvalidEnvelope
	}

	ephemeralPub, err := crypto.ParsePublicKey(envelope[:crypto.PublicKeySize])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	pub, err := ephemeralPub.ECDSA()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	recipient, err := crypto.NewPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(crypto.SharedKey(key, pub), ephemeralPub, recipient)
	if err != nil {
		return nil, err
	}

	nonce := envelope[crypto.PublicKeySize:envelopeHeaderSize]
	plaintext, err := aead.Open(nil, nonce, envelope[envelopeHeaderSize:], ephemeralPub[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return plaintext, nil
}

// newAEAD derives the envelope key from the shared secret, bound to both
// public keys.
func newAEAD(secret []byte, ephemeral, recipient crypto.PublicKey) (cipher.AEAD, error) {
	salt := make([]byte, 0, 2*crypto.PublicKeySize)
	salt = append(salt, ephemeral[:]...)
	salt = append(salt, recipient[:]...)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, envelopeInfo), key); err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}
