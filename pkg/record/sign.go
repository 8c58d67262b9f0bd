// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package record

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tradenet/gossipd/pkg/crypto"
)

// Operation tags separate add and remove signatures, so that a signed add
// can never be replayed as a removal. A refresh is signed as an add of the
// stored payload, which keeps a refreshed copy valid for adding.
const (
	opAdd    byte = 1
	opRemove byte = 2
)

var ErrWrongSigner = errors.New("signer does not own the record")

// PayloadHash returns the keccak256 hash of the canonical encoding of all
// signed fields except the sequence number.
func PayloadHash(r Record) []byte {
	e := r.Base()
	b := make([]byte, 0, 128+len(e.Key)+len(e.Payload))
	b = appendUint32(b, uint32(e.Kind))
	b = appendUint16(b, uint16(len(e.Key)))
	b = append(b, e.Key...)
	b = appendUint32(b, uint32(len(e.Payload)))
	b = append(b, e.Payload...)
	b = append(b, e.Owner[:]...)
	switch v := r.(type) {
	case *Plain:
		b = append(b, 0)
	case *Mailbox:
		b = append(b, 1)
		b = append(b, v.Recipient[:]...)
	}
	b = appendUint64(b, uint64(e.TTL.Milliseconds()))
	caps := e.Capabilities.Uint32s()
	b = appendUint16(b, uint16(len(caps)))
	for _, c := range caps {
		b = appendUint32(b, c)
	}
	h, _ := crypto.LegacyKeccak256(b)
	return h
}

func signData(op byte, payloadHash []byte, seq uint32) []byte {
	b := make([]byte, 0, 1+len(payloadHash)+4)
	b = append(b, op)
	b = append(b, payloadHash...)
	return appendUint32(b, seq)
}

// SignAdd sets the owner of r to the signer's key and signs it for adding.
func SignAdd(r Record, signer crypto.Signer) error {
	pub, err := signerKey(signer)
	if err != nil {
		return err
	}
	e := r.Base()
	e.Owner = pub
	e.Signature, err = signer.Sign(signData(opAdd, PayloadHash(r), e.Sequence))
	if err != nil {
		return fmt.Errorf("sign add: %w", err)
	}
	return nil
}

// SignRemove signs r for removal. The signer must be the remover of r: the
// owner of a plain record or the recipient of a mailbox record.
func SignRemove(r Record, signer crypto.Signer) error {
	pub, err := signerKey(signer)
	if err != nil {
		return err
	}
	if pub != r.Remover() {
		return ErrWrongSigner
	}
	e := r.Base()
	e.Signature, err = signer.Sign(signData(opRemove, PayloadHash(r), e.Sequence))
	if err != nil {
		return fmt.Errorf("sign remove: %w", err)
	}
	return nil
}

// VerifyAdd reports whether the add signature of r was made by its owner.
func VerifyAdd(r Record) bool {
	e := r.Base()
	return crypto.Verify(e.Owner, e.Signature, signData(opAdd, PayloadHash(r), e.Sequence))
}

// VerifyRemove reports whether the removal signature of r was made by its
// remover.
func VerifyRemove(r Record) bool {
	e := r.Base()
	return crypto.Verify(r.Remover(), e.Signature, signData(opRemove, PayloadHash(r), e.Sequence))
}

// Refresh extends the lifetime of a stored plain record without resending
// its payload.
type Refresh struct {
	ID        ID
	Sequence  uint32
	Signature []byte
}

func (r *Refresh) String() string {
	return fmt.Sprintf("refresh %s seq %d", r.ID.ShortString(), r.Sequence)
}

// NewRefresh signs a refresh of the stored record r with sequence seq.
func NewRefresh(r Record, seq uint32, signer crypto.Signer) (*Refresh, error) {
	pub, err := signerKey(signer)
	if err != nil {
		return nil, err
	}
	if pub != r.Base().Owner {
		return nil, ErrWrongSigner
	}
	sig, err := signer.Sign(signData(opAdd, PayloadHash(r), seq))
	if err != nil {
		return nil, fmt.Errorf("sign refresh: %w", err)
	}
	return &Refresh{ID: r.ID(), Sequence: seq, Signature: sig}, nil
}

// VerifyRefresh reports whether rf was signed by the owner of stored.
func VerifyRefresh(rf *Refresh, stored Record) bool {
	return crypto.Verify(stored.Base().Owner, rf.Signature, signData(opAdd, PayloadHash(stored), rf.Sequence))
}

// ApplyRefresh returns a copy of stored carrying the sequence number and
// signature of rf. The copy verifies as an add.
func ApplyRefresh(stored Record, rf *Refresh) Record {
	c := stored.Clone()
	e := c.Base()
	e.Sequence = rf.Sequence
	e.Signature = append([]byte(nil), rf.Signature...)
	return c
}

func signerKey(signer crypto.Signer) (crypto.PublicKey, error) {
	p, err := signer.PublicKey()
	if err != nil {
		return crypto.PublicKey{}, err
	}
	return crypto.NewPublicKey(p)
}

func appendUint16(b []byte, v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return append(b, buf[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}
