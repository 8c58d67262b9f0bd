// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package recordtest builds signed records for tests.
package recordtest

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/record"

	"gitlab.com/nolash/go-mockbytes"
)

// Owner is a key pair able to sign records.
type Owner struct {
	Key       *ecdsa.PrivateKey
	Signer    crypto.Signer
	PublicKey crypto.PublicKey
}

// NewOwner generates a fresh owner.
func NewOwner(tb testing.TB) Owner {
	tb.Helper()

	k, err := crypto.GenerateSecp256k1Key()
	if err != nil {
		tb.Fatal(err)
	}
	pub, err := crypto.NewPublicKey(&k.PublicKey)
	if err != nil {
		tb.Fatal(err)
	}
	return Owner{Key: k, Signer: crypto.NewDefaultSigner(k), PublicKey: pub}
}

// Payload returns deterministic bytes of length n derived from seed.
func Payload(tb testing.TB, seed, n int) []byte {
	tb.Helper()

	g := mockbytes.New(seed, mockbytes.MockTypeStandard).WithModulus(255)
	b, err := g.SequentialBytes(n)
	if err != nil {
		tb.Fatal(err)
	}
	return b
}

// Option modifies a record before it is signed.
type Option func(*record.Entry)

func WithTTL(ttl time.Duration) Option {
	return func(e *record.Entry) { e.TTL = ttl }
}

func WithPayload(p []byte) Option {
	return func(e *record.Entry) { e.Payload = p }
}

func WithCapabilities(c capability.Set) Option {
	return func(e *record.Entry) { e.Capabilities = c }
}

// Plain returns a plain record of kind signed for adding by o.
func (o Owner) Plain(tb testing.TB, kind record.Kind, key string, seq uint32, opts ...Option) *record.Plain {
	tb.Helper()

	p := &record.Plain{Entry: entry(tb, kind, key, seq, opts)}
	if err := record.SignAdd(p, o.Signer); err != nil {
		tb.Fatal(err)
	}
	return p
}

// Mailbox returns a mailbox record from o to recipient signed for adding.
func (o Owner) Mailbox(tb testing.TB, recipient crypto.PublicKey, key string, seq uint32, opts ...Option) *record.Mailbox {
	tb.Helper()

	m := &record.Mailbox{Entry: entry(tb, record.KindMailbox, key, seq, opts), Recipient: recipient}
	if err := record.SignAdd(m, o.Signer); err != nil {
		tb.Fatal(err)
	}
	return m
}

// Removal returns a copy of r with sequence seq signed for removal by o.
func (o Owner) Removal(tb testing.TB, r record.Record, seq uint32) record.Record {
	tb.Helper()

	c := r.Clone()
	c.Base().Sequence = seq
	if err := record.SignRemove(c, o.Signer); err != nil {
		tb.Fatal(err)
	}
	return c
}

// Refresh returns a refresh of r with sequence seq signed by o.
func (o Owner) Refresh(tb testing.TB, r record.Record, seq uint32) *record.Refresh {
	tb.Helper()

	rf, err := record.NewRefresh(r, seq, o.Signer)
	if err != nil {
		tb.Fatal(err)
	}
	return rf
}

func entry(tb testing.TB, kind record.Kind, key string, seq uint32, opts []Option) record.Entry {
	e := record.Entry{
		Kind:     kind,
		Key:      []byte(key),
		Payload:  Payload(tb, int(seq)+len(key), 64),
		Sequence: seq,
		TTL:      time.Hour,
	}
	for _, o := range opts {
		o(&e)
	}
	return e
}
