// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package test provides the tests every keystore.Service implementation
// must pass.
package test

import (
	"errors"
	"testing"

	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/keystore"
)

// Service is a helper function for testing keystore.Service implementations.
func Service(t *testing.T, s keystore.Service) {
	t.Helper()

	exists, err := s.Exists("swarm")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("should not exist")
	}

	// create a new key
	k1, created, err := s.Key("swarm", "pass123456")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("key is not created")
	}

	exists, err = s.Exists("swarm")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("should exist")
	}

	// get the existing key
	k2, created, err := s.Key("swarm", "pass123456")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("key is created, but should not be")
	}
	if string(crypto.EncodeSecp256k1PrivateKey(k1)) != string(crypto.EncodeSecp256k1PrivateKey(k2)) {
		t.Fatal("two keys are not equal")
	}

	// invalid password
	_, _, err = s.Key("swarm", "invalid password")
	if !errors.Is(err, keystore.ErrInvalidPassword) {
		t.Fatalf("got error %v, want %v", err, keystore.ErrInvalidPassword)
	}

	// create a key with different name
	k3, created, err := s.Key("libp2p", "pass123456")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("key is not created")
	}
	if string(crypto.EncodeSecp256k1PrivateKey(k1)) == string(crypto.EncodeSecp256k1PrivateKey(k3)) {
		t.Fatal("two keys are equal, but should not be")
	}
}
