// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto_test

import (
	"errors"
	"testing"

	"github.com/tradenet/gossipd/pkg/crypto"
)

func TestDefaultSigner(t *testing.T) {
	testBytes := []byte("test string")
	privKey, err := crypto.GenerateSecp256k1Key()
	if err != nil {
		t.Fatal(err)
	}

	signer := crypto.NewDefaultSigner(privKey)
	signature, err := signer.Sign(testBytes)
	if err != nil {
		t.Fatal(err)
	}
	if len(signature) != crypto.SignatureSize {
		t.Fatalf("got signature length %d, want %d", len(signature), crypto.SignatureSize)
	}
	pub, err := crypto.NewPublicKey(&privKey.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("OK - sign & recover", func(t *testing.T) {
		pubKey, err := crypto.Recover(signature, testBytes)
		if err != nil {
			t.Fatal(err)
		}

		if pubKey.X.Cmp(privKey.PublicKey.X) != 0 || pubKey.Y.Cmp(privKey.PublicKey.Y) != 0 {
			t.Fatalf("wanted %v but got %v", pubKey, &privKey.PublicKey)
		}
		if !crypto.Verify(pub, signature, testBytes) {
			t.Fatal("signature does not verify")
		}
	})

	t.Run("OK - recover with invalid data", func(t *testing.T) {
		pubKey, err := crypto.Recover(signature, []byte("invalid"))
		if err != nil {
			t.Fatal(err)
		}

		if pubKey.X.Cmp(privKey.PublicKey.X) == 0 && pubKey.Y.Cmp(privKey.PublicKey.Y) == 0 {
			t.Fatal("should have been different")
		}
		if crypto.Verify(pub, signature, []byte("invalid")) {
			t.Fatal("signature verifies over other data")
		}
	})

	t.Run("Fail - recover with short signature", func(t *testing.T) {
		_, err := crypto.Recover(signature[:10], testBytes)
		if !errors.Is(err, crypto.ErrInvalidSignature) {
			t.Fatalf("got error %v, want %v", err, crypto.ErrInvalidSignature)
		}
	})
}
