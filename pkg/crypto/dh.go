// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/ecdsa"

	"github.com/btcsuite/btcd/btcec"
)

// SharedKey returns the ECDH shared secret of a private and a public
// secp256k1 key.
func SharedKey(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) []byte {
	return btcec.GenerateSharedSecret((*btcec.PrivateKey)(priv), (*btcec.PublicKey)(pub))
}
