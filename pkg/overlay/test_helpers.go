// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package overlay

import (
	"crypto/rand"
	"testing"
)

// RandAddress generates a random address.
func RandAddress(tb testing.TB) Address {
	tb.Helper()

	var a Address
	if _, err := rand.Read(a[:]); err != nil {
		tb.Fatal(err)
	}
	return a
}

// RandAddresses generates n random addresses.
func RandAddresses(tb testing.TB, n int) []Address {
	tb.Helper()

	addrs := make([]Address, n)
	for i := range addrs {
		addrs[i] = RandAddress(tb)
	}
	return addrs
}
