// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ratelimit_test

import (
	"errors"
	"testing"
	"time"

	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/ratelimit"
)

var (
	peer1 = overlay.MustParseHexAddress("ca1e9f3938cc1425c6061b96ad9eb93e134dfe8734ad490164ef20af9d1cf59c")
	peer2 = overlay.MustParseHexAddress("0a1e9f3938cc1425c6061b96ad9eb93e134dfe8734ad490164ef20af9d1cf59c")
)

func TestRateLimit(t *testing.T) {
	var (
		rate  = time.Second
		burst = 10
	)

	limiter := ratelimit.New(rate, burst)

	if err := limiter.Allow(peer1, burst); err != nil {
		t.Fatal(err)
	}

	if err := limiter.Allow(peer1, burst); !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		t.Fatalf("got error %v, want %v", err, ratelimit.ErrRateLimitExceeded)
	}

	limiter.Clear(peer1)

	if err := limiter.Allow(peer1, burst); err != nil {
		t.Fatal(err)
	}

	if err := limiter.Allow(peer2, burst); err != nil {
		t.Fatal(err)
	}

	if got := limiter.Len(); got != 2 {
		t.Fatalf("got %d limited peers, want 2", got)
	}
}

func TestRateLimit_refill(t *testing.T) {
	now := time.Unix(1600000000, 0)
	limiter := ratelimit.New(time.Minute, 2)
	limiter.SetNow(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		if err := limiter.Allow(peer1, 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := limiter.Allow(peer1, 1); !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		t.Fatalf("got error %v, want %v", err, ratelimit.ErrRateLimitExceeded)
	}

	now = now.Add(time.Minute)
	if err := limiter.Allow(peer1, 1); err != nil {
		t.Fatalf("after refill: %v", err)
	}
	if err := limiter.Allow(peer1, 1); !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		t.Fatalf("got error %v, want %v", err, ratelimit.ErrRateLimitExceeded)
	}
}
