// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ratelimit limits what a single peer may cause a node to do. Every
// peer gets a token bucket of size burst that refills at the given rate.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/tradenet/gossipd/pkg/overlay"
	"golang.org/x/time/rate"
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

type Limiter struct {
	mu      sync.Mutex
	limiter map[overlay.Address]*rate.Limiter
	rate    rate.Limit
	burst   int
	now     func() time.Time
}

// New returns a Limiter that grants burst events per peer and one more every
// r.
func New(r time.Duration, burst int) *Limiter {
	return &Limiter{
		limiter: make(map[overlay.Address]*rate.Limiter),
		rate:    rate.Every(r),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow takes count tokens from the bucket of the peer. Nothing is taken when
// the bucket holds less.
func (l *Limiter) Allow(peer overlay.Address, count int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiter[peer]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiter[peer] = limiter
	}

	if !limiter.AllowN(l.now(), count) {
		return ErrRateLimitExceeded
	}
	return nil
}

// Clear forgets the bucket of the peer. It is called when the peer
// disconnects.
func (l *Limiter) Clear(peer overlay.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.limiter, peer)
}

// Len returns the number of peers with a bucket.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.limiter)
}
