// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package breaker stops dialing peers that keep failing. Every key has its
// own circuit which opens after a number of consecutive failures and stays
// open for an exponentially growing backoff.
package breaker

import (
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("breaker closed")

const (
	DefaultLimit          = 5
	DefaultFailInterval   = 10 * time.Minute
	DefaultInitialBackoff = 2 * time.Minute
	DefaultBackoffLimit   = time.Hour
)

type Options struct {
	// Limit is the number of consecutive failures that opens the circuit.
	Limit int
	// FailInterval resets the count of failures that are older than it.
	FailInterval   time.Duration
	InitialBackoff time.Duration
	BackoffLimit   time.Duration
	Now            func() time.Time
}

// Breaker holds a circuit per key.
type Breaker struct {
	limit          int
	failInterval   time.Duration
	initialBackoff time.Duration
	backoffLimit   time.Duration
	now            func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

type circuit struct {
	consFailedCalls      int
	firstFailedTimestamp time.Time
	closedTimestamp      time.Time
	backoff              time.Duration
}

func New(o Options) *Breaker {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.FailInterval <= 0 {
		o.FailInterval = DefaultFailInterval
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.BackoffLimit <= 0 {
		o.BackoffLimit = DefaultBackoffLimit
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Breaker{
		limit:          o.Limit,
		failInterval:   o.FailInterval,
		initialBackoff: o.InitialBackoff,
		backoffLimit:   o.BackoffLimit,
		now:            o.Now,
		circuits:       make(map[string]*circuit),
	}
}

// Execute calls f unless the circuit for key is open, in which case
// ErrClosed is returned. f is not called under the lock.
func (b *Breaker) Execute(key string, f func() error) error {
	if err := b.beforef(key); err != nil {
		return err
	}
	return b.afterf(key, f())
}

func (b *Breaker) beforef(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return nil
	}

	now := b.now()
	if c.consFailedCalls >= b.limit {
		if now.Sub(c.closedTimestamp) < c.backoff {
			return ErrClosed
		}

		c.resetFailed()
		if newBackoff := c.backoff * 2; newBackoff <= b.backoffLimit {
			c.backoff = newBackoff
		} else {
			c.backoff = b.backoffLimit
		}
	}

	if !c.firstFailedTimestamp.IsZero() && now.Sub(c.firstFailedTimestamp) >= b.failInterval {
		c.resetFailed()
	}

	return nil
}

func (b *Breaker) afterf(key string, err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		delete(b.circuits, key)
		return nil
	}

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{backoff: b.initialBackoff}
		b.circuits[key] = c
	}

	now := b.now()
	if c.consFailedCalls == 0 {
		c.firstFailedTimestamp = now
	}

	c.consFailedCalls++
	if c.consFailedCalls == b.limit {
		c.closedTimestamp = now
	}

	return err
}

func (c *circuit) resetFailed() {
	c.consFailedCalls = 0
	c.firstFailedTimestamp = time.Time{}
}
