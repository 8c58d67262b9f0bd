// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"sync"

	"github.com/tradenet/gossipd/pkg/record"
)

// EventType tells what happened to a record.
type EventType int

const (
	EventAdded EventType = iota + 1
	EventRemoved
	EventRefreshed
	EventExpired
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventRefreshed:
		return "refreshed"
	case EventExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event is a change of the store. Record must not be modified.
type Event struct {
	Type   EventType
	Record record.Record
}

// Subscription receives store events.
//
// Events are queued in the order the mutations were applied and delivered
// on C by a goroutine of the subscription. Mutations never wait for a
// subscriber. A subscriber that falls behind accumulates a queue, so it
// must keep receiving until it unsubscribes. The store may be read and
// mutated from the receive loop.
type Subscription struct {
	C <-chan Event
	c chan Event

	mu     sync.Mutex
	queue  []Event
	signal chan struct{}

	done chan struct{}
	once sync.Once
	s    *Store
}

// Unsubscribe stops the delivery. It is safe to call more than once.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		close(sub.done)
		sub.s.subsMu.Lock()
		delete(sub.s.subs, sub)
		sub.s.subsMu.Unlock()
	})
}

// Subscribe registers a subscriber. The buffer is the capacity of C.
func (s *Store) Subscribe(buffer int) *Subscription {
	c := make(chan Event, buffer)
	sub := &Subscription{
		C:      c,
		c:      c,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		s:      s,
	}
	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()

	go sub.deliver()
	return sub
}

func (sub *Subscription) enqueue(events []Event) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, events...)
	sub.mu.Unlock()

	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

func (sub *Subscription) deliver() {
	for {
		select {
		case <-sub.signal:
		case <-sub.done:
			return
		case <-sub.s.quit:
			return
		}

		sub.mu.Lock()
		events := sub.queue
		sub.queue = nil
		sub.mu.Unlock()

		for _, e := range events {
			select {
			case sub.c <- e:
			case <-sub.done:
				return
			case <-sub.s.quit:
				return
			}
		}
	}
}

// notify queues events for all subscribers. It is called with the write
// lock held, which orders the queues as the mutations were ordered.
func (s *Store) notify(events []Event) {
	if len(events) == 0 {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for sub := range s.subs {
		sub.enqueue(events)
	}
}
