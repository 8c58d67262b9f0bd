// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package peerset holds the peers known to the node: the live set of
// connected peers, a capped cache of peers reported by others and the count
// of failed attempts per peer. It is shared by the broadcaster, the peer
// exchange and keepalive.
package peerset

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tradenet/gossipd/pkg/addressbook"
	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/nodeaddr"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/storage"
)

const (
	DefaultMaxReported      = 1000
	DefaultMaxPersisted     = 500
	DefaultFailureThreshold = 3
	// DefaultMaxAge is the age after which a reported peer that was not
	// confirmed again is dropped.
	DefaultMaxAge = 14 * 24 * time.Hour
)

var _ p2p.Notifier = (*Set)(nil)

var ErrSelf = errors.New("peerset: own address")

type Options struct {
	Self             overlay.Address
	NetworkID        uint64
	MaxReported      int
	MaxPersisted     int
	FailureThreshold int
	MaxAge           time.Duration
	// Now is the clock, time.Now if nil.
	Now func() time.Time
}

// Set is the shared peer set. All methods are safe for concurrent use.
type Set struct {
	self             overlay.Address
	networkID        uint64
	maxPersisted     int
	failureThreshold int
	maxAge           time.Duration
	now              func() time.Time

	book         addressbook.Store
	persisted    storage.EntityStore
	disconnecter p2p.Disconnecter
	logger       logging.Logger
	metrics      metrics

	mu       sync.Mutex
	live     map[overlay.Address]*livePeer
	reported *lru.Cache // overlay.Address -> *reportedPeer, in order of confirmation
	failures *lru.Cache // overlay.Address -> int
	rand     *rand.Rand
}

type livePeer struct {
	peer        p2p.Peer
	connectedAt time.Time
}

type reportedPeer struct {
	address   nodeaddr.Address
	confirmed time.Time
}

// New creates the peer set and loads the persisted peers. The disconnecter
// may be nil, then evicted peers are only dropped from the set.
func New(stateStore storage.StateStorer, book addressbook.Store, disconnecter p2p.Disconnecter, logger logging.Logger, o Options) (*Set, error) {
	if o.MaxReported <= 0 {
		o.MaxReported = DefaultMaxReported
	}
	if o.MaxPersisted <= 0 {
		o.MaxPersisted = DefaultMaxPersisted
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	reported, err := lru.New(o.MaxReported)
	if err != nil {
		return nil, err
	}
	failures, err := lru.New(o.MaxReported)
	if err != nil {
		return nil, err
	}

	s := &Set{
		self:             o.Self,
		networkID:        o.NetworkID,
		maxPersisted:     o.MaxPersisted,
		failureThreshold: o.FailureThreshold,
		maxAge:           o.MaxAge,
		now:              o.Now,
		book:             book,
		persisted:        newPersistedStore(stateStore),
		disconnecter:     disconnecter,
		logger:           logger,
		metrics:          newMetrics(),
		live:             make(map[overlay.Address]*livePeer),
		reported:         reported,
		failures:         failures,
		rand:             rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetDisconnecter sets the service used to drop evicted peers.
func (s *Set) SetDisconnecter(d p2p.Disconnecter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnecter = d
}

// Connected adds the peer to the live set and confirms its address.
func (s *Set) Connected(_ context.Context, peer p2p.Peer) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.live[peer.Address] = &livePeer{peer: peer, connectedAt: now}
	s.failures.Remove(peer.Address)
	if s.book != nil {
		if addr, err := s.book.Get(peer.Address); err == nil {
			s.reported.Add(peer.Address, &reportedPeer{address: *addr, confirmed: now})
		}
	}
	s.metrics.LivePeers.Set(float64(len(s.live)))
	return nil
}

// Disconnected removes the peer from the live set.
func (s *Set) Disconnected(peer p2p.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.live, peer.Address)
	s.metrics.LivePeers.Set(float64(len(s.live)))
}

// Live returns the connected peers.
func (s *Set) Live() []p2p.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := make([]p2p.Peer, 0, len(s.live))
	for _, p := range s.live {
		peers = append(peers, p.peer)
	}
	p2p.SortPeers(peers)
	return peers
}

// LiveCount returns the number of connected peers.
func (s *Set) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// IsLive reports whether the peer is connected.
func (s *Set) IsLive(o overlay.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[o]
	return ok
}

// Sample returns up to n live peers chosen at random. Excluded peers are
// skipped, as are peers whose advertised capabilities are known to lack the
// required ones. Peers that advertised nothing are not skipped.
func (s *Set) Sample(n int, required capability.Set, exclude ...overlay.Address) []p2p.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	skip := make(map[overlay.Address]struct{}, len(exclude))
	for _, o := range exclude {
		skip[o] = struct{}{}
	}

	candidates := make([]p2p.Peer, 0, len(s.live))
	for o, p := range s.live {
		if _, ok := skip[o]; ok {
			continue
		}
		if !p.peer.Capabilities.IsEmpty() && !p.peer.Capabilities.Supports(required) {
			continue
		}
		candidates = append(candidates, p.peer)
	}
	p2p.SortPeers(candidates)
	s.rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// AddReported merges peer addresses reported by others. Own, failed and
// already known peers are skipped, as are addresses whose signature does not
// verify. It returns the addresses that were not known before.
func (s *Set) AddReported(addrs ...nodeaddr.Address) []nodeaddr.Address {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var added []nodeaddr.Address
	for _, addr := range addrs {
		if addr.Overlay == s.self {
			continue
		}
		if s.failedLocked(addr.Overlay) {
			continue
		}
		if v, ok := s.reported.Peek(addr.Overlay); ok {
			rp := v.(*reportedPeer)
			if rp.address.Equal(&addr) {
				continue
			}
		}
		if err := addr.Verify(s.networkID); err != nil {
			s.metrics.InvalidReported.Inc()
			s.logger.Debugf("peerset: reported peer %s: %v", addr.Overlay, err)
			continue
		}
		if s.reported.Add(addr.Overlay, &reportedPeer{address: addr, confirmed: now}) {
			s.metrics.EvictedReported.Inc()
		}
		added = append(added, addr)
	}
	s.metrics.ReportedPeers.Set(float64(s.reported.Len()))
	return added
}

// Confirm marks the reported peer as recently seen.
func (s *Set) Confirm(o overlay.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.reported.Peek(o); ok {
		rp := v.(*reportedPeer)
		s.reported.Add(o, &reportedPeer{address: rp.address, confirmed: s.now()})
	}
}

// Reported returns up to n known peer addresses, most recently confirmed
// first. Live peers come first.
func (s *Set) Reported(n int) []nodeaddr.Address {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.reported.Keys()
	addrs := make([]nodeaddr.Address, 0, len(keys))
	var rest []nodeaddr.Address
	for i := len(keys) - 1; i >= 0; i-- {
		v, ok := s.reported.Peek(keys[i])
		if !ok {
			continue
		}
		rp := v.(*reportedPeer)
		if now.Sub(rp.confirmed) > s.maxAge {
			continue
		}
		if _, ok := s.live[rp.address.Overlay]; ok {
			addrs = append(addrs, rp.address)
		} else {
			rest = append(rest, rp.address)
		}
	}
	addrs = append(addrs, rest...)
	if len(addrs) > n {
		addrs = addrs[:n]
	}
	return addrs
}

// Candidates returns up to n reported peers that are not connected and did
// not fail too often, most recently confirmed first.
func (s *Set) Candidates(n int) []nodeaddr.Address {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.reported.Keys()
	var addrs []nodeaddr.Address
	for i := len(keys) - 1; i >= 0 && len(addrs) < n; i-- {
		o := keys[i].(overlay.Address)
		if _, ok := s.live[o]; ok || s.failedLocked(o) {
			continue
		}
		v, ok := s.reported.Peek(o)
		if !ok {
			continue
		}
		rp := v.(*reportedPeer)
		if now.Sub(rp.confirmed) > s.maxAge {
			continue
		}
		addrs = append(addrs, rp.address)
	}
	return addrs
}

// ReportSuccess resets the failure count of the peer.
func (s *Set) ReportSuccess(o overlay.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures.Remove(o)
}

// ReportFailure records a failed exchange with the peer. Once the failures
// reach the threshold, the peer is evicted: it is disconnected and dropped
// from the reported peers. It reports whether the peer was evicted.
func (s *Set) ReportFailure(o overlay.Address, reason string) bool {
	s.mu.Lock()
	n := 1
	if v, ok := s.failures.Peek(o); ok {
		n = v.(int) + 1
	}
	s.failures.Add(o, n)
	s.metrics.Failures.Inc()
	if n < s.failureThreshold {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	s.evict(o, reason)
	return true
}

// MarkDead evicts the peer at once.
func (s *Set) MarkDead(o overlay.Address, reason string) {
	s.mu.Lock()
	s.failures.Add(o, s.failureThreshold)
	s.mu.Unlock()

	s.evict(o, reason)
}

func (s *Set) evict(o overlay.Address, reason string) {
	s.mu.Lock()
	_, wasLive := s.live[o]
	delete(s.live, o)
	s.reported.Remove(o)
	d := s.disconnecter
	s.metrics.LivePeers.Set(float64(len(s.live)))
	s.metrics.ReportedPeers.Set(float64(s.reported.Len()))
	s.metrics.Evicted.Inc()
	s.mu.Unlock()

	s.logger.Debugf("peerset: evicting peer %s: %s", o, reason)

	if s.book != nil {
		if err := s.book.Remove(o); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Debugf("peerset: remove %s from addressbook: %v", o, err)
		}
	}
	if wasLive && d != nil {
		if err := d.Disconnect(o, reason); err != nil && !errors.Is(err, p2p.ErrPeerNotFound) {
			s.logger.Debugf("peerset: disconnect %s: %v", o, err)
		}
	}
}

// Failed reports whether the peer reached the failure threshold.
func (s *Set) Failed(o overlay.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedLocked(o)
}

func (s *Set) failedLocked(o overlay.Address) bool {
	v, ok := s.failures.Peek(o)
	return ok && v.(int) >= s.failureThreshold
}

// Close persists the reported peers.
func (s *Set) Close() error {
	return s.Persist()
}
