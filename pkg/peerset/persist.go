// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package peerset

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tradenet/gossipd/pkg/nodeaddr"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/storage"
	"github.com/vmihailenco/msgpack/v5"
)

const keyPrefix = "peerset_reported_"

type persistedPeer struct {
	Underlay  []byte `msgpack:"u"`
	Signature []byte `msgpack:"s"`
	Confirmed int64  `msgpack:"c"`
}

type persistedPeerFields persistedPeer

func (p *persistedPeer) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal((*persistedPeerFields)(p))
}

func (p *persistedPeer) UnmarshalBinary(b []byte) error {
	return msgpack.Unmarshal(b, (*persistedPeerFields)(p))
}

func newPersistedStore(stateStore storage.StateStorer) storage.EntityStore {
	return storage.NewEntityStore(stateStore, keyPrefix,
		func(key interface{}) string { return key.(overlay.Address).String() },
		func(key string) (interface{}, error) {
			o, err := overlay.ParseHexAddress(key)
			if err != nil {
				return nil, err
			}
			return o, nil
		},
		func(v []byte) (interface{}, error) {
			var p persistedPeer
			if err := p.UnmarshalBinary(v); err != nil {
				return nil, err
			}
			return p, nil
		},
	)
}

// load seeds the reported peers from the persisted ones, oldest first so
// that the recency order is kept.
func (s *Set) load() error {
	now := s.now()

	type loaded struct {
		address   nodeaddr.Address
		confirmed time.Time
	}
	var peers []loaded
	var stale []overlay.Address

	err := s.persisted.Iterate(func(key, val interface{}) (bool, error) {
		o := key.(overlay.Address)
		p := val.(persistedPeer)
		confirmed := time.Unix(0, p.Confirmed)
		if now.Sub(confirmed) > s.maxAge {
			stale = append(stale, o)
			return false, nil
		}
		addr, err := nodeaddr.ParseAddress(p.Underlay, o.Bytes(), p.Signature, s.networkID)
		if err != nil {
			s.logger.Debugf("peerset: dropping persisted peer %s: %v", o, err)
			stale = append(stale, o)
			return false, nil
		}
		peers = append(peers, loaded{address: *addr, confirmed: confirmed})
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("load peers: %w", err)
	}

	for _, o := range stale {
		if err := s.persisted.Delete(o); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete stale peer: %w", err)
		}
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].confirmed.Before(peers[j].confirmed)
	})
	for _, p := range peers {
		if p.address.Overlay == s.self {
			continue
		}
		s.reported.Add(p.address.Overlay, &reportedPeer{address: p.address, confirmed: p.confirmed})
	}
	s.metrics.ReportedPeers.Set(float64(s.reported.Len()))

	s.logger.Debugf("peerset: loaded %d persisted peers", len(peers))

	if s.book != nil {
		n, err := s.book.Prune(s.maxAge)
		if err != nil {
			return fmt.Errorf("prune addressbook: %w", err)
		}
		if n > 0 {
			s.logger.Debugf("peerset: pruned %d addressbook entries", n)
		}
	}
	return nil
}

// Persist writes the most recently confirmed reported peers, up to the
// persisted peer cap, and deletes the others.
func (s *Set) Persist() error {
	now := s.now()

	s.mu.Lock()
	keys := s.reported.Keys()
	keep := make(map[overlay.Address]*persistedPeer)
	for i := len(keys) - 1; i >= 0 && len(keep) < s.maxPersisted; i-- {
		v, ok := s.reported.Peek(keys[i])
		if !ok {
			continue
		}
		rp := v.(*reportedPeer)
		if now.Sub(rp.confirmed) > s.maxAge {
			continue
		}
		underlay, err := rp.address.Underlay.MarshalBinary()
		if err != nil {
			continue
		}
		keep[rp.address.Overlay] = &persistedPeer{
			Underlay:  underlay,
			Signature: rp.address.Signature,
			Confirmed: rp.confirmed.UnixNano(),
		}
	}
	s.mu.Unlock()

	var drop []overlay.Address
	err := s.persisted.Iterate(func(key, _ interface{}) (bool, error) {
		o := key.(overlay.Address)
		if _, ok := keep[o]; !ok {
			drop = append(drop, o)
		}
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("persist peers: %w", err)
	}

	var result *multierror.Error
	for _, o := range drop {
		if err := s.persisted.Delete(o); err != nil && !errors.Is(err, storage.ErrNotFound) {
			result = multierror.Append(result, err)
		}
	}
	for o, p := range keep {
		if err := s.persisted.Put(o, p); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
