// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package addressbook persists the signed addresses of peers that completed
// a handshake, so that a restarted node can dial them without asking the
// bootnodes.
package addressbook

import (
	"errors"
	"fmt"
	"time"

	"github.com/tradenet/gossipd/pkg/nodeaddr"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/storage"
	"github.com/vmihailenco/msgpack/v5"
)

const keyPrefix = "addressbook_entry_"

var _ Store = (*store)(nil)

var ErrNotFound = errors.New("addressbook: not found")

// Store maps overlay addresses to signed node addresses and the time each
// was last verified in a handshake.
type Store interface {
	GetPutter
	// Remove removes overlay address.
	Remove(o overlay.Address) error
	// Overlays returns a list of all overlay addresses saved in addressbook.
	Overlays() ([]overlay.Address, error)
	// Addresses returns a list of all node addresses saved in addressbook.
	Addresses() ([]nodeaddr.Address, error)
	// Verified returns the time the address of the overlay was last put.
	Verified(o overlay.Address) (time.Time, error)
	// Prune removes the addresses not verified for longer than maxAge and
	// returns their number.
	Prune(maxAge time.Duration) (int, error)
}

type GetPutter interface {
	Getter
	Putter
}

type Getter interface {
	// Get returns pointer to saved nodeaddr.Address for requested overlay address.
	Get(o overlay.Address) (addr *nodeaddr.Address, err error)
}

type Putter interface {
	// Put saves the address of a peer that has just proven it.
	Put(o overlay.Address, addr nodeaddr.Address) (err error)
}

type entry struct {
	address  nodeaddr.Address
	verified time.Time
}

type entryFields struct {
	Address  []byte `msgpack:"a"`
	Verified int64  `msgpack:"v"`
}

func (e *entry) MarshalBinary() ([]byte, error) {
	a, err := e.address.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(&entryFields{Address: a, Verified: e.verified.UnixNano()})
}

func (e *entry) UnmarshalBinary(b []byte) error {
	var f entryFields
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return err
	}
	if err := e.address.UnmarshalJSON(f.Address); err != nil {
		return err
	}
	e.verified = time.Unix(0, f.Verified)
	return nil
}

type store struct {
	store storage.EntityStore
	now   func() time.Time
}

// New creates new addressbook for state storer.
func New(storer storage.StateStorer) Store {
	return &store{
		store: storage.NewEntityStore(storer, keyPrefix, keyFromEntityFunc, entityFromKeyFunc, valueUnmarshalFunc),
		now:   time.Now,
	}
}

func (s *store) get(o overlay.Address) (*entry, error) {
	e := new(entry)
	if err := s.store.Get(o, e); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *store) Get(o overlay.Address) (*nodeaddr.Address, error) {
	e, err := s.get(o)
	if err != nil {
		return nil, err
	}
	return &e.address, nil
}

func (s *store) Verified(o overlay.Address) (time.Time, error) {
	e, err := s.get(o)
	if err != nil {
		return time.Time{}, err
	}
	return e.verified, nil
}

func (s *store) Put(o overlay.Address, addr nodeaddr.Address) (err error) {
	if addr.Overlay != o {
		return fmt.Errorf("addressbook: address of %s put under %s", addr.Overlay, o)
	}
	return s.store.Put(o, &entry{address: addr, verified: s.now()})
}

func (s *store) Remove(o overlay.Address) error {
	return s.store.Delete(o)
}

func (s *store) Overlays() (overlays []overlay.Address, err error) {
	err = s.store.Iterate(func(key, _ interface{}) (stop bool, err error) {
		overlays = append(overlays, key.(overlay.Address))
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return overlays, nil
}

func (s *store) Addresses() (addresses []nodeaddr.Address, err error) {
	err = s.store.Iterate(func(_, value interface{}) (stop bool, err error) {
		addresses = append(addresses, value.(*entry).address)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return addresses, nil
}

func (s *store) Prune(maxAge time.Duration) (int, error) {
	now := s.now()

	var stale []overlay.Address
	err := s.store.Iterate(func(key, value interface{}) (stop bool, err error) {
		if now.Sub(value.(*entry).verified) > maxAge {
			stale = append(stale, key.(overlay.Address))
		}
		return false, nil
	})
	if err != nil {
		return 0, err
	}

	for _, o := range stale {
		if err := s.store.Delete(o); err != nil {
			return 0, fmt.Errorf("delete %s: %w", o, err)
		}
	}
	return len(stale), nil
}

func keyFromEntityFunc(key interface{}) string {
	return key.(overlay.Address).String()
}

func entityFromKeyFunc(key string) (interface{}, error) {
	addr, err := overlay.ParseHexAddress(key)
	if err != nil {
		return nil, fmt.Errorf("invalid overlay key: %s, err: %w", key, err)
	}
	return addr, nil
}

func valueUnmarshalFunc(v []byte) (interface{}, error) {
	e := new(entry)
	if err := e.UnmarshalBinary(v); err != nil {
		return nil, err
	}
	return e, nil
}
