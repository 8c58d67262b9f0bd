// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mock provides an in-memory state store for tests. Iteration
// visits keys in lexical order, as the leveldb store does.
package mock

import (
	"encoding"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/tradenet/gossipd/pkg/storage"
)

var _ storage.StateStorer = (*store)(nil)

// ErrPutFailed is returned by a store created with NewFailingStateStore.
var ErrPutFailed = errors.New("mock: put failed")

type store struct {
	store   map[string][]byte
	mtx     sync.RWMutex
	failing bool
}

func NewStateStore() storage.StateStorer {
	return &store{
		store: make(map[string][]byte),
	}
}

// NewFailingStateStore returns a store whose writes always fail, to
// exercise persistence error handling.
func NewFailingStateStore() storage.StateStorer {
	return &store{
		store:   make(map[string][]byte),
		failing: true,
	}
}

func (s *store) Get(key string, i interface{}) (err error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	data, ok := s.store[key]
	if !ok {
		return storage.ErrNotFound
	}

	if unmarshaler, ok := i.(encoding.BinaryUnmarshaler); ok {
		return unmarshaler.UnmarshalBinary(data)
	}

	return json.Unmarshal(data, i)
}

func (s *store) Put(key string, i interface{}) (err error) {
	if s.failing {
		return ErrPutFailed
	}

	var bytes []byte
	if marshaler, ok := i.(encoding.BinaryMarshaler); ok {
		if bytes, err = marshaler.MarshalBinary(); err != nil {
			return err
		}
	} else if bytes, err = json.Marshal(i); err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.store[key] = bytes
	return nil
}

func (s *store) Delete(key string) (err error) {
	if s.failing {
		return ErrPutFailed
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	delete(s.store, key)
	return nil
}

func (s *store) Iterate(prefix string, iterFunc storage.StateIterFunc) (err error) {
	s.mtx.RLock()
	keys := make([]string, 0, len(s.store))
	for k := range s.store {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = append([]byte(nil), s.store[k]...)
	}
	s.mtx.RUnlock()

	for i, k := range keys {
		stop, err := iterFunc([]byte(k), values[i])
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

func (s *store) Close() (err error) {
	return nil
}
