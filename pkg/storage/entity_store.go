// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storage

// EntityStore provides abstraction on top of StateStorer for usecase when
// StateStorer is used for mapping on fixed key to value types, such as
// record identities to their remembered sequence numbers.
type EntityStore interface {
	Get(key interface{}, val interface{}) (err error)
	Put(key interface{}, val interface{}) (err error)
	Delete(key interface{}) (err error)
	// Iterate calls iterFunc with every decoded key and value under the
	// store prefix. Entries that can not be decoded are skipped.
	Iterate(iterFunc func(key, val interface{}) (stop bool, err error)) (err error)
}

type (
	KeyFromEntityFunc  = func(key interface{}) string
	EntityFromKeyFunc  = func(key string) (interface{}, error)
	ValueUnmarshalFunc = func(v []byte) (interface{}, error)
)

// NewEntityStore maps entities under prefix of store.
func NewEntityStore(
	store StateStorer,
	prefix string,
	toKeyFunc KeyFromEntityFunc,
	fromKeyFunc EntityFromKeyFunc,
	valueUnmarshalFunc ValueUnmarshalFunc,
) EntityStore {
	return &entityStore{
		store:              store,
		prefix:             prefix,
		toKeyFunc:          toKeyFunc,
		fromKeyFunc:        fromKeyFunc,
		valueUnmarshalFunc: valueUnmarshalFunc,
	}
}

type entityStore struct {
	store              StateStorer
	prefix             string
	toKeyFunc          KeyFromEntityFunc
	fromKeyFunc        EntityFromKeyFunc
	valueUnmarshalFunc ValueUnmarshalFunc
}

func (s *entityStore) Get(key interface{}, val interface{}) (err error) {
	return s.store.Get(s.prefix+s.toKeyFunc(key), val)
}

func (s *entityStore) Put(key interface{}, val interface{}) (err error) {
	return s.store.Put(s.prefix+s.toKeyFunc(key), val)
}

func (s *entityStore) Delete(key interface{}) (err error) {
	return s.store.Delete(s.prefix + s.toKeyFunc(key))
}

func (s *entityStore) Iterate(iterFunc func(key, val interface{}) (stop bool, err error)) (err error) {
	return s.store.Iterate(s.prefix, func(rawKey, rawVal []byte) (stop bool, err error) {
		k, err := s.fromKeyFunc(string(rawKey[len(s.prefix):]))
		if err != nil {
			return false, nil
		}
		v, err := s.valueUnmarshalFunc(rawVal)
		if err != nil {
			return false, nil
		}
		return iterFunc(k, v)
	})
}
