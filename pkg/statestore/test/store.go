// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package test holds a test suite run against every state store
// implementation.
package test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tradenet/gossipd/pkg/storage"
)

const (
	key1 = "key1" // stores the serialized type
	key2 = "key2" // stores a json array
)

type Serializing struct {
	value           string
	marshalCalled   bool
	unmarshalCalled bool
}

func (st *Serializing) MarshalBinary() (data []byte, err error) {
	d := []byte(st.value)
	st.marshalCalled = true

	return d, nil
}

func (st *Serializing) UnmarshalBinary(data []byte) (err error) {
	st.value = string(data)
	st.unmarshalCalled = true
	return nil
}

// Run runs the suite against stores created by f.
func Run(t *testing.T, f func(t *testing.T) storage.StateStorer) {
	t.Helper()

	t.Run("put get", func(t *testing.T) {
		store := f(t)
		value1 := &Serializing{value: "value1"}
		value2 := []string{"a", "b", "c"}

		insertValues(t, store, value1, value2)
		testPersistedValues(t, store, value1, value2)
	})

	t.Run("delete", func(t *testing.T) {
		store := f(t)
		if err := store.Put(key1, "value"); err != nil {
			t.Fatal(err)
		}
		if err := store.Delete(key1); err != nil {
			t.Fatal(err)
		}
		var v string
		if err := store.Get(key1, &v); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("got error %v, want %v", err, storage.ErrNotFound)
		}
	})

	t.Run("iterate", func(t *testing.T) {
		testStoreIterator(t, f(t))
	})
}

// RunPersist checks that values survive closing and reopening a store in
// the same directory.
func RunPersist(t *testing.T, f func(t *testing.T, dir string) storage.StateStorer) {
	t.Helper()

	dir := t.TempDir()
	value1 := &Serializing{value: "value1"}
	value2 := []string{"a", "b", "c"}

	store := f(t, dir)
	insertValues(t, store, value1, value2)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	persisted := f(t, dir)
	defer persisted.Close()

	testPersistedValues(t, persisted, value1, value2)
}

func insertValues(t *testing.T, store storage.StateStorer, value1 *Serializing, value2 []string) {
	t.Helper()

	if err := store.Put(key1, value1); err != nil {
		t.Fatal(err)
	}

	if !value1.marshalCalled {
		t.Fatal("binaryMarshaller not called on serialized type")
	}

	if err := store.Put(key2, value2); err != nil {
		t.Fatal(err)
	}
}

func testPersistedValues(t *testing.T, store storage.StateStorer, value1 *Serializing, value2 []string) {
	t.Helper()

	v := &Serializing{}
	if err := store.Get(key1, v); err != nil {
		t.Fatal(err)
	}

	if !v.unmarshalCalled {
		t.Fatal("unmarshaler not called")
	}

	if v.value != value1.value {
		t.Fatalf("expected persisted to be %s but got %s", value1.value, v.value)
	}

	var s []string
	if err := store.Get(key2, &s); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(value2, s); diff != "" {
		t.Fatalf("deserialized data mismatch (-want +got):\n%s", diff)
	}
}

func testStoreIterator(t *testing.T, store storage.StateStorer) {
	t.Helper()

	storePrefix := "test_"
	for k, v := range map[string]string{
		storePrefix + "key1": "value1",
		"key2":               "value2",
		storePrefix + "key3": "value3",
	} {
		if err := store.Put(k, v); err != nil {
			t.Fatal(err)
		}
	}

	entries := make(map[string]string)
	err := store.Iterate(storePrefix, func(key []byte, value []byte) (stop bool, err error) {
		var entry string
		if err := json.Unmarshal(value, &entry); err != nil {
			return true, err
		}
		entries[string(key)] = entry
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	expectedEntries := map[string]string{"test_key1": "value1", "test_key3": "value3"}

	if diff := cmp.Diff(expectedEntries, entries); diff != "" {
		t.Fatalf("iterated entries mismatch (-want +got):\n%s", diff)
	}
}
