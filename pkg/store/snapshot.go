// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"sort"
	"time"

	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/record"
)

// Filter selects records. Zero fields match everything.
type Filter struct {
	Kinds     []record.Kind
	Owner     *crypto.PublicKey
	Recipient *crypto.PublicKey
}

// Match reports whether r is selected by f.
func (f Filter) Match(r record.Record) bool {
	e := r.Base()
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Owner != nil && *f.Owner != e.Owner {
		return false
	}
	if f.Recipient != nil {
		m, ok := r.(*record.Mailbox)
		if !ok || m.Recipient != *f.Recipient {
			return false
		}
	}
	return true
}

// Snapshot is a sequence of the records held when it was taken. The filter
// and expiry are evaluated lazily as the sequence is consumed, at the time
// of the snapshot. A snapshot can be restarted with Reset.
type Snapshot struct {
	records []record.Record
	filter  Filter
	at      time.Time
	i       int
}

type keyedRecord struct {
	id record.ID
	r  record.Record
}

// newSnapshot orders the records by identity, so that snapshots of the same
// state iterate alike.
func newSnapshot(keyed []keyedRecord, f Filter, at time.Time) *Snapshot {
	sort.Slice(keyed, func(i, j int) bool {
		return string(keyed[i].id[:]) < string(keyed[j].id[:])
	})
	records := make([]record.Record, len(keyed))
	for i, k := range keyed {
		records[i] = k.r
	}
	return &Snapshot{records: records, filter: f, at: at}
}

// Next returns a copy of the next matching record, false when there are no
// more.
func (s *Snapshot) Next() (record.Record, bool) {
	for s.i < len(s.records) {
		r := s.records[s.i]
		s.i++
		if r.Base().Expired(s.at) || !s.filter.Match(r) {
			continue
		}
		return r.Clone(), true
	}
	return nil, false
}

// Reset restarts the sequence.
func (s *Snapshot) Reset() {
	s.i = 0
}

// All drains the rest of the sequence into a slice.
func (s *Snapshot) All() []record.Record {
	var rs []record.Record
	for r, ok := s.Next(); ok; r, ok = s.Next() {
		rs = append(rs, r)
	}
	return rs
}
