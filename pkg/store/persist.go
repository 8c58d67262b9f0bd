// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tradenet/gossipd/pkg/record"
	"github.com/tradenet/gossipd/pkg/storage"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	recordKeyPrefix   = "store_record_"
	sequenceKeyPrefix = "store_sequence_"
)

// persister writes the state of dirty identities to the state store. The
// in-memory maps are authoritative, so a write only ever copies the current
// state of an identity, or deletes it when there is none.
type persister struct {
	stateStore storage.StateStorer
	sequences  storage.EntityStore
	signal     chan struct{}
	mu         sync.Mutex
	failing    bool
}

func newPersister(stateStore storage.StateStorer) *persister {
	return &persister{
		stateStore: stateStore,
		sequences: storage.NewEntityStore(stateStore, sequenceKeyPrefix,
			func(key interface{}) string { return key.(record.ID).String() },
			func(key string) (interface{}, error) {
				id, err := record.ParseHexID(key)
				if err != nil {
					return nil, err
				}
				return id, nil
			},
			func(v []byte) (interface{}, error) {
				var e sequenceEntry
				if err := e.UnmarshalBinary(v); err != nil {
					return nil, err
				}
				return e, nil
			},
		),
		signal: make(chan struct{}, 1),
	}
}

type storedRecord struct {
	Record     []byte `msgpack:"r"`
	ReceivedAt int64  `msgpack:"t"`
}

type storedRecordFields storedRecord

func (r *storedRecord) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal((*storedRecordFields)(r))
}

func (r *storedRecord) UnmarshalBinary(b []byte) error {
	return msgpack.Unmarshal(b, (*storedRecordFields)(r))
}

type sequenceEntry struct {
	Sequence uint32 `msgpack:"s"`
	Time     int64  `msgpack:"t"`
}

type sequenceEntryFields sequenceEntry

func (e *sequenceEntry) MarshalBinary() ([]byte, error) {
	return msgpack.Marshal((*sequenceEntryFields)(e))
}

func (e *sequenceEntry) UnmarshalBinary(b []byte) error {
	return msgpack.Unmarshal(b, (*sequenceEntryFields)(e))
}

func recordKey(id record.ID) string {
	return recordKeyPrefix + id.String()
}

// load reads the persisted state. Expired records are dropped.
func (s *Store) load() error {
	now := s.now()
	p := s.persister

	err := p.stateStore.Iterate(recordKeyPrefix, func(key, value []byte) (bool, error) {
		var sr storedRecord
		if err := sr.UnmarshalBinary(value); err != nil {
			s.logger.Warningf("store: skipping undecodable entry %s: %v", key, err)
			return false, nil
		}
		r, err := record.Unmarshal(sr.Record)
		if err != nil {
			s.logger.Warningf("store: skipping undecodable record %s: %v", key, err)
			return false, nil
		}
		r.Base().ReceivedAt = time.Unix(0, sr.ReceivedAt)
		id := r.ID()
		if r.Base().Expired(now) {
			s.markDirty(id)
		} else {
			s.records[id] = r
			s.metrics.Records.WithLabelValues(r.Base().Kind.String()).Inc()
		}
		if seq, ok := s.seqs[id]; !ok || seq.Sequence < r.Base().Sequence {
			s.seqs[id] = sequence{Sequence: r.Base().Sequence, Time: r.Base().ReceivedAt}
		}
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	err = p.sequences.Iterate(func(key, val interface{}) (bool, error) {
		id := key.(record.ID)
		e := val.(sequenceEntry)
		if seq, ok := s.seqs[id]; !ok || seq.Sequence < e.Sequence {
			s.seqs[id] = sequence{Sequence: e.Sequence, Time: time.Unix(0, e.Time)}
		}
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("load sequences: %w", err)
	}
	s.metrics.Sequences.Set(float64(len(s.seqs)))

	s.logger.Debugf("store: loaded %d records and %d sequence numbers", len(s.records), len(s.seqs))
	return nil
}

// markDirty schedules the state of id to be written. Must be called with
// the lock held.
func (s *Store) markDirty(id record.ID) {
	s.dirty[id] = struct{}{}
}

func (s *Store) signalWriter() {
	select {
	case s.persister.signal <- struct{}{}:
	default:
	}
}

func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.quit:
			return
		case <-s.persister.signal:
			_ = s.Flush()
		}
	}
}

type pendingWrite struct {
	id       record.ID
	record   record.Record
	sequence *sequence
}

// Flush writes the state of all dirty identities. Failed writes are
// reported and retried on the next flush.
func (s *Store) Flush() error {
	p := s.persister
	p.mu.Lock()
	defer p.mu.Unlock()

	s.mu.Lock()
	writes := make([]pendingWrite, 0, len(s.dirty))
	for id := range s.dirty {
		w := pendingWrite{id: id, record: s.records[id]}
		if seq, ok := s.seqs[id]; ok {
			w.sequence = &seq
		}
		writes = append(writes, w)
	}
	s.dirty = make(map[record.ID]struct{})
	s.mu.Unlock()

	var result *multierror.Error
	var failed []record.ID
	for _, w := range writes {
		if err := p.write(w); err != nil {
			result = multierror.Append(result, fmt.Errorf("write %s: %w", w.id, err))
			failed = append(failed, w.id)
		}
	}
	if len(failed) == 0 {
		if p.failing && len(writes) > 0 {
			p.failing = false
			if s.health != nil {
				s.health.ReportStoreFailure(nil)
			}
		}
		return nil
	}
	p.failing = true

	s.mu.Lock()
	for _, id := range failed {
		s.markDirty(id)
	}
	s.mu.Unlock()

	err := result.ErrorOrNil()
	s.metrics.PersistErrors.Add(float64(len(failed)))
	s.logger.Errorf("store: persist: %v", err)
	if s.health != nil {
		s.health.ReportStoreFailure(err)
	}
	return err
}

func (p *persister) write(w pendingWrite) error {
	var errs error
	if w.record != nil {
		b, err := record.Marshal(w.record)
		if err != nil {
			return err
		}
		sr := &storedRecord{Record: b, ReceivedAt: w.record.Base().ReceivedAt.UnixNano()}
		if err := p.stateStore.Put(recordKey(w.id), sr); err != nil {
			errs = multierror.Append(errs, err)
		}
	} else if err := p.stateStore.Delete(recordKey(w.id)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		errs = multierror.Append(errs, err)
	}

	if w.sequence != nil {
		e := &sequenceEntry{Sequence: w.sequence.Sequence, Time: w.sequence.Time.UnixNano()}
		if err := p.sequences.Put(w.id, e); err != nil {
			errs = multierror.Append(errs, err)
		}
	} else if err := p.sequences.Delete(w.id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		errs = multierror.Append(errs, err)
	}
	return errs
}
