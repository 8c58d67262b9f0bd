// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store implements the local replicated record store. It holds one
// authoritative copy per record identity, enforces ownership and sequence
// number rules, remembers sequence numbers of removed and expired records,
// and persists its state to a state store in the background.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/record"
	"github.com/tradenet/gossipd/pkg/storage"
)

// Result is the outcome of a store operation.
type Result int

const (
	// Stored: the record was added.
	Stored Result = iota + 1
	// AlreadyPresent: a copy with the same or a higher sequence is held.
	AlreadyPresent
	// Removed: the held copy was removed.
	Removed
	// NotFound: the removal was accepted but no copy was held. Its sequence
	// number is remembered, so a late add of the removed record is refused.
	NotFound
	// Refreshed: the lifetime of the held copy was extended.
	Refreshed
	// Ignored: the record requires capabilities this node lacks.
	Ignored
	// Rejected: the operation failed validation. The error tells why.
	Rejected
)

func (r Result) String() string {
	switch r {
	case Stored:
		return "stored"
	case AlreadyPresent:
		return "already present"
	case Removed:
		return "removed"
	case NotFound:
		return "not found"
	case Refreshed:
		return "refreshed"
	case Ignored:
		return "ignored"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Changed reports whether the operation was applied and must be propagated.
func (r Result) Changed() bool {
	return r == Stored || r == Removed || r == NotFound || r == Refreshed
}

const (
	DefaultPurgeInterval = 60 * time.Second
	// DefaultMaxSequences is the size of the remembered sequence map above
	// which old entries are purged.
	DefaultMaxSequences = 10000
	// SequencePurgeAge is the age after which a remembered sequence number
	// may be forgotten.
	SequencePurgeAge = 10 * 24 * time.Hour
)

// HealthReporter is told about persistence failures. The in-memory state
// stays authoritative when writes fail. A nil error reports that writes
// succeed again.
type HealthReporter interface {
	ReportStoreFailure(err error)
}

// Options configure the Store.
type Options struct {
	// Capabilities of the local node. Records requiring others are ignored.
	Capabilities capability.Set
	// PurgeInterval of the background expiry loop, disabled if zero.
	PurgeInterval time.Duration
	MaxSequences  int
	Health        HealthReporter
	// Now is the clock, time.Now if nil.
	Now func() time.Time
}

// Store is the local record store.
type Store struct {
	logger       logging.Logger
	capabilities capability.Set
	maxSequences int
	now          func() time.Time
	health       HealthReporter
	metrics      metrics

	mu      sync.RWMutex
	records map[record.ID]record.Record
	seqs    map[record.ID]sequence
	// dirty identities whose state is not yet written
	dirty map[record.ID]struct{}

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}

	persister *persister
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type sequence struct {
	Sequence uint32
	Time     time.Time
}

// New loads the state persisted in stateStore and starts the background
// writer and, if configured, the expiry loop.
func New(stateStore storage.StateStorer, logger logging.Logger, o Options) (*Store, error) {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.MaxSequences <= 0 {
		o.MaxSequences = DefaultMaxSequences
	}
	if o.Capabilities.IsEmpty() {
		o.Capabilities = capability.Default()
	}

	s := &Store{
		logger:       logger,
		capabilities: o.Capabilities,
		maxSequences: o.MaxSequences,
		now:          o.Now,
		health:       o.Health,
		metrics:      newMetrics(),
		records:      make(map[record.ID]record.Record),
		seqs:         make(map[record.ID]sequence),
		dirty:        make(map[record.ID]struct{}),
		subs:         make(map[*Subscription]struct{}),
		quit:         make(chan struct{}),
	}
	s.persister = newPersister(stateStore)

	if err := s.load(); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.writeLoop()

	if o.PurgeInterval > 0 {
		s.wg.Add(1)
		go s.purgeLoop(o.PurgeInterval)
	}

	return s, nil
}

// Add validates r and stores a copy of it.
func (s *Store) Add(r record.Record) (Result, error) {
	id := r.ID()
	now := s.now()

	s.mu.Lock()
	known := s.known(id, now)
	if err := record.ValidateAdd(r, known, s.capabilities); err != nil {
		s.mu.Unlock()
		if known.Stored != nil && errors.Is(err, record.ErrStaleSequence) {
			s.metrics.AlreadyPresent.Inc()
			return AlreadyPresent, nil
		}
		return s.refuse(err)
	}

	c := r.Clone()
	c.Base().ReceivedAt = now
	s.records[id] = c
	s.remember(id, c.Base().Sequence, now)
	s.markDirty(id)
	s.metrics.Added.Inc()
	s.metrics.Records.WithLabelValues(c.Base().Kind.String()).Inc()

	s.unlockAndNotify(Event{Type: EventAdded, Record: c})
	return Stored, nil
}

// Remove validates the removal r and deletes the held copy.
func (s *Store) Remove(r record.Record) (Result, error) {
	id := r.ID()
	now := s.now()

	s.mu.Lock()
	known := s.known(id, now)
	if err := record.ValidateRemove(r, known, s.capabilities); err != nil {
		s.mu.Unlock()
		return s.refuse(err)
	}

	s.remember(id, r.Base().Sequence, now)
	s.markDirty(id)

	if known.Stored == nil {
		// an expired copy may still wait for the purge
		if old, ok := s.records[id]; ok {
			delete(s.records, id)
			s.metrics.Records.WithLabelValues(old.Base().Kind.String()).Dec()
		}
		s.mu.Unlock()
		s.metrics.RemoveNotFound.Inc()
		return NotFound, nil
	}

	delete(s.records, id)
	s.metrics.Removed.Inc()
	s.metrics.Records.WithLabelValues(known.Stored.Base().Kind.String()).Dec()

	s.unlockAndNotify(Event{Type: EventRemoved, Record: known.Stored})
	return Removed, nil
}

// Refresh extends the lifetime of a held plain record.
func (s *Store) Refresh(rf *record.Refresh) (Result, error) {
	now := s.now()

	s.mu.Lock()
	known := s.known(rf.ID, now)
	if err := record.ValidateRefresh(rf, known, s.capabilities); err != nil {
		s.mu.Unlock()
		return s.refuse(err)
	}

	c := record.ApplyRefresh(known.Stored, rf)
	c.Base().ReceivedAt = now
	s.records[rf.ID] = c
	s.remember(rf.ID, rf.Sequence, now)
	s.markDirty(rf.ID)
	s.metrics.Refreshed.Inc()

	s.unlockAndNotify(Event{Type: EventRefreshed, Record: c})
	return Refreshed, nil
}

func (s *Store) refuse(err error) (Result, error) {
	if record.IsIgnorable(err) {
		s.metrics.Ignored.Inc()
		s.logger.Tracef("store: ignored: %v", err)
		return Ignored, nil
	}
	var re *record.RejectionError
	reason := "other"
	if errors.As(err, &re) {
		reason = re.Reason.Error()
	}
	s.metrics.Rejected.WithLabelValues(reason).Inc()
	return Rejected, err
}

// unlockAndNotify queues the events while the write lock is still held and
// then releases it.
func (s *Store) unlockAndNotify(events ...Event) {
	s.notify(events)
	s.mu.Unlock()
	s.signalWriter()
}

// known returns what the store knows about id at now. Must be called with
// the lock held.
func (s *Store) known(id record.ID, now time.Time) record.Known {
	var k record.Known
	if r, ok := s.records[id]; ok {
		k.Stored = record.Live(r, now)
		k.Sequence = r.Base().Sequence
		k.Seen = true
	}
	if seq, ok := s.seqs[id]; ok && (!k.Seen || seq.Sequence > k.Sequence) {
		k.Sequence = seq.Sequence
		k.Seen = true
	}
	return k
}

func (s *Store) remember(id record.ID, seq uint32, now time.Time) {
	s.seqs[id] = sequence{Sequence: seq, Time: now}
	s.metrics.Sequences.Set(float64(len(s.seqs)))
}

// Get returns a copy of the live record with the id.
func (s *Store) Get(id record.ID) (record.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := record.Live(s.records[id], s.now())
	if r == nil {
		return nil, false
	}
	return r.Clone(), true
}

// NextSequence returns the sequence number an owner should use for the next
// operation on the record with the id.
func (s *Store) NextSequence(id record.ID) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := s.known(id, s.now())
	if !k.Seen {
		return 1
	}
	return k.Sequence + 1
}

// GetAll returns a snapshot of the live records matching f. The snapshot
// yields copies.
func (s *Store) GetAll(f Filter) *Snapshot {
	s.mu.RLock()
	keyed := make([]keyedRecord, 0, len(s.records))
	for id, r := range s.records {
		keyed = append(keyed, keyedRecord{id: id, r: r})
	}
	s.mu.RUnlock()

	return newSnapshot(keyed, f, s.now())
}

// IDs returns the identities of up to n live records, of all if n is not
// positive.
func (s *Store) IDs(n int) []record.ID {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]record.ID, 0, len(s.records))
	for id, r := range s.records {
		if n > 0 && len(ids) == n {
			break
		}
		if !r.Base().Expired(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Counts returns the number of live records per kind.
func (s *Store) Counts() map[record.Kind]int {
	now := s.now()
	counts := make(map[record.Kind]int)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if !r.Base().Expired(now) {
			counts[r.Base().Kind]++
		}
	}
	return counts
}

// PurgeExpired removes the records whose lifetime elapsed and forgets old
// sequence numbers once there are too many. It returns the number of
// purged records.
func (s *Store) PurgeExpired() int {
	now := s.now()

	s.mu.Lock()
	var events []Event
	for id, r := range s.records {
		if !r.Base().Expired(now) {
			continue
		}
		delete(s.records, id)
		s.markDirty(id)
		s.metrics.Records.WithLabelValues(r.Base().Kind.String()).Dec()
		events = append(events, Event{Type: EventExpired, Record: r})
	}
	if len(s.seqs) > s.maxSequences {
		for id, seq := range s.seqs {
			if _, ok := s.records[id]; ok {
				continue
			}
			if now.Sub(seq.Time) > SequencePurgeAge {
				delete(s.seqs, id)
				s.markDirty(id)
			}
		}
		s.metrics.Sequences.Set(float64(len(s.seqs)))
	}
	s.metrics.Expired.Add(float64(len(events)))

	s.unlockAndNotify(events...)

	if len(events) > 0 {
		s.logger.Debugf("store: purged %d expired records", len(events))
	}
	return len(events)
}

func (s *Store) purgeLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.PurgeExpired()
		}
	}
}

// Close stops the background loops and writes pending state.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	s.wg.Wait()
	return s.Flush()
}
