// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mailbox holds messages for recipients that may be offline. A
// message is a mailbox record whose payload is an envelope sealed to the
// recipient key. Every node stores and floods mailbox records like any other
// record; the recipient collects the ones addressed to it and acknowledges
// them, which removes them from the network. The service never opens
// envelopes.
package mailbox

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tradenet/gossipd/pkg/broadcast"
	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/record"
	"github.com/tradenet/gossipd/pkg/store"
)

const (
	// DefaultTrackedLimit bounds the number of records whose state is kept.
	DefaultTrackedLimit = 10000

	subscriptionBuffer = 64
)

var (
	ErrClosed       = errors.New("mailbox: closed")
	ErrNotMailbox   = errors.New("mailbox: not a mailbox record")
	ErrNotRecipient = errors.New("mailbox: not the recipient")
	ErrNotStored    = errors.New("mailbox: record not stored")
)

// Store is the record store the mailbox reads.
type Store interface {
	Get(id record.ID) (record.Record, bool)
	GetAll(f store.Filter) *store.Snapshot
	NextSequence(id record.ID) uint32
	Subscribe(buffer int) *store.Subscription
}

// Publisher applies local operations and floods them.
type Publisher interface {
	Publish(op broadcast.Operation) (store.Result, *broadcast.Handle, error)
	Broadcast(op broadcast.Operation, originator overlay.Address, isOwner bool) (*broadcast.Handle, error)
}

type Options struct {
	// DefaultTTL is the lifetime of sent messages that do not set one.
	DefaultTTL   time.Duration
	TrackedLimit int
	Now          func() time.Time
}

type Service struct {
	store      Store
	publisher  Publisher
	signer     crypto.Signer
	self       crypto.PublicKey
	defaultTTL time.Duration
	now        func() time.Time
	logger     logging.Logger
	metrics    metrics

	mu      sync.Mutex
	tracked *lru.Cache // record.ID -> *tracked

	sub       *store.Subscription
	quit      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

type tracked struct {
	state     State
	expiresAt time.Time
}

func New(st Store, publisher Publisher, signer crypto.Signer, logger logging.Logger, o Options) (*Service, error) {
	pub, err := signer.PublicKey()
	if err != nil {
		return nil, err
	}
	self, err := crypto.NewPublicKey(pub)
	if err != nil {
		return nil, err
	}
	if o.DefaultTTL <= 0 {
		l, _ := record.LimitsOf(record.KindMailbox)
		o.DefaultTTL = l.MaxTTL
	}
	if o.TrackedLimit <= 0 {
		o.TrackedLimit = DefaultTrackedLimit
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	cache, err := lru.New(o.TrackedLimit)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:      st,
		publisher:  publisher,
		signer:     signer,
		self:       self,
		defaultTTL: o.DefaultTTL,
		now:        o.Now,
		logger:     logger,
		metrics:    newMetrics(),
		tracked:    cache,
		quit:       make(chan struct{}),
	}, nil
}

// Start begins following the store and floods again the live mailbox
// records this node sent.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.sub = s.store.Subscribe(subscriptionBuffer)

		snapshot := s.store.GetAll(store.Filter{Kinds: []record.Kind{record.KindMailbox}})
		for r, ok := snapshot.Next(); ok; r, ok = snapshot.Next() {
			s.transition(r, StateStored)
		}

		s.wg.Add(1)
		go s.follow()

		if n := s.Republish(); n > 0 {
			s.logger.Debugf("mailbox: republished %d records", n)
		}
	})
}

// follow keeps the record states in step with the store. It only reads the
// store.
func (s *Service) follow() {
	defer s.wg.Done()

	for {
		select {
		case <-s.quit:
			return
		case e := <-s.sub.C:
			if e.Record.Base().Kind != record.KindMailbox {
				continue
			}
			switch e.Type {
			case store.EventAdded, store.EventRefreshed:
				s.transition(e.Record, StateStored)
			case store.EventRemoved:
				s.transition(e.Record, StateDelivered)
			case store.EventExpired:
				s.transition(e.Record, StateExpired)
				s.transition(e.Record, StatePurged)
			}
		}
	}
}

func (s *Service) transition(r record.Record, to State) {
	id := r.ID()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tracked{state: StateUnknown}
	if v, ok := s.tracked.Get(id); ok {
		t = v.(*tracked)
	}
	from := t.effective(now)
	if from == StateStored && to == StateStored {
		// refreshed
		t.expiresAt = r.Base().ExpiresAt()
		return
	}
	next, ok := from.next(to)
	if !ok {
		s.logger.Tracef("mailbox: record %s: ignored %s in state %s", id.ShortString(), to, from)
		return
	}

	if t.state == StateStored {
		s.metrics.Pending.Dec()
	}
	switch next {
	case StateStored:
		s.metrics.Pending.Inc()
		t.expiresAt = r.Base().ExpiresAt()
	case StateDelivered:
		s.metrics.Delivered.Inc()
	case StateExpired:
		s.metrics.Expired.Inc()
	case StatePurged:
		s.metrics.Purged.Inc()
	}
	t.state = next
	s.tracked.Add(id, t)
	s.logger.Debugf("mailbox: record %s: %s", id.ShortString(), next)
}

// effective is the state of t at now. A stored record past its lifetime is
// expired before the store purges it; a delivered record is purged once its
// lifetime would have ended.
func (t *tracked) effective(now time.Time) State {
	if now.Before(t.expiresAt) || now.Equal(t.expiresAt) {
		return t.state
	}
	switch t.state {
	case StateStored:
		return StateExpired
	case StateDelivered:
		return StatePurged
	}
	return t.state
}

// State returns the state of the mailbox record with the id.
func (s *Service) State(id record.ID) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.tracked.Get(id)
	if !ok {
		return StateUnknown
	}
	return v.(*tracked).effective(s.now())
}

// Deposit stores a signed mailbox record and floods it.
func (s *Service) Deposit(m *record.Mailbox) (store.Result, error) {
	res, _, err := s.publisher.Publish(&broadcast.Add{Record: m})
	if err != nil {
		if errors.Is(err, broadcast.ErrClosed) {
			return res, ErrClosed
		}
		return res, fmt.Errorf("deposit %s: %w", m.ID().ShortString(), err)
	}
	if res == store.Stored {
		s.metrics.Deposited.Inc()
	}
	return res, nil
}

// Send seals plaintext to the recipient and deposits it as a new mailbox
// record signed by this node. A zero ttl uses the default lifetime.
func (s *Service) Send(recipient crypto.PublicKey, plaintext []byte, ttl time.Duration) (*record.Mailbox, error) {
	envelope, err := Seal(recipient, plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	m := &record.Mailbox{
		Entry: record.Entry{
			Kind:    record.KindMailbox,
			Key:     []byte(uuid.New().String()),
			Payload: envelope,
			Owner:   s.self,
			TTL:     ttl,
		},
		Recipient: recipient,
	}
	m.Sequence = s.store.NextSequence(m.ID())
	if err := record.SignAdd(m, s.signer); err != nil {
		return nil, err
	}

	res, err := s.Deposit(m)
	if err != nil {
		return nil, err
	}
	if res != store.Stored {
		return nil, fmt.Errorf("deposit %s: %w: %s", m.ID().ShortString(), ErrNotStored, res)
	}
	return m, nil
}

// Collect returns copies of the live mailbox records addressed to recipient.
func (s *Service) Collect(recipient crypto.PublicKey) []*record.Mailbox {
	snapshot := s.store.GetAll(store.Filter{
		Kinds:     []record.Kind{record.KindMailbox},
		Recipient: &recipient,
	})

	var messages []*record.Mailbox
	for r, ok := snapshot.Next(); ok; r, ok = snapshot.Next() {
		m, ok := r.(*record.Mailbox)
		if !ok {
			continue
		}
		messages = append(messages, m)
	}
	s.metrics.Collected.Add(float64(len(messages)))
	return messages
}

// Acknowledge removes a collected record from the network. This node must be
// its recipient.
func (s *Service) Acknowledge(m *record.Mailbox) error {
	if m.Recipient != s.self {
		return ErrNotRecipient
	}

	c, ok := m.Clone().(*record.Mailbox)
	if !ok {
		return ErrNotMailbox
	}
	c.Sequence = s.store.NextSequence(c.ID())
	if err := record.SignRemove(c, s.signer); err != nil {
		return err
	}

	res, _, err := s.publisher.Publish(broadcast.NewRemove(c))
	if err != nil {
		if errors.Is(err, broadcast.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("acknowledge %s: %w", c.ID().ShortString(), err)
	}
	if res == store.Removed || res == store.NotFound {
		s.metrics.Acknowledged.Inc()
	}
	return nil
}

// Republish floods the live mailbox records sent by this node again. It
// returns the number of started broadcasts.
func (s *Service) Republish() int {
	snapshot := s.store.GetAll(store.Filter{
		Kinds: []record.Kind{record.KindMailbox},
		Owner: &s.self,
	})

	var n int
	for r, ok := snapshot.Next(); ok; r, ok = snapshot.Next() {
		if _, err := s.publisher.Broadcast(&broadcast.Add{Record: r}, overlay.Address{}, true); err != nil {
			s.logger.Debugf("mailbox: republish %s: %v", r.ID().ShortString(), err)
			continue
		}
		n++
	}
	s.metrics.Republished.Add(float64(n))
	return n
}

func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	s.wg.Wait()
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	return nil
}
