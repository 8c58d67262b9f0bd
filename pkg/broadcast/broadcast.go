// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package broadcast floods store operations through the network. An
// operation applied locally is sent to a random subset of live peers. A peer
// that applies a received operation sends it on to its own subset, except
// back to the peer it came from. Operations that change nothing, such as a
// second copy of a record, are not sent on, which ends the flood.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tradenet/gossipd/pkg/broadcast/pb"
	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/p2p/protobuf"
	"github.com/tradenet/gossipd/pkg/ratelimit"
	"github.com/tradenet/gossipd/pkg/record"
	"github.com/tradenet/gossipd/pkg/store"
	"github.com/tradenet/gossipd/pkg/tracing"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	protocolName        = "broadcast"
	protocolVersion     = "1.0.0"
	streamAdd           = "add"
	streamRemove        = "remove"
	streamRemoveMailbox = "remove-mailbox"
	streamRefresh       = "refresh"
)

const (
	DefaultOwnerFanout = 15
	DefaultRelayFanout = 7
	DefaultTimeout     = 30 * time.Second
	// DefaultMaxSends bounds the concurrent sends of all broadcasts.
	DefaultMaxSends = 64

	messageTimeout = 10 * time.Second
)

var (
	limitBurst = 20
	limitRate  = time.Minute
)

var ErrClosed = errors.New("broadcast: closed")

// PeerSet provides the peers to send to and takes their failures.
type PeerSet interface {
	Sample(n int, required capability.Set, exclude ...overlay.Address) []p2p.Peer
	ReportSuccess(o overlay.Address)
	ReportFailure(o overlay.Address, reason string) bool
}

type Options struct {
	// Capabilities of the local node. Received operations requiring others
	// are dropped.
	Capabilities capability.Set
	OwnerFanout  int
	RelayFanout  int
	// Timeout bounds each send. A peer that does not ack in time is
	// reported as failing.
	Timeout  time.Duration
	MaxSends int64
}

type Service struct {
	streamer     p2p.Streamer
	store        Store
	peers        PeerSet
	capabilities capability.Set
	ownerFanout  int
	relayFanout  int
	timeout      time.Duration
	sem          *semaphore.Weighted
	rejections   *ratelimit.Limiter
	logger       logging.Logger
	tracer       *tracing.Tracer
	metrics      metrics

	mu       sync.Mutex
	inflight map[uuid.UUID]*Handle
	closed   bool
	wg       sync.WaitGroup
}

func New(streamer p2p.Streamer, st Store, peers PeerSet, logger logging.Logger, tracer *tracing.Tracer, o Options) *Service {
	if o.Capabilities.IsEmpty() {
		o.Capabilities = capability.Default()
	}
	if o.OwnerFanout <= 0 {
		o.OwnerFanout = DefaultOwnerFanout
	}
	if o.RelayFanout <= 0 {
		o.RelayFanout = DefaultRelayFanout
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxSends <= 0 {
		o.MaxSends = DefaultMaxSends
	}
	return &Service{
		streamer:     streamer,
		store:        st,
		peers:        peers,
		capabilities: o.Capabilities,
		ownerFanout:  o.OwnerFanout,
		relayFanout:  o.RelayFanout,
		timeout:      o.Timeout,
		sem:          semaphore.NewWeighted(o.MaxSends),
		rejections:   ratelimit.New(limitRate, limitBurst),
		logger:       logger,
		tracer:       tracer,
		metrics:      newMetrics(),
		inflight:     make(map[uuid.UUID]*Handle),
	}
}

func (s *Service) Protocol() p2p.ProtocolSpec {
	return p2p.ProtocolSpec{
		Name:    protocolName,
		Version: protocolVersion,
		StreamSpecs: []p2p.StreamSpec{
			{
				Name:    streamAdd,
				Handler: s.addHandler,
			},
			{
				Name:    streamRemove,
				Handler: s.removeHandler,
			},
			{
				Name:    streamRemoveMailbox,
				Handler: s.removeMailboxHandler,
			},
			{
				Name:    streamRefresh,
				Handler: s.refreshHandler,
			},
		},
		DisconnectIn:  s.disconnect,
		DisconnectOut: s.disconnect,
	}
}

// Publish applies an operation of a local owner to the store and broadcasts
// it if it changed the store. The handle is nil when nothing is sent.
func (s *Service) Publish(op Operation) (store.Result, *Handle, error) {
	res, err := op.apply(s.store)
	if err != nil {
		return res, nil, err
	}
	if !res.Changed() {
		return res, nil, nil
	}
	h, err := s.Broadcast(op, overlay.Address{}, true)
	if err != nil {
		return res, nil, err
	}
	return res, h, nil
}

// Broadcast sends op to a random subset of live peers, excluding the
// originator. Owners reach more peers than relays. It returns at once; the
// handle tracks the sends.
func (s *Service) Broadcast(op Operation, originator overlay.Address, isOwner bool) (*Handle, error) {
	fanout := s.relayFanout
	if isOwner {
		fanout = s.ownerFanout
	}

	var exclude []overlay.Address
	if !originator.IsZero() {
		exclude = append(exclude, originator)
	}
	peers := s.peers.Sample(fanout, op.RequiredCapabilities(), exclude...)

	ctx, cancel := context.WithCancel(context.Background())
	h := newHandle(op, peers, cancel)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	s.inflight[h.ID] = h
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.Broadcasts.Inc()
	s.metrics.InFlight.Inc()

	go func() {
		defer s.wg.Done()
		defer s.metrics.InFlight.Dec()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, h.ID)
			s.mu.Unlock()
		}()
		s.run(ctx, h)
	}()

	return h, nil
}

func (s *Service) run(ctx context.Context, h *Handle) {
	defer h.finish()

	span, logger, ctx := s.tracer.StartSpanFromContext(ctx, "broadcast", s.logger)
	defer span.Finish()

	var eg errgroup.Group
	for _, peer := range h.Peers {
		peer := peer
		if err := s.sem.Acquire(ctx, 1); err != nil {
			h.failed.Inc()
			continue
		}
		eg.Go(func() error {
			defer s.sem.Release(1)

			sctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			s.metrics.Sends.Inc()
			if err := s.send(sctx, peer, h.Op); err != nil {
				h.failed.Inc()
				s.metrics.SendFailures.Inc()
				logger.Debugf("broadcast: %s to peer %s: %v", h.Op, peer, err)
				// sends stopped by Cancel or Close are not the peer's fault
				if !errors.Is(ctx.Err(), context.Canceled) {
					s.peers.ReportFailure(peer, "broadcast: "+err.Error())
				}
				return nil
			}
			h.succeeded.Inc()
			s.peers.ReportSuccess(peer)
			return nil
		})
	}
	_ = eg.Wait()

	logger.Tracef("broadcast: %s sent to %d of %d peers", h.Op, h.Succeeded(), len(h.Peers))
}

func (s *Service) send(ctx context.Context, peer overlay.Address, op Operation) (err error) {
	headers := make(p2p.Headers)
	if err := s.tracer.AddContextHeader(ctx, headers); err != nil && !errors.Is(err, tracing.ErrContextNotFound) {
		return err
	}

	stream, err := s.streamer.NewStream(ctx, peer, headers, protocolName, protocolVersion, op.streamName())
	if err != nil {
		return fmt.Errorf("new stream: %w", err)
	}
	defer func() {
		if err != nil {
			_ = stream.Reset()
		} else {
			go stream.FullClose()
		}
	}()

	w, r := protobuf.NewWriterAndReader(stream)
	if err := w.WriteMsgWithContext(ctx, op.message()); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	var ack pb.Ack
	if err := r.ReadMsgWithContext(ctx, &ack); err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	return nil
}

// InFlight returns the handles of the running broadcasts.
func (s *Service) InFlight() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	hs := make([]*Handle, 0, len(s.inflight))
	for _, h := range s.inflight {
		hs = append(hs, h)
	}
	return hs
}

// CancelAll cancels all running broadcasts. Sends already delivered stay
// delivered.
func (s *Service) CancelAll() {
	for _, h := range s.InFlight() {
		h.Cancel()
	}
}

func (s *Service) disconnect(peer p2p.Peer) error {
	s.rejections.Clear(peer.Address)
	return nil
}

// Close cancels the running broadcasts and waits for them to end. Later
// broadcasts fail with ErrClosed.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.CancelAll()
	s.wg.Wait()
	return nil
}

// Handle tracks a broadcast.
type Handle struct {
	ID    uuid.UUID
	Op    Operation
	Peers []overlay.Address

	succeeded atomic.Int32
	failed    atomic.Int32
	cancel    context.CancelFunc
	done      chan struct{}
}

func newHandle(op Operation, peers []p2p.Peer, cancel context.CancelFunc) *Handle {
	return &Handle{
		ID:     uuid.New(),
		Op:     op,
		Peers:  p2p.PeerAddresses(peers),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Succeeded returns the number of peers that acknowledged the operation.
func (h *Handle) Succeeded() int { return int(h.succeeded.Load()) }

// Failed returns the number of peers the operation could not be sent to.
func (h *Handle) Failed() int { return int(h.failed.Load()) }

// Done is closed when all sends resolved or the broadcast timed out.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the broadcast is done or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the sends that are not complete.
func (h *Handle) Cancel() {
	h.cancel()
}

func (h *Handle) finish() {
	h.cancel()
	close(h.done)
}

func (h *Handle) String() string {
	return fmt.Sprintf("broadcast %s: %s to %d peers, %d succeeded, %d failed", h.ID, h.Op, len(h.Peers), h.Succeeded(), h.Failed())
}

// isAbuse tells rejections that only a misbehaving peer sends apart from
// the duplicates and late arrivals of a normal flood.
func isAbuse(err error) bool {
	return errors.Is(err, record.ErrInvalidSignature) ||
		errors.Is(err, record.ErrMalformed) ||
		errors.Is(err, record.ErrOwnerMismatch)
}
