// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package keepalive pings the live peers periodically and measures the
// round trip time. A peer that fails several consecutive pings is marked
// dead and removed from the live set.
package keepalive

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/tradenet/gossipd/pkg/keepalive/pb"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/p2p/protobuf"
	"github.com/tradenet/gossipd/pkg/tracing"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	protocolName    = "keepalive"
	protocolVersion = "1.0.0"
	streamName      = "ping"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultTimeout     = 20 * time.Second
	DefaultMaxFailures = 3
)

var ErrNonceMismatch = errors.New("pong nonce mismatch")

// PeerSet provides the peers to ping and takes the dead ones.
type PeerSet interface {
	Live() []p2p.Peer
	ReportSuccess(o overlay.Address)
	MarkDead(o overlay.Address, reason string)
}

type Options struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures int
}

type Service struct {
	streamer    p2p.Streamer
	peers       PeerSet
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	logger      logging.Logger
	tracer      *tracing.Tracer
	metrics     metrics
	sem         *semaphore.Weighted

	mu    sync.Mutex
	state map[overlay.Address]*peerState

	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type peerState struct {
	failures atomic.Int32
	rtt      atomic.Duration
}

func New(streamer p2p.Streamer, peers PeerSet, logger logging.Logger, tracer *tracing.Tracer, o Options) *Service {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = DefaultMaxFailures
	}
	return &Service{
		streamer:    streamer,
		peers:       peers,
		interval:    o.Interval,
		timeout:     o.Timeout,
		maxFailures: o.MaxFailures,
		logger:      logger,
		tracer:      tracer,
		metrics:     newMetrics(),
		sem:         semaphore.NewWeighted(16),
		state:       make(map[overlay.Address]*peerState),
		quit:        make(chan struct{}),
	}
}

func (s *Service) Protocol() p2p.ProtocolSpec {
	return p2p.ProtocolSpec{
		Name:    protocolName,
		Version: protocolVersion,
		StreamSpecs: []p2p.StreamSpec{
			{
				Name:    streamName,
				Handler: s.handler,
			},
		},
		DisconnectIn:  s.disconnect,
		DisconnectOut: s.disconnect,
	}
}

func (s *Service) peerState(o overlay.Address) *peerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.state[o]
	if !ok {
		ps = new(peerState)
		s.state[o] = ps
	}
	return ps
}

// Ping sends a ping carrying the last measured round trip time and waits
// for the pong echoing its nonce.
func (s *Service) Ping(ctx context.Context, peer overlay.Address) (rtt time.Duration, err error) {
	span, logger, ctx := s.tracer.StartSpanFromContext(ctx, "keepalive-ping", s.logger)
	defer span.Finish()

	ps := s.peerState(peer)

	start := time.Now()
	stream, err := s.streamer.NewStream(ctx, peer, nil, protocolName, protocolVersion, streamName)
	if err != nil {
		return 0, fmt.Errorf("new stream: %w", err)
	}
	defer func() {
		if err != nil {
			_ = stream.Reset()
		} else {
			go stream.FullClose()
		}
	}()

	w, r := protobuf.NewWriterAndReader(stream)

	nonce := rand.Uint64() // #nosec
	if err := w.WriteMsgWithContext(ctx, &pb.Ping{
		Nonce:               nonce,
		LastRoundTripMillis: uint64(ps.rtt.Load().Milliseconds()),
	}); err != nil {
		return 0, fmt.Errorf("write message: %w", err)
	}
	s.metrics.PingSentCount.Inc()

	var pong pb.Pong
	if err := r.ReadMsgWithContext(ctx, &pong); err != nil {
		return 0, fmt.Errorf("read message: %w", err)
	}
	if pong.RequestNonce != nonce {
		return 0, ErrNonceMismatch
	}
	s.metrics.PongReceivedCount.Inc()

	rtt = time.Since(start)
	ps.rtt.Store(rtt)
	s.metrics.RTT.Observe(rtt.Seconds())
	logger.Tracef("keepalive: peer %s rtt %s", peer, rtt)
	return rtt, nil
}

func (s *Service) handler(ctx context.Context, p p2p.Peer, stream p2p.Stream) (err error) {
	defer func() {
		if err != nil {
			_ = stream.Reset()
		} else {
			go stream.FullClose()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w, r := protobuf.NewWriterAndReader(stream)

	var ping pb.Ping
	if err := r.ReadMsgWithContext(ctx, &ping); err != nil {
		return fmt.Errorf("read message: %w", err)
	}
	s.metrics.PingReceivedCount.Inc()
	s.logger.Tracef("keepalive: ping from %s, last rtt %dms", p.Address, ping.LastRoundTripMillis)

	if err := w.WriteMsgWithContext(ctx, &pb.Pong{RequestNonce: ping.Nonce}); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	s.metrics.PongSentCount.Inc()
	return nil
}

// RTT returns the last measured round trip time to the peer.
func (s *Service) RTT(peer overlay.Address) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.state[peer]
	if !ok {
		return 0, false
	}
	rtt := ps.rtt.Load()
	return rtt, rtt > 0
}

// Round pings all live peers. A peer failing the configured number of
// consecutive rounds is marked dead.
func (s *Service) Round(ctx context.Context) {
	var eg errgroup.Group
	for _, peer := range s.peers.Live() {
		peer := peer.Address
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer s.sem.Release(1)

			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			ps := s.peerState(peer)
			if _, err := s.Ping(pctx, peer); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.metrics.PingFailures.Inc()
				failures := ps.failures.Inc()
				s.logger.Debugf("keepalive: ping %s failed %d times: %v", peer, failures, err)
				if int(failures) >= s.maxFailures {
					s.metrics.DeadPeers.Inc()
					s.peers.MarkDead(peer, fmt.Sprintf("keepalive: %d failed pings", failures))
					s.forget(peer)
				}
				return nil
			}
			ps.failures.Store(0)
			s.peers.ReportSuccess(peer)
			return nil
		})
	}
	_ = eg.Wait()
}

// Start runs rounds periodically until Close.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.quit:
				return
			case <-ticker.C:
				s.Round(ctx)
			}
		}
	}()
}

func (s *Service) forget(peer overlay.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, peer)
}

func (s *Service) disconnect(p p2p.Peer) error {
	s.forget(p.Address)
	return nil
}

func (s *Service) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	s.wg.Wait()
	return nil
}
