// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package peerexchange implements the protocol by which nodes learn about
// other nodes. A node asks some of its peers for the peers they know,
// sending the peers it knows along, and both sides merge what they receive
// into their peer sets. Rounds run periodically and connect to learned
// peers while the node has few connections.
package peerexchange

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/nodeaddr"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/p2p/protobuf"
	"github.com/tradenet/gossipd/pkg/peerexchange/pb"
	"github.com/tradenet/gossipd/pkg/ratelimit"
	"github.com/tradenet/gossipd/pkg/tracing"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"resenje.org/singleflight"

	ma "github.com/multiformats/go-multiaddr"
)

const (
	protocolName    = "peerexchange"
	protocolVersion = "1.0.0"
	peersStreamName = "peers"
	messageTimeout  = 1 * time.Minute // maximum allowed time for a message to be read or written.
	connectTimeout  = 15 * time.Second
)

const (
	DefaultInterval   = 10 * time.Minute
	DefaultRoundPeers = 2
	DefaultMaxBatch   = 100
	DefaultMinLive    = 8
)

var (
	limitBurst = 10
	limitRate  = time.Minute

	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNonceMismatch     = errors.New("response nonce mismatch")
)

// PeerSet is the peer set the exchanged peers are merged into.
type PeerSet interface {
	AddReported(addrs ...nodeaddr.Address) []nodeaddr.Address
	Reported(n int) []nodeaddr.Address
	Candidates(n int) []nodeaddr.Address
	Sample(n int, required capability.Set, exclude ...overlay.Address) []p2p.Peer
	LiveCount() int
	Confirm(o overlay.Address)
	ReportSuccess(o overlay.Address)
	ReportFailure(o overlay.Address, reason string) bool
	Persist() error
}

// Connecter dials underlay addresses.
type Connecter interface {
	Connect(ctx context.Context, addr ma.Multiaddr) (*nodeaddr.Address, error)
}

type Options struct {
	// Self is the signed address of this node, sent along with requests.
	Self         *nodeaddr.Address
	Capabilities capability.Set
	Interval     time.Duration
	// RoundPeers is the number of peers asked in a round.
	RoundPeers int
	// MaxBatch is the number of peers sent in one message.
	MaxBatch int
	// MinLive is the number of live peers below which a round connects
	// to learned peers.
	MinLive   int
	Bootnodes []ma.Multiaddr
}

type Service struct {
	streamer     p2p.Streamer
	connecter    Connecter
	peers        PeerSet
	self         *nodeaddr.Address
	capabilities capability.Set
	interval     time.Duration
	roundPeers   int
	maxBatch     int
	minLive      int
	bootnodes    []ma.Multiaddr
	logger       logging.Logger
	tracer       *tracing.Tracer
	metrics      metrics
	inLimiter    *ratelimit.Limiter
	outLimiter   *ratelimit.Limiter
	single       singleflight.Group
	sem          *semaphore.Weighted
	quit         chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

func New(streamer p2p.Streamer, connecter Connecter, peers PeerSet, logger logging.Logger, tracer *tracing.Tracer, o Options) *Service {
	if o.Capabilities.IsEmpty() {
		o.Capabilities = capability.Default()
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.RoundPeers <= 0 {
		o.RoundPeers = DefaultRoundPeers
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = DefaultMaxBatch
	}
	if o.MinLive <= 0 {
		o.MinLive = DefaultMinLive
	}
	return &Service{
		streamer:     streamer,
		connecter:    connecter,
		peers:        peers,
		self:         o.Self,
		capabilities: o.Capabilities,
		interval:     o.Interval,
		roundPeers:   o.RoundPeers,
		maxBatch:     o.MaxBatch,
		minLive:      o.MinLive,
		bootnodes:    o.Bootnodes,
		logger:       logger,
		tracer:       tracer,
		metrics:      newMetrics(),
		inLimiter:    ratelimit.New(limitRate, limitBurst),
		outLimiter:   ratelimit.New(limitRate, limitBurst),
		sem:          semaphore.NewWeighted(8),
		quit:         make(chan struct{}),
	}
}

func (s *Service) Protocol() p2p.ProtocolSpec {
	return p2p.ProtocolSpec{
		Name:    protocolName,
		Version: protocolVersion,
		StreamSpecs: []p2p.StreamSpec{
			{
				Name:    peersStreamName,
				Handler: s.peersHandler,
			},
		},
		DisconnectIn:  s.disconnect,
		DisconnectOut: s.disconnect,
	}
}

// RequestPeers exchanges known peers with the target. Concurrent requests
// to the same target share one exchange. It returns the peers the target
// reported.
func (s *Service) RequestPeers(ctx context.Context, target overlay.Address) ([]nodeaddr.Address, error) {
	v, _, err := s.single.Do(ctx, target.ByteString(), func(ctx context.Context) (interface{}, error) {
		return s.requestPeers(ctx, target)
	})
	if err != nil {
		return nil, err
	}
	return v.([]nodeaddr.Address), nil
}

func (s *Service) requestPeers(ctx context.Context, target overlay.Address) (addrs []nodeaddr.Address, err error) {
	if err := s.outLimiter.Allow(target, 1); err != nil {
		return nil, ErrRateLimitExceeded
	}
	s.metrics.Requests.Inc()

	span, logger, ctx := s.tracer.StartSpanFromContext(ctx, "peerexchange-request", s.logger)
	defer span.Finish()

	defer func() {
		// a request abandoned by the caller is not the target's fault
		if err != nil && !errors.Is(ctx.Err(), context.Canceled) {
			s.metrics.RequestFailures.Inc()
			s.peers.ReportFailure(target, "peer exchange: "+err.Error())
		}
	}()

	headers := make(p2p.Headers)
	if err := s.tracer.AddContextHeader(ctx, headers); err != nil && !errors.Is(err, tracing.ErrContextNotFound) {
		return nil, err
	}

	stream, err := s.streamer.NewStream(ctx, target, headers, protocolName, protocolVersion, peersStreamName)
	if err != nil {
		return nil, fmt.Errorf("new stream: %w", err)
	}
	defer func() {
		if err != nil {
			_ = stream.Reset()
		} else {
			go stream.FullClose()
		}
	}()

	mctx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()

	nonce := rand.Uint64() // #nosec
	req := &pb.GetPeersRequest{
		Nonce:         nonce,
		ReportedPeers: toProto(s.peers.Reported(s.maxBatch), target),
	}
	if s.self != nil {
		req.Sender = addressToProto(*s.self)
	}

	w, r := protobuf.NewWriterAndReader(stream)
	if err := w.WriteMsgWithContext(mctx, req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	var resp pb.GetPeersResponse
	if err := r.ReadMsgWithContext(mctx, &resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.RequestNonce != nonce {
		return nil, ErrNonceMismatch
	}

	addrs = fromProto(resp.ReportedPeers, s.maxBatch)
	added := s.peers.AddReported(addrs...)
	s.peers.Confirm(target)
	s.peers.ReportSuccess(target)

	s.metrics.ReceivedPeers.Add(float64(len(addrs)))
	logger.Debugf("peerexchange: peer %s reported %d peers, %d new", target, len(addrs), len(added))
	return addrs, nil
}

func (s *Service) peersHandler(ctx context.Context, peer p2p.Peer, stream p2p.Stream) (err error) {
	s.metrics.Handled.Inc()
	defer func() {
		if err != nil {
			_ = stream.Reset()
		} else {
			go stream.FullClose()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()

	w, r := protobuf.NewWriterAndReader(stream)
	var req pb.GetPeersRequest
	if err := r.ReadMsgWithContext(ctx, &req); err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	if err := s.inLimiter.Allow(peer.Address, 1); err != nil {
		s.metrics.RateLimited.Inc()
		return ErrRateLimitExceeded
	}

	if c, err := s.tracer.WithContextFromHeaders(ctx, stream.Headers()); err == nil {
		ctx = c
	}
	span, logger, ctx := s.tracer.StartSpanFromContext(ctx, "peerexchange-handle", s.logger)
	defer span.Finish()

	var reported []*pb.Address
	if s.capabilities.Supports(capability.FromUint32s(req.RequiredCapabilities)) {
		reported = toProto(s.HandleRequest(peer.Address, req.Sender, req.ReportedPeers), peer.Address)
		if len(reported) > s.maxBatch {
			reported = reported[:s.maxBatch]
		}
	} else {
		// answered empty so that the requester does not count a failure
		s.metrics.Unsupported.Inc()
		logger.Tracef("peerexchange: ignoring peers from %s: missing capabilities", peer.Address)
	}

	resp := &pb.GetPeersResponse{
		RequestNonce:  req.Nonce,
		ReportedPeers: reported,
	}
	if err := w.WriteMsgWithContext(ctx, resp); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// HandleRequest merges the peers reported by from, and the sender address
// if present, and returns the peers to report back. The response is taken
// before the merge, so that reported peers are not echoed.
func (s *Service) HandleRequest(from overlay.Address, sender *pb.Address, reported []*pb.Address) []nodeaddr.Address {
	response := s.peers.Reported(s.maxBatch + 1)

	addrs := fromProto(reported, s.maxBatch)
	if sender != nil {
		if a, err := addressFromProto(sender); err == nil && a.Overlay == from {
			addrs = append(addrs, a)
		}
	}
	added := s.peers.AddReported(addrs...)
	s.metrics.ReceivedPeers.Add(float64(len(addrs)))
	s.logger.Debugf("peerexchange: peer %s reported %d peers, %d new", from, len(addrs), len(added))

	return response
}

// Start connects to the bootnodes, runs the first round against them and
// then runs rounds periodically until Close.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-s.quit
		cancel()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.bootstrap(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Round(ctx)
			}
		}
	}()
}

func (s *Service) bootstrap(ctx context.Context) {
	var bootnodes []overlay.Address
	for _, addr := range s.bootnodes {
		_, err := p2p.Discover(ctx, addr, func(a ma.Multiaddr) (bool, error) {
			cctx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()

			na, err := s.connecter.Connect(cctx, a)
			if err != nil {
				if !errors.Is(err, p2p.ErrAlreadyConnected) {
					s.logger.Debugf("peerexchange: connect to bootnode %s: %v", a, err)
				}
				return false, nil
			}
			bootnodes = append(bootnodes, na.Overlay)
			return true, nil
		})
		if err != nil {
			s.logger.Warningf("peerexchange: bootnode %s: %v", addr, err)
		}
	}
	if len(s.bootnodes) > 0 {
		s.logger.Infof("peerexchange: connected to %d of %d bootnodes", len(bootnodes), len(s.bootnodes))
	}

	s.exchange(ctx, bootnodes)
	s.Round(ctx)
}

// Round connects to learned peers while there are few live ones and
// exchanges peers with a random subset of live peers. The peer set is
// persisted afterwards.
func (s *Service) Round(ctx context.Context) {
	s.metrics.Rounds.Inc()

	if live := s.peers.LiveCount(); live < s.minLive && s.connecter != nil {
		s.connectCandidates(ctx, s.peers.Candidates(s.minLive-live))
	}

	targets := p2p.PeerAddresses(s.peers.Sample(s.roundPeers, capability.Set{}))
	s.exchange(ctx, targets)

	if err := s.peers.Persist(); err != nil {
		s.logger.Errorf("peerexchange: persist peers: %v", err)
	}
}

func (s *Service) exchange(ctx context.Context, targets []overlay.Address) {
	var eg errgroup.Group
	for _, target := range targets {
		target := target
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer s.sem.Release(1)
			if _, err := s.RequestPeers(ctx, target); err != nil {
				s.logger.Debugf("peerexchange: request peers from %s: %v", target, err)
			}
			return nil
		})
	}
	_ = eg.Wait()
}

func (s *Service) connectCandidates(ctx context.Context, candidates []nodeaddr.Address) {
	var eg errgroup.Group
	for _, c := range candidates {
		c := c
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer s.sem.Release(1)

			cctx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()

			s.metrics.Connects.Inc()
			if _, err := s.connecter.Connect(cctx, c.Underlay); err != nil && !errors.Is(err, p2p.ErrAlreadyConnected) {
				s.metrics.ConnectFailures.Inc()
				s.logger.Debugf("peerexchange: connect to %s: %v", c.ShortString(), err)
				if ctx.Err() == nil {
					s.peers.ReportFailure(c.Overlay, "connect: "+err.Error())
				}
			}
			return nil
		})
	}
	_ = eg.Wait()
}

func (s *Service) disconnect(peer p2p.Peer) error {
	s.inLimiter.Clear(peer.Address)
	s.outLimiter.Clear(peer.Address)
	return nil
}

func (s *Service) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.wg.Wait()
	}()

	select {
	case <-stopped:
		return nil
	case <-time.After(time.Second * 5):
		return errors.New("peerexchange: waited 5 seconds to close active goroutines")
	}
}

func toProto(addrs []nodeaddr.Address, skip overlay.Address) []*pb.Address {
	ps := make([]*pb.Address, 0, len(addrs))
	for _, a := range addrs {
		if a.Overlay == skip {
			continue
		}
		ps = append(ps, addressToProto(a))
	}
	return ps
}

func addressToProto(a nodeaddr.Address) *pb.Address {
	return &pb.Address{
		Overlay:   a.Overlay.Bytes(),
		Underlay:  a.Underlay.Bytes(),
		Signature: a.Signature,
	}
}

// fromProto decodes at most max addresses. Undecodable ones are skipped;
// signatures are verified by the peer set.
func fromProto(ps []*pb.Address, max int) []nodeaddr.Address {
	if len(ps) > max {
		ps = ps[:max]
	}
	addrs := make([]nodeaddr.Address, 0, len(ps))
	for _, p := range ps {
		a, err := addressFromProto(p)
		if err != nil {
			continue
		}
		addrs = append(addrs, a)
	}
	return addrs
}

func addressFromProto(p *pb.Address) (nodeaddr.Address, error) {
	o, err := overlay.NewAddress(p.Overlay)
	if err != nil {
		return nodeaddr.Address{}, err
	}
	u, err := ma.NewMultiaddrBytes(p.Underlay)
	if err != nil {
		return nodeaddr.Address{}, err
	}
	return nodeaddr.Address{Underlay: u, Overlay: o, Signature: p.Signature}, nil
}
