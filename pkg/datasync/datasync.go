// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package datasync pulls the live records a node is missing from the peers
// it connects to. The requester names the records it already holds and the
// capabilities it has, the responder streams back the other live records in
// batches. Received records are added to the local store and not relayed.
package datasync

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/sirupsen/logrus"
	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/datasync/pb"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/p2p/protobuf"
	"github.com/tradenet/gossipd/pkg/ratelimit"
	"github.com/tradenet/gossipd/pkg/record"
	recordpb "github.com/tradenet/gossipd/pkg/record/pb"
	"github.com/tradenet/gossipd/pkg/store"
	"github.com/tradenet/gossipd/pkg/tracing"
	"golang.org/x/sync/semaphore"
)

const (
	protocolName    = "datasync"
	protocolVersion = "1.0.0"
	streamName      = "getdata"
)

const (
	DefaultMaxRecords = 10000
	// DefaultMaxKnown bounds the identities sent with a request. Records
	// held beyond it may be sent back and are then already present.
	DefaultMaxKnown = 4096

	messageTimeout = time.Minute
	// a batch stays below the limit of a delimited message even when it
	// carries the largest mailbox record
	batchBytes   = 128 * 1024
	batchRecords = 64

	maxConcurrent = 4

	limitBurst = 5
	limitRate  = time.Minute
)

var (
	ErrNonceMismatch     = errors.New("datasync nonce mismatch")
	ErrTooManyRecords    = errors.New("too many records")
	ErrTooManyKnown      = errors.New("too many known records")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Store is the local record store.
type Store interface {
	Add(r record.Record) (store.Result, error)
	GetAll(f store.Filter) *store.Snapshot
	IDs(n int) []record.ID
}

// PeerSet is told how peers behave.
type PeerSet interface {
	ReportSuccess(o overlay.Address)
	ReportFailure(o overlay.Address, reason string) bool
}

type Options struct {
	// Capabilities of the local node, sent so that the responder leaves
	// out records this node could not hold.
	Capabilities capability.Set
	// MaxRecords bounds the records sent and accepted in one exchange.
	MaxRecords int
	MaxKnown   int
}

// Result summarizes an exchange.
type Result struct {
	Received  int
	Stored    int
	Rejected  int
	Truncated bool
}

type Service struct {
	streamer     p2p.Streamer
	store        Store
	peers        PeerSet
	capabilities capability.Set
	maxRecords   int
	maxKnown     int
	logger       logging.Logger
	tracer       *tracing.Tracer
	metrics      metrics
	limiter      *ratelimit.Limiter
	sem          *semaphore.Weighted

	mu      sync.Mutex
	syncing map[overlay.Address]struct{}

	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(streamer p2p.Streamer, st Store, peers PeerSet, logger logging.Logger, tracer *tracing.Tracer, o Options) *Service {
	if o.Capabilities.IsEmpty() {
		o.Capabilities = capability.Default()
	}
	if o.MaxRecords <= 0 {
		o.MaxRecords = DefaultMaxRecords
	}
	if o.MaxKnown <= 0 {
		o.MaxKnown = DefaultMaxKnown
	}
	return &Service{
		streamer:     streamer,
		store:        st,
		peers:        peers,
		capabilities: o.Capabilities,
		maxRecords:   o.MaxRecords,
		maxKnown:     o.MaxKnown,
		logger:       logger,
		tracer:       tracer,
		metrics:      newMetrics(),
		limiter:      ratelimit.New(limitRate, limitBurst),
		sem:          semaphore.NewWeighted(maxConcurrent),
		syncing:      make(map[overlay.Address]struct{}),
		quit:         make(chan struct{}),
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
		ConnectOut:    s.connectOut,
		DisconnectIn:  s.disconnect,
		DisconnectOut: s.disconnect,
	}
}

// connectOut pulls from every peer this node dials, bootnodes first among
// them, without holding up the connection.
func (s *Service) connectOut(_ context.Context, peer p2p.Peer) error {
	s.mu.Lock()
	if _, ok := s.syncing[peer.Address]; ok {
		s.mu.Unlock()
		return nil
	}
	select {
	case <-s.quit:
		s.mu.Unlock()
		return nil
	default:
	}
	s.syncing[peer.Address] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.syncing, peer.Address)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-s.quit:
				cancel()
			case <-ctx.Done():
			}
		}()

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)

		if _, err := s.Sync(ctx, peer.Address); err != nil {
			s.logger.Debugf("datasync: sync with %s: %v", peer.Address, err)
		}
	}()
	return nil
}

// Sync requests the records the peer holds and this node does not, and
// adds them to the store.
func (s *Service) Sync(ctx context.Context, peer overlay.Address) (res Result, err error) {
	span, logger, ctx := s.tracer.StartSpanFromContext(ctx, "datasync-request", s.logger)
	defer span.Finish()

	defer func() {
		if err != nil {
			s.metrics.RequestFailures.Inc()
			if !errors.Is(ctx.Err(), context.Canceled) {
				s.peers.ReportFailure(peer, "datasync: "+err.Error())
			}
		}
	}()

	headers := make(p2p.Headers)
	if err := s.tracer.AddContextHeader(ctx, headers); err != nil && !errors.Is(err, tracing.ErrContextNotFound) {
		return res, err
	}

	stream, err := s.streamer.NewStream(ctx, peer, headers, protocolName, protocolVersion, streamName)
	if err != nil {
		return res, fmt.Errorf("new stream: %w", err)
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

	ids := s.store.IDs(s.maxKnown)
	known := make([][]byte, len(ids))
	for i, id := range ids {
		known[i] = id.Bytes()
	}
	nonce := rand.Uint64() // #nosec
	req := &pb.GetDataRequest{
		Nonce:        nonce,
		KnownIDs:     known,
		Capabilities: s.capabilities.Uint32s(),
	}

	w, r := protobuf.NewWriterAndReader(stream)
	if err := w.WriteMsgWithContext(mctx, req); err != nil {
		return res, fmt.Errorf("write request: %w", err)
	}
	s.metrics.RequestsSent.Inc()

	for {
		var resp pb.GetDataResponse
		if err := r.ReadMsgWithContext(mctx, &resp); err != nil {
			return res, fmt.Errorf("read response: %w", err)
		}
		if resp.RequestNonce != nonce {
			return res, ErrNonceMismatch
		}
		for _, m := range resp.Records {
			res.Received++
			if res.Received > s.maxRecords {
				return res, ErrTooManyRecords
			}
			s.apply(logger, peer, m, &res)
		}
		if resp.Last {
			res.Truncated = resp.Truncated
			break
		}
	}

	s.metrics.RecordsReceived.Add(float64(res.Received))
	s.metrics.RecordsStored.Add(float64(res.Stored))
	s.metrics.RecordsRejected.Add(float64(res.Rejected))
	s.peers.ReportSuccess(peer)

	logger.Debugf("datasync: peer %s sent %d records, %d new, %d rejected", peer, res.Received, res.Stored, res.Rejected)
	return res, nil
}

// apply adds a received record to the store. It is not relayed: the peers
// of the sender had the chance to receive it when it was flooded.
func (s *Service) apply(logger *logrus.Entry, peer overlay.Address, m *recordpb.Record, res *Result) {
	r, err := record.FromProto(m)
	if err == nil {
		var sr store.Result
		sr, err = s.store.Add(r)
		if err == nil && sr == store.Stored {
			res.Stored++
		}
	}
	if err != nil {
		res.Rejected++
		logger.Tracef("datasync: record from %s: %v", peer, err)
	}
}

func (s *Service) handler(ctx context.Context, p p2p.Peer, stream p2p.Stream) (err error) {
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
	var req pb.GetDataRequest
	if err := r.ReadMsgWithContext(ctx, &req); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	s.metrics.RequestsReceived.Inc()

	if err := s.limiter.Allow(p.Address, 1); err != nil {
		s.metrics.RateLimited.Inc()
		return ErrRateLimitExceeded
	}
	if len(req.KnownIDs) > s.maxKnown {
		return ErrTooManyKnown
	}

	if c, err := s.tracer.WithContextFromHeaders(ctx, stream.Headers()); err == nil {
		ctx = c
	}
	span, logger, ctx := s.tracer.StartSpanFromContext(ctx, "datasync-handle", s.logger)
	defer span.Finish()

	known := make(map[record.ID]struct{}, len(req.KnownIDs))
	for _, b := range req.KnownIDs {
		id, err := record.NewID(b)
		if err != nil {
			return fmt.Errorf("known id: %w", err)
		}
		known[id] = struct{}{}
	}
	caps := capability.FromUint32s(req.Capabilities)

	batch := &pb.GetDataResponse{RequestNonce: req.Nonce}
	var size, sent int
	snapshot := s.store.GetAll(store.Filter{})
	for rec, ok := snapshot.Next(); ok; rec, ok = snapshot.Next() {
		if _, ok := known[rec.ID()]; ok {
			continue
		}
		if !caps.IsEmpty() && !caps.Supports(record.RequiredCapabilities(rec)) {
			continue
		}
		if sent == s.maxRecords {
			batch.Truncated = true
			break
		}

		m := record.ToProto(rec)
		n := proto.Size(m)
		if len(batch.Records) > 0 && (len(batch.Records) == batchRecords || size+n > batchBytes) {
			if err := w.WriteMsgWithContext(ctx, batch); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
			batch = &pb.GetDataResponse{RequestNonce: req.Nonce}
			size = 0
		}
		batch.Records = append(batch.Records, m)
		size += n
		sent++
	}

	batch.Last = true
	if err := w.WriteMsgWithContext(ctx, batch); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	s.metrics.RecordsSent.Add(float64(sent))

	logger.Tracef("datasync: sent %d records to %s, %d known", sent, p.Address, len(known))
	return nil
}

func (s *Service) disconnect(peer p2p.Peer) error {
	s.limiter.Clear(peer.Address)
	return nil
}

// Close stops the running exchanges and waits for them to end.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closeOnce.Do(func() { close(s.quit) })
	s.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.wg.Wait()
	}()

	select {
	case <-stopped:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("datasync: waited 5 seconds to close active goroutines")
	}
}
