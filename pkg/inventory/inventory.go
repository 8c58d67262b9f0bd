// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package inventory reports what a node holds: the number of live records
// per kind, its version and its number of live peers.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/tradenet/gossipd/pkg/inventory/pb"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/p2p/protobuf"
	"github.com/tradenet/gossipd/pkg/record"
	"github.com/tradenet/gossipd/pkg/tracing"
)

const (
	protocolName    = "inventory"
	protocolVersion = "1.0.0"
	streamName      = "inventory"
)

var ErrNonceMismatch = errors.New("inventory nonce mismatch")

// Counter counts the live records per kind.
type Counter interface {
	Counts() map[record.Kind]int
}

// PeerSet provides the live peers.
type PeerSet interface {
	Live() []p2p.Peer
}

// Inventory is a summary of the content of a node.
type Inventory struct {
	Counts  map[string]int `json:"counts"`
	Version string         `json:"version"`
	Peers   int            `json:"peers"`
}

type Service struct {
	streamer p2p.Streamer
	counter  Counter
	peers    PeerSet
	version  string
	logger   logging.Logger
	tracer   *tracing.Tracer
	metrics  metrics
}

func New(streamer p2p.Streamer, counter Counter, peers PeerSet, version string, logger logging.Logger, tracer *tracing.Tracer) *Service {
	return &Service{
		streamer: streamer,
		counter:  counter,
		peers:    peers,
		version:  version,
		logger:   logger,
		tracer:   tracer,
		metrics:  newMetrics(),
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
	}
}

// Local returns the inventory of this node. Every known kind is listed.
func (s *Service) Local() Inventory {
	counts := s.counter.Counts()
	inv := Inventory{
		Counts:  make(map[string]int, len(record.Kinds)),
		Version: s.version,
		Peers:   len(s.peers.Live()),
	}
	for _, k := range record.Kinds {
		inv.Counts[k.String()] = counts[k]
	}
	return inv
}

// Request asks the peer for its inventory.
func (s *Service) Request(ctx context.Context, peer overlay.Address) (inv Inventory, err error) {
	span, logger, ctx := s.tracer.StartSpanFromContext(ctx, "inventory-request", s.logger)
	defer span.Finish()

	defer func() {
		if err != nil {
			s.metrics.RequestFailures.Inc()
		}
	}()

	stream, err := s.streamer.NewStream(ctx, peer, nil, protocolName, protocolVersion, streamName)
	if err != nil {
		return Inventory{}, fmt.Errorf("new stream: %w", err)
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
	if err := w.WriteMsgWithContext(ctx, &pb.GetInventoryRequest{Nonce: nonce}); err != nil {
		return Inventory{}, fmt.Errorf("write message: %w", err)
	}
	s.metrics.RequestsSent.Inc()

	var resp pb.GetInventoryResponse
	if err := r.ReadMsgWithContext(ctx, &resp); err != nil {
		return Inventory{}, fmt.Errorf("read message: %w", err)
	}
	if resp.RequestNonce != nonce {
		return Inventory{}, ErrNonceMismatch
	}

	inv = Inventory{
		Counts:  make(map[string]int, len(resp.Counts)),
		Version: resp.Version,
		Peers:   int(resp.Peers),
	}
	for _, c := range resp.Counts {
		if c == nil {
			continue
		}
		inv.Counts[c.Kind] = int(c.Count)
	}
	logger.Tracef("inventory: peer %s: %v", peer, inv.Counts)
	return inv, nil
}

func (s *Service) handler(ctx context.Context, p p2p.Peer, stream p2p.Stream) (err error) {
	defer func() {
		if err != nil {
			_ = stream.Reset()
		} else {
			go stream.FullClose()
		}
	}()

	w, r := protobuf.NewWriterAndReader(stream)

	var req pb.GetInventoryRequest
	if err := r.ReadMsgWithContext(ctx, &req); err != nil {
		return fmt.Errorf("read message: %w", err)
	}
	s.metrics.RequestsReceived.Inc()

	inv := s.Local()
	kinds := make([]string, 0, len(inv.Counts))
	for k := range inv.Counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	resp := &pb.GetInventoryResponse{
		RequestNonce: req.Nonce,
		Version:      inv.Version,
		Peers:        uint64(inv.Peers),
	}
	for _, k := range kinds {
		resp.Counts = append(resp.Counts, &pb.KindCount{Kind: k, Count: uint64(inv.Counts[k])})
	}

	if err := w.WriteMsgWithContext(ctx, resp); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	s.logger.Tracef("inventory: sent to peer %s", p.Address)
	return nil
}
