// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package debugapi exposes the debug API used to inspect the peers, the
// records and the runtime of a node.
package debugapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/inventory"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/nodeaddr"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/record"
	"github.com/tradenet/gossipd/pkg/store"
	"github.com/tradenet/gossipd/pkg/tracing"

	ma "github.com/multiformats/go-multiaddr"
)

// P2P is the transport as seen by the debug API.
type P2P interface {
	Connect(ctx context.Context, addr ma.Multiaddr) (*nodeaddr.Address, error)
	Disconnect(o overlay.Address, reason string) error
	Peers() []p2p.Peer
	Addresses() ([]ma.Multiaddr, error)
}

// PeerSet provides the live and the reported peers.
type PeerSet interface {
	Live() []p2p.Peer
	Reported(n int) []nodeaddr.Address
}

// Inventory reports the content of this node and of its peers.
type Inventory interface {
	Local() inventory.Inventory
	Request(ctx context.Context, peer overlay.Address) (inventory.Inventory, error)
}

// Store is the record store as seen by the debug API.
type Store interface {
	Get(id record.ID) (record.Record, bool)
	GetAll(f store.Filter) *store.Snapshot
	Subscribe(buffer int) *store.Subscription
}

// Service implements http.Handler interface to be used in HTTP server.
type Service struct {
	overlay            overlay.Address
	publicKey          crypto.PublicKey
	logger             logging.Logger
	tracer             *tracing.Tracer
	corsAllowedOrigins []string
	metricsRegistry    *prometheus.Registry
	now                func() time.Time

	p2p       P2P
	peers     PeerSet
	store     Store
	inventory Inventory

	// handler is changed in the Configure method
	handler   http.Handler
	handlerMu sync.RWMutex

	healthMu        sync.Mutex
	storeFailure    error
	storeFailedAt   time.Time
	storeFailureCnt int

	quit   chan struct{}
	wsMu   sync.Mutex // serializes stream starts with close
	wsWg   sync.WaitGroup
	closed bool
}

var _ store.HealthReporter = (*Service)(nil)

// New creates a new Debug API Service with only basic routers enabled in
// order to expose /addresses, /health endpoints, Go metrics and pprof. It is
// useful to expose these endpoints before all dependencies are configured
// and injected to have access to basic debugging tools and /health endpoint.
func New(o overlay.Address, publicKey crypto.PublicKey, logger logging.Logger, tracer *tracing.Tracer, corsAllowedOrigins []string) *Service {
	s := &Service{
		overlay:            o,
		publicKey:          publicKey,
		logger:             logger,
		tracer:             tracer,
		corsAllowedOrigins: corsAllowedOrigins,
		metricsRegistry:    newMetricsRegistry(),
		now:                time.Now,
		quit:               make(chan struct{}),
	}

	s.setRouter(s.newBasicRouter())

	return s
}

// Configure injects required dependencies and constructs HTTP routes that
// depend on them. It is intended and safe to call this method only once.
func (s *Service) Configure(p2p P2P, peers PeerSet, st Store, inv Inventory) {
	s.p2p = p2p
	s.peers = peers
	s.store = st
	s.inventory = inv

	s.setRouter(s.newRouter())
}

// ServeHTTP implements http.Handler interface.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// protect handler as it is changed by the Configure method
	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()

	h.ServeHTTP(w, r)
}

// ReportStoreFailure records a failure to persist the record store. The
// health endpoint reports the node as degraded until a later write
// succeeds.
func (s *Service) ReportStoreFailure(err error) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	if err == nil {
		s.storeFailure = nil
		s.storeFailureCnt = 0
		return
	}
	s.storeFailure = err
	s.storeFailedAt = s.now()
	s.storeFailureCnt++
}

// Close ends the open event streams and waits for them to finish.
func (s *Service) Close() error {
	s.wsMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.quit)
	}
	s.wsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wsWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(2 * writeDeadline):
		return errors.New("debug api: event streams did not finish")
	}
}
