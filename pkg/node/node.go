// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package node defines the concept of a gossipd node
// by bootstrapping and injecting all necessary
// dependencies.
package node

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/tradenet/gossipd"
	"github.com/tradenet/gossipd/pkg/addressbook"
	"github.com/tradenet/gossipd/pkg/broadcast"
	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/datasync"
	"github.com/tradenet/gossipd/pkg/debugapi"
	"github.com/tradenet/gossipd/pkg/inventory"
	"github.com/tradenet/gossipd/pkg/keepalive"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/mailbox"
	"github.com/tradenet/gossipd/pkg/metrics"
	"github.com/tradenet/gossipd/pkg/nodeaddr"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p/libp2p"
	"github.com/tradenet/gossipd/pkg/peerexchange"
	"github.com/tradenet/gossipd/pkg/peerset"
	"github.com/tradenet/gossipd/pkg/store"
	"github.com/tradenet/gossipd/pkg/tracing"
	"golang.org/x/sync/errgroup"

	ma "github.com/multiformats/go-multiaddr"
)

// DefaultPurgeInterval is the period of the record store expiry loop.
const DefaultPurgeInterval = time.Minute

var ErrShutdownInProgress = errors.New("shutdown in progress")

type Gossipd struct {
	p2pService         io.Closer
	ctxCancel          context.CancelFunc
	debugAPIServer     *http.Server
	errorLogWriter     *io.PipeWriter
	tracerCloser       io.Closer
	stateStoreCloser   io.Closer
	peerSetCloser      io.Closer
	storeCloser        io.Closer
	broadcastCloser    io.Closer
	mailboxCloser      io.Closer
	dataSyncCloser     io.Closer
	keepaliveCloser    io.Closer
	peerExchangeCloser io.Closer
	shutdownInProgress bool
	shutdownMutex      sync.Mutex

	overlay  overlay.Address
	address  *nodeaddr.Address
	store    *store.Store
	mailbox  *mailbox.Service
	debugAPI *debugapi.Service
}

type Options struct {
	DataDir              string
	Addr                 string
	NATAddr              string
	EnableWS             bool
	DebugAPIAddr         string
	Bootnodes            []string
	CORSAllowedOrigins   []string
	Logger               logging.Logger
	TracingEnabled       bool
	TracingEndpoint      string
	TracingServiceName   string
	Capabilities         capability.Set
	PurgeInterval        time.Duration
	OwnerFanout          int
	RelayFanout          int
	PeerExchangeInterval time.Duration
	MinPeers             int
	KeepaliveInterval    time.Duration
	MailboxTTL           time.Duration
}

func NewGossipd(ctx context.Context, signer crypto.Signer, networkID uint64, logger logging.Logger, libp2pPrivateKey *ecdsa.PrivateKey, o Options) (b *Gossipd, err error) {
	start := time.Now()
	nodeMetrics := newMetrics()

	tracer, tracerCloser, err := tracing.NewTracer(&tracing.Options{
		Enabled:     o.TracingEnabled,
		Endpoint:    o.TracingEndpoint,
		ServiceName: o.TracingServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}

	ctx, ctxCancel := context.WithCancel(ctx)
	defer func() {
		// if there's been an error on this function
		// we'd like to cancel the p2p context so that
		// incoming connections will not be possible
		if err != nil {
			ctxCancel()
		}
	}()

	b = &Gossipd{
		ctxCancel:      ctxCancel,
		errorLogWriter: logger.WriterLevel(logrus.ErrorLevel),
		tracerCloser:   tracerCloser,
	}

	defer func(b *Gossipd) {
		if err != nil {
			logger.Errorf("got error, shutting down: %v", err)
			if err2 := b.Shutdown(context.Background()); err2 != nil {
				logger.Errorf("got error while shutting down: %v", err2)
			}
		}
	}(b)

	if o.Capabilities.IsEmpty() {
		o.Capabilities = capability.Default()
	}
	if o.PurgeInterval <= 0 {
		o.PurgeInterval = DefaultPurgeInterval
	}

	stateStore, err := InitStateStore(logger, o.DataDir)
	if err != nil {
		return nil, fmt.Errorf("statestore: %w", err)
	}
	b.stateStoreCloser = stateStore

	pubKey, err := signer.PublicKey()
	if err != nil {
		return nil, err
	}
	publicKey, err := crypto.NewPublicKey(pubKey)
	if err != nil {
		return nil, err
	}
	overlayAddress, err := crypto.NewOverlayAddress(*pubKey, networkID)
	if err != nil {
		return nil, fmt.Errorf("compute overlay address: %w", err)
	}
	if err := checkOverlay(stateStore, overlayAddress); err != nil {
		return nil, fmt.Errorf("check overlay address: %w", err)
	}
	b.overlay = overlayAddress
	logger.Infof("using overlay address %s", overlayAddress)

	// the debug API is served before the other services start so that
	// health and metrics are available while the node is bootstrapping
	debugAPIService := debugapi.New(overlayAddress, publicKey, logger, tracer, o.CORSAllowedOrigins)
	b.debugAPI = debugAPIService
	if o.DebugAPIAddr != "" {
		debugAPIListener, err := net.Listen("tcp", o.DebugAPIAddr)
		if err != nil {
			return nil, fmt.Errorf("debug api listener: %w", err)
		}

		debugAPIServer := &http.Server{
			IdleTimeout:       30 * time.Second,
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           debugAPIService,
			ErrorLog:          log.New(b.errorLogWriter, "", 0),
		}

		go func() {
			logger.Infof("debug api address: %s", debugAPIListener.Addr())

			if err := debugAPIServer.Serve(debugAPIListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Debugf("debug api server: %v", err)
				logger.Error("unable to serve debug api")
			}
		}()

		b.debugAPIServer = debugAPIServer
	}

	addressbook := addressbook.New(stateStore)

	p2ps, err := libp2p.New(ctx, signer, networkID, overlayAddress, o.Addr, addressbook, logger, tracer, libp2p.Options{
		PrivateKey:   libp2pPrivateKey,
		NATAddr:      o.NATAddr,
		EnableWS:     o.EnableWS,
		Capabilities: o.Capabilities,
		Version:      gossipd.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("p2p service: %w", err)
	}
	b.p2pService = p2ps
	b.address = p2ps.Address()

	peerSet, err := peerset.New(stateStore, addressbook, p2ps, logger, peerset.Options{
		Self:      overlayAddress,
		NetworkID: networkID,
	})
	if err != nil {
		return nil, fmt.Errorf("peer set: %w", err)
	}
	b.peerSetCloser = peerSet
	p2ps.SetNotifier(peerSet)

	recordStore, err := store.New(stateStore, logger, store.Options{
		Capabilities:  o.Capabilities,
		PurgeInterval: o.PurgeInterval,
		Health:        debugAPIService,
	})
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}
	b.storeCloser = recordStore
	b.store = recordStore

	var loaded int
	for _, n := range recordStore.Counts() {
		loaded += n
	}
	nodeMetrics.LoadedRecords.Set(float64(loaded))
	logger.Infof("loaded %d records", loaded)

	broadcaster := broadcast.New(p2ps, recordStore, peerSet, logger, tracer, broadcast.Options{
		Capabilities: o.Capabilities,
		OwnerFanout:  o.OwnerFanout,
		RelayFanout:  o.RelayFanout,
	})
	b.broadcastCloser = broadcaster
	if err := p2ps.AddProtocol(broadcaster.Protocol()); err != nil {
		return nil, fmt.Errorf("broadcast service: %w", err)
	}

	mailboxService, err := mailbox.New(recordStore, broadcaster, signer, logger, mailbox.Options{
		DefaultTTL: o.MailboxTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("mailbox: %w", err)
	}
	b.mailboxCloser = mailboxService
	b.mailbox = mailboxService

	dataSync := datasync.New(p2ps, recordStore, peerSet, logger, tracer, datasync.Options{
		Capabilities: o.Capabilities,
	})
	b.dataSyncCloser = dataSync
	if err := p2ps.AddProtocol(dataSync.Protocol()); err != nil {
		return nil, fmt.Errorf("data sync service: %w", err)
	}

	inventoryService := inventory.New(p2ps, recordStore, peerSet, gossipd.Version, logger, tracer)
	if err := p2ps.AddProtocol(inventoryService.Protocol()); err != nil {
		return nil, fmt.Errorf("inventory service: %w", err)
	}

	keepaliveService := keepalive.New(p2ps, peerSet, logger, tracer, keepalive.Options{
		Interval: o.KeepaliveInterval,
	})
	b.keepaliveCloser = keepaliveService
	if err := p2ps.AddProtocol(keepaliveService.Protocol()); err != nil {
		return nil, fmt.Errorf("keepalive service: %w", err)
	}

	var bootnodes []ma.Multiaddr
	for _, a := range o.Bootnodes {
		addr, err := ma.NewMultiaddr(a)
		if err != nil {
			logger.Debugf("multiaddress fail %s: %v", a, err)
			logger.Warningf("invalid bootnode address %s", a)
			continue
		}
		bootnodes = append(bootnodes, addr)
	}

	peerExchange := peerexchange.New(p2ps, p2ps, peerSet, logger, tracer, peerexchange.Options{
		Self:         p2ps.Address(),
		Capabilities: o.Capabilities,
		Interval:     o.PeerExchangeInterval,
		MinLive:      o.MinPeers,
		Bootnodes:    bootnodes,
	})
	b.peerExchangeCloser = peerExchange
	if err := p2ps.AddProtocol(peerExchange.Protocol()); err != nil {
		return nil, fmt.Errorf("peer exchange service: %w", err)
	}

	// register metrics from components
	for _, c := range []metrics.Collector{
		nodeMetrics,
		p2ps,
		peerSet,
		recordStore,
		broadcaster,
		mailboxService,
		dataSync,
		inventoryService,
		keepaliveService,
		peerExchange,
	} {
		debugAPIService.MustRegisterMetrics(c.Metrics()...)
	}
	if l, ok := logger.(metrics.Collector); ok {
		debugAPIService.MustRegisterMetrics(l.Metrics()...)
	}

	// inject dependencies and configure full debug api http path routes
	debugAPIService.Configure(p2ps, peerSet, recordStore, inventoryService)

	mailboxService.Start()
	keepaliveService.Start()
	peerExchange.Start()

	nodeMetrics.StartupDuration.Observe(time.Since(start).Seconds())

	return b, nil
}

// Overlay returns the overlay address of the node.
func (b *Gossipd) Overlay() overlay.Address {
	return b.overlay
}

// Address returns the signed address announced to peers.
func (b *Gossipd) Address() *nodeaddr.Address {
	return b.address
}

func (b *Gossipd) Store() *store.Store {
	return b.store
}

func (b *Gossipd) Mailbox() *mailbox.Service {
	return b.mailbox
}

// DebugAPI returns the debug API handler. It is served on DebugAPIAddr when
// that option is set.
func (b *Gossipd) DebugAPI() http.Handler {
	return b.debugAPI
}

// Shutdown stops the services in the reverse order of their dependencies.
// Pending store writes are flushed before the state store is closed.
func (b *Gossipd) Shutdown(ctx context.Context) error {
	var mErr error

	// if a shutdown is already in process, return here
	b.shutdownMutex.Lock()
	if b.shutdownInProgress {
		b.shutdownMutex.Unlock()
		return ErrShutdownInProgress
	}
	b.shutdownInProgress = true
	b.shutdownMutex.Unlock()

	// tryClose is a convenient closure which decrease
	// repetitive io.Closer tryClose procedure.
	tryClose := func(c io.Closer, errMsg string) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", errMsg, err))
		}
	}

	// hijacked event streams are not tracked by the http server
	tryClose(b.debugAPI, "debug api")

	var eg errgroup.Group
	if b.debugAPIServer != nil {
		eg.Go(func() error {
			if err := b.debugAPIServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("debug api server: %w", err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		mErr = multierror.Append(mErr, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	closeAsync := func(c io.Closer, errMsg string) {
		defer wg.Done()
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			mu.Lock()
			mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", errMsg, err))
			mu.Unlock()
		}
	}
	wg.Add(4)
	go closeAsync(b.peerExchangeCloser, "peer exchange")
	go closeAsync(b.keepaliveCloser, "keepalive")
	go closeAsync(b.mailboxCloser, "mailbox")
	go closeAsync(b.dataSyncCloser, "data sync")
	wg.Wait()

	tryClose(b.broadcastCloser, "broadcast")

	b.ctxCancel()
	tryClose(b.p2pService, "p2p server")
	tryClose(b.peerSetCloser, "peer set")
	tryClose(b.storeCloser, "record store")
	tryClose(b.tracerCloser, "tracer")
	tryClose(b.stateStoreCloser, "statestore")
	tryClose(b.errorLogWriter, "error log writer")

	return mErr
}
