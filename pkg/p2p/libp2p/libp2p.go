// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package libp2p implements the p2p transport over libp2p hosts. Every new
// connection starts with a handshake that authenticates the signed node
// address of the peer; protocol streams are served to handshaken peers only.
package libp2p

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/hashicorp/go-multierror"
	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	libp2ppeer "github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/peerstore"
	"github.com/libp2p/go-libp2p-core/protocol"
	"github.com/libp2p/go-libp2p-peerstore/pstoremem"
	tcp "github.com/libp2p/go-tcp-transport"
	ws "github.com/libp2p/go-ws-transport"
	"github.com/multiformats/go-multistream"
	"github.com/tradenet/gossipd/pkg/addressbook"
	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/nodeaddr"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/p2p/libp2p/internal/breaker"
	"github.com/tradenet/gossipd/pkg/p2p/libp2p/internal/handshake"
	"github.com/tradenet/gossipd/pkg/tracing"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

var (
	_ p2p.Service = (*Service)(nil)

	// ErrSelfConnect is returned when the underlay points to this node.
	ErrSelfConnect = errors.New("connect to self")
)

type Service struct {
	ctx              context.Context
	cancel           context.CancelFunc
	host             host.Host
	libp2pPeerstore  peerstore.Peerstore
	metrics          metrics
	networkID        uint64
	handshakeService *handshake.Service
	peers            *peerRegistry
	addressbook      addressbook.Putter
	connectBreaker   *breaker.Breaker
	logger           logging.Logger
	tracer           *tracing.Tracer

	protocolsMu sync.RWMutex
	protocols   []p2p.ProtocolSpec

	notifierMu sync.RWMutex
	notifier   p2p.Notifier
}

type Options struct {
	// PrivateKey is the libp2p identity. A random one is generated if nil.
	PrivateKey *ecdsa.PrivateKey
	// NATAddr is the host:port announced to peers instead of a listen
	// address.
	NATAddr      string
	EnableWS     bool
	Capabilities capability.Set
	Version      string
}

func New(ctx context.Context, signer crypto.Signer, networkID uint64, o overlay.Address, addr string, ab addressbook.Putter, logger logging.Logger, tracer *tracing.Tracer, opts Options) (*Service, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}

	ip4Addr := "0.0.0.0"
	ip6Addr := "::"

	if host != "" {
		ip := net.ParseIP(host)
		if ip4 := ip.To4(); ip4 != nil {
			ip4Addr = ip4.String()
			ip6Addr = ""
		} else if ip6 := ip.To16(); ip6 != nil {
			ip6Addr = ip6.String()
			ip4Addr = ""
		}
	}

	var listenAddrs []string
	if ip4Addr != "" {
		listenAddrs = append(listenAddrs, fmt.Sprintf("/ip4/%s/tcp/%s", ip4Addr, port))
		if opts.EnableWS {
			listenAddrs = append(listenAddrs, fmt.Sprintf("/ip4/%s/tcp/%s/ws", ip4Addr, port))
		}
	}

	if ip6Addr != "" {
		listenAddrs = append(listenAddrs, fmt.Sprintf("/ip6/%s/tcp/%s", ip6Addr, port))
		if opts.EnableWS {
			listenAddrs = append(listenAddrs, fmt.Sprintf("/ip6/%s/tcp/%s/ws", ip6Addr, port))
		}
	}

	libp2pPeerstore, err := pstoremem.NewPeerstore()
	if err != nil {
		return nil, fmt.Errorf("peerstore: %w", err)
	}

	options := []libp2p.Option{
		libp2p.ListenAddrStrings(listenAddrs...),
		libp2p.DefaultSecurity,
		// Use dedicated peerstore instead the global DefaultPeerstore
		libp2p.Peerstore(libp2pPeerstore),
		libp2p.UserAgent(userAgent(opts.Version)),
		libp2p.Transport(tcp.NewTCPTransport),
	}

	if opts.NATAddr == "" {
		// Attempt to open ports using uPNP for NATed hosts.
		options = append(options, libp2p.NATPortMap())
	}

	if opts.PrivateKey != nil {
		options = append(options,
			libp2p.Identity((*libp2pcrypto.Secp256k1PrivateKey)(opts.PrivateKey)),
		)
	}

	if opts.EnableWS {
		options = append(options, libp2p.Transport(ws.New))
	}

	h, err := libp2p.New(options...)
	if err != nil {
		return nil, err
	}

	underlay, err := advertisableAddress(h, opts.NATAddr)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("advertisable address: %w", err)
	}

	self, err := nodeaddr.NewAddress(signer, underlay, o, networkID)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("node address: %w", err)
	}

	handshakeService, err := handshake.New(self, networkID, opts.Capabilities, opts.Version, logger)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("handshake service: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Service{
		ctx:              ctx,
		cancel:           cancel,
		host:             h,
		libp2pPeerstore:  libp2pPeerstore,
		metrics:          newMetrics(),
		networkID:        networkID,
		handshakeService: handshakeService,
		peers:            newPeerRegistry(),
		addressbook:      ab,
		connectBreaker:   breaker.New(breaker.Options{}),
		logger:           logger,
		tracer:           tracer,
	}
	s.peers.disconnected = s.notifyDisconnected

	// Construct protocols.
	id := protocol.ID(p2p.NewStreamName(handshake.ProtocolName, handshake.ProtocolVersion, handshake.StreamName))
	matcher, err := s.protocolSemverMatcher(id)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, fmt.Errorf("protocol version match %s: %w", id, err)
	}

	s.host.SetStreamHandlerMatch(id, matcher, s.handleIncoming)

	h.Network().SetConnHandler(func(_ network.Conn) {
		s.metrics.HandledConnectionCount.Inc()
	})

	h.Network().Notify(s.peers.notifiee()) // update peer registry on network events

	return s, nil
}

func userAgent(version string) string {
	if version == "" {
		return "gossipd"
	}
	return "gossipd/" + version
}

// advertisableAddress picks the underlay this node signs and announces:
// the NAT address when given, otherwise the most public listen address.
func advertisableAddress(h host.Host, natAddr string) (ma.Multiaddr, error) {
	hostAddr, err := ma.NewMultiaddr(fmt.Sprintf("/p2p/%s", h.ID().Pretty()))
	if err != nil {
		return nil, err
	}

	if natAddr != "" {
		host, port, err := net.SplitHostPort(natAddr)
		if err != nil {
			return nil, fmt.Errorf("nat address: %w", err)
		}
		var a ma.Multiaddr
		if ip := net.ParseIP(host); ip == nil {
			a, err = ma.NewMultiaddr(fmt.Sprintf("/dns/%s/tcp/%s", host, port))
		} else if ip.To4() != nil {
			a, err = ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%s", ip, port))
		} else {
			a, err = ma.NewMultiaddr(fmt.Sprintf("/ip6/%s/tcp/%s", ip, port))
		}
		if err != nil {
			return nil, fmt.Errorf("nat address: %w", err)
		}
		return a.Encapsulate(hostAddr), nil
	}

	var public, private, loopback ma.Multiaddr
	for _, a := range h.Addrs() {
		if _, err := a.ValueForProtocol(ma.P_WS); err == nil {
			continue
		}
		switch {
		case manet.IsIPLoopback(a):
			if loopback == nil {
				loopback = a
			}
		case manet.IsPublicAddr(a):
			if public == nil {
				public = a
			}
		case manet.IsPrivateAddr(a):
			if private == nil {
				private = a
			}
		}
	}
	for _, a := range []ma.Multiaddr{public, private, loopback} {
		if a != nil {
			return a.Encapsulate(hostAddr), nil
		}
	}
	return nil, errors.New("no listen address")
}

func (s *Service) handleIncoming(streamlibp2p network.Stream) {
	peerID := streamlibp2p.Conn().RemotePeer()
	handshakeStream := newStream(streamlibp2p, s.metrics)

	i, err := s.handshakeService.Handle(s.ctx, handshakeStream, streamlibp2p.Conn().RemoteMultiaddr(), peerID)
	if err != nil {
		s.metrics.HandshakeFailedCount.Inc()
		if errors.Is(err, handshake.ErrNetworkIDIncompatible) {
			s.logger.Warningf("peer %s has a different network id", peerID)
		}
		if errors.Is(err, handshake.ErrIncompatibleVersion) {
			s.logger.Warningf("peer %s runs an incompatible version", peerID)
		}
		s.logger.Debugf("handshake: handle %s: %v", peerID, err)
		_ = handshakeStream.Reset()
		_ = s.host.Network().ClosePeer(peerID)
		return
	}

	if err := handshakeStream.FullClose(); err != nil {
		s.logger.Debugf("handshake: could not close stream %s: %v", peerID, err)
		_ = s.host.Network().ClosePeer(peerID)
		return
	}

	if err := s.connected(s.ctx, streamlibp2p.Conn(), i, true); err != nil {
		s.logger.Debugf("handshake: connected %s: %v", i.Address.Overlay, err)
		return
	}

	s.logger.Debugf("successfully connected to peer %s (inbound)", i.Address.ShortString())
}

// connected registers a handshaken peer and notifies the protocols and the
// notifier. A peer refused by them is disconnected.
func (s *Service) connected(ctx context.Context, conn network.Conn, i *handshake.Info, inbound bool) error {
	if exists := s.peers.add(conn, i.Address, i.Capabilities, inbound); exists {
		return nil
	}

	if s.addressbook != nil {
		if err := s.addressbook.Put(i.Address.Overlay, *i.Address); err != nil {
			s.logger.Debugf("addressbook put %s: %v", i.Address.Overlay, err)
		}
	}

	peer := p2p.Peer{Address: i.Address.Overlay, Capabilities: i.Capabilities}

	s.protocolsMu.RLock()
	protocols := append([]p2p.ProtocolSpec(nil), s.protocols...)
	s.protocolsMu.RUnlock()

	for _, tn := range protocols {
		f := tn.ConnectOut
		if inbound {
			f = tn.ConnectIn
		}
		if f == nil {
			continue
		}
		if err := f(ctx, peer); err != nil {
			_ = s.Disconnect(peer.Address, fmt.Sprintf("%s connect: %v", tn.Name, err))
			return fmt.Errorf("protocol %s connect: %w", tn.Name, err)
		}
	}

	s.notifierMu.RLock()
	notifier := s.notifier
	s.notifierMu.RUnlock()

	if notifier != nil {
		if err := notifier.Connected(ctx, peer); err != nil {
			_ = s.Disconnect(peer.Address, fmt.Sprintf("notifier: %v", err))
			return fmt.Errorf("notify connected: %w", err)
		}
	}
	return nil
}

func (s *Service) notifyDisconnected(peer p2p.Peer, inbound bool) {
	s.protocolsMu.RLock()
	protocols := append([]p2p.ProtocolSpec(nil), s.protocols...)
	s.protocolsMu.RUnlock()

	for _, tn := range protocols {
		f := tn.DisconnectOut
		if inbound {
			f = tn.DisconnectIn
		}
		if f == nil {
			continue
		}
		if err := f(peer); err != nil {
			s.logger.Debugf("protocol %s disconnect %s: %v", tn.Name, peer.Address, err)
		}
	}

	s.notifierMu.RLock()
	notifier := s.notifier
	s.notifierMu.RUnlock()

	if notifier != nil {
		notifier.Disconnected(peer)
	}
}

func (s *Service) SetNotifier(n p2p.Notifier) {
	s.notifierMu.Lock()
	defer s.notifierMu.Unlock()
	s.notifier = n
}

func (s *Service) AddProtocol(p p2p.ProtocolSpec) (err error) {
	for _, ss := range p.StreamSpecs {
		ss := ss
		id := protocol.ID(p2p.NewStreamName(p.Name, p.Version, ss.Name))
		matcher, err := s.protocolSemverMatcher(id)
		if err != nil {
			return fmt.Errorf("protocol version match %s: %w", id, err)
		}

		s.host.SetStreamHandlerMatch(id, matcher, func(streamlibp2p network.Stream) {
			peerID := streamlibp2p.Conn().RemotePeer()
			peer, found := s.peers.peer(peerID)
			if !found {
				s.metrics.UnexpectedProtocolReqCount.Inc()
				_ = streamlibp2p.Reset()
				s.logger.Debugf("overlay address for peer %q not found", peerID)
				return
			}

			stream := newStream(streamlibp2p, s.metrics)

			start := time.Now()
			if err := handleHeaders(ss.Headler, stream, peer.Address); err != nil {
				s.logger.Debugf("handle protocol %s/%s: stream %s: peer %s: handle headers: %v", p.Name, p.Version, ss.Name, peer.Address, err)
				_ = stream.Reset()
				return
			}
			s.metrics.HeadersExchangeDuration.Observe(time.Since(start).Seconds())

			ctx, cancel := context.WithCancel(s.ctx)
			defer cancel()

			s.metrics.HandledStreamCount.Inc()
			if err := ss.Handler(ctx, peer, stream); err != nil {
				var de *p2p.DisconnectError
				if errors.As(err, &de) {
					_ = stream.Reset()
					_ = s.Disconnect(peer.Address, de.Error())
				}

				s.logger.Debugf("handle protocol %s/%s: stream %s: peer %s: %v", p.Name, p.Version, ss.Name, peer.Address, err)
			}
		})
	}

	s.protocolsMu.Lock()
	s.protocols = append(s.protocols, p)
	s.protocolsMu.Unlock()
	return nil
}

// Address returns the signed node address announced to peers.
func (s *Service) Address() *nodeaddr.Address {
	return s.handshakeService.Address()
}

func (s *Service) Addresses() (addrs []ma.Multiaddr, err error) {
	// Build host multiaddress
	hostAddr, err := ma.NewMultiaddr(fmt.Sprintf("/p2p/%s", s.host.ID().Pretty()))
	if err != nil {
		return nil, err
	}

	// Now we can build a full multiaddress to reach this host
	// by encapsulating both addresses:
	for _, addr := range s.host.Addrs() {
		addrs = append(addrs, addr.Encapsulate(hostAddr))
	}
	return addrs, nil
}

func (s *Service) Connect(ctx context.Context, addr ma.Multiaddr) (address *nodeaddr.Address, err error) {
	// Extract the peer ID from the multiaddr.
	info, err := libp2ppeer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("addr from p2p: %w", err)
	}

	if info.ID == s.host.ID() {
		return nil, ErrSelfConnect
	}

	if a, found := s.peers.address(info.ID); found {
		return a, p2p.ErrAlreadyConnected
	}

	if err := s.connectBreaker.Execute(info.ID.String(), func() error { return s.host.Connect(ctx, *info) }); err != nil {
		if errors.Is(err, breaker.ErrClosed) {
			s.metrics.ConnectBreakerCount.Inc()
		}
		return nil, err
	}

	stream, err := s.newStreamForPeerID(ctx, info.ID, handshake.ProtocolName, handshake.ProtocolVersion, handshake.StreamName)
	if err != nil {
		_ = s.host.Network().ClosePeer(info.ID)
		return nil, fmt.Errorf("connect new stream: %w", err)
	}

	handshakeStream := newStream(stream, s.metrics)
	i, err := s.handshakeService.Handshake(ctx, handshakeStream, stream.Conn().RemoteMultiaddr(), stream.Conn().RemotePeer())
	if err != nil {
		s.metrics.HandshakeFailedCount.Inc()
		_ = handshakeStream.Reset()
		_ = s.host.Network().ClosePeer(info.ID)
		return nil, fmt.Errorf("handshake: %w", err)
	}

	if err := handshakeStream.FullClose(); err != nil {
		_ = s.host.Network().ClosePeer(info.ID)
		return nil, fmt.Errorf("connect full close %w", err)
	}

	if err := s.connected(ctx, stream.Conn(), i, false); err != nil {
		return nil, err
	}

	s.metrics.CreatedConnectionCount.Inc()
	s.logger.Debugf("successfully connected to peer %s (outbound)", i.Address.ShortString())
	return i.Address, nil
}

func (s *Service) Disconnect(o overlay.Address, reason string) error {
	peerID, found := s.peers.peerID(o)
	if !found {
		return p2p.ErrPeerNotFound
	}

	peer, inbound, found := s.peers.remove(o)
	if !found {
		return p2p.ErrPeerNotFound
	}

	s.metrics.DisconnectCount.Inc()
	s.logger.Debugf("disconnect peer %s: %s", o, reason)

	_ = s.host.Network().ClosePeer(peerID)
	s.notifyDisconnected(peer, inbound)
	return nil
}

func (s *Service) Peers() []p2p.Peer {
	return s.peers.peers()
}

func (s *Service) NewStream(ctx context.Context, o overlay.Address, headers p2p.Headers, protocolName, protocolVersion, streamName string) (p2p.Stream, error) {
	peerID, found := s.peers.peerID(o)
	if !found {
		return nil, p2p.ErrPeerNotFound
	}

	streamlibp2p, err := s.newStreamForPeerID(ctx, peerID, protocolName, protocolVersion, streamName)
	if err != nil {
		return nil, err
	}

	stream := newStream(streamlibp2p, s.metrics)

	if headers == nil {
		headers = make(p2p.Headers)
	}
	if err := s.tracer.AddContextHeader(ctx, headers); err != nil && !errors.Is(err, tracing.ErrContextNotFound) {
		_ = stream.Reset()
		return nil, err
	}

	start := time.Now()
	if err := sendHeaders(ctx, headers, stream); err != nil {
		_ = stream.Reset()
		return nil, fmt.Errorf("send headers: %w", err)
	}
	s.metrics.HeadersExchangeDuration.Observe(time.Since(start).Seconds())

	return stream, nil
}

func (s *Service) newStreamForPeerID(ctx context.Context, peerID libp2ppeer.ID, protocolName, protocolVersion, streamName string) (network.Stream, error) {
	swarmStreamName := p2p.NewStreamName(protocolName, protocolVersion, streamName)
	st, err := s.host.NewStream(ctx, peerID, protocol.ID(swarmStreamName))
	if err != nil {
		if errors.Is(err, multistream.ErrNotSupported) || errors.Is(err, multistream.ErrIncorrectVersion) {
			return nil, p2p.NewIncompatibleStreamError(err)
		}
		return nil, fmt.Errorf("create stream %q to %q: %w", swarmStreamName, peerID, err)
	}
	s.metrics.CreatedStreamCount.Inc()
	return st, nil
}

// protocolSemverMatcher accepts streams of the same protocol and stream
// name whose version has the same major and a minor that is not newer.
func (s *Service) protocolSemverMatcher(base protocol.ID) (func(string) bool, error) {
	parts := strings.Split(string(base), "/")
	partsLen := len(parts)
	if partsLen < 2 {
		return nil, fmt.Errorf("invalid protocol id %q", base)
	}
	vers, err := semver.NewVersion(parts[partsLen-2])
	if err != nil {
		return nil, fmt.Errorf("parse version: %w", err)
	}

	return func(check string) bool {
		chparts := strings.Split(check, "/")
		if len(chparts) != partsLen {
			return false
		}

		for i, v := range chparts[:partsLen-2] {
			if parts[i] != v {
				return false
			}
		}

		chvers, err := semver.NewVersion(chparts[partsLen-2])
		if err != nil {
			return false
		}

		return vers.Major == chvers.Major && vers.Minor >= chvers.Minor && parts[partsLen-1] == chparts[partsLen-1]
	}, nil
}

func (s *Service) Close() error {
	s.cancel()

	var mErr *multierror.Error
	if err := s.host.Close(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("host: %w", err))
	}
	if err := s.libp2pPeerstore.Close(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("peerstore: %w", err))
	}
	return mErr.ErrorOrNil()
}
