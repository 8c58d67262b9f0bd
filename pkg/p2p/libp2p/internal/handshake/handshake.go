// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package handshake exchanges the node identity on every new connection:
// the network id, the signed node address, the advertised capabilities and
// the software version.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-semver/semver"
	libp2ppeer "github.com/libp2p/go-libp2p-core/peer"
	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/nodeaddr"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/p2p/libp2p/internal/handshake/pb"
	"github.com/tradenet/gossipd/pkg/p2p/protobuf"

	ma "github.com/multiformats/go-multiaddr"
)

const (
	// ProtocolName is the text of the name of the handshake protocol.
	ProtocolName = "handshake"
	// ProtocolVersion is the current handshake protocol version.
	ProtocolVersion = "1.0.0"
	// StreamName is the name of the stream used for handshake purposes.
	StreamName       = "handshake"
	handshakeTimeout = 15 * time.Second
)

var (
	// ErrNetworkIDIncompatible is returned if response from the other peer does not have valid networkID.
	ErrNetworkIDIncompatible = errors.New("incompatible network ID")

	// ErrIncompatibleVersion is returned if the other peer runs a different major version.
	ErrIncompatibleVersion = errors.New("incompatible version")

	// ErrInvalidAck is returned if data in received in ack is not valid (invalid signature for example).
	ErrInvalidAck = errors.New("invalid ack")

	// ErrInvalidSyn is returned if observable address in syn is not valid.
	ErrInvalidSyn = errors.New("invalid syn")

	// ErrPeerIDMismatch is returned if the signed underlay belongs to a
	// different libp2p identity than the connection.
	ErrPeerIDMismatch = errors.New("peer id mismatch")
)

// Info contains the information received from the handshake.
type Info struct {
	Address      *nodeaddr.Address
	Capabilities capability.Set
	Version      string
}

type Service struct {
	address      *nodeaddr.Address
	networkID    uint64
	capabilities capability.Set
	version      string
	major        int64
	logger       logging.Logger
	metrics      metrics
}

// New creates a handshake service announcing the given signed address.
func New(address *nodeaddr.Address, networkID uint64, capabilities capability.Set, version string, logger logging.Logger) (*Service, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("version %q: %w", version, err)
	}
	if err := address.Verify(networkID); err != nil {
		return nil, fmt.Errorf("own address: %w", err)
	}
	return &Service{
		address:      address,
		networkID:    networkID,
		capabilities: capabilities,
		version:      version,
		major:        v.Major,
		logger:       logger,
		metrics:      newMetrics(),
	}, nil
}

// Address returns the signed address announced to peers.
func (s *Service) Address() *nodeaddr.Address {
	return s.address
}

// Handshake initiates a handshake with a peer.
func (s *Service) Handshake(ctx context.Context, stream p2p.Stream, peerMultiaddr ma.Multiaddr, peerID libp2ppeer.ID) (i *Info, err error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	w, r := protobuf.NewWriterAndReader(stream)
	fullRemoteMA, err := buildFullMA(peerMultiaddr, peerID)
	if err != nil {
		return nil, err
	}

	if err := w.WriteMsgWithContext(ctx, &pb.Syn{
		ObservedUnderlay: fullRemoteMA.Bytes(),
	}); err != nil {
		return nil, fmt.Errorf("write syn message: %w", err)
	}

	var resp pb.SynAck
	if err := r.ReadMsgWithContext(ctx, &resp); err != nil {
		s.metrics.SynAckRxFailed.Inc()
		return nil, fmt.Errorf("read synack message: %w", err)
	}
	s.metrics.SynAckRx.Inc()

	if resp.Syn == nil || resp.Ack == nil {
		return nil, ErrInvalidAck
	}
	s.logObserved(resp.Syn.ObservedUnderlay)

	info, err := s.parseCheckAck(resp.Ack, peerID)
	if err != nil {
		return nil, err
	}

	if err := w.WriteMsgWithContext(ctx, s.ack()); err != nil {
		return nil, fmt.Errorf("write ack message: %w", err)
	}

	s.logger.Tracef("handshake finished for peer (outbound) %s", info.Address.Overlay)
	return info, nil
}

// Handle handles an incoming handshake from a peer.
func (s *Service) Handle(ctx context.Context, stream p2p.Stream, remoteMultiaddr ma.Multiaddr, remotePeerID libp2ppeer.ID) (i *Info, err error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	w, r := protobuf.NewWriterAndReader(stream)
	fullRemoteMA, err := buildFullMA(remoteMultiaddr, remotePeerID)
	if err != nil {
		return nil, err
	}

	var syn pb.Syn
	if err := r.ReadMsgWithContext(ctx, &syn); err != nil {
		s.metrics.SynRxFailed.Inc()
		return nil, fmt.Errorf("read syn message: %w", err)
	}
	s.metrics.SynRx.Inc()

	if _, err := ma.NewMultiaddrBytes(syn.ObservedUnderlay); err != nil {
		return nil, ErrInvalidSyn
	}
	s.logObserved(syn.ObservedUnderlay)

	if err := w.WriteMsgWithContext(ctx, &pb.SynAck{
		Syn: &pb.Syn{
			ObservedUnderlay: fullRemoteMA.Bytes(),
		},
		Ack: s.ack(),
	}); err != nil {
		s.metrics.SynAckTxFailed.Inc()
		return nil, fmt.Errorf("write synack message: %w", err)
	}
	s.metrics.SynAckTx.Inc()

	var ack pb.Ack
	if err := r.ReadMsgWithContext(ctx, &ack); err != nil {
		s.metrics.AckRxFailed.Inc()
		return nil, fmt.Errorf("read ack message: %w", err)
	}
	s.metrics.AckRx.Inc()

	info, err := s.parseCheckAck(&ack, remotePeerID)
	if err != nil {
		return nil, err
	}

	s.logger.Tracef("handshake finished for peer (inbound) %s", info.Address.Overlay)
	return info, nil
}

func (s *Service) ack() *pb.Ack {
	return &pb.Ack{
		Address: &pb.NodeAddress{
			Underlay:  s.address.Underlay.Bytes(),
			Overlay:   s.address.Overlay.Bytes(),
			Signature: s.address.Signature,
		},
		NetworkID:    s.networkID,
		Capabilities: s.capabilities.Uint32s(),
		Version:      s.version,
	}
}

func (s *Service) logObserved(b []byte) {
	observed, err := ma.NewMultiaddrBytes(b)
	if err != nil {
		return
	}
	s.logger.Tracef("handshake: peer observes us as %s", observed)
}

func (s *Service) parseCheckAck(ack *pb.Ack, peerID libp2ppeer.ID) (*Info, error) {
	if ack.NetworkID != s.networkID {
		return nil, ErrNetworkIDIncompatible
	}

	v, err := semver.NewVersion(ack.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: version %q", ErrInvalidAck, ack.Version)
	}
	if v.Major != s.major {
		return nil, fmt.Errorf("%w: %s", ErrIncompatibleVersion, ack.Version)
	}

	if ack.Address == nil {
		return nil, ErrInvalidAck
	}
	address, err := nodeaddr.ParseAddress(ack.Address.Underlay, ack.Address.Overlay, ack.Address.Signature, s.networkID)
	if err != nil {
		return nil, ErrInvalidAck
	}

	info, err := libp2ppeer.AddrInfoFromP2pAddr(address.Underlay)
	if err != nil {
		return nil, fmt.Errorf("%w: underlay %s", ErrInvalidAck, address.Underlay)
	}
	if info.ID != peerID {
		return nil, ErrPeerIDMismatch
	}

	return &Info{
		Address:      address,
		Capabilities: capability.FromUint32s(ack.Capabilities),
		Version:      ack.Version,
	}, nil
}

func buildFullMA(addr ma.Multiaddr, peerID libp2ppeer.ID) (ma.Multiaddr, error) {
	return ma.NewMultiaddr(fmt.Sprintf("%s/p2p/%s", addr.String(), peerID.String()))
}
