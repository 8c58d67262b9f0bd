// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package p2p defines the transport abstraction the gossip protocols are
// written against: protocols with named streams, peers identified by their
// overlay address and connection lifecycle notifications.
package p2p

import (
	"context"
	"io"

	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/nodeaddr"
	"github.com/tradenet/gossipd/pkg/overlay"

	ma "github.com/multiformats/go-multiaddr"
)

// Service provides methods to handle p2p Peers and Protocols.
type Service interface {
	AddProtocol(ProtocolSpec) error
	// Connect dials the underlay and performs the handshake.
	Connect(ctx context.Context, addr ma.Multiaddr) (address *nodeaddr.Address, err error)
	Disconnecter
	Peers() []Peer
	Addresses() ([]ma.Multiaddr, error)
	SetNotifier(Notifier)
}

// Disconnecter disconnects a peer with a reason.
type Disconnecter interface {
	Disconnect(overlay overlay.Address, reason string) error
}

// Notifier is informed about peers connecting and disconnecting.
type Notifier interface {
	Connected(context.Context, Peer) error
	Disconnected(Peer)
}

// Streamer is able to create a new Stream.
type Streamer interface {
	NewStream(ctx context.Context, address overlay.Address, h Headers, protocol, version, stream string) (Stream, error)
}

// Stream represent a bidirectional data Stream.
type Stream interface {
	io.ReadWriter
	io.Closer
	ResponseHeaders() Headers
	Headers() Headers
	FullClose() error
	Reset() error
}

// ProtocolSpec defines a collection of Stream specifications with handlers.
type ProtocolSpec struct {
	Name          string
	Version       string
	StreamSpecs   []StreamSpec
	ConnectIn     func(context.Context, Peer) error
	ConnectOut    func(context.Context, Peer) error
	DisconnectIn  func(Peer) error
	DisconnectOut func(Peer) error
}

// StreamSpec defines a Stream handling within the protocol.
type StreamSpec struct {
	Name    string
	Handler HandlerFunc
	Headler HeadlerFunc
}

// Peer holds information about a Peer.
type Peer struct {
	Address      overlay.Address `json:"address"`
	Capabilities capability.Set  `json:"capabilities"`
}

// HandlerFunc handles a received Stream from a Peer.
type HandlerFunc func(context.Context, Peer, Stream) error

// HeadlerFunc is returning response headers based on the received request
// headers.
type HeadlerFunc func(Headers, overlay.Address) Headers

// Headers represents a collection of p2p header key value pairs.
type Headers map[string][]byte

// Common header names.
const (
	HeaderNameTracingSpanContext = "tracing-span-context"
)

// NewStreamName constructs a libp2p compatible stream name out of
// protocol name and version and stream name.
func NewStreamName(protocol, version, stream string) string {
	return "/gossipd/" + protocol + "/" + version + "/" + stream
}
