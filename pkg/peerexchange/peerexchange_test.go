// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package peerexchange_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/nodeaddr"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/p2p/protobuf"
	"github.com/tradenet/gossipd/pkg/p2p/streamtest"
	"github.com/tradenet/gossipd/pkg/peerexchange"
	"github.com/tradenet/gossipd/pkg/peerexchange/pb"
	"github.com/tradenet/gossipd/pkg/peerset"
	"github.com/tradenet/gossipd/pkg/spinlock"
	"github.com/tradenet/gossipd/pkg/statestore/mock"

	ma "github.com/multiformats/go-multiaddr"
)

const networkID = 1

type node struct {
	addr    nodeaddr.Address
	peers   *peerset.Set
	service *peerexchange.Service
}

func newAddress(t *testing.T, i int) nodeaddr.Address {
	t.Helper()

	key, err := crypto.GenerateSecp256k1Key()
	if err != nil {
		t.Fatal(err)
	}
	o, err := crypto.NewOverlayAddress(key.PublicKey, networkID)
	if err != nil {
		t.Fatal(err)
	}
	m, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", 7000+i))
	if err != nil {
		t.Fatal(err)
	}
	addr, err := nodeaddr.NewAddress(crypto.NewDefaultSigner(key), m, o, networkID)
	if err != nil {
		t.Fatal(err)
	}
	return *addr
}

func newPeerSet(t *testing.T, self overlay.Address) *peerset.Set {
	t.Helper()

	ps, err := peerset.New(mock.NewStateStore(), nil, nil, logging.New(io.Discard, 0), peerset.Options{
		Self:      self,
		NetworkID: networkID,
	})
	if err != nil {
		t.Fatal(err)
	}
	return ps
}

// newNetwork creates n nodes whose streams reach each other.
func newNetwork(t *testing.T, n int, connecter peerexchange.Connecter) []*node {
	t.Helper()

	protocols := make(map[overlay.Address]p2p.ProtocolSpec)
	nodes := make([]*node, n)
	for i := range nodes {
		addr := newAddress(t, i)
		ps := newPeerSet(t, addr.Overlay)
		rec := streamtest.New(
			streamtest.WithBaseAddr(addr.Overlay),
			streamtest.WithPeerProtocols(protocols),
		)
		svc := peerexchange.New(rec, connecter, ps, logging.New(io.Discard, 0), nil, peerexchange.Options{Self: &addr})
		t.Cleanup(func() { _ = svc.Close() })
		protocols[addr.Overlay] = svc.Protocol()
		nodes[i] = &node{addr: addr, peers: ps, service: svc}
	}
	return nodes
}

func contains(addrs []nodeaddr.Address, o overlay.Address) bool {
	for _, a := range addrs {
		if a.Overlay == o {
			return true
		}
	}
	return false
}

func TestRequestPeers(t *testing.T) {
	// a knows b, c knows d; a learns c and asks it for peers
	nodes := newNetwork(t, 4, nil)
	a, b, c, d := nodes[0], nodes[1], nodes[2], nodes[3]

	a.peers.AddReported(b.addr)
	c.peers.AddReported(d.addr, a.addr)
	a.peers.AddReported(c.addr)

	got, err := a.service.RequestPeers(context.Background(), c.addr.Overlay)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(got, d.addr.Overlay) {
		t.Fatalf("response does not contain %s", d.addr.Overlay)
	}
	if contains(got, a.addr.Overlay) {
		t.Fatal("response contains the requester")
	}

	if !contains(a.peers.Candidates(10), d.addr.Overlay) {
		t.Fatal("peer not merged into the requester's peer set")
	}
	for _, o := range []overlay.Address{a.addr.Overlay, b.addr.Overlay} {
		if !contains(c.peers.Reported(10), o) {
			t.Fatalf("peer %s not merged into the responder's peer set", o)
		}
	}
}

func TestRequestPeers_rateLimit(t *testing.T) {
	nodes := newNetwork(t, 2, nil)
	a, b := nodes[0], nodes[1]

	for i := 0; i < peerexchange.LimitBurst; i++ {
		if _, err := a.service.RequestPeers(context.Background(), b.addr.Overlay); err != nil {
			t.Fatal(err)
		}
	}
	_, err := a.service.RequestPeers(context.Background(), b.addr.Overlay)
	if !errors.Is(err, peerexchange.ErrRateLimitExceeded) {
		t.Fatalf("got error %v, want %v", err, peerexchange.ErrRateLimitExceeded)
	}
}

func TestRequestPeers_failure(t *testing.T) {
	addr := newAddress(t, 0)
	ps := newPeerSet(t, addr.Overlay)
	target := newAddress(t, 1)
	ps.AddReported(target)

	rec := streamtest.New(streamtest.WithStreamError(func(overlay.Address, string, string, string) error {
		return errors.New("unreachable")
	}))
	svc := peerexchange.New(rec, nil, ps, logging.New(io.Discard, 0), nil, peerexchange.Options{})
	defer svc.Close()

	for i := 0; i < peerset.DefaultFailureThreshold; i++ {
		if _, err := svc.RequestPeers(context.Background(), target.Overlay); err == nil {
			t.Fatal("expected error")
		}
	}
	if !ps.Failed(target.Overlay) {
		t.Fatal("failing peer not marked")
	}
	if contains(ps.Candidates(10), target.Overlay) {
		t.Fatal("failing peer is still a candidate")
	}
}

// wrongNonceProtocol answers peer requests with a nonce that does not match.
func wrongNonceProtocol() p2p.ProtocolSpec {
	return p2p.ProtocolSpec{
		Name:    peerexchange.ProtocolName,
		Version: peerexchange.ProtocolVersion,
		StreamSpecs: []p2p.StreamSpec{
			{
				Name: peerexchange.PeersStreamName,
				Handler: func(ctx context.Context, _ p2p.Peer, stream p2p.Stream) error {
					defer stream.Close()

					w, r := protobuf.NewWriterAndReader(stream)
					var req pb.GetPeersRequest
					if err := r.ReadMsgWithContext(ctx, &req); err != nil {
						return err
					}
					return w.WriteMsgWithContext(ctx, &pb.GetPeersResponse{RequestNonce: req.Nonce + 1})
				},
			},
		},
	}
}

func TestRequestPeers_failureAfterStreamOpened(t *testing.T) {
	addr := newAddress(t, 0)
	ps := newPeerSet(t, addr.Overlay)
	target := newAddress(t, 1)
	ps.AddReported(target)

	rec := streamtest.New(streamtest.WithProtocols(wrongNonceProtocol()))
	svc := peerexchange.New(rec, nil, ps, logging.New(io.Discard, 0), nil, peerexchange.Options{})
	defer svc.Close()

	for i := 0; i < peerset.DefaultFailureThreshold; i++ {
		_, err := svc.RequestPeers(context.Background(), target.Overlay)
		if !errors.Is(err, peerexchange.ErrNonceMismatch) {
			t.Fatalf("got error %v, want %v", err, peerexchange.ErrNonceMismatch)
		}
	}
	if !ps.Failed(target.Overlay) {
		t.Fatal("misbehaving peer not marked")
	}
}

func TestPeersHandler_unsupportedCapabilities(t *testing.T) {
	nodes := newNetwork(t, 2, nil)
	a, b := nodes[0], nodes[1]
	b.peers.AddReported(newAddress(t, 2))

	rec := streamtest.New(streamtest.WithProtocols(b.service.Protocol()), streamtest.WithBaseAddr(a.addr.Overlay))
	stream, err := rec.NewStream(context.Background(), b.addr.Overlay, nil, peerexchange.ProtocolName, peerexchange.ProtocolVersion, peerexchange.PeersStreamName)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	w, r := protobuf.NewWriterAndReader(stream)
	required := capability.NewSet(capability.Capability(99))
	if err := w.WriteMsg(&pb.GetPeersRequest{
		Nonce:                42,
		Sender:               peerexchange.AddressToProto(a.addr),
		RequiredCapabilities: required.Uint32s(),
	}); err != nil {
		t.Fatal(err)
	}
	var resp pb.GetPeersResponse
	if err := r.ReadMsg(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.RequestNonce != 42 {
		t.Fatalf("got nonce %d, want 42", resp.RequestNonce)
	}
	if len(resp.ReportedPeers) != 0 {
		t.Fatalf("got %d peers, want none", len(resp.ReportedPeers))
	}
	if contains(b.peers.Reported(10), a.addr.Overlay) {
		t.Fatal("sender merged despite missing capabilities")
	}
}

type connecter struct {
	mu        sync.Mutex
	connected []ma.Multiaddr
	fail      map[string]bool
	peers     *peerset.Set
	byAddr    map[string]nodeaddr.Address
}

func (c *connecter) Connect(ctx context.Context, addr ma.Multiaddr) (*nodeaddr.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = append(c.connected, addr)
	if c.fail[addr.String()] {
		return nil, errors.New("connection refused")
	}
	na := c.byAddr[addr.String()]
	if err := c.peers.Connected(ctx, p2p.Peer{Address: na.Overlay}); err != nil {
		return nil, err
	}
	return &na, nil
}

func TestRound(t *testing.T) {
	self := newAddress(t, 0)
	ps := newPeerSet(t, self.Overlay)

	good := newAddress(t, 1)
	bad := newAddress(t, 2)
	ps.AddReported(good, bad)

	c := &connecter{
		fail:   map[string]bool{bad.Underlay.String(): true},
		peers:  ps,
		byAddr: map[string]nodeaddr.Address{good.Underlay.String(): good},
	}

	// the connected peer serves no protocol, so the exchange with it fails
	rec := streamtest.New()
	svc := peerexchange.New(rec, c, ps, logging.New(io.Discard, 0), nil, peerexchange.Options{Self: &self})
	defer svc.Close()

	svc.Round(context.Background())

	if len(c.connected) != 2 {
		t.Fatalf("got %d connection attempts, want 2", len(c.connected))
	}
	if !ps.IsLive(good.Overlay) {
		t.Fatal("candidate not connected")
	}
	if ps.IsLive(bad.Overlay) {
		t.Fatal("failing candidate connected")
	}
}

func TestStart_reachesPeersFromBootnode(t *testing.T) {
	// a knows only the bootnode b; b knows c and c knows d
	protocols := make(map[overlay.Address]p2p.ProtocolSpec)
	addrs := make([]nodeaddr.Address, 4)
	sets := make([]*peerset.Set, 4)
	for i := range addrs {
		addrs[i] = newAddress(t, i)
		sets[i] = newPeerSet(t, addrs[i].Overlay)
	}
	sets[1].AddReported(addrs[2])
	sets[2].AddReported(addrs[3])

	c := &connecter{
		peers:  sets[0],
		byAddr: make(map[string]nodeaddr.Address),
	}
	for _, addr := range addrs[1:] {
		c.byAddr[addr.Underlay.String()] = addr
	}

	var a *peerexchange.Service
	for i := range addrs {
		o := peerexchange.Options{Self: &addrs[i]}
		var conn peerexchange.Connecter
		if i == 0 {
			o.Bootnodes = []ma.Multiaddr{addrs[1].Underlay}
			o.Interval = 50 * time.Millisecond
			conn = c
		}
		rec := streamtest.New(
			streamtest.WithBaseAddr(addrs[i].Overlay),
			streamtest.WithPeerProtocols(protocols),
		)
		svc := peerexchange.New(rec, conn, sets[i], logging.New(io.Discard, 0), nil, o)
		t.Cleanup(func() { _ = svc.Close() })
		protocols[addrs[i].Overlay] = svc.Protocol()
		if i == 0 {
			a = svc
		}
	}

	a.Start()

	err := spinlock.Wait(5*time.Second, func() bool {
		return sets[0].IsLive(addrs[3].Overlay)
	})
	if err != nil {
		t.Fatal("peer two hops from the bootnode not reached")
	}
	if !contains(sets[1].Reported(10), addrs[0].Overlay) {
		t.Fatal("bootnode did not learn the joining node")
	}
}
