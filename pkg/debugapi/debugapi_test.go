// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/debugapi"
	"github.com/tradenet/gossipd/pkg/inventory"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/nodeaddr"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/statestore/mock"
	"github.com/tradenet/gossipd/pkg/store"
	"resenje.org/web"

	ma "github.com/multiformats/go-multiaddr"
)

type testServerOptions struct {
	Overlay            overlay.Address
	PublicKey          crypto.PublicKey
	P2P                *p2pService
	PeerSet            *peerSet
	Store              *store.Store
	Inventory          *inventoryService
	CORSAllowedOrigins []string
	// Unconfigured leaves only the basic routes.
	Unconfigured bool
}

type testServer struct {
	URL     string
	Client  *http.Client
	Service *debugapi.Service
	Store   *store.Store
}

func newTestServer(t *testing.T, o testServerOptions) *testServer {
	t.Helper()

	logger := logging.New(io.Discard, 0)
	if o.P2P == nil {
		o.P2P = new(p2pService)
	}
	if o.PeerSet == nil {
		o.PeerSet = new(peerSet)
	}
	if o.Inventory == nil {
		o.Inventory = new(inventoryService)
	}
	if o.Store == nil {
		st, err := store.New(mock.NewStateStore(), logger, store.Options{})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = st.Close() })
		o.Store = st
	}

	s := debugapi.New(o.Overlay, o.PublicKey, logger, nil, o.CORSAllowedOrigins)
	if !o.Unconfigured {
		s.Configure(o.P2P, o.PeerSet, o.Store, o.Inventory)
	}
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	client := &http.Client{
		Transport: web.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			u, err := url.Parse(ts.URL + r.URL.String())
			if err != nil {
				return nil, err
			}
			r.URL = u
			return ts.Client().Transport.RoundTrip(r)
		}),
	}
	return &testServer{
		URL:     ts.URL,
		Client:  client,
		Service: s,
		Store:   o.Store,
	}
}

type p2pService struct {
	connectFunc    func(context.Context, ma.Multiaddr) (*nodeaddr.Address, error)
	disconnectFunc func(overlay.Address, string) error
	peers          []p2p.Peer
	addresses      []ma.Multiaddr
	addressesErr   error
}

func (s *p2pService) Connect(ctx context.Context, addr ma.Multiaddr) (*nodeaddr.Address, error) {
	return s.connectFunc(ctx, addr)
}

func (s *p2pService) Disconnect(o overlay.Address, reason string) error {
	return s.disconnectFunc(o, reason)
}

func (s *p2pService) Peers() []p2p.Peer {
	return s.peers
}

func (s *p2pService) Addresses() ([]ma.Multiaddr, error) {
	return s.addresses, s.addressesErr
}

type peerSet struct {
	live     []p2p.Peer
	reported []nodeaddr.Address
}

func (p *peerSet) Live() []p2p.Peer {
	return p.live
}

func (p *peerSet) Reported(n int) []nodeaddr.Address {
	if n > len(p.reported) {
		n = len(p.reported)
	}
	return p.reported[:n]
}

type inventoryService struct {
	local       inventory.Inventory
	requestFunc func(context.Context, overlay.Address) (inventory.Inventory, error)
}

func (s *inventoryService) Local() inventory.Inventory {
	return s.local
}

func (s *inventoryService) Request(ctx context.Context, peer overlay.Address) (inventory.Inventory, error) {
	return s.requestFunc(ctx, peer)
}

func mustMultiaddr(t *testing.T, s string) ma.Multiaddr {
	t.Helper()

	a, err := ma.NewMultiaddr(s)
	if err != nil {
		t.Fatal(err)
	}
	return a
}
