// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package peerset_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tradenet/gossipd/pkg/addressbook"
	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/nodeaddr"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/peerset"
	"github.com/tradenet/gossipd/pkg/statestore/mock"
	"github.com/tradenet/gossipd/pkg/storage"

	ma "github.com/multiformats/go-multiaddr"
)

const networkID = 3

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
	m, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/10.0.0.%d/tcp/4001", i))
	if err != nil {
		t.Fatal(err)
	}
	addr, err := nodeaddr.NewAddress(crypto.NewDefaultSigner(key), m, o, networkID)
	if err != nil {
		t.Fatal(err)
	}
	return *addr
}

func newAddresses(t *testing.T, n int) []nodeaddr.Address {
	t.Helper()

	addrs := make([]nodeaddr.Address, n)
	for i := range addrs {
		addrs[i] = newAddress(t, i+1)
	}
	return addrs
}

type disconnecter struct {
	mu           sync.Mutex
	disconnected []overlay.Address
}

func (d *disconnecter) Disconnect(o overlay.Address, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnected = append(d.disconnected, o)
	return nil
}

func (d *disconnecter) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.disconnected)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newSet(t *testing.T, stateStore storage.StateStorer, d p2p.Disconnecter, o peerset.Options) *peerset.Set {
	t.Helper()

	s, err := peerset.New(stateStore, addressbook.New(stateStore), d, logging.New(io.Discard, 0), o)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLive(t *testing.T) {
	s := newSet(t, mock.NewStateStore(), nil, peerset.Options{NetworkID: networkID})
	peers := overlay.RandAddresses(t, 3)

	for _, o := range peers {
		if err := s.Connected(context.Background(), p2p.Peer{Address: o}); err != nil {
			t.Fatal(err)
		}
	}
	if n := s.LiveCount(); n != 3 {
		t.Fatalf("got %d live peers, want 3", n)
	}

	s.Disconnected(p2p.Peer{Address: peers[0]})
	if s.IsLive(peers[0]) {
		t.Fatal("disconnected peer is live")
	}
	if got := s.Live(); len(got) != 2 {
		t.Fatalf("got %d live peers, want 2", len(got))
	}
}

func TestSample(t *testing.T) {
	s := newSet(t, mock.NewStateStore(), nil, peerset.Options{NetworkID: networkID})
	peers := overlay.RandAddresses(t, 10)
	x := capability.Capability(99)

	for i, o := range peers {
		var caps capability.Set
		switch {
		case i == 0:
			caps = capability.NewSet(capability.Offers)
		case i == 1:
			caps = capability.NewSet(capability.Offers, x)
		}
		if err := s.Connected(context.Background(), p2p.Peer{Address: o, Capabilities: caps}); err != nil {
			t.Fatal(err)
		}
	}

	got := s.Sample(5, capability.Set{}, peers[2])
	if len(got) != 5 {
		t.Fatalf("got %d peers, want 5", len(got))
	}
	for _, p := range got {
		if p.Address == peers[2] {
			t.Fatal("excluded peer sampled")
		}
	}

	got = s.Sample(100, capability.NewSet(x))
	if len(got) != 9 {
		t.Fatalf("got %d peers, want 9", len(got))
	}
	for _, p := range got {
		if p.Address == peers[0] {
			t.Fatal("sampled peer lacking the required capability")
		}
	}
}

func TestAddReported(t *testing.T) {
	addrs := newAddresses(t, 4)
	s := newSet(t, mock.NewStateStore(), nil, peerset.Options{
		Self:      addrs[0].Overlay,
		NetworkID: networkID,
	})

	added := s.AddReported(addrs...)
	if len(added) != 3 {
		t.Fatalf("got %d added peers, want 3", len(added))
	}
	if added := s.AddReported(addrs...); len(added) != 0 {
		t.Fatalf("got %d added duplicate peers", len(added))
	}

	spoofed := addrs[1]
	spoofed.Overlay = overlay.RandAddress(t)
	if added := s.AddReported(spoofed); len(added) != 0 {
		t.Fatal("spoofed address added")
	}

	got := s.Candidates(10)
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	if got[0].Overlay != addrs[3].Overlay {
		t.Fatalf("got first candidate %s, want most recent %s", got[0].Overlay, addrs[3].Overlay)
	}

	if err := s.Connected(context.Background(), p2p.Peer{Address: addrs[1].Overlay}); err != nil {
		t.Fatal(err)
	}
	if got := s.Candidates(10); len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
}

func TestAddReported_cap(t *testing.T) {
	addrs := newAddresses(t, 3)
	s := newSet(t, mock.NewStateStore(), nil, peerset.Options{
		NetworkID:   networkID,
		MaxReported: 2,
	})

	s.AddReported(addrs[0], addrs[1])
	s.Confirm(addrs[0].Overlay)
	s.AddReported(addrs[2])

	got := s.Reported(10)
	if len(got) != 2 {
		t.Fatalf("got %d reported peers, want 2", len(got))
	}
	for _, a := range got {
		if a.Overlay == addrs[1].Overlay {
			t.Fatal("least recently confirmed peer not evicted")
		}
	}
}

func TestReportFailure(t *testing.T) {
	addrs := newAddresses(t, 2)
	d := new(disconnecter)
	stateStore := mock.NewStateStore()
	s := newSet(t, stateStore, d, peerset.Options{
		NetworkID:        networkID,
		FailureThreshold: 3,
	})
	s.AddReported(addrs...)
	for _, a := range addrs {
		if err := s.Connected(context.Background(), p2p.Peer{Address: a.Overlay}); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 2; i++ {
		if s.ReportFailure(addrs[0].Overlay, "test") {
			t.Fatal("evicted before the threshold")
		}
	}
	s.ReportSuccess(addrs[0].Overlay)
	s.ReportFailure(addrs[0].Overlay, "test")
	if s.Failed(addrs[0].Overlay) {
		t.Fatal("failure count not reset by success")
	}

	s.ReportFailure(addrs[1].Overlay, "test")
	s.ReportFailure(addrs[1].Overlay, "test")
	if !s.ReportFailure(addrs[1].Overlay, "test") {
		t.Fatal("peer not evicted at the threshold")
	}
	if s.IsLive(addrs[1].Overlay) {
		t.Fatal("evicted peer is live")
	}
	if d.count() != 1 {
		t.Fatalf("got %d disconnects, want 1", d.count())
	}
	if added := s.AddReported(addrs[1]); len(added) != 0 {
		t.Fatal("failed peer added again")
	}

	s.MarkDead(addrs[0].Overlay, "keepalive")
	if s.IsLive(addrs[0].Overlay) || !s.Failed(addrs[0].Overlay) {
		t.Fatal("dead peer kept")
	}
}

func TestPersist(t *testing.T) {
	addrs := newAddresses(t, 4)
	stateStore := mock.NewStateStore()
	c := &clock{now: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)}
	o := peerset.Options{
		NetworkID:    networkID,
		MaxPersisted: 3,
		Now:          c.Now,
	}

	s := newSet(t, stateStore, nil, o)
	s.AddReported(addrs[0])
	c.Advance(10 * 24 * time.Hour)
	s.AddReported(addrs[1:]...)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = newSet(t, stateStore, nil, o)
	if got := s.Reported(10); len(got) != 3 {
		t.Fatalf("got %d persisted peers, want 3", len(got))
	}

	c.Advance(7 * 24 * time.Hour)
	s = newSet(t, stateStore, nil, o)
	if got := s.Reported(10); len(got) != 3 {
		t.Fatalf("got %d peers, want 3", len(got))
	}
	c.Advance(8 * 24 * time.Hour)
	s = newSet(t, stateStore, nil, o)
	if got := s.Reported(10); len(got) != 0 {
		t.Fatalf("got %d peers older than the maximum age", len(got))
	}
}
