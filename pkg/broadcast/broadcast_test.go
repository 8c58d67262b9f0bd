// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package broadcast_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tradenet/gossipd/pkg/broadcast"
	"github.com/tradenet/gossipd/pkg/broadcast/pb"
	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/p2p/protobuf"
	"github.com/tradenet/gossipd/pkg/p2p/streamtest"
	"github.com/tradenet/gossipd/pkg/peerset"
	"github.com/tradenet/gossipd/pkg/record"
	"github.com/tradenet/gossipd/pkg/record/recordtest"
	"github.com/tradenet/gossipd/pkg/spinlock"
	"github.com/tradenet/gossipd/pkg/statestore/mock"
	"github.com/tradenet/gossipd/pkg/store"
)

type node struct {
	overlay  overlay.Address
	store    *store.Store
	peers    *peerset.Set
	recorder *streamtest.Recorder
	service  *broadcast.Service
}

// newNetwork connects every node to every other node. A node advertises the
// capabilities it is configured with; an empty set leaves them unknown to
// its peers.
func newNetwork(t *testing.T, caps ...capability.Set) []*node {
	t.Helper()

	logger := logging.New(io.Discard, 0)
	protocols := make(map[overlay.Address]p2p.ProtocolSpec)
	nodes := make([]*node, len(caps))

	for i := range nodes {
		o := overlay.RandAddress(t)
		st, err := store.New(mock.NewStateStore(), logger, store.Options{})
		if err != nil {
			t.Fatal(err)
		}
		ps, err := peerset.New(mock.NewStateStore(), nil, nil, logger, peerset.Options{Self: o})
		if err != nil {
			t.Fatal(err)
		}
		rec := streamtest.New(
			streamtest.WithBaseAddr(o),
			streamtest.WithPeerProtocols(protocols),
		)
		svc := broadcast.New(rec, st, ps, logger, nil, broadcast.Options{})
		protocols[o] = svc.Protocol()
		nodes[i] = &node{overlay: o, store: st, peers: ps, recorder: rec, service: svc}
	}

	for i, n := range nodes {
		for j, other := range nodes {
			if i == j {
				continue
			}
			if err := n.peers.Connected(context.Background(), p2p.Peer{Address: other.overlay, Capabilities: caps[j]}); err != nil {
				t.Fatal(err)
			}
		}
	}

	t.Cleanup(func() {
		for _, n := range nodes {
			_ = n.service.Close()
		}
		for _, n := range nodes {
			_ = n.store.Close()
		}
	})
	return nodes
}

func defaultCaps(n int) []capability.Set {
	caps := make([]capability.Set, n)
	for i := range caps {
		caps[i] = capability.Default()
	}
	return caps
}

func waitStored(t *testing.T, n *node, id record.ID, want bool) {
	t.Helper()

	err := spinlock.Wait(5*time.Second, func() bool {
		_, ok := n.store.Get(id)
		return ok == want
	})
	if err != nil {
		t.Fatalf("node %s: record %s stored: %v, want %v", n.overlay, id, !want, want)
	}
}

func countStreams(t *testing.T, rec *streamtest.Recorder, to overlay.Address, stream string) int {
	t.Helper()

	records, err := rec.Records(to, broadcast.ProtocolName, broadcast.ProtocolVersion, stream)
	if errors.Is(err, streamtest.ErrRecordsNotFound) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return len(records)
}

func TestBroadcast(t *testing.T) {
	nodes := newNetwork(t, defaultCaps(3)...)
	alice := recordtest.NewOwner(t)
	r := alice.Plain(t, record.KindOffer, "offer", 1)

	res, h, err := nodes[0].service.Publish(&broadcast.Add{Record: r})
	if err != nil {
		t.Fatal(err)
	}
	if res != store.Stored {
		t.Fatalf("got result %s, want %s", res, store.Stored)
	}

	for _, n := range nodes {
		waitStored(t, n, r.ID(), true)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if h.Succeeded() != 2 || h.Failed() != 0 {
		t.Fatalf("got %s", h)
	}

	for _, n := range nodes {
		if err := n.service.Close(); err != nil {
			t.Fatal(err)
		}
	}

	// every node sends the operation at most once to every other node
	for _, n := range nodes {
		for _, other := range nodes {
			if got := countStreams(t, n.recorder, other.overlay, broadcast.StreamAdd); got > 1 {
				t.Errorf("node %s sent the record %d times to %s", n.overlay, got, other.overlay)
			}
		}
		if got := countStreams(t, n.recorder, n.overlay, broadcast.StreamAdd); got != 0 {
			t.Errorf("node %s sent the record to itself", n.overlay)
		}
	}
}

func TestBroadcast_remove(t *testing.T) {
	nodes := newNetwork(t, defaultCaps(3)...)
	alice := recordtest.NewOwner(t)
	r := alice.Plain(t, record.KindVote, "vote", 1)

	if _, _, err := nodes[0].service.Publish(&broadcast.Add{Record: r}); err != nil {
		t.Fatal(err)
	}
	for _, n := range nodes {
		waitStored(t, n, r.ID(), true)
	}

	res, _, err := nodes[2].service.Publish(broadcast.NewRemove(alice.Removal(t, r, 2)))
	if err != nil {
		t.Fatal(err)
	}
	if res != store.Removed {
		t.Fatalf("got result %s, want %s", res, store.Removed)
	}
	for _, n := range nodes {
		waitStored(t, n, r.ID(), false)
	}
}

func TestBroadcast_removeMailbox(t *testing.T) {
	nodes := newNetwork(t, defaultCaps(2)...)
	sender := recordtest.NewOwner(t)
	recipient := recordtest.NewOwner(t)
	r := sender.Mailbox(t, recipient.PublicKey, "message", 1)

	if _, _, err := nodes[0].service.Publish(&broadcast.Add{Record: r}); err != nil {
		t.Fatal(err)
	}
	waitStored(t, nodes[1], r.ID(), true)

	removal := recipient.Removal(t, r, 2)
	op := broadcast.NewRemove(removal)
	if _, ok := op.(*broadcast.RemoveMailbox); !ok {
		t.Fatalf("got operation %T, want mailbox removal", op)
	}
	if got := broadcast.StreamName(op); got != broadcast.StreamRemoveMailbox {
		t.Fatalf("got stream %q", got)
	}

	if _, _, err := nodes[1].service.Publish(op); err != nil {
		t.Fatal(err)
	}
	waitStored(t, nodes[0], r.ID(), false)
}

func TestBroadcast_refresh(t *testing.T) {
	nodes := newNetwork(t, defaultCaps(2)...)
	alice := recordtest.NewOwner(t)
	r := alice.Plain(t, record.KindOffer, "offer", 1)

	if _, _, err := nodes[0].service.Publish(&broadcast.Add{Record: r}); err != nil {
		t.Fatal(err)
	}
	waitStored(t, nodes[1], r.ID(), true)

	res, _, err := nodes[0].service.Publish(&broadcast.Refresh{Refresh: alice.Refresh(t, r, 2)})
	if err != nil {
		t.Fatal(err)
	}
	if res != store.Refreshed {
		t.Fatalf("got result %s, want %s", res, store.Refreshed)
	}

	err = spinlock.Wait(5*time.Second, func() bool {
		got, ok := nodes[1].store.Get(r.ID())
		return ok && got.Base().Sequence == 2
	})
	if err != nil {
		t.Fatal("refresh not applied by the peer")
	}
}

func TestBroadcast_capabilities(t *testing.T) {
	x := capability.Capability(77)
	withX := capability.NewSet(append(capability.Default().List(), x)...)

	logger := logging.New(io.Discard, 0)
	protocols := make(map[overlay.Address]p2p.ProtocolSpec)
	var services []*broadcast.Service
	var stores []*store.Store
	addrs := overlay.RandAddresses(t, 3)
	nodeCaps := []capability.Set{withX, withX, capability.Default()}

	for i, o := range addrs {
		st, err := store.New(mock.NewStateStore(), logger, store.Options{Capabilities: nodeCaps[i]})
		if err != nil {
			t.Fatal(err)
		}
		defer st.Close()
		ps, err := peerset.New(mock.NewStateStore(), nil, nil, logger, peerset.Options{Self: o})
		if err != nil {
			t.Fatal(err)
		}
		for j, other := range addrs {
			if i != j {
				// capabilities unknown, so that the record reaches every node
				if err := ps.Connected(context.Background(), p2p.Peer{Address: other}); err != nil {
					t.Fatal(err)
				}
			}
		}
		rec := streamtest.New(streamtest.WithBaseAddr(o), streamtest.WithPeerProtocols(protocols))
		svc := broadcast.New(rec, st, ps, logger, nil, broadcast.Options{Capabilities: nodeCaps[i]})
		defer svc.Close()
		protocols[o] = svc.Protocol()
		services = append(services, svc)
		stores = append(stores, st)
	}

	r := recordtest.NewOwner(t).Plain(t, record.KindOffer, "offer", 1, recordtest.WithCapabilities(capability.NewSet(x)))
	_, h, err := services[0].Publish(&broadcast.Add{Record: r})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if h.Succeeded() != 2 {
		t.Fatalf("got %s", h)
	}

	err = spinlock.Wait(5*time.Second, func() bool {
		_, ok := stores[1].Get(r.ID())
		return ok
	})
	if err != nil {
		t.Fatal("record not accepted by the node advertising the capability")
	}
	for _, s := range services {
		_ = s.Close()
	}
	if _, ok := stores[2].Get(r.ID()); ok {
		t.Fatal("record stored by the node lacking the capability")
	}
}

type peerSet struct {
	peers []p2p.Peer

	mu       sync.Mutex
	failures []overlay.Address
	success  []overlay.Address
}

func (p *peerSet) Sample(n int, _ capability.Set, exclude ...overlay.Address) []p2p.Peer {
	var peers []p2p.Peer
	for _, peer := range p.peers {
		skip := false
		for _, o := range exclude {
			skip = skip || o == peer.Address
		}
		if !skip && len(peers) < n {
			peers = append(peers, peer)
		}
	}
	return peers
}

func (p *peerSet) ReportSuccess(o overlay.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.success = append(p.success, o)
}

func (p *peerSet) ReportFailure(o overlay.Address, _ string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, o)
	return false
}

func (p *peerSet) counts() (success, failures int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.success), len(p.failures)
}

func newStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.New(mock.NewStateStore(), logging.New(io.Discard, 0), store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestBroadcast_peerFailure(t *testing.T) {
	addrs := overlay.RandAddresses(t, 3)
	unreachable := addrs[1]
	ps := &peerSet{peers: []p2p.Peer{{Address: addrs[0]}, {Address: addrs[1]}, {Address: addrs[2]}}}

	peerStore := newStore(t)
	peer := broadcast.New(nil, peerStore, &peerSet{}, logging.New(io.Discard, 0), nil, broadcast.Options{})
	defer peer.Close()

	rec := streamtest.New(
		streamtest.WithProtocols(peer.Protocol()),
		streamtest.WithStreamError(func(o overlay.Address, _, _, _ string) error {
			if o == unreachable {
				return errors.New("unreachable")
			}
			return nil
		}),
	)
	svc := broadcast.New(rec, newStore(t), ps, logging.New(io.Discard, 0), nil, broadcast.Options{})
	defer svc.Close()

	r := recordtest.NewOwner(t).Plain(t, record.KindAlert, "alert", 1)
	_, h, err := svc.Publish(&broadcast.Add{Record: r})
	if err != nil {
		t.Fatal(err)
	}
	<-h.Done()

	if h.Succeeded() != 2 || h.Failed() != 1 {
		t.Fatalf("got %s", h)
	}
	success, failures := ps.counts()
	if success != 2 || failures != 1 {
		t.Fatalf("got %d successes and %d failures reported", success, failures)
	}
	if _, ok := peerStore.Get(r.ID()); !ok {
		t.Fatal("record not delivered")
	}
}

func TestBroadcast_timeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	// the peer reads the operation but never acks
	rec := streamtest.New(streamtest.WithProtocols(p2p.ProtocolSpec{
		Name:    broadcast.ProtocolName,
		Version: broadcast.ProtocolVersion,
		StreamSpecs: []p2p.StreamSpec{{
			Name: broadcast.StreamAdd,
			Handler: func(ctx context.Context, _ p2p.Peer, stream p2p.Stream) error {
				var msg pb.AddRecord
				if err := protobuf.NewReader(stream).ReadMsgWithContext(ctx, &msg); err != nil {
					return err
				}
				<-block
				return nil
			},
		}},
	}))
	slow := overlay.RandAddress(t)
	ps := &peerSet{peers: []p2p.Peer{{Address: slow}}}
	svc := broadcast.New(rec, newStore(t), ps, logging.New(io.Discard, 0), nil, broadcast.Options{Timeout: 200 * time.Millisecond})
	defer svc.Close()

	alice := recordtest.NewOwner(t)
	for i, key := range []string{"a", "b", "c"} {
		_, h, err := svc.Publish(&broadcast.Add{Record: alice.Plain(t, record.KindOffer, key, 1)})
		if err != nil {
			t.Fatal(err)
		}
		select {
		case <-h.Done():
		case <-time.After(5 * time.Second):
			t.Fatalf("broadcast %d not done", i)
		}
		if h.Failed() != 1 {
			t.Fatalf("broadcast %d: got %s", i, h)
		}
	}

	success, failures := ps.counts()
	if success != 0 || failures != 3 {
		t.Fatalf("got %d successes and %d failures reported, want 0 and 3", success, failures)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, o := range ps.failures {
		if o != slow {
			t.Fatalf("failure reported for %s", o)
		}
	}
}

func TestCancelAll(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	rec := streamtest.New(streamtest.WithProtocols(p2p.ProtocolSpec{
		Name:    broadcast.ProtocolName,
		Version: broadcast.ProtocolVersion,
		StreamSpecs: []p2p.StreamSpec{{
			Name: broadcast.StreamAdd,
			Handler: func(context.Context, p2p.Peer, p2p.Stream) error {
				<-block
				return nil
			},
		}},
	}))
	ps := &peerSet{peers: []p2p.Peer{{Address: overlay.RandAddress(t)}}}
	svc := broadcast.New(rec, newStore(t), ps, logging.New(io.Discard, 0), nil, broadcast.Options{Timeout: time.Minute})
	defer svc.Close()

	r := recordtest.NewOwner(t).Plain(t, record.KindOffer, "offer", 1)
	_, h, err := svc.Publish(&broadcast.Add{Record: r})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(svc.InFlight()); n != 1 {
		t.Fatalf("got %d broadcasts in flight, want 1", n)
	}

	svc.CancelAll()

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled broadcast not done")
	}
	if h.Failed() != 1 {
		t.Fatalf("got %s", h)
	}
	if _, failures := ps.counts(); failures != 0 {
		t.Fatal("cancellation reported as a peer failure")
	}

	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Broadcast(&broadcast.Add{Record: r}, overlay.ZeroAddress, true); !errors.Is(err, broadcast.ErrClosed) {
		t.Fatalf("got error %v, want %v", err, broadcast.ErrClosed)
	}
}

func TestHandler_invalid(t *testing.T) {
	st := newStore(t)
	svc := broadcast.New(nil, st, &peerSet{}, logging.New(io.Discard, 0), nil, broadcast.Options{})
	defer svc.Close()

	recorder := streamtest.New(streamtest.WithProtocols(svc.Protocol()))
	peer := overlay.RandAddress(t)

	r := recordtest.NewOwner(t).Plain(t, record.KindOffer, "offer", 1)
	m := &pb.AddRecord{Record: record.ToProto(r)}
	m.Record.Payload = []byte("tampered")

	var last error
	for i := 0; i < 25 && last == nil; i++ {
		stream, err := recorder.NewStream(context.Background(), peer, nil, broadcast.ProtocolName, broadcast.ProtocolVersion, broadcast.StreamAdd)
		if err != nil {
			t.Fatal(err)
		}
		w, rd := protobuf.NewWriterAndReader(stream)
		if err := w.WriteMsg(m); err != nil {
			t.Fatal(err)
		}
		var ack pb.Ack
		if err := rd.ReadMsg(&ack); err != nil {
			t.Fatal(err)
		}
		_ = stream.FullClose()

		records, err := recorder.Records(peer, broadcast.ProtocolName, broadcast.ProtocolVersion, broadcast.StreamAdd)
		if err != nil {
			t.Fatal(err)
		}
		last = records[len(records)-1].Err()
	}

	var de *p2p.DisconnectError
	if !errors.As(last, &de) {
		t.Fatalf("got error %v, want disconnect error", last)
	}
	if _, ok := st.Get(r.ID()); ok {
		t.Fatal("tampered record stored")
	}
}
