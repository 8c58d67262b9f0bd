// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libp2p_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tradenet/gossipd/pkg/addressbook"
	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/p2p/libp2p"
	"github.com/tradenet/gossipd/pkg/p2p/libp2p/internal/headers/pb"
	"github.com/tradenet/gossipd/pkg/p2p/protobuf"
	"github.com/tradenet/gossipd/pkg/statestore/mock"

	ma "github.com/multiformats/go-multiaddr"
)

const (
	testProtocolName    = "testing"
	testProtocolVersion = "2.3.4"
	testStreamName      = "messages"
)

type libp2pServiceOpts struct {
	networkID    uint64
	version      string
	capabilities capability.Set
}

type testService struct {
	*libp2p.Service
	overlay  overlay.Address
	book     addressbook.Store
	notifier *notifier
}

func newService(t *testing.T, o libp2pServiceOpts) *testService {
	t.Helper()

	if o.networkID == 0 {
		o.networkID = 1
	}
	if o.version == "" {
		o.version = "0.4.0"
	}
	if o.capabilities.IsEmpty() {
		o.capabilities = capability.Default()
	}

	key, err := crypto.GenerateSecp256k1Key()
	if err != nil {
		t.Fatal(err)
	}
	ov, err := crypto.NewOverlayAddress(key.PublicKey, o.networkID)
	if err != nil {
		t.Fatal(err)
	}
	libp2pKey, err := crypto.GenerateSecp256k1Key()
	if err != nil {
		t.Fatal(err)
	}

	book := addressbook.New(mock.NewStateStore())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s, err := libp2p.New(ctx, crypto.NewDefaultSigner(key), o.networkID, ov, "127.0.0.1:0", book, logging.New(io.Discard, 0), nil, libp2p.Options{
		PrivateKey:   libp2pKey,
		NATAddr:      "127.0.0.1:1634",
		Capabilities: o.capabilities,
		Version:      o.version,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})

	n := newNotifier()
	s.SetNotifier(n)

	return &testService{Service: s, overlay: ov, book: book, notifier: n}
}

func serviceUnderlayAddress(t *testing.T, s *testService) ma.Multiaddr {
	t.Helper()

	addrs, err := s.Addresses()
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) == 0 {
		t.Fatal("no addresses")
	}
	return addrs[0]
}

type notifier struct {
	mu           sync.Mutex
	connected    []p2p.Peer
	disconnected []p2p.Peer
	err          error
}

func newNotifier() *notifier {
	return &notifier{}
}

func (n *notifier) Connected(_ context.Context, p p2p.Peer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.connected = append(n.connected, p)
	return nil
}

func (n *notifier) Disconnected(p p2p.Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected = append(n.disconnected, p)
}

func (n *notifier) counts() (connected, disconnected int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.connected), len(n.disconnected)
}

// waitFor polls f until it returns true.
func waitFor(t *testing.T, what string, f func() bool) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if f() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func expectPeers(t *testing.T, s *testService, overlays ...overlay.Address) {
	t.Helper()

	waitFor(t, fmt.Sprintf("%d peers", len(overlays)), func() bool {
		peers := s.Peers()
		if len(peers) != len(overlays) {
			return false
		}
		for _, o := range overlays {
			found := false
			for _, p := range peers {
				if p.Address == o {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	})
}

func newTestProtocol(h p2p.HandlerFunc) p2p.ProtocolSpec {
	return p2p.ProtocolSpec{
		Name:    testProtocolName,
		Version: testProtocolVersion,
		StreamSpecs: []p2p.StreamSpec{
			{
				Name:    testStreamName,
				Handler: h,
			},
		},
	}
}

func TestConnect(t *testing.T) {
	ctx := context.Background()

	s1 := newService(t, libp2pServiceOpts{})
	s2 := newService(t, libp2pServiceOpts{capabilities: capability.NewSet(capability.Mailbox)})

	addr := serviceUnderlayAddress(t, s1)

	got, err := s2.Connect(ctx, addr)
	if err != nil {
		t.Fatal(err)
	}
	if got.Overlay != s1.overlay {
		t.Fatalf("got overlay %s, want %s", got.Overlay, s1.overlay)
	}
	if !got.Equal(s1.Address()) {
		t.Fatalf("got address %s, want %s", got, s1.Address())
	}

	expectPeers(t, s2, s1.overlay)
	expectPeers(t, s1, s2.overlay)

	waitFor(t, "connected notifications", func() bool {
		c1, _ := s1.notifier.counts()
		c2, _ := s2.notifier.counts()
		return c1 == 1 && c2 == 1
	})

	// the inbound side learns the capabilities from the handshake
	p := s1.Peers()[0]
	if !p.Capabilities.Equal(capability.NewSet(capability.Mailbox)) {
		t.Fatalf("got capabilities %s, want %s", p.Capabilities, capability.NewSet(capability.Mailbox))
	}

	// both sides store the verified address
	a, err := s1.book.Get(s2.overlay)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(s2.Address()) {
		t.Fatalf("got stored address %s, want %s", a, s2.Address())
	}

	if _, err := s2.Connect(ctx, addr); !errors.Is(err, p2p.ErrAlreadyConnected) {
		t.Fatalf("got error %v, want %v", err, p2p.ErrAlreadyConnected)
	}
}

func TestConnect_self(t *testing.T) {
	s1 := newService(t, libp2pServiceOpts{})

	if _, err := s1.Connect(context.Background(), serviceUnderlayAddress(t, s1)); !errors.Is(err, libp2p.ErrSelfConnect) {
		t.Fatalf("got error %v, want %v", err, libp2p.ErrSelfConnect)
	}
}

func TestConnect_networkIDMismatch(t *testing.T) {
	s1 := newService(t, libp2pServiceOpts{networkID: 1})
	s2 := newService(t, libp2pServiceOpts{networkID: 2})

	if _, err := s2.Connect(context.Background(), serviceUnderlayAddress(t, s1)); err == nil {
		t.Fatal("expected error")
	}

	expectPeers(t, s1)
	expectPeers(t, s2)
}

func TestConnect_versionMismatch(t *testing.T) {
	s1 := newService(t, libp2pServiceOpts{version: "1.0.0"})
	s2 := newService(t, libp2pServiceOpts{version: "2.0.0"})

	if _, err := s2.Connect(context.Background(), serviceUnderlayAddress(t, s1)); err == nil {
		t.Fatal("expected error")
	}

	expectPeers(t, s1)
	expectPeers(t, s2)
}

func TestConnect_notifierRefuses(t *testing.T) {
	s1 := newService(t, libp2pServiceOpts{})
	s2 := newService(t, libp2pServiceOpts{})

	s2.notifier.err = errors.New("refused")

	if _, err := s2.Connect(context.Background(), serviceUnderlayAddress(t, s1)); err == nil {
		t.Fatal("expected error")
	}
	expectPeers(t, s2)
}

func TestDisconnect(t *testing.T) {
	s1 := newService(t, libp2pServiceOpts{})
	s2 := newService(t, libp2pServiceOpts{})

	if _, err := s2.Connect(context.Background(), serviceUnderlayAddress(t, s1)); err != nil {
		t.Fatal(err)
	}
	expectPeers(t, s1, s2.overlay)

	if err := s2.Disconnect(s1.overlay, "test"); err != nil {
		t.Fatal(err)
	}
	expectPeers(t, s2)
	expectPeers(t, s1)

	waitFor(t, "disconnected notifications", func() bool {
		_, d1 := s1.notifier.counts()
		_, d2 := s2.notifier.counts()
		return d1 == 1 && d2 == 1
	})

	if err := s2.Disconnect(s1.overlay, "test"); !errors.Is(err, p2p.ErrPeerNotFound) {
		t.Fatalf("got error %v, want %v", err, p2p.ErrPeerNotFound)
	}
}

func TestNewStream(t *testing.T) {
	ctx := context.Background()

	s1 := newService(t, libp2pServiceOpts{})
	s2 := newService(t, libp2pServiceOpts{})

	type result struct {
		peer    p2p.Peer
		headers p2p.Headers
		msg     string
	}
	handled := make(chan result, 1)

	spec := newTestProtocol(func(ctx context.Context, p p2p.Peer, stream p2p.Stream) error {
		defer stream.FullClose()
		_, r := protobuf.NewWriterAndReader(stream)
		var m pb.Header
		if err := r.ReadMsgWithContext(ctx, &m); err != nil {
			return err
		}
		handled <- result{peer: p, headers: stream.Headers(), msg: m.Key}
		return nil
	})
	spec.StreamSpecs[0].Headler = func(h p2p.Headers, _ overlay.Address) p2p.Headers {
		return p2p.Headers{"echo": h["greeting"]}
	}
	if err := s1.AddProtocol(spec); err != nil {
		t.Fatal(err)
	}

	if _, err := s2.Connect(ctx, serviceUnderlayAddress(t, s1)); err != nil {
		t.Fatal(err)
	}
	expectPeers(t, s1, s2.overlay)

	stream, err := s2.NewStream(ctx, s1.overlay, p2p.Headers{"greeting": []byte("hello")}, testProtocolName, testProtocolVersion, testStreamName)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	if got := string(stream.ResponseHeaders()["echo"]); got != "hello" {
		t.Fatalf("got response header %q, want %q", got, "hello")
	}

	w := protobuf.NewWriter(stream)
	if err := w.WriteMsgWithContext(ctx, &pb.Header{Key: "message"}); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-handled:
		if r.peer.Address != s2.overlay {
			t.Errorf("got peer %s, want %s", r.peer.Address, s2.overlay)
		}
		if got := string(r.headers["greeting"]); got != "hello" {
			t.Errorf("got header %q, want %q", got, "hello")
		}
		if r.msg != "message" {
			t.Errorf("got message %q, want %q", r.msg, "message")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for handler")
	}
}

func TestNewStream_peerNotFound(t *testing.T) {
	s1 := newService(t, libp2pServiceOpts{})

	_, err := s1.NewStream(context.Background(), overlay.RandAddress(t), nil, testProtocolName, testProtocolVersion, testStreamName)
	if !errors.Is(err, p2p.ErrPeerNotFound) {
		t.Fatalf("got error %v, want %v", err, p2p.ErrPeerNotFound)
	}
}

func TestHandler_disconnect(t *testing.T) {
	ctx := context.Background()

	s1 := newService(t, libp2pServiceOpts{})
	s2 := newService(t, libp2pServiceOpts{})

	if err := s1.AddProtocol(newTestProtocol(func(context.Context, p2p.Peer, p2p.Stream) error {
		return p2p.Disconnect(errors.New("bad peer"))
	})); err != nil {
		t.Fatal(err)
	}

	if _, err := s2.Connect(ctx, serviceUnderlayAddress(t, s1)); err != nil {
		t.Fatal(err)
	}
	expectPeers(t, s1, s2.overlay)

	stream, err := s2.NewStream(ctx, s1.overlay, nil, testProtocolName, testProtocolVersion, testStreamName)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	expectPeers(t, s1)
	expectPeers(t, s2)
}

func TestConnectDisconnectHooks(t *testing.T) {
	ctx := context.Background()

	s1 := newService(t, libp2pServiceOpts{})
	s2 := newService(t, libp2pServiceOpts{})

	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	spec := newTestProtocol(func(context.Context, p2p.Peer, p2p.Stream) error { return nil })
	spec.ConnectIn = func(context.Context, p2p.Peer) error { record("connect-in"); return nil }
	spec.DisconnectIn = func(p2p.Peer) error { record("disconnect-in"); return nil }
	if err := s1.AddProtocol(spec); err != nil {
		t.Fatal(err)
	}

	if _, err := s2.Connect(ctx, serviceUnderlayAddress(t, s1)); err != nil {
		t.Fatal(err)
	}
	expectPeers(t, s1, s2.overlay)

	if err := s1.Disconnect(s2.overlay, "test"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "hooks", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fmt.Sprint(events) == "[connect-in disconnect-in]"
	})
}
