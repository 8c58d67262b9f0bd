// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/debugapi"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/mailbox"
	"github.com/tradenet/gossipd/pkg/node"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/spinlock"
	"github.com/tradenet/gossipd/pkg/statestore/mock"
)

const networkID = 10

func newNode(t *testing.T, o node.Options) (*node.Gossipd, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := crypto.GenerateSecp256k1Key()
	if err != nil {
		t.Fatal(err)
	}
	return newNodeWithKey(t, key, o), key
}

func newNodeWithKey(t *testing.T, key *ecdsa.PrivateKey, o node.Options) *node.Gossipd {
	t.Helper()

	libp2pKey, err := crypto.GenerateSecp256k1Key()
	if err != nil {
		t.Fatal(err)
	}
	if o.Addr == "" {
		o.Addr = "127.0.0.1:0"
	}

	logger := logging.New(io.Discard, 0)
	b, err := node.NewGossipd(context.Background(), crypto.NewDefaultSigner(key), networkID, logger, libp2pKey, o)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := b.Shutdown(context.Background()); err != nil && !errors.Is(err, node.ErrShutdownInProgress) {
			t.Error(err)
		}
	})
	return b
}

func livePeers(t *testing.T, b *node.Gossipd) int {
	t.Helper()

	rec := httptest.NewRecorder()
	b.DebugAPI().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readiness: got status %d", rec.Code)
	}
	var resp debugapi.ReadinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Peers
}

func TestNewGossipd(t *testing.T) {
	b, _ := newNode(t, node.Options{})

	if b.Overlay().IsZero() {
		t.Fatal("zero overlay address")
	}
	if b.Address() == nil || b.Address().Overlay != b.Overlay() {
		t.Fatalf("got address %v, want overlay %s", b.Address(), b.Overlay())
	}
	if got := livePeers(t, b); got != 0 {
		t.Errorf("got %d live peers, want 0", got)
	}

	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Shutdown(context.Background()); !errors.Is(err, node.ErrShutdownInProgress) {
		t.Fatalf("got error %v, want %v", err, node.ErrShutdownInProgress)
	}
}

func TestMailboxDelivery(t *testing.T) {
	a, _ := newNode(t, node.Options{})
	b, bKey := newNode(t, node.Options{
		Bootnodes: []string{a.Address().Underlay.String()},
	})

	err := spinlock.Wait(10*time.Second, func() bool {
		return livePeers(t, a) == 1 && livePeers(t, b) == 1
	})
	if err != nil {
		t.Fatal("nodes did not connect")
	}

	recipient, err := crypto.NewPublicKey(&bKey.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	message := []byte("trade offer accepted")
	if _, err := a.Mailbox().Send(recipient, message, time.Hour); err != nil {
		t.Fatal(err)
	}

	var collected int
	err = spinlock.Wait(10*time.Second, func() bool {
		collected = len(b.Mailbox().Collect(recipient))
		return collected == 1
	})
	if err != nil {
		t.Fatalf("got %d messages, want 1", collected)
	}

	m := b.Mailbox().Collect(recipient)[0]
	got, err := mailbox.Open(bKey, m.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, message) {
		t.Fatalf("got message %q, want %q", got, message)
	}

	if err := b.Mailbox().Acknowledge(m); err != nil {
		t.Fatal(err)
	}
	err = spinlock.Wait(10*time.Second, func() bool {
		_, ok := a.Store().Get(m.ID())
		return !ok
	})
	if err != nil {
		t.Fatal("acknowledged message not removed at the sender")
	}
}

func TestMailboxDelivery_recipientOffline(t *testing.T) {
	a, _ := newNode(t, node.Options{})

	bKey, err := crypto.GenerateSecp256k1Key()
	if err != nil {
		t.Fatal(err)
	}
	recipient, err := crypto.NewPublicKey(&bKey.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	// sent while the recipient is not running
	message := []byte("payment started")
	if _, err := a.Mailbox().Send(recipient, message, time.Hour); err != nil {
		t.Fatal(err)
	}

	b := newNodeWithKey(t, bKey, node.Options{
		Bootnodes: []string{a.Address().Underlay.String()},
	})

	var collected int
	err = spinlock.Wait(10*time.Second, func() bool {
		collected = len(b.Mailbox().Collect(recipient))
		return collected == 1
	})
	if err != nil {
		t.Fatalf("got %d messages, want 1", collected)
	}

	got, err := mailbox.Open(bKey, b.Mailbox().Collect(recipient)[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, message) {
		t.Fatalf("got message %q, want %q", got, message)
	}
}

func TestCheckOverlay(t *testing.T) {
	stateStore := mock.NewStateStore()
	o := overlay.MustParseHexAddress("ca1e9f3938cc1425c6061b96ad9eb93e134dfe8734ad490164ef20af9d1cf59c")

	if err := node.CheckOverlay(stateStore, o); err != nil {
		t.Fatal(err)
	}
	if err := node.CheckOverlay(stateStore, o); err != nil {
		t.Fatal(err)
	}

	other := overlay.MustParseHexAddress("ca1e9f3938cc1425c6061b96ad9eb93e134dfe8734ad490164ef20af9d1cf59a")
	if err := node.CheckOverlay(stateStore, other); err == nil {
		t.Fatal("expected error for changed overlay")
	}
}
