// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datasync_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/datasync"
	"github.com/tradenet/gossipd/pkg/datasync/pb"
	"github.com/tradenet/gossipd/pkg/logging"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/p2p/protobuf"
	"github.com/tradenet/gossipd/pkg/p2p/streamtest"
	"github.com/tradenet/gossipd/pkg/record"
	recordpb "github.com/tradenet/gossipd/pkg/record/pb"
	"github.com/tradenet/gossipd/pkg/record/recordtest"
	"github.com/tradenet/gossipd/pkg/spinlock"
	"github.com/tradenet/gossipd/pkg/statestore/mock"
	"github.com/tradenet/gossipd/pkg/store"
)

type peerSet struct {
	mu       sync.Mutex
	success  []overlay.Address
	failures []overlay.Address
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

func add(t *testing.T, st *store.Store, rs ...record.Record) {
	t.Helper()

	for _, r := range rs {
		if _, err := st.Add(r); err != nil {
			t.Fatal(err)
		}
	}
}

func newService(t *testing.T, streamer p2p.Streamer, st datasync.Store, ps datasync.PeerSet, o datasync.Options) *datasync.Service {
	t.Helper()

	svc := datasync.New(streamer, st, ps, logging.New(io.Discard, 0), nil, o)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestSync(t *testing.T) {
	alice := recordtest.NewOwner(t)
	bob := recordtest.NewOwner(t)

	offer := alice.Plain(t, record.KindOffer, "offer", 1)
	vote := alice.Plain(t, record.KindVote, "vote", 1)
	mail := alice.Mailbox(t, bob.PublicKey, "mail", 1)

	serverStore := newStore(t)
	add(t, serverStore, offer, vote, mail)
	server := newService(t, nil, serverStore, &peerSet{}, datasync.Options{})

	clientStore := newStore(t)
	add(t, clientStore, offer)
	recorder := streamtest.New(streamtest.WithProtocols(server.Protocol()))
	ps := &peerSet{}
	client := newService(t, recorder, clientStore, ps, datasync.Options{})

	peer := overlay.RandAddress(t)
	res, err := client.Sync(context.Background(), peer)
	if err != nil {
		t.Fatal(err)
	}
	// the known offer is not sent again
	if res.Received != 2 || res.Stored != 2 || res.Rejected != 0 || res.Truncated {
		t.Fatalf("got result %+v", res)
	}
	for _, r := range []record.Record{offer, vote, mail} {
		got, ok := clientStore.Get(r.ID())
		if !ok {
			t.Fatalf("record %s not synced", r)
		}
		if !bytes.Equal(got.Base().Payload, r.Base().Payload) {
			t.Fatalf("record %s synced with another payload", r)
		}
	}
	if success, failures := ps.counts(); success != 1 || failures != 0 {
		t.Fatalf("got %d successes and %d failures reported", success, failures)
	}

	records, err := recorder.Records(peer, datasync.ProtocolName, datasync.ProtocolVersion, datasync.StreamName)
	if err != nil {
		t.Fatal(err)
	}
	if l := len(records); l != 1 {
		t.Fatalf("got %d records, want 1", l)
	}
	messages, err := protobuf.ReadMessages(
		bytes.NewReader(records[0].In()),
		func() protobuf.Message { return new(pb.GetDataRequest) },
	)
	if err != nil {
		t.Fatal(err)
	}
	req := messages[0].(*pb.GetDataRequest)
	if len(req.KnownIDs) != 1 || !bytes.Equal(req.KnownIDs[0], offer.ID().Bytes()) {
		t.Fatalf("got known ids %x", req.KnownIDs)
	}
	if !capability.FromUint32s(req.Capabilities).Equal(capability.Default()) {
		t.Fatalf("got capabilities %v", req.Capabilities)
	}

	// a second exchange brings nothing new
	res, err = client.Sync(context.Background(), peer)
	if err != nil {
		t.Fatal(err)
	}
	if res.Received != 0 {
		t.Fatalf("got %d records on the second exchange", res.Received)
	}
}

func TestSync_capabilities(t *testing.T) {
	alice := recordtest.NewOwner(t)
	offer := alice.Plain(t, record.KindOffer, "offer", 1)
	vote := alice.Plain(t, record.KindVote, "vote", 1)

	serverStore := newStore(t)
	add(t, serverStore, offer, vote)
	server := newService(t, nil, serverStore, &peerSet{}, datasync.Options{})

	caps := capability.NewSet(capability.Offers, capability.Mailbox)
	clientStore, err := store.New(mock.NewStateStore(), logging.New(io.Discard, 0), store.Options{Capabilities: caps})
	if err != nil {
		t.Fatal(err)
	}
	defer clientStore.Close()

	recorder := streamtest.New(streamtest.WithProtocols(server.Protocol()))
	client := newService(t, recorder, clientStore, &peerSet{}, datasync.Options{Capabilities: caps})

	res, err := client.Sync(context.Background(), overlay.RandAddress(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Received != 1 || res.Stored != 1 {
		t.Fatalf("got result %+v", res)
	}
	if _, ok := clientStore.Get(vote.ID()); ok {
		t.Fatal("record synced without the capability")
	}
}

func TestSync_batches(t *testing.T) {
	alice := recordtest.NewOwner(t)
	n := datasync.BatchRecords*2 + 3

	serverStore := newStore(t)
	for i := 0; i < n; i++ {
		add(t, serverStore, alice.Plain(t, record.KindOffer, fmt.Sprintf("offer-%d", i), 1))
	}
	server := newService(t, nil, serverStore, &peerSet{}, datasync.Options{})

	recorder := streamtest.New(streamtest.WithProtocols(server.Protocol()))
	clientStore := newStore(t)
	client := newService(t, recorder, clientStore, &peerSet{}, datasync.Options{})

	peer := overlay.RandAddress(t)
	res, err := client.Sync(context.Background(), peer)
	if err != nil {
		t.Fatal(err)
	}
	if res.Received != n || res.Stored != n {
		t.Fatalf("got result %+v, want %d records", res, n)
	}
	if got := clientStore.Counts()[record.KindOffer]; got != n {
		t.Fatalf("got %d offers, want %d", got, n)
	}

	records, err := recorder.Records(peer, datasync.ProtocolName, datasync.ProtocolVersion, datasync.StreamName)
	if err != nil {
		t.Fatal(err)
	}
	messages, err := protobuf.ReadMessages(
		bytes.NewReader(records[0].Out()),
		func() protobuf.Message { return new(pb.GetDataResponse) },
	)
	if err != nil {
		t.Fatal(err)
	}
	if l := len(messages); l != 3 {
		t.Fatalf("got %d response messages, want 3", l)
	}
	for i, m := range messages {
		if last := m.(*pb.GetDataResponse).Last; last != (i == len(messages)-1) {
			t.Fatalf("message %d: got last %v", i, last)
		}
	}
}

func TestSync_truncated(t *testing.T) {
	alice := recordtest.NewOwner(t)

	serverStore := newStore(t)
	for _, key := range []string{"a", "b", "c"} {
		add(t, serverStore, alice.Plain(t, record.KindOffer, key, 1))
	}
	server := newService(t, nil, serverStore, &peerSet{}, datasync.Options{MaxRecords: 2})

	recorder := streamtest.New(streamtest.WithProtocols(server.Protocol()))
	clientStore := newStore(t)
	client := newService(t, recorder, clientStore, &peerSet{}, datasync.Options{})

	res, err := client.Sync(context.Background(), overlay.RandAddress(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Received != 2 || !res.Truncated {
		t.Fatalf("got result %+v", res)
	}
}

func TestSync_invalidRecord(t *testing.T) {
	alice := recordtest.NewOwner(t)
	good := alice.Plain(t, record.KindOffer, "good", 1)
	forged := alice.Plain(t, record.KindOffer, "forged", 1)
	forged.Payload = []byte("changed after signing")

	rec := streamtest.New(streamtest.WithProtocols(serveRecords(func(req *pb.GetDataRequest) []*pb.GetDataResponse {
		return []*pb.GetDataResponse{{
			RequestNonce: req.Nonce,
			Records:      []*recordpb.Record{record.ToProto(good), record.ToProto(forged)},
			Last:         true,
		}}
	})))
	clientStore := newStore(t)
	client := newService(t, rec, clientStore, &peerSet{}, datasync.Options{})

	res, err := client.Sync(context.Background(), overlay.RandAddress(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Received != 2 || res.Stored != 1 || res.Rejected != 1 {
		t.Fatalf("got result %+v", res)
	}
	if _, ok := clientStore.Get(forged.ID()); ok {
		t.Fatal("forged record stored")
	}
}

func TestSync_misbehavingPeer(t *testing.T) {
	owner := recordtest.NewOwner(t)
	var many []*recordpb.Record
	for i := 0; i < 3; i++ {
		many = append(many, record.ToProto(owner.Plain(t, record.KindOffer, fmt.Sprint(i), 1)))
	}

	for _, tc := range []struct {
		name      string
		responses func(*pb.GetDataRequest) []*pb.GetDataResponse
		want      error
	}{
		{
			name: "nonce mismatch",
			responses: func(req *pb.GetDataRequest) []*pb.GetDataResponse {
				return []*pb.GetDataResponse{{RequestNonce: req.Nonce + 1, Last: true}}
			},
			want: datasync.ErrNonceMismatch,
		},
		{
			name: "too many records",
			responses: func(req *pb.GetDataRequest) []*pb.GetDataResponse {
				return []*pb.GetDataResponse{{RequestNonce: req.Nonce, Records: many, Last: true}}
			},
			want: datasync.ErrTooManyRecords,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := streamtest.New(streamtest.WithProtocols(serveRecords(tc.responses)))
			ps := &peerSet{}
			client := newService(t, rec, newStore(t), ps, datasync.Options{MaxRecords: 2})

			_, err := client.Sync(context.Background(), overlay.RandAddress(t))
			if !errors.Is(err, tc.want) {
				t.Fatalf("got error %v, want %v", err, tc.want)
			}
			if success, failures := ps.counts(); success != 0 || failures != 1 {
				t.Fatalf("got %d successes and %d failures reported", success, failures)
			}
		})
	}
}

func TestHandler_rateLimit(t *testing.T) {
	server := newService(t, nil, newStore(t), &peerSet{}, datasync.Options{})
	recorder := streamtest.New(streamtest.WithProtocols(server.Protocol()))
	client := newService(t, recorder, newStore(t), &peerSet{}, datasync.Options{})

	peer := overlay.RandAddress(t)
	for i := 0; i < datasync.LimitBurst; i++ {
		if _, err := client.Sync(context.Background(), peer); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := client.Sync(context.Background(), peer); err == nil {
		t.Fatal("expected error")
	}
}

func TestConnectOut(t *testing.T) {
	alice := recordtest.NewOwner(t)
	offer := alice.Plain(t, record.KindOffer, "offer", 1)

	serverStore := newStore(t)
	add(t, serverStore, offer)
	server := newService(t, nil, serverStore, &peerSet{}, datasync.Options{})

	recorder := streamtest.New(streamtest.WithProtocols(server.Protocol()))
	clientStore := newStore(t)
	client := newService(t, recorder, clientStore, &peerSet{}, datasync.Options{})

	if err := client.Protocol().ConnectOut(context.Background(), p2p.Peer{Address: overlay.RandAddress(t)}); err != nil {
		t.Fatal(err)
	}

	err := spinlock.Wait(5*time.Second, func() bool {
		_, ok := clientStore.Get(offer.ID())
		return ok
	})
	if err != nil {
		t.Fatal("record not synced after connecting")
	}
}

// serveRecords answers data requests with the responses returned by f.
func serveRecords(f func(*pb.GetDataRequest) []*pb.GetDataResponse) p2p.ProtocolSpec {
	return p2p.ProtocolSpec{
		Name:    datasync.ProtocolName,
		Version: datasync.ProtocolVersion,
		StreamSpecs: []p2p.StreamSpec{
			{
				Name: datasync.StreamName,
				Handler: func(ctx context.Context, _ p2p.Peer, stream p2p.Stream) error {
					defer stream.Close()

					w, r := protobuf.NewWriterAndReader(stream)
					var req pb.GetDataRequest
					if err := r.ReadMsgWithContext(ctx, &req); err != nil {
						return err
					}
					for _, resp := range f(&req) {
						if err := w.WriteMsgWithContext(ctx, resp); err != nil {
							return err
						}
					}
					return nil
				},
			},
		},
	}
}
