// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libp2p

import (
	"sort"
	"sync"

	"github.com/libp2p/go-libp2p-core/network"
	libp2ppeer "github.com/libp2p/go-libp2p-core/peer"
	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/nodeaddr"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
)

// peerRegistry maps handshaken libp2p peers to their overlay addresses.
type peerRegistry struct {
	underlays map[overlay.Address]libp2ppeer.ID
	entries   map[libp2ppeer.ID]*peerEntry
	mu        sync.RWMutex

	// disconnected is called once the last connection of a registered
	// peer is closed by the network
	disconnected func(p p2p.Peer, inbound bool)
}

type peerEntry struct {
	address      *nodeaddr.Address
	capabilities capability.Set
	inbound      bool
	conns        map[network.Conn]struct{}
}

func newPeerRegistry() *peerRegistry {
	return &peerRegistry{
		underlays: make(map[overlay.Address]libp2ppeer.ID),
		entries:   make(map[libp2ppeer.ID]*peerEntry),
	}
}

// notifiee returns the network notifications the registry listens on.
func (r *peerRegistry) notifiee() network.Notifiee {
	return &network.NotifyBundle{
		DisconnectedF: r.disconnectedConn,
	}
}

func (r *peerRegistry) disconnectedConn(_ network.Network, c network.Conn) {
	peerID := c.RemotePeer()

	r.mu.Lock()
	e, ok := r.entries[peerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(e.conns, c)
	if len(e.conns) > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, peerID)
	delete(r.underlays, e.address.Overlay)
	r.mu.Unlock()

	if r.disconnected != nil {
		r.disconnected(p2p.Peer{Address: e.address.Overlay, Capabilities: e.capabilities}, e.inbound)
	}
}

// add registers the connection of a handshaken peer. It reports whether
// the peer was already known on another connection.
func (r *peerRegistry) add(c network.Conn, address *nodeaddr.Address, caps capability.Set, inbound bool) (exists bool) {
	peerID := c.RemotePeer()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[peerID]
	if !exists {
		e = &peerEntry{
			address:      address,
			capabilities: caps,
			inbound:      inbound,
			conns:        make(map[network.Conn]struct{}),
		}
		r.entries[peerID] = e
		r.underlays[address.Overlay] = peerID
	}
	e.conns[c] = struct{}{}
	return exists
}

func (r *peerRegistry) peers() []p2p.Peer {
	r.mu.RLock()
	peers := make([]p2p.Peer, 0, len(r.entries))
	for _, e := range r.entries {
		peers = append(peers, p2p.Peer{Address: e.address.Overlay, Capabilities: e.capabilities})
	}
	r.mu.RUnlock()
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Address.String() < peers[j].Address.String()
	})
	return peers
}

func (r *peerRegistry) peerID(o overlay.Address) (libp2ppeer.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peerID, found := r.underlays[o]
	return peerID, found
}

func (r *peerRegistry) peer(peerID libp2ppeer.ID) (p2p.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, found := r.entries[peerID]
	if !found {
		return p2p.Peer{}, false
	}
	return p2p.Peer{Address: e.address.Overlay, Capabilities: e.capabilities}, true
}

func (r *peerRegistry) address(peerID libp2ppeer.ID) (*nodeaddr.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, found := r.entries[peerID]
	if !found {
		return nil, false
	}
	return e.address, true
}

func (r *peerRegistry) isConnected(o overlay.Address) bool {
	_, found := r.peerID(o)
	return found
}

// remove drops the peer and reports whether it was registered, so that
// disconnect notifications are delivered once.
func (r *peerRegistry) remove(o overlay.Address) (p p2p.Peer, inbound, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peerID, found := r.underlays[o]
	if !found {
		return p2p.Peer{}, false, false
	}
	e := r.entries[peerID]
	delete(r.underlays, o)
	delete(r.entries, peerID)
	return p2p.Peer{Address: o, Capabilities: e.capabilities}, e.inbound, true
}
