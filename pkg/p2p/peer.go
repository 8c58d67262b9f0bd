// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package p2p

import (
	"sort"

	"github.com/tradenet/gossipd/pkg/overlay"
)

// SortPeers orders peers by overlay address.
func SortPeers(peers []Peer) {
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Address.String() < peers[j].Address.String()
	})
}

// PeerAddresses returns the overlay addresses of peers.
func PeerAddresses(peers []Peer) []overlay.Address {
	addrs := make([]overlay.Address, len(peers))
	for i, p := range peers {
		addrs[i] = p.Address
	}
	return addrs
}
