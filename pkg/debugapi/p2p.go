// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"

	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/jsonhttp"
	"github.com/tradenet/gossipd/pkg/overlay"

	ma "github.com/multiformats/go-multiaddr"
)

type addressesResponse struct {
	Overlay   overlay.Address  `json:"overlay"`
	Underlay  []ma.Multiaddr   `json:"underlay"`
	PublicKey crypto.PublicKey `json:"publicKey"`
}

func (s *Service) addressesHandler(w http.ResponseWriter, r *http.Request) {
	// initialize variable to json encode as [] instead null if p2p is nil
	underlay := make([]ma.Multiaddr, 0)
	// addresses endpoint is exposed before p2p service is configured
	// to provide information about other addresses.
	if s.p2p != nil {
		u, err := s.p2p.Addresses()
		if err != nil {
			s.logger.Debugf("debug api: p2p addresses: %v", err)
			jsonhttp.InternalServerError(w, err)
			return
		}
		underlay = u
	}
	jsonhttp.OK(w, addressesResponse{
		Overlay:   s.overlay,
		Underlay:  underlay,
		PublicKey: s.publicKey,
	})
}
