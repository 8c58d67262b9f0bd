// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tradenet/gossipd/pkg/jsonhttp"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
)

func (s *Service) inventoryHandler(w http.ResponseWriter, r *http.Request) {
	jsonhttp.OK(w, s.inventory.Local())
}

func (s *Service) peerInventoryHandler(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	o, err := overlay.ParseHexAddress(addr)
	if err != nil {
		s.logger.Debugf("debug api: parse peer address %s: %v", addr, err)
		jsonhttp.BadRequest(w, "invalid peer address")
		return
	}

	inv, err := s.inventory.Request(r.Context(), o)
	if err != nil {
		s.logger.Debugf("debug api: inventory of peer %s: %v", o, err)
		if errors.Is(err, p2p.ErrPeerNotFound) {
			jsonhttp.NotFound(w, "peer not found")
			return
		}
		jsonhttp.InternalServerError(w, "inventory request failed")
		return
	}
	jsonhttp.OK(w, inv)
}
