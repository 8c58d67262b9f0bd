// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/tradenet/gossipd/pkg/jsonhttp"
	"github.com/tradenet/gossipd/pkg/nodeaddr"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"

	ma "github.com/multiformats/go-multiaddr"
)

const defaultReportedLimit = 100

type peerConnectResponse struct {
	Address overlay.Address `json:"address"`
}

func (s *Service) peerConnectHandler(w http.ResponseWriter, r *http.Request) {
	addr, err := ma.NewMultiaddr("/" + mux.Vars(r)["multi-address"])
	if err != nil {
		s.logger.Debugf("debug api: peer connect: parse multiaddress: %v", err)
		jsonhttp.BadRequest(w, err)
		return
	}

	address, err := s.p2p.Connect(r.Context(), addr)
	if err != nil {
		if errors.Is(err, p2p.ErrAlreadyConnected) && address != nil {
			jsonhttp.OK(w, peerConnectResponse{Address: address.Overlay})
			return
		}
		s.logger.Debugf("debug api: peer connect %s: %v", addr, err)
		s.logger.Errorf("unable to connect to peer %s", addr)
		jsonhttp.InternalServerError(w, err)
		return
	}

	jsonhttp.OK(w, peerConnectResponse{
		Address: address.Overlay,
	})
}

func (s *Service) peerDisconnectHandler(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	o, err := overlay.ParseHexAddress(addr)
	if err != nil {
		s.logger.Debugf("debug api: parse peer address %s: %v", addr, err)
		jsonhttp.BadRequest(w, "invalid peer address")
		return
	}

	if err := s.p2p.Disconnect(o, "debug api request"); err != nil {
		s.logger.Debugf("debug api: peer disconnect %s: %v", addr, err)
		if errors.Is(err, p2p.ErrPeerNotFound) {
			jsonhttp.NotFound(w, "peer not found")
			return
		}
		s.logger.Errorf("unable to disconnect peer %s", addr)
		jsonhttp.InternalServerError(w, err)
		return
	}

	jsonhttp.OK(w, nil)
}

type peersResponse struct {
	Connected []p2p.Peer `json:"connected"`
	Live      []p2p.Peer `json:"live"`
}

func (s *Service) peersHandler(w http.ResponseWriter, r *http.Request) {
	resp := peersResponse{
		Connected: s.p2p.Peers(),
		Live:      s.peers.Live(),
	}
	if resp.Connected == nil {
		resp.Connected = make([]p2p.Peer, 0)
	}
	if resp.Live == nil {
		resp.Live = make([]p2p.Peer, 0)
	}
	jsonhttp.OK(w, resp)
}

type reportedPeersResponse struct {
	Peers []*nodeaddr.Address `json:"peers"`
}

func (s *Service) reportedPeersHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultReportedLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.logger.Debugf("debug api: reported peers: invalid limit %q", v)
			jsonhttp.BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	reported := s.peers.Reported(limit)
	resp := reportedPeersResponse{Peers: make([]*nodeaddr.Address, 0, len(reported))}
	for i := range reported {
		resp.Peers = append(resp.Peers, &reported[i])
	}
	jsonhttp.OK(w, resp)
}
