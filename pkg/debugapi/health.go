// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"
	"time"

	"github.com/tradenet/gossipd"
	"github.com/tradenet/gossipd/pkg/jsonhttp"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
)

type healthResponse struct {
	Status        string     `json:"status"`
	Version       string     `json:"version"`
	StoreError    string     `json:"storeError,omitempty"`
	StoreFailedAt *time.Time `json:"storeFailedAt,omitempty"`
	StoreFailures int        `json:"storeFailures,omitempty"`
}

// healthHandler reports the node as degraded while the record store fails
// to persist. The status code stays 200 as the node keeps serving from
// memory.
func (s *Service) healthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:  statusOK,
		Version: gossipd.Version,
	}

	s.healthMu.Lock()
	if s.storeFailure != nil {
		failedAt := s.storeFailedAt
		resp.Status = statusDegraded
		resp.StoreError = s.storeFailure.Error()
		resp.StoreFailedAt = &failedAt
		resp.StoreFailures = s.storeFailureCnt
	}
	s.healthMu.Unlock()

	jsonhttp.OK(w, resp)
}

type readinessResponse struct {
	Status string `json:"status"`
	Peers  int    `json:"peers"`
}

func (s *Service) readinessHandler(w http.ResponseWriter, _ *http.Request) {
	jsonhttp.OK(w, readinessResponse{
		Status: statusOK,
		Peers:  len(s.peers.Live()),
	})
}
