// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import "time"

type (
	AddressesResponse     = addressesResponse
	PeerConnectResponse   = peerConnectResponse
	PeersResponse         = peersResponse
	ReportedPeersResponse = reportedPeersResponse
	HealthResponse        = healthResponse
	ReadinessResponse     = readinessResponse
	RecordResponse        = recordResponse
	RecordsResponse       = recordsResponse
)

var NewRecordResponse = newRecordResponse

func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}
