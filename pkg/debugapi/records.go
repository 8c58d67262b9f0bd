// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"encoding/hex"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/jsonhttp"
	"github.com/tradenet/gossipd/pkg/record"
	"github.com/tradenet/gossipd/pkg/store"
)

type recordResponse struct {
	ID           record.ID         `json:"id"`
	Kind         record.Kind       `json:"kind"`
	Key          string            `json:"key"`
	Owner        crypto.PublicKey  `json:"owner"`
	Recipient    *crypto.PublicKey `json:"recipient,omitempty"`
	Sequence     uint32            `json:"sequence"`
	Capabilities capability.Set    `json:"capabilities"`
	PayloadSize  int               `json:"payloadSize"`
	ReceivedAt   time.Time         `json:"receivedAt"`
	ExpiresAt    time.Time         `json:"expiresAt"`
}

func newRecordResponse(r record.Record) recordResponse {
	e := r.Base()
	resp := recordResponse{
		ID:           r.ID(),
		Kind:         e.Kind,
		Key:          hex.EncodeToString(e.Key),
		Owner:        e.Owner,
		Sequence:     e.Sequence,
		Capabilities: e.Capabilities,
		PayloadSize:  len(e.Payload),
		ReceivedAt:   e.ReceivedAt,
		ExpiresAt:    e.ExpiresAt(),
	}
	if m, ok := r.(*record.Mailbox); ok {
		recipient := m.Recipient
		resp.Recipient = &recipient
	}
	return resp
}

type recordsResponse struct {
	Records []recordResponse `json:"records"`
}

// recordsHandler lists the live records. The kind, owner and recipient
// query parameters narrow the list.
func (s *Service) recordsHandler(w http.ResponseWriter, r *http.Request) {
	var f store.Filter
	q := r.URL.Query()

	for _, v := range q["kind"] {
		k, err := record.ParseKind(v)
		if err != nil {
			s.logger.Debugf("debug api: records: %v", err)
			jsonhttp.BadRequest(w, "invalid kind")
			return
		}
		f.Kinds = append(f.Kinds, k)
	}
	if v := q.Get("owner"); v != "" {
		owner, err := crypto.ParseHexPublicKey(v)
		if err != nil {
			s.logger.Debugf("debug api: records: parse owner: %v", err)
			jsonhttp.BadRequest(w, "invalid owner")
			return
		}
		f.Owner = &owner
	}
	if v := q.Get("recipient"); v != "" {
		recipient, err := crypto.ParseHexPublicKey(v)
		if err != nil {
			s.logger.Debugf("debug api: records: parse recipient: %v", err)
			jsonhttp.BadRequest(w, "invalid recipient")
			return
		}
		f.Recipient = &recipient
	}

	records := s.store.GetAll(f).All()
	resp := recordsResponse{Records: make([]recordResponse, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, newRecordResponse(rec))
	}
	sort.Slice(resp.Records, func(i, j int) bool {
		a, b := resp.Records[i], resp.Records[j]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	jsonhttp.OK(w, resp)
}

func (s *Service) recordHandler(w http.ResponseWriter, r *http.Request) {
	id, err := record.ParseHexID(mux.Vars(r)["id"])
	if err != nil {
		s.logger.Debugf("debug api: record: %v", err)
		jsonhttp.BadRequest(w, "invalid record id")
		return
	}

	rec, ok := s.store.Get(id)
	if !ok {
		jsonhttp.NotFound(w, "record not found")
		return
	}
	jsonhttp.OK(w, newRecordResponse(rec))
}
