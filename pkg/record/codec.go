// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package record

import (
	"fmt"
	"time"

	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/crypto"
	"github.com/tradenet/gossipd/pkg/record/pb"

	"github.com/gogo/protobuf/proto"
)

// ToProto returns the wire representation of r.
func ToProto(r Record) *pb.Record {
	e := r.Base()
	m := &pb.Record{
		Kind:         uint32(e.Kind),
		Key:          e.Key,
		Payload:      e.Payload,
		Owner:        e.Owner.Bytes(),
		Sequence:     e.Sequence,
		TTLMillis:    uint64(e.TTL.Milliseconds()),
		Capabilities: e.Capabilities.Uint32s(),
		Signature:    e.Signature,
	}
	if mb, ok := r.(*Mailbox); ok {
		m.Recipient = mb.Recipient.Bytes()
	}
	return m
}

// FromProto decodes a wire record. A record with a recipient is a Mailbox.
// Decoding errors wrap ErrMalformed.
func FromProto(m *pb.Record) (Record, error) {
	if m == nil {
		return nil, reject(ErrMalformed, "empty record")
	}
	owner, err := crypto.ParsePublicKey(m.Owner)
	if err != nil {
		return nil, reject(ErrMalformed, "owner: %v", err)
	}
	if m.TTLMillis > uint64(MaxTTL.Milliseconds()) {
		return nil, reject(ErrMalformed, "ttl %dms", m.TTLMillis)
	}
	e := Entry{
		Kind:         Kind(m.Kind),
		Key:          m.Key,
		Payload:      m.Payload,
		Owner:        owner,
		Sequence:     m.Sequence,
		TTL:          time.Duration(m.TTLMillis) * time.Millisecond,
		Capabilities: capability.FromUint32s(m.Capabilities),
		Signature:    m.Signature,
	}
	if len(m.Recipient) == 0 {
		return &Plain{Entry: e}, nil
	}
	recipient, err := crypto.ParsePublicKey(m.Recipient)
	if err != nil {
		return nil, reject(ErrMalformed, "recipient: %v", err)
	}
	return &Mailbox{Entry: e, Recipient: recipient}, nil
}

// Marshal encodes r in its wire format.
func Marshal(r Record) ([]byte, error) {
	return proto.Marshal(ToProto(r))
}

// Unmarshal decodes a record in its wire format.
func Unmarshal(b []byte) (Record, error) {
	m := new(pb.Record)
	if err := proto.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromProto(m)
}

// RefreshToProto returns the wire representation of rf.
func RefreshToProto(rf *Refresh) *pb.Refresh {
	return &pb.Refresh{
		ID:        rf.ID.Bytes(),
		Sequence:  rf.Sequence,
		Signature: rf.Signature,
	}
}

// RefreshFromProto decodes a wire refresh.
func RefreshFromProto(m *pb.Refresh) (*Refresh, error) {
	if m == nil {
		return nil, reject(ErrMalformed, "empty refresh")
	}
	id, err := NewID(m.ID)
	if err != nil {
		return nil, reject(ErrMalformed, "refresh id: %v", err)
	}
	return &Refresh{ID: id, Sequence: m.Sequence, Signature: m.Signature}, nil
}
