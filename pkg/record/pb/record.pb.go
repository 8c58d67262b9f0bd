// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pb holds the wire representation of records.
package pb

import (
	proto "github.com/gogo/protobuf/proto"
)

type Record struct {
	Kind         uint32   `protobuf:"varint,1,opt,name=Kind,proto3" json:"Kind,omitempty"`
	Key          []byte   `protobuf:"bytes,2,opt,name=Key,proto3" json:"Key,omitempty"`
	Payload      []byte   `protobuf:"bytes,3,opt,name=Payload,proto3" json:"Payload,omitempty"`
	Owner        []byte   `protobuf:"bytes,4,opt,name=Owner,proto3" json:"Owner,omitempty"`
	Recipient    []byte   `protobuf:"bytes,5,opt,name=Recipient,proto3" json:"Recipient,omitempty"`
	Sequence     uint32   `protobuf:"varint,6,opt,name=Sequence,proto3" json:"Sequence,omitempty"`
	TTLMillis    uint64   `protobuf:"varint,7,opt,name=TTLMillis,proto3" json:"TTLMillis,omitempty"`
	Capabilities []uint32 `protobuf:"varint,8,rep,packed,name=Capabilities,proto3" json:"Capabilities,omitempty"`
	Signature    []byte   `protobuf:"bytes,9,opt,name=Signature,proto3" json:"Signature,omitempty"`
}

func (m *Record) Reset()         { *m = Record{} }
func (m *Record) String() string { return proto.CompactTextString(m) }
func (*Record) ProtoMessage()    {}

type Refresh struct {
	ID        []byte `protobuf:"bytes,1,opt,name=ID,proto3" json:"ID,omitempty"`
	Sequence  uint32 `protobuf:"varint,2,opt,name=Sequence,proto3" json:"Sequence,omitempty"`
	Signature []byte `protobuf:"bytes,3,opt,name=Signature,proto3" json:"Signature,omitempty"`
}

func (m *Refresh) Reset()         { *m = Refresh{} }
func (m *Refresh) String() string { return proto.CompactTextString(m) }
func (*Refresh) ProtoMessage()    {}

func init() {
	proto.RegisterType((*Record)(nil), "record.Record")
	proto.RegisterType((*Refresh)(nil), "record.Refresh")
}
