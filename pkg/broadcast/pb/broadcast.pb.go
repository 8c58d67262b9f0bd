// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pb holds the messages of the broadcast protocol.
package pb

import (
	proto "github.com/gogo/protobuf/proto"
	record "github.com/tradenet/gossipd/pkg/record/pb"
)

type AddRecord struct {
	Record               *record.Record `protobuf:"bytes,1,opt,name=Record,proto3" json:"Record,omitempty"`
	RequiredCapabilities []uint32       `protobuf:"varint,2,rep,packed,name=RequiredCapabilities,proto3" json:"RequiredCapabilities,omitempty"`
}

func (m *AddRecord) Reset()         { *m = AddRecord{} }
func (m *AddRecord) String() string { return proto.CompactTextString(m) }
func (*AddRecord) ProtoMessage()    {}

type RemoveRecord struct {
	Record               *record.Record `protobuf:"bytes,1,opt,name=Record,proto3" json:"Record,omitempty"`
	RequiredCapabilities []uint32       `protobuf:"varint,2,rep,packed,name=RequiredCapabilities,proto3" json:"RequiredCapabilities,omitempty"`
}

func (m *RemoveRecord) Reset()         { *m = RemoveRecord{} }
func (m *RemoveRecord) String() string { return proto.CompactTextString(m) }
func (*RemoveRecord) ProtoMessage()    {}

type RemoveMailboxRecord struct {
	Record               *record.Record `protobuf:"bytes,1,opt,name=Record,proto3" json:"Record,omitempty"`
	RequiredCapabilities []uint32       `protobuf:"varint,2,rep,packed,name=RequiredCapabilities,proto3" json:"RequiredCapabilities,omitempty"`
}

func (m *RemoveMailboxRecord) Reset()         { *m = RemoveMailboxRecord{} }
func (m *RemoveMailboxRecord) String() string { return proto.CompactTextString(m) }
func (*RemoveMailboxRecord) ProtoMessage()    {}

type RefreshRecord struct {
	Refresh              *record.Refresh `protobuf:"bytes,1,opt,name=Refresh,proto3" json:"Refresh,omitempty"`
	RequiredCapabilities []uint32        `protobuf:"varint,2,rep,packed,name=RequiredCapabilities,proto3" json:"RequiredCapabilities,omitempty"`
}

func (m *RefreshRecord) Reset()         { *m = RefreshRecord{} }
func (m *RefreshRecord) String() string { return proto.CompactTextString(m) }
func (*RefreshRecord) ProtoMessage()    {}

type Ack struct {
}

func (m *Ack) Reset()         { *m = Ack{} }
func (m *Ack) String() string { return proto.CompactTextString(m) }
func (*Ack) ProtoMessage()    {}

func init() {
	proto.RegisterType((*AddRecord)(nil), "broadcast.AddRecord")
	proto.RegisterType((*RemoveRecord)(nil), "broadcast.RemoveRecord")
	proto.RegisterType((*RemoveMailboxRecord)(nil), "broadcast.RemoveMailboxRecord")
	proto.RegisterType((*RefreshRecord)(nil), "broadcast.RefreshRecord")
	proto.RegisterType((*Ack)(nil), "broadcast.Ack")
}
