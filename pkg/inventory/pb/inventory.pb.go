// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pb holds the messages of the inventory protocol.
package pb

import (
	proto "github.com/gogo/protobuf/proto"
)

type GetInventoryRequest struct {
	Nonce uint64 `protobuf:"varint,1,opt,name=Nonce,proto3" json:"Nonce,omitempty"`
}

func (m *GetInventoryRequest) Reset()         { *m = GetInventoryRequest{} }
func (m *GetInventoryRequest) String() string { return proto.CompactTextString(m) }
func (*GetInventoryRequest) ProtoMessage()    {}

type GetInventoryResponse struct {
	RequestNonce uint64       `protobuf:"varint,1,opt,name=RequestNonce,proto3" json:"RequestNonce,omitempty"`
	Counts       []*KindCount `protobuf:"bytes,2,rep,name=Counts,proto3" json:"Counts,omitempty"`
	Version      string       `protobuf:"bytes,3,opt,name=Version,proto3" json:"Version,omitempty"`
	Peers        uint64       `protobuf:"varint,4,opt,name=Peers,proto3" json:"Peers,omitempty"`
}

func (m *GetInventoryResponse) Reset()         { *m = GetInventoryResponse{} }
func (m *GetInventoryResponse) String() string { return proto.CompactTextString(m) }
func (*GetInventoryResponse) ProtoMessage()    {}

type KindCount struct {
	Kind  string `protobuf:"bytes,1,opt,name=Kind,proto3" json:"Kind,omitempty"`
	Count uint64 `protobuf:"varint,2,opt,name=Count,proto3" json:"Count,omitempty"`
}

func (m *KindCount) Reset()         { *m = KindCount{} }
func (m *KindCount) String() string { return proto.CompactTextString(m) }
func (*KindCount) ProtoMessage()    {}

func init() {
	proto.RegisterType((*GetInventoryRequest)(nil), "inventory.GetInventoryRequest")
	proto.RegisterType((*GetInventoryResponse)(nil), "inventory.GetInventoryResponse")
	proto.RegisterType((*KindCount)(nil), "inventory.KindCount")
}
