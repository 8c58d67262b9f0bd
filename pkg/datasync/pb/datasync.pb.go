// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pb holds the messages of the data sync protocol.
package pb

import (
	proto "github.com/gogo/protobuf/proto"
	record "github.com/tradenet/gossipd/pkg/record/pb"
)

type GetDataRequest struct {
	Nonce        uint64   `protobuf:"varint,1,opt,name=Nonce,proto3" json:"Nonce,omitempty"`
	KnownIDs     [][]byte `protobuf:"bytes,2,rep,name=KnownIDs,proto3" json:"KnownIDs,omitempty"`
	Capabilities []uint32 `protobuf:"varint,3,rep,packed,name=Capabilities,proto3" json:"Capabilities,omitempty"`
}

func (m *GetDataRequest) Reset()         { *m = GetDataRequest{} }
func (m *GetDataRequest) String() string { return proto.CompactTextString(m) }
func (*GetDataRequest) ProtoMessage()    {}

type GetDataResponse struct {
	RequestNonce uint64           `protobuf:"varint,1,opt,name=RequestNonce,proto3" json:"RequestNonce,omitempty"`
	Records      []*record.Record `protobuf:"bytes,2,rep,name=Records,proto3" json:"Records,omitempty"`
	Last         bool             `protobuf:"varint,3,opt,name=Last,proto3" json:"Last,omitempty"`
	Truncated    bool             `protobuf:"varint,4,opt,name=Truncated,proto3" json:"Truncated,omitempty"`
}

func (m *GetDataResponse) Reset()         { *m = GetDataResponse{} }
func (m *GetDataResponse) String() string { return proto.CompactTextString(m) }
func (*GetDataResponse) ProtoMessage()    {}

func init() {
	proto.RegisterType((*GetDataRequest)(nil), "datasync.GetDataRequest")
	proto.RegisterType((*GetDataResponse)(nil), "datasync.GetDataResponse")
}
