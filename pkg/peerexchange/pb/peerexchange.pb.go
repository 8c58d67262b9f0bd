// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pb holds the messages of the peer exchange protocol.
package pb

import (
	proto "github.com/gogo/protobuf/proto"
)

type Address struct {
	Overlay   []byte `protobuf:"bytes,1,opt,name=Overlay,proto3" json:"Overlay,omitempty"`
	Underlay  []byte `protobuf:"bytes,2,opt,name=Underlay,proto3" json:"Underlay,omitempty"`
	Signature []byte `protobuf:"bytes,3,opt,name=Signature,proto3" json:"Signature,omitempty"`
}

func (m *Address) Reset()         { *m = Address{} }
func (m *Address) String() string { return proto.CompactTextString(m) }
func (*Address) ProtoMessage()    {}

type GetPeersRequest struct {
	Nonce                uint64     `protobuf:"varint,1,opt,name=Nonce,proto3" json:"Nonce,omitempty"`
	Sender               *Address   `protobuf:"bytes,2,opt,name=Sender,proto3" json:"Sender,omitempty"`
	ReportedPeers        []*Address `protobuf:"bytes,3,rep,name=ReportedPeers,proto3" json:"ReportedPeers,omitempty"`
	RequiredCapabilities []uint32   `protobuf:"varint,4,rep,packed,name=RequiredCapabilities,proto3" json:"RequiredCapabilities,omitempty"`
}

func (m *GetPeersRequest) Reset()         { *m = GetPeersRequest{} }
func (m *GetPeersRequest) String() string { return proto.CompactTextString(m) }
func (*GetPeersRequest) ProtoMessage()    {}

type GetPeersResponse struct {
	RequestNonce  uint64     `protobuf:"varint,1,opt,name=RequestNonce,proto3" json:"RequestNonce,omitempty"`
	ReportedPeers []*Address `protobuf:"bytes,2,rep,name=ReportedPeers,proto3" json:"ReportedPeers,omitempty"`
}

func (m *GetPeersResponse) Reset()         { *m = GetPeersResponse{} }
func (m *GetPeersResponse) String() string { return proto.CompactTextString(m) }
func (*GetPeersResponse) ProtoMessage()    {}

func init() {
	proto.RegisterType((*Address)(nil), "peerexchange.Address")
	proto.RegisterType((*GetPeersRequest)(nil), "peerexchange.GetPeersRequest")
	proto.RegisterType((*GetPeersResponse)(nil), "peerexchange.GetPeersResponse")
}
