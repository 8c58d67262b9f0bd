// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pb holds the messages of the keepalive protocol.
package pb

import (
	proto "github.com/gogo/protobuf/proto"
)

type Ping struct {
	Nonce               uint64 `protobuf:"varint,1,opt,name=Nonce,proto3" json:"Nonce,omitempty"`
	LastRoundTripMillis uint64 `protobuf:"varint,2,opt,name=LastRoundTripMillis,proto3" json:"LastRoundTripMillis,omitempty"`
}

func (m *Ping) Reset()         { *m = Ping{} }
func (m *Ping) String() string { return proto.CompactTextString(m) }
func (*Ping) ProtoMessage()    {}

type Pong struct {
	RequestNonce uint64 `protobuf:"varint,1,opt,name=RequestNonce,proto3" json:"RequestNonce,omitempty"`
}

func (m *Pong) Reset()         { *m = Pong{} }
func (m *Pong) String() string { return proto.CompactTextString(m) }
func (*Pong) ProtoMessage()    {}

func init() {
	proto.RegisterType((*Ping)(nil), "keepalive.Ping")
	proto.RegisterType((*Pong)(nil), "keepalive.Pong")
}
