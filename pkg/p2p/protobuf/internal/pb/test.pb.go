// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pb holds a message used to test the delimited protobuf codec.
package pb

import (
	proto "github.com/gogo/protobuf/proto"
)

type Message struct {
	Text string `protobuf:"bytes,1,opt,name=Text,proto3" json:"Text,omitempty"`
}

func (m *Message) Reset()         { *m = Message{} }
func (m *Message) String() string { return proto.CompactTextString(m) }
func (*Message) ProtoMessage()    {}

func init() {
	proto.RegisterType((*Message)(nil), "pb.Message")
}
