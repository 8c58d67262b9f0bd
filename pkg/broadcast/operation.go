// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package broadcast

import (
	"fmt"

	"github.com/gogo/protobuf/proto"
	"github.com/tradenet/gossipd/pkg/broadcast/pb"
	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/record"
	"github.com/tradenet/gossipd/pkg/store"
)

// Store is the local store the operations are applied to.
type Store interface {
	Add(r record.Record) (store.Result, error)
	Remove(r record.Record) (store.Result, error)
	Refresh(rf *record.Refresh) (store.Result, error)
}

// Operation is a broadcast store mutation: one of *Add, *Remove,
// *RemoveMailbox and *Refresh.
type Operation interface {
	// ID is the identity of the affected record.
	ID() record.ID
	// RequiredCapabilities are the capabilities a peer needs to apply the
	// operation.
	RequiredCapabilities() capability.Set
	String() string

	streamName() string
	message() proto.Message
	apply(s Store) (store.Result, error)
}

// Add adds a record of any variant.
type Add struct {
	Record record.Record
}

// Remove removes a plain record. The removal is signed by the owner.
type Remove struct {
	Record *record.Plain
}

// RemoveMailbox removes a mailbox record. The removal is signed by the
// recipient.
type RemoveMailbox struct {
	Record *record.Mailbox
}

// Refresh extends the lifetime of a plain record.
type Refresh struct {
	Refresh *record.Refresh
}

// NewRemove returns the removal operation for the variant of r.
func NewRemove(r record.Record) Operation {
	switch v := r.(type) {
	case *record.Plain:
		return &Remove{Record: v}
	case *record.Mailbox:
		return &RemoveMailbox{Record: v}
	default:
		panic(fmt.Sprintf("broadcast: unknown record variant %T", r))
	}
}

func recordCapabilities(r record.Record) capability.Set {
	return record.RequiredCapabilities(r)
}

func (o *Add) ID() record.ID                        { return o.Record.ID() }
func (o *Add) RequiredCapabilities() capability.Set { return recordCapabilities(o.Record) }
func (o *Add) String() string                       { return "add " + o.Record.String() }
func (o *Add) streamName() string                   { return streamAdd }
func (o *Add) apply(s Store) (store.Result, error)  { return s.Add(o.Record) }

func (o *Add) message() proto.Message {
	return &pb.AddRecord{
		Record:               record.ToProto(o.Record),
		RequiredCapabilities: o.RequiredCapabilities().Uint32s(),
	}
}

func (o *Remove) ID() record.ID                        { return o.Record.ID() }
func (o *Remove) RequiredCapabilities() capability.Set { return recordCapabilities(o.Record) }
func (o *Remove) String() string                       { return "remove " + o.Record.String() }
func (o *Remove) streamName() string                   { return streamRemove }
func (o *Remove) apply(s Store) (store.Result, error)  { return s.Remove(o.Record) }

func (o *Remove) message() proto.Message {
	return &pb.RemoveRecord{
		Record:               record.ToProto(o.Record),
		RequiredCapabilities: o.RequiredCapabilities().Uint32s(),
	}
}

func (o *RemoveMailbox) ID() record.ID                        { return o.Record.ID() }
func (o *RemoveMailbox) RequiredCapabilities() capability.Set { return recordCapabilities(o.Record) }
func (o *RemoveMailbox) String() string                       { return "remove mailbox " + o.Record.String() }
func (o *RemoveMailbox) streamName() string                   { return streamRemoveMailbox }
func (o *RemoveMailbox) apply(s Store) (store.Result, error)  { return s.Remove(o.Record) }

func (o *RemoveMailbox) message() proto.Message {
	return &pb.RemoveMailboxRecord{
		Record:               record.ToProto(o.Record),
		RequiredCapabilities: o.RequiredCapabilities().Uint32s(),
	}
}

func (o *Refresh) ID() record.ID { return o.Refresh.ID }

func (o *Refresh) RequiredCapabilities() capability.Set {
	return capability.NewSet(capability.Refresh)
}

func (o *Refresh) String() string                      { return o.Refresh.String() }
func (o *Refresh) streamName() string                  { return streamRefresh }
func (o *Refresh) apply(s Store) (store.Result, error) { return s.Refresh(o.Refresh) }

func (o *Refresh) message() proto.Message {
	return &pb.RefreshRecord{
		Refresh:              record.RefreshToProto(o.Refresh),
		RequiredCapabilities: o.RequiredCapabilities().Uint32s(),
	}
}

// decodeAdd and the other decoders turn received messages into operations.
// The record variant must match the stream it came on.

func decodeAdd(m *pb.AddRecord) (Operation, error) {
	r, err := record.FromProto(m.Record)
	if err != nil {
		return nil, err
	}
	return &Add{Record: r}, nil
}

func decodeRemove(m *pb.RemoveRecord) (Operation, error) {
	r, err := record.FromProto(m.Record)
	if err != nil {
		return nil, err
	}
	p, ok := r.(*record.Plain)
	if !ok {
		return nil, fmt.Errorf("remove of %T: %w", r, record.ErrMalformed)
	}
	return &Remove{Record: p}, nil
}

func decodeRemoveMailbox(m *pb.RemoveMailboxRecord) (Operation, error) {
	r, err := record.FromProto(m.Record)
	if err != nil {
		return nil, err
	}
	mb, ok := r.(*record.Mailbox)
	if !ok {
		return nil, fmt.Errorf("mailbox remove of %T: %w", r, record.ErrMalformed)
	}
	return &RemoveMailbox{Record: mb}, nil
}

func decodeRefresh(m *pb.RefreshRecord) (Operation, error) {
	rf, err := record.RefreshFromProto(m.Refresh)
	if err != nil {
		return nil, err
	}
	return &Refresh{Refresh: rf}, nil
}
