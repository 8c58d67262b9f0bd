// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package broadcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogo/protobuf/proto"
	"github.com/tradenet/gossipd/pkg/broadcast/pb"
	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/p2p"
	"github.com/tradenet/gossipd/pkg/p2p/protobuf"
	"github.com/tradenet/gossipd/pkg/store"
)

func (s *Service) addHandler(ctx context.Context, peer p2p.Peer, stream p2p.Stream) error {
	var m pb.AddRecord
	return s.handle(ctx, peer, stream, &m, func() (Operation, []uint32, error) {
		op, err := decodeAdd(&m)
		return op, m.RequiredCapabilities, err
	})
}

func (s *Service) removeHandler(ctx context.Context, peer p2p.Peer, stream p2p.Stream) error {
	var m pb.RemoveRecord
	return s.handle(ctx, peer, stream, &m, func() (Operation, []uint32, error) {
		op, err := decodeRemove(&m)
		return op, m.RequiredCapabilities, err
	})
}

func (s *Service) removeMailboxHandler(ctx context.Context, peer p2p.Peer, stream p2p.Stream) error {
	var m pb.RemoveMailboxRecord
	return s.handle(ctx, peer, stream, &m, func() (Operation, []uint32, error) {
		op, err := decodeRemoveMailbox(&m)
		return op, m.RequiredCapabilities, err
	})
}

func (s *Service) refreshHandler(ctx context.Context, peer p2p.Peer, stream p2p.Stream) error {
	var m pb.RefreshRecord
	return s.handle(ctx, peer, stream, &m, func() (Operation, []uint32, error) {
		op, err := decodeRefresh(&m)
		return op, m.RequiredCapabilities, err
	})
}

// handle reads one operation, acknowledges it and applies it to the store.
// Operations requiring capabilities this node lacks are dropped, rejected
// operations are logged. Neither is an error of the stream. A peer sending
// too many invalid operations is disconnected.
func (s *Service) handle(ctx context.Context, peer p2p.Peer, stream p2p.Stream, m proto.Message, decode func() (Operation, []uint32, error)) (err error) {
	defer func() {
		if err != nil {
			_ = stream.Reset()
		} else {
			go stream.FullClose()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()

	w, r := protobuf.NewWriterAndReader(stream)
	if err := r.ReadMsgWithContext(ctx, m); err != nil {
		return fmt.Errorf("read message: %w", err)
	}
	s.metrics.Received.Inc()

	if c, err := s.tracer.WithContextFromHeaders(ctx, stream.Headers()); err == nil {
		ctx = c
	}
	span, logger, ctx := s.tracer.StartSpanFromContext(ctx, "broadcast-handle", s.logger)
	defer span.Finish()

	op, required, err := decode()
	if err == nil && !s.capabilities.Supports(capability.FromUint32s(required)) {
		s.metrics.Dropped.Inc()
		logger.Tracef("broadcast: dropping %s from %s: missing capabilities", op, peer.Address)
		return w.WriteMsgWithContext(ctx, &pb.Ack{})
	}

	var res store.Result
	if err == nil {
		res, err = op.apply(s.store)
	}

	if err := w.WriteMsgWithContext(ctx, &pb.Ack{}); err != nil {
		return fmt.Errorf("write ack: %w", err)
	}

	if err != nil {
		s.metrics.Rejected.Inc()
		logger.Debugf("broadcast: rejected operation from %s: %v", peer.Address, err)
		if isAbuse(err) {
			if err := s.rejections.Allow(peer.Address, 1); err != nil {
				return p2p.Disconnect(fmt.Errorf("too many invalid operations: %w", err))
			}
		}
		return nil
	}

	if !res.Changed() {
		return nil
	}
	logger.Tracef("broadcast: %s from %s: %s", op, peer.Address, res)

	s.metrics.Relayed.Inc()
	if _, err := s.Broadcast(op, peer.Address, false); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}
