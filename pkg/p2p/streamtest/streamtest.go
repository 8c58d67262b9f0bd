// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package streamtest provides an in-memory p2p.Streamer which runs the
// handler of the requested protocol on the other end of every stream and
// records all bytes exchanged.
package streamtest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/p2p"
)

var (
	ErrRecordsNotFound    = errors.New("records not found")
	ErrStreamNotSupported = errors.New("stream not supported")
	ErrStreamClosed       = errors.New("stream closed")
)

type Recorder struct {
	base               overlay.Address
	capabilities       capability.Set
	records            map[string][]*Record
	recordsMu          sync.Mutex
	protocols          []p2p.ProtocolSpec
	streamErr          func(overlay.Address, string, string, string) error
	protocolsWithPeers map[overlay.Address]p2p.ProtocolSpec
}

// WithProtocols sets the protocols whose handlers serve every stream.
func WithProtocols(protocols ...p2p.ProtocolSpec) Option {
	return optionFunc(func(r *Recorder) {
		r.protocols = append(r.protocols, protocols...)
	})
}

// WithPeerProtocols sets per peer protocols, used to simulate a network of
// distinct nodes behind one recorder.
func WithPeerProtocols(protocolsWithPeers map[overlay.Address]p2p.ProtocolSpec) Option {
	return optionFunc(func(r *Recorder) {
		r.protocolsWithPeers = protocolsWithPeers
	})
}

// WithBaseAddr sets the address the handlers see as the stream initiator.
func WithBaseAddr(a overlay.Address) Option {
	return optionFunc(func(r *Recorder) {
		r.base = a
	})
}

// WithCapabilities sets the capabilities the handlers see on the initiator.
func WithCapabilities(c capability.Set) Option {
	return optionFunc(func(r *Recorder) {
		r.capabilities = c
	})
}

func WithStreamError(streamErr func(overlay.Address, string, string, string) error) Option {
	return optionFunc(func(r *Recorder) {
		r.streamErr = streamErr
	})
}

func New(opts ...Option) *Recorder {
	r := &Recorder{
		records:      make(map[string][]*Record),
		capabilities: capability.Default(),
	}

	for _, o := range opts {
		o.apply(r)
	}
	return r
}

func (r *Recorder) NewStream(ctx context.Context, addr overlay.Address, h p2p.Headers, protocolName, protocolVersion, streamName string) (p2p.Stream, error) {
	if r.streamErr != nil {
		err := r.streamErr(addr, protocolName, protocolVersion, streamName)
		if err != nil {
			return nil, err
		}
	}

	recordIn := newRecord()
	recordOut := newRecord()
	streamOut := newStream(recordIn, recordOut)
	streamIn := newStream(recordOut, recordIn)

	var handler p2p.HandlerFunc
	var headler p2p.HeadlerFunc
	peerHandlers, ok := r.protocolsWithPeers[addr]
	if !ok {
		for _, p := range r.protocols {
			if p.Name == protocolName && p.Version == protocolVersion {
				peerHandlers = p
			}
		}
	}
	for _, s := range peerHandlers.StreamSpecs {
		if s.Name == streamName {
			handler = s.Handler
			headler = s.Headler
		}
	}
	if handler == nil {
		return nil, ErrStreamNotSupported
	}
	streamIn.headers = h
	if headler != nil {
		streamOut.responseHeaders = headler(h, r.base)
	}
	record := &Record{in: recordIn, out: recordOut, done: make(chan struct{})}
	go func() {
		defer close(record.done)

		// the handler outlives the initiator context, as it does on a real
		// connection
		err := handler(context.Background(), p2p.Peer{Address: r.base, Capabilities: r.capabilities}, streamIn)
		if err != nil && !errors.Is(err, io.EOF) {
			record.setErr(err)
		}
	}()

	id := addr.String() + p2p.NewStreamName(protocolName, protocolVersion, streamName)

	r.recordsMu.Lock()
	defer r.recordsMu.Unlock()

	r.records[id] = append(r.records[id], record)
	return streamOut, nil
}

// Records returns the records of all streams opened to addr on the given
// protocol stream, after their handlers have returned.
func (r *Recorder) Records(addr overlay.Address, protocolName, protocolVersion, streamName string) ([]*Record, error) {
	id := addr.String() + p2p.NewStreamName(protocolName, protocolVersion, streamName)

	r.recordsMu.Lock()
	records, ok := r.records[id]
	records = append([]*Record(nil), records...)
	r.recordsMu.Unlock()

	if !ok {
		return nil, ErrRecordsNotFound
	}
	for _, r := range records {
		<-r.done
	}
	return records, nil
}

type Record struct {
	in    *record
	out   *record
	err   error
	errMu sync.Mutex
	done  chan struct{}
}

// In returns the bytes written by the stream initiator.
func (r *Record) In() []byte {
	return r.in.bytes()
}

// Out returns the bytes written by the handler.
func (r *Record) Out() []byte {
	return r.out.bytes()
}

func (r *Record) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	return r.err
}

func (r *Record) setErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	r.err = err
}

type stream struct {
	in              *record
	out             *record
	headers         p2p.Headers
	responseHeaders p2p.Headers
	closed          bool
	lock            sync.Mutex
}

func newStream(in, out *record) *stream {
	return &stream{in: in, out: out}
}

func (s *stream) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

func (s *stream) Write(p []byte) (int, error) {
	if s.Closed() {
		return 0, ErrStreamClosed
	}

	return s.in.Write(p)
}

func (s *stream) Headers() p2p.Headers {
	return s.headers
}

func (s *stream) ResponseHeaders() p2p.Headers {
	return s.responseHeaders
}

func (s *stream) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return ErrStreamClosed
	}

	s.closed = true
	s.in.close()

	return nil
}

func (s *stream) Closed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.closed
}

func (s *stream) FullClose() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return ErrStreamClosed
	}

	s.closed = true
	s.in.close()
	s.out.close()

	return nil
}

func (s *stream) Reset() error {
	if err := s.FullClose(); err != nil && !errors.Is(err, ErrStreamClosed) {
		return err
	}
	return nil
}

// record is a growing buffer shared by the two ends of a stream. Reads block
// until data is written or the writer closes it.
type record struct {
	b      []byte
	c      int
	lock   sync.Mutex
	cond   *sync.Cond
	closed bool
}

func newRecord() *record {
	r := &record{}
	r.cond = sync.NewCond(&r.lock)
	return r
}

func (r *record) Read(p []byte) (n int, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for r.c == len(r.b) {
		if r.closed {
			return 0, io.EOF
		}
		r.cond.Wait()
	}

	n = copy(p, r.b[r.c:])
	r.c += n

	return n, nil
}

func (r *record) Write(p []byte) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return 0, ErrStreamClosed
	}

	r.b = append(r.b, p...)
	r.cond.Broadcast()

	return len(p), nil
}

func (r *record) close() {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return
	}

	r.closed = true
	r.cond.Broadcast()
}

func (r *record) bytes() []byte {
	r.lock.Lock()
	defer r.lock.Unlock()

	b := make([]byte, len(r.b))
	copy(b, r.b)
	return b
}

type Option interface {
	apply(*Recorder)
}
type optionFunc func(*Recorder)

func (f optionFunc) apply(r *Recorder) { f(r) }
