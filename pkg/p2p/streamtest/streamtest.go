// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package streamtest provides an in-memory p2p.Streamer that connects
// outgoing streams directly to protocol handlers and records all the
// bytes exchanged, for use in protocol tests.
package streamtest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/p2p"
)

var (
	ErrRecordsNotFound    = errors.New("records not found")
	ErrStreamNotSupported = errors.New("stream not supported")
	ErrStreamClosed       = errors.New("stream closed")

	noopMiddleware = func(f p2p.HandlerFunc) p2p.HandlerFunc {
		return f
	}
)

type Recorder struct {
	base               object.DeviceID
	records            map[string][]*Record
	recordsMu          sync.Mutex
	protocols          []p2p.ProtocolSpec
	middlewares        []p2p.HandlerMiddleware
	streamErr          func(object.DeviceID, string, string, string) error
	protocolsWithPeers map[object.DeviceID]p2p.ProtocolSpec
	cutOffs            []int
	opened             int
}

func WithProtocols(protocols ...p2p.ProtocolSpec) Option {
	return optionFunc(func(r *Recorder) {
		r.protocols = append(r.protocols, protocols...)
	})
}

// WithPeerProtocols routes streams to different handlers depending on
// the peer the stream is opened to.
func WithPeerProtocols(protocolsWithPeers map[object.DeviceID]p2p.ProtocolSpec) Option {
	return optionFunc(func(r *Recorder) {
		r.protocolsWithPeers = protocolsWithPeers
	})
}

func WithMiddlewares(middlewares ...p2p.HandlerMiddleware) Option {
	return optionFunc(func(r *Recorder) {
		r.middlewares = append(r.middlewares, middlewares...)
	})
}

// WithBaseAddr sets the device that handlers see as the requesting peer.
func WithBaseAddr(d object.DeviceID) Option {
	return optionFunc(func(r *Recorder) {
		r.base = d
	})
}

// WithCutOffs drops the i-th opened stream once its handler wrote
// limits[i] bytes, as a connection that breaks in the middle of a
// transfer. The opener reads the bytes written up to the limit and then
// the end of the stream. A negative limit leaves the stream intact.
func WithCutOffs(limits ...int) Option {
	return optionFunc(func(r *Recorder) {
		r.cutOffs = append(r.cutOffs, limits...)
	})
}

// WithStreamError fails opening a stream when streamErr returns an
// error, as a peer that cannot be reached.
func WithStreamError(streamErr func(object.DeviceID, string, string, string) error) Option {
	return optionFunc(func(r *Recorder) {
		r.streamErr = streamErr
	})
}

func New(opts ...Option) *Recorder {
	r := &Recorder{
		records: make(map[string][]*Record),
	}

	r.middlewares = append(r.middlewares, noopMiddleware)

	for _, o := range opts {
		o.apply(r)
	}
	return r
}

func (r *Recorder) NewStream(ctx context.Context, peer object.DeviceID, protocolName, protocolVersion, streamName string) (p2p.Stream, error) {
	if r.streamErr != nil {
		err := r.streamErr(peer, protocolName, protocolVersion, streamName)
		if err != nil {
			return nil, err
		}
	}

	var handler p2p.HandlerFunc
	peerHandlers, ok := r.protocolsWithPeers[peer]
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
		}
	}
	if handler == nil {
		return nil, ErrStreamNotSupported
	}
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	id := peer.String() + p2p.NewStreamName(protocolName, protocolVersion, streamName)

	r.recordsMu.Lock()
	defer r.recordsMu.Unlock()

	limit := -1
	if r.opened < len(r.cutOffs) {
		limit = r.cutOffs[r.opened]
	}
	r.opened++

	recordIn := newRecord(-1)
	recordOut := newRecord(limit)
	streamOut := newStream(recordIn, recordOut)
	streamIn := newStream(recordOut, recordIn)

	record := &Record{in: recordIn, out: recordOut, done: make(chan struct{})}
	go func() {
		defer close(record.done)
		// the transport closes the handler side once the handler returns
		defer streamIn.Close()

		// pass a new context to handler,
		// do not cancel it with the client stream context
		err := handler(context.Background(), p2p.Peer{Device: r.base}, streamIn)
		if err != nil && !errors.Is(err, io.EOF) {
			record.setErr(err)
		}
	}()

	r.records[id] = append(r.records[id], record)
	return streamOut, nil
}

func (r *Recorder) Records(peer object.DeviceID, protocolName, protocolVersion, streamName string) ([]*Record, error) {
	id := peer.String() + p2p.NewStreamName(protocolName, protocolVersion, streamName)

	r.recordsMu.Lock()
	defer r.recordsMu.Unlock()

	records, ok := r.records[id]
	if !ok {
		return nil, ErrRecordsNotFound
	}
	// wait for all records goroutines to terminate
	for _, r := range records {
		<-r.done
	}
	return records, nil
}

// Count returns the number of streams opened to the peer without
// waiting for their handlers to finish.
func (r *Recorder) Count(peer object.DeviceID, protocolName, protocolVersion, streamName string) int {
	id := peer.String() + p2p.NewStreamName(protocolName, protocolVersion, streamName)

	r.recordsMu.Lock()
	defer r.recordsMu.Unlock()

	return len(r.records[id])
}

type Record struct {
	in    *record
	out   *record
	err   error
	errMu sync.Mutex
	done  chan struct{}
}

// In returns the bytes written by the stream opener.
func (r *Record) In() []byte {
	return r.in.bytes()
}

// Out returns the bytes written by the handler.
func (r *Record) Out() []byte {
	return r.out.bytes()
}

// Cut reports whether the stream was dropped by a cut-off.
func (r *Record) Cut() bool {
	r.out.lock.Lock()
	defer r.out.lock.Unlock()

	return r.out.cut
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
	in         *record
	out        *record
	closed     bool
	fullClosed bool
	lock       sync.Mutex
}

func newStream(in, out *record) *stream {
	return &stream{in: in, out: out}
}

func (s *stream) Read(p []byte) (int, error) {
	s.lock.Lock()
	closed := s.fullClosed
	s.lock.Unlock()
	if closed {
		return 0, ErrStreamClosed
	}

	return s.out.Read(p)
}

func (s *stream) Write(p []byte) (int, error) {
	s.lock.Lock()
	closed := s.closed
	s.lock.Unlock()
	if closed {
		return 0, ErrStreamClosed
	}

	return s.in.Write(p)
}

// Close closes the writing side of the stream. The other side reads
// io.EOF once it consumed all written data.
func (s *stream) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.in.close()

	return nil
}

func (s *stream) FullClose() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.fullClosed {
		return ErrStreamClosed
	}

	s.closed = true
	s.fullClosed = true
	s.in.close()
	s.out.close()

	return nil
}

func (s *stream) Reset() (err error) {
	return s.FullClose()
}

type record struct {
	b        []byte
	c        int
	limit    int
	cut      bool
	lock     sync.Mutex
	dataSigC chan struct{}
	closed   bool
}

func newRecord(limit int) *record {
	return &record{
		limit:    limit,
		dataSigC: make(chan struct{}, 16),
	}
}

func (r *record) Read(p []byte) (n int, err error) {
	for r.c == r.bytesSize() {
		_, ok := <-r.dataSigC
		if !ok && r.c == r.bytesSize() {
			return 0, io.EOF
		}
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	end := r.c + len(p)
	if end > len(r.b) {
		end = len(r.b)
	}
	n = copy(p, r.b[r.c:end])
	r.c += n

	return n, nil
}

func (r *record) Write(p []byte) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return 0, ErrStreamClosed
	}

	n := len(p)
	if r.limit >= 0 && len(r.b)+n > r.limit {
		n = r.limit - len(r.b)
	}
	r.b = append(r.b, p[:n]...)
	// a pending signal is enough to wake up the reader
	select {
	case r.dataSigC <- struct{}{}:
	default:
	}

	if n < len(p) {
		r.cut = true
		r.closeLocked()
		return n, ErrStreamClosed
	}
	return n, nil
}

func (r *record) close() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.closeLocked()
}

func (r *record) closeLocked() {
	if r.closed {
		return
	}

	r.closed = true
	close(r.dataSigC)
}

func (r *record) bytes() []byte {
	r.lock.Lock()
	defer r.lock.Unlock()

	b := make([]byte, len(r.b))
	copy(b, r.b)
	return b
}

func (r *record) bytesSize() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.b)
}

type Option interface {
	apply(*Recorder)
}
type optionFunc func(*Recorder)

func (f optionFunc) apply(r *Recorder) { f(r) }
