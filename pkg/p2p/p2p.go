// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package p2p defines the transport abstraction the reconciliation
// protocols are written against. The transport itself (connection
// management, stream multiplexing, peer authentication) is provided
// by the embedding daemon.
package p2p

import (
	"context"
	"errors"
	"io"

	"github.com/ethersphere/replica/pkg/object"
)

var ErrPeerNotFound = errors.New("peer not found")

// Streamer opens outgoing streams to peers.
type Streamer interface {
	NewStream(ctx context.Context, peer object.DeviceID, protocol, version, stream string) (Stream, error)
}

// Stream is a bidirectional chunked stream.
type Stream interface {
	io.ReadWriter
	io.Closer
	// FullClose closes the stream for both reading and writing.
	FullClose() error
	// Reset aborts the stream in both directions so that the remote
	// side stops sending.
	Reset() error
}

type ProtocolSpec struct {
	Name        string
	Version     string
	StreamSpecs []StreamSpec
}

type StreamSpec struct {
	Name    string
	Handler HandlerFunc
}

type Peer struct {
	Device object.DeviceID
}

type HandlerFunc func(context.Context, Peer, Stream) error

type HandlerMiddleware func(HandlerFunc) HandlerFunc

func NewStreamName(protocol, version, stream string) string {
	return "/replica/" + protocol + "/" + version + "/" + stream
}
