// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package protobuf frames gogo protobuf messages on p2p streams with a
// varint length prefix.
package protobuf

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ethersphere/replica/pkg/p2p"
	ggio "github.com/gogo/protobuf/io"
	"github.com/gogo/protobuf/proto"
)

// MaxMessageSize is the largest message a Reader accepts. Content frames
// must stay below it.
const MaxMessageSize = 128 * 1024

// ErrTimeout is returned when the deadline of the context passed to
// ReadMsgWithContext or WriteMsgWithContext expires.
var ErrTimeout = errors.New("timeout")

type Message = proto.Message

func NewWriterAndReader(s p2p.Stream) (Writer, Reader) {
	return NewWriter(s), NewReader(s)
}

func NewReader(r io.Reader) Reader {
	return newReader(ggio.NewDelimitedReader(r, MaxMessageSize))
}

func NewWriter(w io.Writer) Writer {
	return newWriter(ggio.NewDelimitedWriter(w))
}

// ReadMessages reads messages until the end of r.
func ReadMessages(r io.Reader, newMessage func() Message) (m []Message, err error) {
	pr := NewReader(r)
	for {
		msg := newMessage()
		if err := pr.ReadMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		m = append(m, msg)
	}
	return m, nil
}

type Reader struct {
	ggio.Reader
}

func newReader(r ggio.Reader) Reader {
	return Reader{Reader: r}
}

// ReadMsgWithContext reads a message or returns when ctx is done. The
// stream must be reset or closed afterwards, as the read may still be
// pending.
func (r Reader) ReadMsgWithContext(ctx context.Context, msg proto.Message) error {
	return withContext(ctx, func() error { return r.ReadMsg(msg) })
}

type Writer struct {
	ggio.Writer
}

func newWriter(r ggio.Writer) Writer {
	return Writer{Writer: r}
}

// WriteMsgWithContext writes a message or returns when ctx is done.
func (w Writer) WriteMsgWithContext(ctx context.Context, msg proto.Message) error {
	return withContext(ctx, func() error { return w.WriteMsg(msg) })
}

// withContext runs fn and returns early with the cancellation cause of
// ctx, so that a preempted or closed operation reports why it stopped.
func withContext(ctx context.Context, fn func() error) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- fn()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		cause := context.Cause(ctx)
		if errors.Is(cause, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, cause)
		}
		return cause
	}
}
