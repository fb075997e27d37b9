// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transfer moves branch contents between replicas as a stream of
// bounded chunks closed by a trailer carrying the content hash. Receiving
// appends to a resumable prefix so that an interrupted transfer continues
// where it stopped.
package transfer

import (
	"errors"
	"fmt"

	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/p2p/protobuf"
	"github.com/spf13/afero"
)

// DefaultChunkSize is the size of data frames.
const DefaultChunkSize = 64 * 1024

// maxChunkSize keeps frames below the maximum delimited message size.
const maxChunkSize = protobuf.MaxMessageSize - 8*1024

var (
	// ErrUpdateInProgress is returned when content cannot be served until
	// a local update settles.
	ErrUpdateInProgress = errors.New("transfer: update in progress")
	// ErrContentChanged is returned when the served file was modified
	// during the transfer.
	ErrContentChanged = errors.New("transfer: content changed")
	// ErrHashMismatch is returned when received content does not match
	// the expected hash. The staged bytes are discarded.
	ErrHashMismatch = errors.New("transfer: content hash mismatch")
	// ErrCorrupted is returned when the stream does not carry the
	// announced content.
	ErrCorrupted = errors.New("transfer: stream corrupted")
)

// AbortCode is the reason carried by an abort frame.
type AbortCode int32

const (
	AbortContentChanged AbortCode = iota + 1
	AbortCancelled
	AbortLocalCopy
)

func (c AbortCode) String() string {
	switch c {
	case AbortContentChanged:
		return "content changed"
	case AbortCancelled:
		return "cancelled"
	case AbortLocalCopy:
		return "local copy"
	}
	return fmt.Sprintf("abort(%d)", int32(c))
}

// AbortError is returned when the other side aborted the transfer. The
// receiver sees the aborts of the sender and the sender those of the
// receiver.
type AbortError struct {
	Code   AbortCode
	Reason string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("transfer: aborted by peer: %s: %s", e.Code, e.Reason)
}

// Is makes a content changed abort match ErrContentChanged.
func (e *AbortError) Is(target error) bool {
	return target == ErrContentChanged && e.Code == AbortContentChanged
}

// HashMismatchError describes an integrity failure.
type HashMismatchError struct {
	Identity object.Identity
	Expected object.Hash
	Got      object.Hash
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("transfer: %s: expected hash %s, got %s", e.Identity, e.Expected, e.Got)
}

func (e *HashMismatchError) Unwrap() error {
	return ErrHashMismatch
}

// Source provides read access to branch contents.
type Source interface {
	Open(id object.Identity, idx object.BranchIndex) (afero.File, error)
	Signature(id object.Identity, idx object.BranchIndex) (object.Signature, error)
}
