// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fetch downloads objects from peers. One task per identity
// multiplexes all concurrent requests for it, retries across candidate
// peers according to the failure kind, and resolves prerequisites as
// nested fetches while tracking them in a dependency graph that never
// admits a cycle.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/causality"
	"github.com/ethersphere/replica/pkg/depgraph"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/p2p/protobuf"
	"github.com/ethersphere/replica/pkg/token"
	"github.com/ethersphere/replica/pkg/transfer"
	"github.com/hashicorp/go-multierror"
)

const (
	protocolName    = "fetch"
	protocolVersion = "1.0.0"
	streamName      = "fetch"
)

// ProtocolID names the fetch protocol with the version peers must share.
const ProtocolID = protocolName + "/" + protocolVersion

var (
	// ErrExhausted is returned when every candidate peer failed.
	ErrExhausted = errors.New("fetch: all candidates failed")
	// ErrExpelled is returned when the object was expelled locally.
	ErrExpelled = errors.New("fetch: object expelled")
	// ErrStoreRemoved is returned when the store of the object was removed.
	ErrStoreRemoved = errors.New("fetch: store removed")
	// ErrClosed is returned when the downloader is shut down.
	ErrClosed = errors.New("fetch: downloader closed")
	// ErrNoCandidates is returned for a fetch without candidate peers.
	ErrNoCandidates = errors.New("fetch: no candidate peers")
	// ErrTooManyPrerequisites is returned when a task keeps discovering
	// new prerequisites.
	ErrTooManyPrerequisites = errors.New("fetch: too many prerequisites")

	errProtocol = errors.New("fetch: protocol violation")
)

// Code is the failure code of an error response.
type Code int32

const (
	CodeNotFound Code = iota + 1
	CodeNoPermission
	CodeExpelled
	CodeUpdateInProgress
	CodeBusy
	CodeProtocol
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "not found"
	case CodeNoPermission:
		return "no permission"
	case CodeExpelled:
		return "expelled"
	case CodeUpdateInProgress:
		return "update in progress"
	case CodeBusy:
		return "busy"
	case CodeProtocol:
		return "protocol violation"
	case CodeInternal:
		return "internal error"
	}
	return fmt.Sprintf("code(%d)", int32(c))
}

// RemoteError is an error response of a peer.
type RemoteError struct {
	Code    Code
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("fetch: remote: %s: %s", e.Code, e.Message)
}

// Kind is the failure kind that decides how a task continues after a
// failed round.
type Kind int

const (
	// KindNone is the kind of a successful round.
	KindNone Kind = iota
	// KindPermanent failures are specific to the peer. The peer is
	// excluded and the remaining candidates are tried.
	KindPermanent
	// KindTransient failures are retried on the same candidates after a
	// delay.
	KindTransient
	// KindPrerequisite failures need another identity resolved first.
	KindPrerequisite
	// KindHashRequired failures need local content hashes computed.
	KindHashRequired
	// KindVersionChanged failures are retried immediately.
	KindVersionChanged
	// KindCorrupted failures are broken streams and are retried.
	KindCorrupted
	// KindIntegrity failures are received contents that do not match
	// their hash.
	KindIntegrity
	// KindLocalAbort failures end the task without retrying.
	KindLocalAbort
	// KindInvariant failures violate catalog invariants and are never
	// retried.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPermanent:
		return "permanent"
	case KindTransient:
		return "transient"
	case KindPrerequisite:
		return "prerequisite"
	case KindHashRequired:
		return "hash-required"
	case KindVersionChanged:
		return "version-changed"
	case KindCorrupted:
		return "corrupted"
	case KindIntegrity:
		return "integrity"
	case KindLocalAbort:
		return "local-abort"
	case KindInvariant:
		return "invariant"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Terminal reports whether a failure of the kind ends the task.
func (k Kind) Terminal() bool {
	return k == KindLocalAbort || k == KindInvariant
}

// Classify returns the failure kind of an error returned by a round.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var (
		prereqErr *causality.PrerequisiteError
		hashErr   *causality.HashRequiredError
		remoteErr *RemoteError
		cycleErr  *depgraph.CycleError
	)
	switch {
	case errors.As(err, &prereqErr):
		return KindPrerequisite
	case errors.As(err, &hashErr):
		if hashErr.Remote {
			return KindTransient
		}
		return KindHashRequired
	case errors.Is(err, causality.ErrVersionChanged):
		return KindVersionChanged
	case errors.Is(err, ErrExpelled),
		errors.Is(err, ErrStoreRemoved),
		errors.Is(err, ErrClosed),
		errors.Is(err, context.Canceled):
		return KindLocalAbort
	case errors.Is(err, catalog.ErrBranchLimit),
		errors.Is(err, catalog.ErrVersionRegression),
		errors.Is(err, causality.ErrMetaConflict),
		errors.Is(err, ErrTooManyPrerequisites),
		errors.As(err, &cycleErr):
		return KindInvariant
	case errors.Is(err, transfer.ErrHashMismatch):
		return KindIntegrity
	case errors.Is(err, token.ErrPreempted),
		errors.Is(err, transfer.ErrUpdateInProgress),
		errors.Is(err, transfer.ErrContentChanged):
		return KindTransient
	case errors.Is(err, transfer.ErrCorrupted),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, protobuf.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return KindCorrupted
	case errors.As(err, &remoteErr):
		switch remoteErr.Code {
		case CodeUpdateInProgress, CodeBusy:
			return KindTransient
		}
		return KindPermanent
	}
	return KindPermanent
}

// FailureError is the terminal failure of a task whose candidates were
// all exhausted. It carries the last failure of every peer.
type FailureError struct {
	Identity object.Identity
	Reasons  map[object.DeviceID]error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("fetch: %s: %v", e.Identity, e.Err())
}

// Err returns the per-peer reasons as one error in canonical peer order.
func (e *FailureError) Err() error {
	peers := make([]object.DeviceID, 0, len(e.Reasons))
	for p := range e.Reasons {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Less(peers[j]) })

	var errs *multierror.Error
	for _, p := range peers {
		errs = multierror.Append(errs, fmt.Errorf("peer %s: %w", p, e.Reasons[p]))
	}
	return errs.ErrorOrNil()
}

func (e *FailureError) Unwrap() error {
	return ErrExhausted
}

// Listener receives the terminal outcome of a fetch.
type Listener interface {
	OnSuccess(id object.Identity, peer object.DeviceID)
	OnFailure(id object.Identity, err error)
}

// ListenerFuncs adapts a pair of functions to a Listener. Nil functions
// are skipped.
type ListenerFuncs struct {
	Success func(id object.Identity, peer object.DeviceID)
	Failure func(id object.Identity, err error)
}

func (l ListenerFuncs) OnSuccess(id object.Identity, peer object.DeviceID) {
	if l.Success != nil {
		l.Success(id, peer)
	}
}

func (l ListenerFuncs) OnFailure(id object.Identity, err error) {
	if l.Failure != nil {
		l.Failure(id, err)
	}
}
