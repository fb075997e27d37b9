// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transfer

import (
	"context"
	"fmt"
	"io"

	"github.com/ethersphere/replica/pkg/logging"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/p2p/protobuf"
	"github.com/ethersphere/replica/pkg/physical"
	"github.com/ethersphere/replica/pkg/token"
	"github.com/ethersphere/replica/pkg/transfer/pb"
	"github.com/ethersphere/replica/pkg/version"
)

// Expect describes the content a receiver is about to stage.
type Expect struct {
	// Stamp is the version the content belongs to.
	Stamp  version.Stamp
	Length int64
	// Hash is the advertised hash, empty if unknown.
	Hash object.Hash
	// Offset is the number of bytes the sender skips because they are
	// already staged.
	Offset int64
}

// Receiver stages incoming content in prefixes.
type Receiver struct {
	logger  logging.Logger
	metrics receiverMetrics
}

func NewReceiver(logger logging.Logger) *Receiver {
	return &Receiver{logger: logger, metrics: newReceiverMetrics()}
}

// ResumeOffset makes the prefix ready to receive content of the expected
// version and returns the number of bytes that can be skipped.
func ResumeOffset(p *physical.Prefix, stamp version.Stamp) (int64, error) {
	if p.Version().Equal(stamp) {
		return p.Length(), nil
	}
	if err := p.Reset(stamp); err != nil {
		return 0, err
	}
	return 0, nil
}

// Receive reads frames into the prefix until the trailer and verifies the
// staged content. On a hash mismatch the prefix is discarded; on any
// other failure it keeps the bytes received so far for a later resume.
func (r *Receiver) Receive(ctx context.Context, rd protobuf.Reader, p *physical.Prefix, exp Expect, tk *token.Token) (object.Hash, error) {
	id := p.Identity()
	if exp.Offset > 0 && (exp.Offset != p.Length() || !p.Version().Equal(exp.Stamp)) {
		return nil, fmt.Errorf("%w: %s: resume at %d, staged %d of %v", ErrCorrupted, id, exp.Offset, p.Length(), p.Version())
	}
	if exp.Offset == 0 && (p.Length() != 0 || !p.Version().Equal(exp.Stamp)) {
		if err := p.Reset(exp.Stamp); err != nil {
			return nil, err
		}
	}

	var received int64
	defer func() {
		r.metrics.BytesReceived.Add(float64(received))
	}()

	var trailer *pb.Trailer
	for trailer == nil {
		var f pb.Frame
		err := tk.Pause(ctx, func() error {
			return rd.ReadMsgWithContext(ctx, &f)
		})
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("%w: %s: stream ended at %d of %d", ErrCorrupted, id, p.Length(), exp.Length)
			}
			return nil, fmt.Errorf("read frame: %w", err)
		}
		if a := f.GetAbort(); a != nil {
			r.metrics.Aborts.Inc()
			return nil, &AbortError{Code: AbortCode(a.Code), Reason: a.Reason}
		}
		if data := f.GetData(); len(data) > 0 {
			if p.Length()+int64(len(data)) > exp.Length {
				return nil, fmt.Errorf("%w: %s: more than %d bytes", ErrCorrupted, id, exp.Length)
			}
			if _, err := p.Write(data); err != nil {
				return nil, err
			}
			received += int64(len(data))
		}
		trailer = f.GetTrailer()
	}

	if p.Length() != exp.Length {
		return nil, fmt.Errorf("%w: %s: received %d of %d bytes", ErrCorrupted, id, p.Length(), exp.Length)
	}
	return r.verify(p, exp.Hash, trailer.GetHash())
}

// CopyLocal stages the content of a local branch instead of receiving it.
func (r *Receiver) CopyLocal(s *physical.Store, from object.BranchIndex, p *physical.Prefix, exp Expect) (object.Hash, error) {
	if err := p.Reset(exp.Stamp); err != nil {
		return nil, err
	}
	if _, err := s.CopyBranch(p.Identity(), from, p); err != nil {
		return nil, err
	}
	r.metrics.LocalCopies.Inc()
	return r.verify(p, exp.Hash, nil)
}

func (r *Receiver) verify(p *physical.Prefix, expected, trailer object.Hash) (object.Hash, error) {
	sum := p.Sum()
	for _, want := range []object.Hash{expected, trailer} {
		if want.IsZero() || sum.Equal(want) {
			continue
		}
		r.metrics.HashMismatches.Inc()
		if err := p.Discard(); err != nil {
			r.logger.Errorf("transfer: discard prefix of %s: %v", p.Identity(), err)
		}
		return nil, &HashMismatchError{Identity: p.Identity(), Expected: want, Got: sum}
	}
	return sum, nil
}
