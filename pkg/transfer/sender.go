// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ethersphere/replica/pkg/logging"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/p2p/protobuf"
	"github.com/ethersphere/replica/pkg/token"
	"github.com/ethersphere/replica/pkg/transfer/pb"
	"golang.org/x/time/rate"
)

// SenderOptions configure a Sender.
type SenderOptions struct {
	ChunkSize int
	// RequireHash refuses to serve content whose hash is not known yet.
	RequireHash bool
	// RateLimit bounds the upload rate in bytes per second. Zero means
	// unlimited.
	RateLimit float64
}

// Offer describes content a sender is prepared to serve.
type Offer struct {
	Identity  object.Identity
	Branch    object.BranchIndex
	Signature object.Signature
	Hash      object.Hash
	// Identical is set when the peer already has the content.
	Identical bool
}

// Sender serves branch contents.
type Sender struct {
	src       Source
	hasher    *Hasher
	chunkSize int
	require   bool
	limiter   *rate.Limiter
	logger    logging.Logger
	metrics   senderMetrics
}

func NewSender(src Source, hasher *Hasher, o SenderOptions, logger logging.Logger) *Sender {
	chunkSize := o.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize > maxChunkSize {
		chunkSize = maxChunkSize
	}
	limiter := rate.NewLimiter(rate.Inf, chunkSize)
	if o.RateLimit > 0 {
		burst := int(o.RateLimit)
		if burst < chunkSize {
			burst = chunkSize
		}
		limiter = rate.NewLimiter(rate.Limit(o.RateLimit), burst)
	}
	return &Sender{
		src:       src,
		hasher:    hasher,
		chunkSize: chunkSize,
		require:   o.RequireHash,
		limiter:   limiter,
		logger:    logger,
		metrics:   newSenderMetrics(),
	}
}

// Prepare snapshots the signature of a branch and settles its hash. The
// branch attributes come from the catalog; a physical signature that
// differs from them means a local modification was not scanned yet.
func (s *Sender) Prepare(ctx context.Context, id object.Identity, b object.Branch, peerHash object.Hash, tk *token.Token) (*Offer, error) {
	sig, err := s.src.Signature(id, b.Index)
	if err != nil {
		return nil, err
	}
	if sig != b.Signature() {
		return nil, fmt.Errorf("%w: %s branch %d modified locally", ErrUpdateInProgress, id, b.Index)
	}

	hash := b.Hash
	if hash.IsZero() {
		if cached, ok := s.hasher.Cached(id, b.Index, sig); ok {
			hash = cached
		}
	}
	if hash.IsZero() {
		if s.require {
			// hash in the background so that a retry can be served
			go func() {
				if _, err := s.hasher.Hash(context.Background(), id, b.Index, sig); err != nil {
					s.logger.Debugf("transfer: background hash of %s branch %d: %v", id, b.Index, err)
				}
			}()
			return nil, fmt.Errorf("%w: %s branch %d not hashed", ErrUpdateInProgress, id, b.Index)
		}
		err := tk.Pause(ctx, func() (err error) {
			hash, err = s.hasher.Hash(ctx, id, b.Index, sig)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	return &Offer{
		Identity:  id,
		Branch:    b.Index,
		Signature: sig,
		Hash:      hash,
		Identical: !peerHash.IsZero() && peerHash.Equal(hash),
	}, nil
}

// WatchAborts returns a context that is cancelled with an *AbortError
// once the receiver writes an abort frame to r. The returned function
// stops watching. The stream must be closed or reset afterwards to
// release the pending read.
func (s *Sender) WatchAborts(ctx context.Context, r protobuf.Reader) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		var f pb.Frame
		if err := r.ReadMsgWithContext(ctx, &f); err != nil {
			// the receiver closed its side or the watch stopped
			return
		}
		a := f.GetAbort()
		if a == nil {
			s.logger.Debugf("transfer: unexpected frame from receiver")
			return
		}
		s.metrics.PeerAborts.Inc()
		cancel(&AbortError{Code: AbortCode(a.GetCode()), Reason: a.GetReason()})
	}()
	return ctx, func() { cancel(nil) }
}

// Send writes the content of the offer starting at offset followed by a
// trailer. If the file changes while being sent, an abort frame is
// written and ErrContentChanged returned. If ctx comes from WatchAborts,
// an abort of the receiver stops the transfer with its *AbortError.
func (s *Sender) Send(ctx context.Context, w protobuf.Writer, offer *Offer, offset int64, tk *token.Token) (sent int64, err error) {
	if offset < 0 || offset > offer.Signature.Length {
		return 0, fmt.Errorf("transfer: offset %d out of range %d", offset, offer.Signature.Length)
	}

	defer func() {
		s.metrics.BytesSent.Add(float64(sent))
		if err == nil {
			return
		}
		var abort *AbortError
		if cause := context.Cause(ctx); errors.As(cause, &abort) {
			err = abort
		}
	}()

	window := make([][]byte, windowChunks)
	for i := range window {
		window[i] = make([]byte, s.chunkSize)
	}

	pos := offset
	for pos < offer.Signature.Length {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		var chunks [][]byte
		err := tk.Pause(ctx, func() (err error) {
			chunks, err = s.readWindow(offer, pos, window)
			return err
		})
		if errors.Is(err, ErrContentChanged) {
			return sent, s.abort(ctx, w, offer, tk)
		}
		if err != nil {
			return sent, err
		}

		for _, c := range chunks {
			if err := s.limiter.WaitN(ctx, len(c)); err != nil {
				return sent, err
			}
			err := tk.Pause(ctx, func() error {
				return w.WriteMsgWithContext(ctx, &pb.Frame{Data: c})
			})
			if err != nil {
				return sent, fmt.Errorf("write chunk: %w", err)
			}
			sent += int64(len(c))
			pos += int64(len(c))
		}
	}

	err = tk.Pause(ctx, func() error {
		return w.WriteMsgWithContext(ctx, &pb.Frame{Trailer: &pb.Trailer{Hash: offer.Hash}})
	})
	if err != nil {
		return sent, fmt.Errorf("write trailer: %w", err)
	}
	return sent, nil
}

// readWindow reads up to len(window) chunks at pos with one file open and
// verifies the signature before and after reading.
func (s *Sender) readWindow(offer *Offer, pos int64, window [][]byte) ([][]byte, error) {
	if err := s.checkSignature(offer); err != nil {
		return nil, err
	}

	f, err := s.src.Open(offer.Identity, offer.Branch)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		return nil, err
	}

	var chunks [][]byte
	for _, buf := range window {
		remaining := offer.Signature.Length - pos
		if remaining <= 0 {
			break
		}
		if remaining < int64(len(buf)) {
			buf = buf[:remaining]
		}
		n, err := io.ReadFull(f, buf)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: %s truncated at %d", ErrContentChanged, offer.Identity, pos+int64(n))
			}
			return nil, err
		}
		chunks = append(chunks, buf[:n])
		pos += int64(n)
	}

	if err := s.checkSignature(offer); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *Sender) checkSignature(offer *Offer) error {
	sig, err := s.src.Signature(offer.Identity, offer.Branch)
	if err != nil {
		return err
	}
	if sig != offer.Signature {
		return fmt.Errorf("%w: %s branch %d: %v, offered %v", ErrContentChanged, offer.Identity, offer.Branch, sig, offer.Signature)
	}
	return nil
}

func (s *Sender) abort(ctx context.Context, w protobuf.Writer, offer *Offer, tk *token.Token) error {
	s.metrics.Aborts.Inc()
	s.logger.Debugf("transfer: %s branch %d changed while sending", offer.Identity, offer.Branch)
	err := tk.Pause(ctx, func() error {
		return w.WriteMsgWithContext(ctx, &pb.Frame{Abort: &pb.Abort{
			Code:   int32(AbortContentChanged),
			Reason: "content changed during transfer",
		}})
	})
	if err != nil {
		return fmt.Errorf("write abort: %w", err)
	}
	return fmt.Errorf("%w: %s branch %d", ErrContentChanged, offer.Identity, offer.Branch)
}
