// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/fetch/pb"
	"github.com/ethersphere/replica/pkg/logging"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/p2p"
	"github.com/ethersphere/replica/pkg/p2p/protobuf"
	"github.com/ethersphere/replica/pkg/physical"
	"github.com/ethersphere/replica/pkg/token"
	"github.com/ethersphere/replica/pkg/tracing"
	"github.com/ethersphere/replica/pkg/transfer"
	"github.com/ethersphere/replica/pkg/version"
	"github.com/sirupsen/logrus"
)

// DefaultServerWait bounds the time a request waits for a server token.
const DefaultServerWait = 10 * time.Second

var (
	errNoPermission = errors.New("fetch: store not shared")
	errBusy         = errors.New("fetch: server busy")
)

type ServerOptions struct {
	Catalog catalog.Reader
	Sender  *transfer.Sender
	Tokens  *token.Manager
	Tracer  *tracing.Tracer
	// Wait bounds the time a request waits for a server token.
	Wait   time.Duration
	Logger logging.Logger
}

// Server answers fetch requests with the state of the local master
// branches and streams their content.
type Server struct {
	catalog catalog.Reader
	sender  *transfer.Sender
	tokens  *token.Manager
	tracer  *tracing.Tracer
	wait    time.Duration
	logger  logging.Logger
	metrics serverMetrics
}

func NewServer(o ServerOptions) *Server {
	wait := o.Wait
	if wait <= 0 {
		wait = DefaultServerWait
	}
	return &Server{
		catalog: o.Catalog,
		sender:  o.Sender,
		tokens:  o.Tokens,
		tracer:  o.Tracer,
		wait:    wait,
		logger:  o.Logger,
		metrics: newServerMetrics(),
	}
}

func (s *Server) Protocol() p2p.ProtocolSpec {
	return p2p.ProtocolSpec{
		Name:    protocolName,
		Version: protocolVersion,
		StreamSpecs: []p2p.StreamSpec{
			{
				Name:    streamName,
				Handler: s.handler,
			},
		},
	}
}

func (s *Server) handler(ctx context.Context, p p2p.Peer, stream p2p.Stream) (err error) {
	w, r := protobuf.NewWriterAndReader(stream)
	defer func() {
		if err != nil {
			_ = stream.Reset()
		} else {
			_ = stream.FullClose()
		}
	}()

	var req pb.Request
	if err := r.ReadMsgWithContext(ctx, &req); err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	ctx, _ = s.tracer.WithContextFromBytes(ctx, req.GetTrace())
	span, logger, ctx := s.tracer.StartSpanFromContext(ctx, "serve-request", s.logger)
	defer func() { tracing.FinishSpan(span, err) }()
	span.SetTag("peer", p.Device.String())

	id, err := identityOf(&req)
	if err != nil {
		if rerr := s.respondError(ctx, w, logger, err); rerr != nil {
			return rerr
		}
		// a peer that cannot form a request is not worth talking to
		return p2p.Disconnect(err)
	}
	span.SetTag("identity", id.String())
	s.metrics.Requests.WithLabelValues(id.Kind.String()).Inc()

	if err := s.check(id); err != nil {
		return s.respondError(ctx, w, logger, err)
	}
	if id.Kind == object.KindMeta {
		return s.serveMeta(ctx, w, logger, id)
	}
	return s.serveContent(ctx, w, r, logger, id, &req)
}

func (s *Server) check(id object.Identity) error {
	ok, err := s.catalog.StoreExists(id.Store)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", errNoPermission, id.Store)
	}
	expelled, err := s.catalog.Expelled(id.Store, id.Object)
	if err != nil {
		return err
	}
	if expelled {
		return fmt.Errorf("%w: %s", ErrExpelled, id)
	}
	return nil
}

func (s *Server) serveMeta(ctx context.Context, w protobuf.Writer, logger *logrus.Entry, id object.Identity) error {
	m, err := s.catalog.Meta(id.Store, id.Object)
	if err != nil {
		return s.respondError(ctx, w, logger, err)
	}
	v, err := s.catalog.Version(id, object.MasterBranch)
	if err != nil {
		return s.respondError(ctx, w, logger, err)
	}
	return w.WriteMsgWithContext(ctx, &pb.Response{
		Regime:  int32(version.RegimeLegacy),
		Version: ticksOf(v),
		Meta:    metaDescriptor(m),
	})
}

func (s *Server) serveContent(ctx context.Context, w protobuf.Writer, r protobuf.Reader, logger *logrus.Entry, id object.Identity, req *pb.Request) error {
	b, err := s.catalog.Branch(id, object.MasterBranch)
	if err != nil {
		return s.respondError(ctx, w, logger, err)
	}
	stamp, err := s.stamp(id)
	if err != nil {
		return s.respondError(ctx, w, logger, err)
	}
	known, err := vectorOf(req.GetVersion())
	if err != nil {
		return s.respondError(ctx, w, logger, err)
	}

	resp := &pb.Response{
		Regime:  int32(stamp.Regime),
		Version: ticksOf(stamp.Vector),
		Central: stamp.Central,
	}

	upToDate := known.Covers(stamp.Vector)
	if stamp.Regime == version.RegimeCentralized {
		upToDate = req.GetCentral() >= stamp.Central
	}
	if upToDate {
		resp.Content = &pb.ContentDescriptor{Length: b.Length, ModTime: b.ModTime, Hash: b.Hash, UpToDate: true}
		return w.WriteMsgWithContext(ctx, resp)
	}

	tctx, cancel := context.WithTimeout(ctx, s.wait)
	tk, err := s.tokens.Acquire(tctx, token.CategoryServer, object.PriorityDefault, "serve "+id.String())
	cancel()
	if err != nil {
		return s.respondError(ctx, w, logger, fmt.Errorf("%w: %v", errBusy, err))
	}
	defer tk.Release()

	offer, err := s.sender.Prepare(ctx, id, b, req.GetHash(), tk)
	if err != nil {
		return s.respondError(ctx, w, logger, err)
	}

	var offset int64
	if n := req.GetPrefixLength(); n > 0 && n <= offer.Signature.Length {
		prefix, err := stampOf(req.GetPrefixRegime(), req.GetPrefixVersion(), req.GetPrefixCentral())
		if err == nil && prefix.Equal(stamp) {
			offset = n
		}
	}

	resp.Content = &pb.ContentDescriptor{
		Length:    offer.Signature.Length,
		ModTime:   offer.Signature.ModTime,
		Identical: offer.Identical,
		Hash:      offer.Hash,
		Offset:    offset,
	}
	err = tk.Pause(ctx, func() error {
		return w.WriteMsgWithContext(ctx, resp)
	})
	if err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if offer.Identical {
		return nil
	}

	// the requester may find the content locally and abort
	sctx, stop := s.sender.WatchAborts(ctx, r)
	sent, err := s.sender.Send(sctx, w, offer, offset, tk)
	stop()
	if err != nil {
		var abort *transfer.AbortError
		if errors.As(err, &abort) {
			logger.Debugf("fetch: serve %s: stopped after %d bytes: %v", id, sent, err)
			return nil
		}
		if errors.Is(err, transfer.ErrContentChanged) {
			// the abort frame told the peer
			logger.Debugf("fetch: serve %s: %v", id, err)
			return nil
		}
		return fmt.Errorf("send %s: %w", id, err)
	}
	logger.Tracef("fetch: served %d bytes of %s from offset %d", sent, id, offset)
	return nil
}

// stamp returns the version of the master branch in the regime of the
// identity.
func (s *Server) stamp(id object.Identity) (version.Stamp, error) {
	central, err := s.catalog.CentralVersion(id)
	if err != nil {
		return version.Stamp{}, err
	}
	if central > 0 {
		return version.Stamp{Regime: version.RegimeCentralized, Central: central}, nil
	}
	v, err := s.catalog.Version(id, object.MasterBranch)
	if err != nil {
		return version.Stamp{}, err
	}
	return version.Stamp{Regime: version.RegimeLegacy, Vector: v}, nil
}

// respondError answers the request with the code of err. The request is
// considered served if the response was written.
func (s *Server) respondError(ctx context.Context, w protobuf.Writer, logger *logrus.Entry, err error) error {
	code := codeOf(err)
	s.metrics.Errors.WithLabelValues(code.String()).Inc()
	if code == CodeInternal {
		logger.Errorf("fetch: serve: %v", err)
	} else {
		logger.Debugf("fetch: serve: %v", err)
	}
	if werr := w.WriteMsgWithContext(ctx, &pb.Response{Error: &pb.Error{Code: int32(code), Message: err.Error()}}); werr != nil {
		return fmt.Errorf("write error response: %w", werr)
	}
	return nil
}

func codeOf(err error) Code {
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, physical.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, errNoPermission):
		return CodeNoPermission
	case errors.Is(err, ErrExpelled):
		return CodeExpelled
	case errors.Is(err, transfer.ErrUpdateInProgress), errors.Is(err, transfer.ErrContentChanged):
		return CodeUpdateInProgress
	case errors.Is(err, errBusy):
		return CodeBusy
	case errors.Is(err, errProtocol):
		return CodeProtocol
	}
	return CodeInternal
}
