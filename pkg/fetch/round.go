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
	"github.com/ethersphere/replica/pkg/causality"
	"github.com/ethersphere/replica/pkg/fetch/pb"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/p2p"
	"github.com/ethersphere/replica/pkg/p2p/protobuf"
	"github.com/ethersphere/replica/pkg/physical"
	"github.com/ethersphere/replica/pkg/token"
	"github.com/ethersphere/replica/pkg/tracing"
	"github.com/ethersphere/replica/pkg/transfer"
	tpb "github.com/ethersphere/replica/pkg/transfer/pb"
	"github.com/sirupsen/logrus"
)

// exchange is the state of one round on the wire.
type exchange struct {
	w      protobuf.Writer
	r      protobuf.Reader
	tk     *token.Token
	logger *logrus.Entry
	// aborted is set once the peer was told to stop sending
	aborted bool
}

// round requests the identity from peer, resolves the response against
// the catalog and commits it.
func (d *Downloader) round(ctx context.Context, t *task, peer object.DeviceID, tk *token.Token) (err error) {
	span, logger, ctx := d.tracer.StartSpanFromContext(ctx, "fetch-round", d.logger)
	defer func() { tracing.FinishSpan(span, err) }()
	span.SetTag("identity", t.id.String())
	span.SetTag("peer", peer.String())

	id := t.id
	if err := checkLocal(d.catalog, id); err != nil {
		return err
	}

	req, err := d.request(id)
	if err != nil {
		return err
	}
	var prefix *physical.Prefix
	if id.Kind == object.KindContent {
		prefix, err = d.store.OpenPrefix(id)
		if err != nil {
			return err
		}
		// keeps the staged bytes for a resume unless they were applied
		// or discarded
		defer prefix.Close()

		if n := prefix.Length(); n > 0 {
			stamp := prefix.Version()
			req.PrefixLength = n
			req.PrefixRegime = int32(stamp.Regime)
			req.PrefixVersion = ticksOf(stamp.Vector)
			req.PrefixCentral = stamp.Central
		}
	}
	if trace, err := d.tracer.Marshal(ctx); err == nil {
		req.Trace = trace
	}

	var stream p2p.Stream
	err = tk.Pause(ctx, func() (err error) {
		stream, err = d.streamer.NewStream(ctx, peer, protocolName, protocolVersion, streamName)
		return err
	})
	if err != nil {
		return fmt.Errorf("new stream: %w", err)
	}
	w, r := protobuf.NewWriterAndReader(stream)
	x := &exchange{w: w, r: r, tk: tk, logger: logger}
	defer func() {
		if err != nil || x.aborted {
			_ = stream.Reset()
		} else {
			go stream.FullClose()
		}
	}()

	var resp pb.Response
	err = tk.Pause(ctx, func() error {
		if err := w.WriteMsgWithContext(ctx, req); err != nil {
			return fmt.Errorf("write request: %w", err)
		}
		if err := r.ReadMsgWithContext(ctx, &resp); err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if e := resp.GetError(); e != nil {
		return remoteErrorOf(e)
	}

	if id.Kind == object.KindMeta {
		return d.applyMeta(t, &resp)
	}
	return d.applyContent(ctx, x, id, &resp, prefix)
}

func (d *Downloader) request(id object.Identity) (*pb.Request, error) {
	v, err := d.catalog.Version(id, object.MasterBranch)
	if err != nil {
		return nil, err
	}
	req := &pb.Request{
		Store:   uint32(id.Store),
		Object:  id.Object.Bytes(),
		Kind:    int32(id.Kind),
		Version: ticksOf(v),
	}
	if id.Kind != object.KindContent {
		return req, nil
	}

	if req.Central, err = d.catalog.CentralVersion(id); err != nil {
		return nil, err
	}
	b, err := d.catalog.Branch(id, object.MasterBranch)
	switch {
	case err == nil:
		req.Hash = b.Hash
	case !errors.Is(err, catalog.ErrNotFound):
		return nil, err
	}
	return req, nil
}

func (d *Downloader) applyMeta(t *task, resp *pb.Response) error {
	md := resp.GetMeta()
	if md == nil {
		return fmt.Errorf("%w: response without metadata", errProtocol)
	}
	v, err := vectorOf(resp.GetVersion())
	if err != nil {
		return err
	}
	m, err := metaOf(md)
	if err != nil {
		return err
	}

	d.mu.Lock()
	probed := make(map[object.ObjectID]bool, len(t.probed))
	for oid := range t.probed {
		probed[oid] = true
	}
	opts := causality.MetaOptions{
		BreakCycles: t.breakCycles,
		Probed:      func(oid object.ObjectID) bool { return probed[oid] },
	}
	d.mu.Unlock()

	res, err := d.meta.Resolve(d.catalog, t.id.Store, t.id.Object, causality.MetaAdvertisement{Vector: v, Meta: m}, opts)
	if err != nil || res == nil {
		return err
	}
	return catalog.Update(d.catalog, func(tx catalog.Tx) error {
		if err := checkLocal(tx, t.id); err != nil {
			return err
		}
		return d.meta.Commit(tx, res)
	})
}

func (d *Downloader) applyContent(ctx context.Context, x *exchange, id object.Identity, resp *pb.Response, prefix *physical.Prefix) error {
	c := resp.GetContent()
	if c == nil {
		return fmt.Errorf("%w: response without content descriptor", errProtocol)
	}
	stamp, err := stampOf(resp.GetRegime(), resp.GetVersion(), resp.GetCentral())
	if err != nil {
		return err
	}
	adv := causality.Advertisement{
		Regime:  stamp.Regime,
		Vector:  stamp.Vector,
		Central: stamp.Central,
		Hash:    c.GetHash(),
		Length:  c.GetLength(),
		ModTime: c.GetModTime(),
	}
	streaming := !c.GetUpToDate() && !c.GetIdentical()

	// content is only applied to objects whose metadata is known
	if _, err := d.catalog.Meta(id.Store, id.Object); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return &causality.PrerequisiteError{Identity: id, Prerequisite: object.MetaOf(id.Store, id.Object)}
		}
		return err
	}

	res, err := d.resolver.Resolve(d.catalog, id, adv)
	if err != nil {
		return err
	}
	if res == nil {
		if streaming {
			d.abort(ctx, x, transfer.AbortCancelled, "up to date")
		}
		return nil
	}

	exp := transfer.Expect{Stamp: adv.Stamp(), Length: adv.Length, Hash: adv.Hash, Offset: c.GetOffset()}
	hash := adv.Hash
	switch {
	case res.SkipIO:
		if streaming {
			d.abort(ctx, x, transfer.AbortCancelled, "content present")
		}
	case res.CopyFrom != nil || c.GetIdentical():
		from := object.MasterBranch
		if res.CopyFrom != nil {
			from = *res.CopyFrom
		}
		if streaming {
			d.abort(ctx, x, transfer.AbortLocalCopy, "content present in another branch")
		}
		err = x.tk.Pause(ctx, func() (err error) {
			hash, err = d.receiver.CopyLocal(d.store, from, prefix, exp)
			return err
		})
	case c.GetUpToDate():
		return fmt.Errorf("%w: peer claims %s is up to date", errProtocol, id)
	default:
		hash, err = d.receiver.Receive(ctx, x.r, prefix, exp, x.tk)
	}
	if err != nil {
		return err
	}

	return catalog.Update(d.catalog, func(tx catalog.Tx) error {
		if err := checkLocal(tx, id); err != nil {
			return err
		}
		if !res.SkipIO {
			sig, err := d.store.Apply(tx, prefix, res.Target, time.Unix(0, adv.ModTime))
			if err != nil {
				return err
			}
			res.Content = &object.Branch{Index: res.Target, Length: sig.Length, ModTime: sig.ModTime, Hash: hash}
		}
		return d.resolver.Commit(tx, res)
	})
}

// abort tells the peer to stop sending. The stream is reset afterwards.
func (d *Downloader) abort(ctx context.Context, x *exchange, code transfer.AbortCode, reason string) {
	x.aborted = true
	err := x.tk.Pause(ctx, func() error {
		return x.w.WriteMsgWithContext(ctx, &tpb.Frame{Abort: &tpb.Abort{Code: int32(code), Reason: reason}})
	})
	if err != nil {
		x.logger.Tracef("fetch: write abort: %v", err)
	}
}

// checkLocal fails if the identity may no longer be fetched locally.
func checkLocal(r catalog.Reader, id object.Identity) error {
	ok, err := r.StoreExists(id.Store)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrStoreRemoved, id.Store)
	}
	expelled, err := r.Expelled(id.Store, id.Object)
	if err != nil {
		return err
	}
	if expelled {
		return fmt.Errorf("%w: %s", ErrExpelled, id)
	}
	return nil
}
