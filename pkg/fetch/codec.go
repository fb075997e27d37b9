// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fetch

import (
	"fmt"

	"github.com/ethersphere/replica/pkg/fetch/pb"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/version"
)

func ticksOf(v version.Vector) []*pb.Tick {
	ds := v.Devices()
	if len(ds) == 0 {
		return nil
	}
	ts := make([]*pb.Tick, 0, len(ds))
	for _, d := range ds {
		ts = append(ts, &pb.Tick{Device: d.Bytes(), Value: uint64(v.Get(d))})
	}
	return ts
}

func vectorOf(ts []*pb.Tick) (version.Vector, error) {
	v := version.New()
	for _, t := range ts {
		d, err := object.DeviceIDFromBytes(t.GetDevice())
		if err != nil {
			return nil, fmt.Errorf("%w: tick device: %v", errProtocol, err)
		}
		v.Set(d, version.Tick(t.GetValue()))
	}
	return v, nil
}

func identityOf(req *pb.Request) (object.Identity, error) {
	oid, err := object.ObjectIDFromBytes(req.GetObject())
	if err != nil {
		return object.Identity{}, fmt.Errorf("%w: object: %v", errProtocol, err)
	}
	kind := object.Kind(req.GetKind())
	if kind != object.KindMeta && kind != object.KindContent {
		return object.Identity{}, fmt.Errorf("%w: kind %d", errProtocol, req.GetKind())
	}
	return object.Identity{Store: object.StoreID(req.GetStore()), Object: oid, Kind: kind}, nil
}

func stampOf(regime int32, ts []*pb.Tick, central uint64) (version.Stamp, error) {
	r := version.Regime(regime)
	if r != version.RegimeLegacy && r != version.RegimeCentralized {
		return version.Stamp{}, fmt.Errorf("%w: regime %d", errProtocol, regime)
	}
	v, err := vectorOf(ts)
	if err != nil {
		return version.Stamp{}, err
	}
	return version.Stamp{Regime: r, Vector: v, Central: central}, nil
}

func metaDescriptor(m object.Meta) *pb.MetaDescriptor {
	d := &pb.MetaDescriptor{
		Type:  int32(m.Type),
		Name:  m.Name,
		Flags: m.Flags,
	}
	if !m.Parent.IsRoot() {
		d.Parent = m.Parent.Bytes()
	}
	if !m.AliasTarget.IsRoot() {
		d.AliasTarget = m.AliasTarget.Bytes()
	}
	return d
}

func metaOf(d *pb.MetaDescriptor) (object.Meta, error) {
	parent, err := object.ObjectIDFromBytes(d.GetParent())
	if err != nil {
		return object.Meta{}, fmt.Errorf("%w: parent: %v", errProtocol, err)
	}
	alias, err := object.ObjectIDFromBytes(d.GetAliasTarget())
	if err != nil {
		return object.Meta{}, fmt.Errorf("%w: alias target: %v", errProtocol, err)
	}
	return object.Meta{
		Type:        object.ObjectType(d.GetType()),
		Parent:      parent,
		Name:        d.GetName(),
		Flags:       d.GetFlags(),
		AliasTarget: alias,
	}, nil
}

func remoteErrorOf(e *pb.Error) *RemoteError {
	return &RemoteError{Code: Code(e.GetCode()), Message: e.GetMessage()}
}
