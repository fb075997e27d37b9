// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leveldb

import (
	"fmt"

	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/version"
)

type branchRecord struct {
	Length  int64  `msgpack:"l"`
	ModTime int64  `msgpack:"t"`
	Hash    []byte `msgpack:"h,omitempty"`
}

func newBranchRecord(b object.Branch) branchRecord {
	return branchRecord{Length: b.Length, ModTime: b.ModTime, Hash: b.Hash}
}

func (r branchRecord) branch(idx object.BranchIndex) object.Branch {
	var h object.Hash
	if len(r.Hash) > 0 {
		h = object.Hash(r.Hash)
	}
	return object.Branch{Index: idx, Length: r.Length, ModTime: r.ModTime, Hash: h}
}

type metaRecord struct {
	Type        uint8  `msgpack:"y"`
	Parent      []byte `msgpack:"p"`
	Name        string `msgpack:"n"`
	Flags       uint32 `msgpack:"f"`
	AliasTarget []byte `msgpack:"a,omitempty"`
}

func newMetaRecord(m object.Meta) metaRecord {
	r := metaRecord{
		Type:   uint8(m.Type),
		Parent: m.Parent.Bytes(),
		Name:   m.Name,
		Flags:  m.Flags,
	}
	if !m.AliasTarget.IsRoot() {
		r.AliasTarget = m.AliasTarget.Bytes()
	}
	return r
}

func (r metaRecord) meta() object.Meta {
	m := object.Meta{Type: object.ObjectType(r.Type), Name: r.Name, Flags: r.Flags}
	// identifiers were written by newMetaRecord and are well formed
	m.Parent, _ = object.ObjectIDFromBytes(r.Parent)
	m.AliasTarget, _ = object.ObjectIDFromBytes(r.AliasTarget)
	return m
}

// tick is the persisted form of one version vector entry. Vectors are
// stored as sorted lists so that their encoding is deterministic.
type tick struct {
	Device []byte `msgpack:"d"`
	Tick   uint64 `msgpack:"t"`
}

func encodeVector(v version.Vector) []tick {
	ds := v.Devices()
	ts := make([]tick, 0, len(ds))
	for _, d := range ds {
		ts = append(ts, tick{Device: d.Bytes(), Tick: uint64(v.Get(d))})
	}
	return ts
}

func decodeVector(ts []tick) (version.Vector, error) {
	v := version.New()
	for _, t := range ts {
		d, err := object.DeviceIDFromBytes(t.Device)
		if err != nil {
			return nil, fmt.Errorf("decode vector: %w", err)
		}
		v.Set(d, version.Tick(t.Tick))
	}
	return v, nil
}
