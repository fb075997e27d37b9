// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package causality

import (
	"errors"
	"fmt"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/version"
)

// MetaAdvertisement is the structural state of an object announced by a
// peer. Metadata is always versioned with version vectors.
type MetaAdvertisement struct {
	Vector version.Vector
	Meta   object.Meta
}

// MetaOptions carry the per-task state metadata resolution depends on.
type MetaOptions struct {
	// BreakCycles places an object whose parent is missing under the
	// store root instead of waiting for the parent.
	BreakCycles bool
	// Probed reports whether the metadata of an object holding a
	// conflicting name was already fetched by the current task.
	Probed func(object.ObjectID) bool
}

// Rename is a local rename applied to resolve a name collision.
type Rename struct {
	Object object.ObjectID
	Meta   object.Meta

	// state of the renamed object at resolution
	pre    version.Vector
	before object.Meta
}

// MetaResult is the decision of a metadata resolution.
type MetaResult struct {
	Identity object.Identity
	Delta    version.Vector
	Meta     object.Meta
	// Rename is set when another object gives up its name.
	Rename *Rename

	pre    version.Vector
	merged version.Vector
}

// MetaResolver resolves metadata advertisements.
type MetaResolver struct {
	self object.DeviceID
}

// NewMetaResolver returns a resolver that records local renames under
// the self device.
func NewMetaResolver(self object.DeviceID) *MetaResolver {
	return &MetaResolver{self: self}
}

// Resolve returns nil if the local metadata already covers the
// advertisement.
func (m *MetaResolver) Resolve(r catalog.Reader, store object.StoreID, oid object.ObjectID, adv MetaAdvertisement, opts MetaOptions) (*MetaResult, error) {
	id := object.MetaOf(store, oid)
	local, err := r.Version(id, object.MasterBranch)
	if err != nil {
		return nil, err
	}
	if local.Covers(adv.Vector) {
		return nil, nil
	}

	winner := adv.Meta
	cur, err := r.Meta(store, oid)
	switch {
	case err == nil:
		if local.Compare(adv.Vector) == version.Concurrent {
			if cur.Type != adv.Meta.Type || cur.AliasTarget != adv.Meta.AliasTarget {
				return nil, fmt.Errorf("%w: %s: local %v, remote %v", ErrMetaConflict, id, cur.Type, adv.Meta.Type)
			}
			if !remoteWins(local, cur, adv) {
				winner = cur
			}
		}
	case !errors.Is(err, catalog.ErrNotFound):
		return nil, err
	}

	merged := local.Union(adv.Vector)
	res := &MetaResult{Identity: id, pre: local}

	if !oid.IsRoot() {
		if !winner.Parent.IsRoot() {
			_, err := r.Meta(store, winner.Parent)
			switch {
			case errors.Is(err, catalog.ErrNotFound):
				if !opts.BreakCycles {
					return nil, &PrerequisiteError{Identity: id, Prerequisite: object.MetaOf(store, winner.Parent)}
				}
				winner.Parent = object.Root
				winner.Flags |= object.FlagOrphaned
			case err != nil:
				return nil, err
			}
		}

		other, err := r.Lookup(store, winner.Parent, winner.Name)
		switch {
		case err == nil && other != oid:
			if opts.Probed == nil || !opts.Probed(other) {
				return nil, &PrerequisiteError{Identity: id, Prerequisite: object.MetaOf(store, other), Probe: true}
			}
			if oid.Less(other) {
				om, err := r.Meta(store, other)
				if err != nil {
					return nil, err
				}
				ov, err := r.Version(object.MetaOf(store, other), object.MasterBranch)
				if err != nil {
					return nil, err
				}
				rn := &Rename{Object: other, Meta: om, pre: ov, before: om}
				rn.Meta.Name = disambiguate(om.Name, other)
				res.Rename = rn
			} else {
				winner.Name = disambiguate(winner.Name, oid)
				merged.Set(m.self, merged.Get(m.self)+1)
			}
		case err != nil && !errors.Is(err, catalog.ErrNotFound):
			return nil, err
		}
	}

	res.Meta = winner
	res.merged = merged
	res.Delta = merged.Sub(local)
	return res, nil
}

// remoteWins orders concurrent structural changes deterministically so
// that every replica picks the same winner.
func remoteWins(local version.Vector, cur object.Meta, adv MetaAdvertisement) bool {
	ls, rs := tickSum(local), tickSum(adv.Vector)
	if ls != rs {
		return rs > ls
	}
	if cur.Parent != adv.Meta.Parent {
		return cur.Parent.Less(adv.Meta.Parent)
	}
	return cur.Name < adv.Meta.Name
}

func tickSum(v version.Vector) (s version.Tick) {
	for _, t := range v {
		s += t
	}
	return s
}

func disambiguate(name string, oid object.ObjectID) string {
	return fmt.Sprintf("%s (%s)", name, oid.String()[:8])
}

// Commit applies the result within tx after checking that neither the
// object nor the object it renames moved since resolution.
func (m *MetaResolver) Commit(tx catalog.Tx, res *MetaResult) error {
	id := res.Identity
	cur, err := tx.Version(id, object.MasterBranch)
	if err != nil {
		return err
	}
	if !cur.Equal(res.pre) {
		return fmt.Errorf("%w: %s: %v, resolved with %v", ErrVersionChanged, id, cur, res.pre)
	}

	if rn := res.Rename; rn != nil {
		oid := object.MetaOf(id.Store, rn.Object)
		ov, err := tx.Version(oid, object.MasterBranch)
		if err != nil {
			return err
		}
		if !ov.Equal(rn.pre) {
			return fmt.Errorf("%w: renamed %s: %v, resolved with %v", ErrVersionChanged, oid, ov, rn.pre)
		}
		om, err := tx.Meta(id.Store, rn.Object)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			return fmt.Errorf("%w: renamed %s removed", ErrVersionChanged, oid)
		case err != nil:
			return err
		case om != rn.before:
			return fmt.Errorf("%w: renamed %s: metadata changed", ErrVersionChanged, oid)
		}

		if err := tx.SetMeta(id.Store, rn.Object, rn.Meta); err != nil {
			return err
		}
		if err := tx.AddVersion(oid, object.MasterBranch, version.Of(m.self, ov.Get(m.self)+1)); err != nil {
			return err
		}
	}
	if err := tx.SetMeta(id.Store, id.Object, res.Meta); err != nil {
		return err
	}
	if err := tx.AddVersion(id, object.MasterBranch, res.Delta); err != nil {
		return err
	}
	kml, err := tx.KML(id)
	if err != nil {
		return err
	}
	return tx.SetKML(id, kml.Sub(res.merged))
}
