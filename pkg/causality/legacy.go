// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package causality

import (
	"fmt"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/version"
)

type legacy struct {
	rm Remover
}

// NewLegacy returns the strategy of the version vector regime.
func NewLegacy(rm Remover) Strategy {
	return &legacy{rm: rm}
}

func (l *legacy) Resolve(r catalog.Reader, id object.Identity, adv Advertisement) (*Result, error) {
	bs, err := r.Branches(id)
	if err != nil {
		return nil, err
	}
	snap, err := takeSnapshot(r, id, bs)
	if err != nil {
		return nil, err
	}

	remote := adv.Vector
	relations := make([]version.Relation, len(bs))
	for i, b := range bs {
		relations[i] = snap.versions[b.Index].Compare(remote)
		if relations[i] == version.Equal || relations[i] == version.Dominates {
			// already known locally
			return nil, nil
		}
	}

	var (
		merge      []object.Branch
		needHash   []object.BranchIndex
		remoteHash bool
	)
	for i, b := range bs {
		if relations[i] == version.DominatedBy {
			merge = append(merge, b)
			continue
		}
		// concurrent: mergeable only if the contents are identical
		switch {
		case b.Hash.IsZero():
			needHash = append(needHash, b.Index)
		case adv.Hash.IsZero():
			remoteHash = true
		case b.Hash.Equal(adv.Hash):
			merge = append(merge, b)
		}
	}
	if len(needHash) > 0 || remoteHash {
		return nil, &HashRequiredError{Identity: id, Branches: needHash, Remote: remoteHash}
	}

	res := &Result{
		Identity: id,
		Regime:   version.RegimeLegacy,
		Hash:     adv.Hash,
		snapshot: snap,
	}

	if len(merge) == 0 {
		if len(bs) >= object.MaxBranches {
			return nil, fmt.Errorf("%w: %s: concurrent version %v", catalog.ErrBranchLimit, id, remote)
		}
		res.Target = nextIndex(bs)
		res.NewBranch = true
		res.Delta = remote.Copy()
		res.Stamp = adv.Stamp()
		res.KMLResolved = remote.Copy()
		return res, nil
	}

	// branches are in canonical order, so the first one is the lowest
	target := merge[0]
	merged := remote.Copy()
	for _, b := range merge {
		merged = merged.Union(snap.versions[b.Index])
	}
	for _, b := range merge[1:] {
		res.Delete = append(res.Delete, b.Index)
	}

	res.Target = target.Index
	res.Delta = merged.Sub(snap.versions[target.Index])
	res.Stamp = version.Stamp{Regime: version.RegimeLegacy, Vector: merged}
	res.KMLResolved = merged
	if !adv.Hash.IsZero() && target.Hash.Equal(adv.Hash) {
		res.SkipIO = true
	} else if !adv.Hash.IsZero() {
		for _, b := range merge[1:] {
			if b.Hash.Equal(adv.Hash) {
				idx := b.Index
				res.CopyFrom = &idx
				break
			}
		}
	}
	return res, nil
}

func (l *legacy) Commit(tx catalog.Tx, res *Result) error {
	id := res.Identity
	if err := res.snapshot.validate(tx, id); err != nil {
		return err
	}
	if err := commitBranches(tx, l.rm, res); err != nil {
		return err
	}
	if err := tx.AddVersion(id, res.Target, res.Delta); err != nil {
		return err
	}
	kml, err := tx.KML(id)
	if err != nil {
		return err
	}
	return tx.SetKML(id, kml.Sub(res.KMLResolved))
}
