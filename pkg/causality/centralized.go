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

const conflictBranch object.BranchIndex = 1

type centralized struct {
	rm Remover
}

// NewCentralized returns the strategy of the centralized counter regime.
func NewCentralized(rm Remover) Strategy {
	return &centralized{rm: rm}
}

func (c *centralized) Resolve(r catalog.Reader, id object.Identity, adv Advertisement) (*Result, error) {
	bs, err := r.Branches(id)
	if err != nil {
		return nil, err
	}
	snap, err := takeSnapshot(r, id, bs)
	if err != nil {
		return nil, err
	}
	if version.CompareCentral(snap.central, adv.Central) != version.DominatedBy {
		return nil, nil
	}
	localChange, err := r.HasLocalChange(id)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Identity: id,
		Regime:   version.RegimeCentralized,
		Central:  adv.Central,
		Hash:     adv.Hash,
		Stamp:    adv.Stamp(),
		snapshot: snap,
	}

	var master *object.Branch
	for i := range bs {
		if bs[i].Index.IsMaster() {
			master = &bs[i]
		}
	}

	if master == nil || (len(bs) < 2 && !localChange) {
		res.Target = object.MasterBranch
		res.NewBranch = master == nil
		res.ClearLocalChange = localChange
		return res, nil
	}

	switch {
	case master.Hash.IsZero():
		return nil, &HashRequiredError{Identity: id, Branches: []object.BranchIndex{object.MasterBranch}}
	case adv.Hash.IsZero():
		return nil, &HashRequiredError{Identity: id, Remote: true}
	}

	if master.Hash.Equal(adv.Hash) && master.Length == adv.Length {
		res.Target = object.MasterBranch
		res.SkipIO = true
		res.ClearLocalChange = true
		for _, b := range bs {
			if !b.Index.IsMaster() {
				res.Delete = append(res.Delete, b.Index)
			}
		}
		return res, nil
	}

	res.Target = conflictBranch
	res.NewBranch = true
	for _, b := range bs {
		if b.Index == conflictBranch {
			res.NewBranch = false
		}
	}
	if res.NewBranch && len(bs) >= object.MaxBranches {
		return nil, fmt.Errorf("%w: %s: centralized version %d", catalog.ErrBranchLimit, id, adv.Central)
	}
	return res, nil
}

func (c *centralized) Commit(tx catalog.Tx, res *Result) error {
	id := res.Identity
	if err := res.snapshot.validate(tx, id); err != nil {
		return err
	}
	if err := commitBranches(tx, c.rm, res); err != nil {
		return err
	}
	if err := tx.SetCentralVersion(id, res.Central); err != nil {
		return err
	}
	if res.ClearLocalChange {
		return tx.SetLocalChange(id, false)
	}
	return nil
}
