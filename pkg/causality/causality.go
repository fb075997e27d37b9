// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package causality decides how a remote advertisement of an object
// applies to the local replica: which branch receives it, which version
// increment is persisted, which stale branches are dropped and whether
// any content has to move at all.
package causality

import (
	"errors"
	"fmt"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/version"
)

var (
	// ErrVersionChanged is returned by Commit when the local version moved
	// after the result was computed. The whole resolution must be redone.
	ErrVersionChanged = errors.New("causality: local version changed")
	// ErrMetaConflict is returned for concurrent structural changes that
	// no deterministic rule can merge.
	ErrMetaConflict = errors.New("causality: unresolvable metadata conflict")
	// ErrUnknownRegime is returned for advertisements of an unsupported
	// versioning regime.
	ErrUnknownRegime = errors.New("causality: unknown regime")

	errMissingContent = errors.New("causality: result requires content")
)

// HashRequiredError signals that resolution cannot proceed until the
// content hashes of the listed local branches, or of the remote content,
// are known. Resolution is restarted once the hashes were computed.
type HashRequiredError struct {
	Identity object.Identity
	Branches []object.BranchIndex
	Remote   bool
}

func (e *HashRequiredError) Error() string {
	return fmt.Sprintf("causality: %s: hash required (local branches %v, remote %t)", e.Identity, e.Branches, e.Remote)
}

// PrerequisiteError signals that another identity must be resolved
// before this one can be applied. Probe is set when the prerequisite is
// a name disambiguation that has to be fetched from the peer.
type PrerequisiteError struct {
	Identity     object.Identity
	Prerequisite object.Identity
	Probe        bool
}

func (e *PrerequisiteError) Error() string {
	what := "missing"
	if e.Probe {
		what = "needs probe"
	}
	return fmt.Sprintf("causality: %s: prerequisite %s %s", e.Identity, e.Prerequisite, what)
}

// Advertisement is the state of an identity announced by a peer.
type Advertisement struct {
	Regime  version.Regime
	Vector  version.Vector
	Central uint64
	// Hash is the content hash, empty if the peer does not know it.
	Hash    object.Hash
	Length  int64
	ModTime int64
}

// Stamp returns the advertised version.
func (a Advertisement) Stamp() version.Stamp {
	return version.Stamp{Regime: a.Regime, Vector: a.Vector, Central: a.Central}
}

// Result is the decision of a resolution.
type Result struct {
	Identity object.Identity
	Regime   version.Regime
	// Target is the branch that receives the advertised version.
	Target    object.BranchIndex
	NewBranch bool
	// Delta is the increment persisted on the target branch.
	Delta version.Vector
	// Central is the new counter of the centralized regime.
	Central uint64
	// Delete lists the branches merged into the target.
	Delete []object.BranchIndex
	Hash   object.Hash
	// SkipIO is set when the target already holds the advertised content.
	SkipIO bool
	// CopyFrom names a local branch holding the advertised content when
	// the target does not.
	CopyFrom *object.BranchIndex
	// Stamp is the version of the target once the result is committed.
	Stamp version.Stamp
	// KMLResolved is the portion of the known-missing ledger satisfied
	// by the result.
	KMLResolved      version.Vector
	ClearLocalChange bool

	// Content holds the attributes of the received content. It must be
	// set before Commit unless SkipIO is set.
	Content *object.Branch

	snapshot snapshot
}

// snapshot is the local state a result was computed from.
type snapshot struct {
	branches []object.BranchIndex
	versions map[object.BranchIndex]version.Vector
	central  uint64
}

func takeSnapshot(r catalog.Reader, id object.Identity, bs []object.Branch) (snapshot, error) {
	s := snapshot{versions: make(map[object.BranchIndex]version.Vector, len(bs))}
	for _, b := range bs {
		v, err := r.Version(id, b.Index)
		if err != nil {
			return snapshot{}, err
		}
		s.branches = append(s.branches, b.Index)
		s.versions[b.Index] = v
	}
	c, err := r.CentralVersion(id)
	if err != nil {
		return snapshot{}, err
	}
	s.central = c
	return s, nil
}

// validate checks that the state read within tx is the one the result
// was computed from.
func (s snapshot) validate(tx catalog.Reader, id object.Identity) error {
	bs, err := tx.Branches(id)
	if err != nil {
		return err
	}
	if len(bs) != len(s.branches) {
		return fmt.Errorf("%w: %s: %d branches, resolved with %d", ErrVersionChanged, id, len(bs), len(s.branches))
	}
	for i, b := range bs {
		if b.Index != s.branches[i] {
			return fmt.Errorf("%w: %s: branch set changed", ErrVersionChanged, id)
		}
		v, err := tx.Version(id, b.Index)
		if err != nil {
			return err
		}
		if !v.Equal(s.versions[b.Index]) {
			return fmt.Errorf("%w: %s branch %d: %v, resolved with %v", ErrVersionChanged, id, b.Index, v, s.versions[b.Index])
		}
	}
	c, err := tx.CentralVersion(id)
	if err != nil {
		return err
	}
	if c != s.central {
		return fmt.Errorf("%w: %s: central %d, resolved with %d", ErrVersionChanged, id, c, s.central)
	}
	return nil
}

// Remover removes the physical content of branches once a transaction
// commits.
type Remover interface {
	DeleteBranch(tx catalog.Tx, id object.Identity, idx object.BranchIndex)
}

// Strategy resolves and commits advertisements of one versioning regime.
type Strategy interface {
	Resolve(r catalog.Reader, id object.Identity, adv Advertisement) (*Result, error)
	Commit(tx catalog.Tx, res *Result) error
}

// Dispatcher selects the strategy by the regime of the advertisement.
type Dispatcher struct {
	strategies map[version.Regime]Strategy
}

var _ Strategy = (*Dispatcher)(nil)

// NewDispatcher returns a dispatcher over the legacy and the centralized
// strategies.
func NewDispatcher(rm Remover) *Dispatcher {
	return &Dispatcher{strategies: map[version.Regime]Strategy{
		version.RegimeLegacy:      NewLegacy(rm),
		version.RegimeCentralized: NewCentralized(rm),
	}}
}

func (d *Dispatcher) strategy(r version.Regime) (Strategy, error) {
	s, ok := d.strategies[r]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownRegime, r)
	}
	return s, nil
}

// Resolve returns nil if the local replica already covers the
// advertisement.
func (d *Dispatcher) Resolve(r catalog.Reader, id object.Identity, adv Advertisement) (*Result, error) {
	s, err := d.strategy(adv.Regime)
	if err != nil {
		return nil, err
	}
	return s.Resolve(r, id, adv)
}

func (d *Dispatcher) Commit(tx catalog.Tx, res *Result) error {
	s, err := d.strategy(res.Regime)
	if err != nil {
		return err
	}
	return s.Commit(tx, res)
}

// commitBranches applies the branch changes shared by both regimes.
func commitBranches(tx catalog.Tx, rm Remover, res *Result) error {
	id := res.Identity
	for _, idx := range res.Delete {
		if err := tx.DeleteBranch(id, idx); err != nil {
			return err
		}
		if rm != nil {
			rm.DeleteBranch(tx, id, idx)
		}
	}

	if res.SkipIO {
		return nil
	}
	if res.Content == nil {
		return fmt.Errorf("%w: %s branch %d", errMissingContent, id, res.Target)
	}
	b := *res.Content
	b.Index = res.Target
	return tx.SetContent(id, b)
}

// nextIndex returns the lowest unused branch index.
func nextIndex(bs []object.Branch) object.BranchIndex {
	used := make(map[object.BranchIndex]bool, len(bs))
	for _, b := range bs {
		used[b.Index] = true
	}
	var idx object.BranchIndex
	for used[idx] {
		idx++
	}
	return idx
}
