// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package causality

import "github.com/ethersphere/replica/pkg/object"

var (
	NextIndex      = nextIndex
	Disambiguate   = disambiguate
	ConflictBranch = conflictBranch
)

// SnapshotBranches returns the branches the result was computed from.
func (r *Result) SnapshotBranches() []object.BranchIndex {
	return r.snapshot.branches
}
