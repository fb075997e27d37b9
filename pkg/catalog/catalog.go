// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package catalog defines the transactional object catalog: branch
// attributes, per-branch versions, the known-missing-local ledger and the
// structural metadata of every synchronized object.
package catalog

import (
	"errors"

	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/version"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrBranchLimit is returned when a branch would be created on an
	// identity that already has the maximum number of live branches.
	ErrBranchLimit = errors.New("catalog: branch limit exceeded")
	// ErrVersionRegression is returned when a committed version would
	// move backwards.
	ErrVersionRegression = errors.New("catalog: version regression")
	// ErrTxDone is returned by operations on a committed or rolled back
	// transaction.
	ErrTxDone = errors.New("catalog: transaction done")
)

// Reader provides read access to the catalog.
type Reader interface {
	// Branches returns the live branches of an identity in canonical
	// order, the master branch first. An identity with no branches
	// returns an empty slice.
	Branches(id object.Identity) ([]object.Branch, error)
	Branch(id object.Identity, idx object.BranchIndex) (object.Branch, error)
	// Version returns the version vector of a branch. A missing branch
	// has an empty version.
	Version(id object.Identity, idx object.BranchIndex) (version.Vector, error)
	CentralVersion(id object.Identity) (uint64, error)
	// KML returns the versions known to exist remotely that were not
	// fetched yet.
	KML(id object.Identity) (version.Vector, error)
	HasLocalChange(id object.Identity) (bool, error)
	Meta(store object.StoreID, oid object.ObjectID) (object.Meta, error)
	// Lookup returns the object holding name within the parent directory.
	Lookup(store object.StoreID, parent object.ObjectID, name string) (object.ObjectID, error)
	StoreExists(store object.StoreID) (bool, error)
	Expelled(store object.StoreID, oid object.ObjectID) (bool, error)
}

// Tx is an atomic catalog transaction. Reads within the transaction
// observe its own writes.
type Tx interface {
	Reader

	// AddVersion unions delta into the version of a branch.
	AddVersion(id object.Identity, idx object.BranchIndex, delta version.Vector) error
	SetCentralVersion(id object.Identity, v uint64) error
	// SetContent creates or updates the attributes of a branch. Creating
	// a branch beyond the limit fails with ErrBranchLimit.
	SetContent(id object.Identity, b object.Branch) error
	SetHash(id object.Identity, idx object.BranchIndex, h object.Hash) error
	// DeleteBranch removes a branch together with its version.
	DeleteBranch(id object.Identity, idx object.BranchIndex) error
	SetKML(id object.Identity, v version.Vector) error
	SetLocalChange(id object.Identity, changed bool) error
	SetMeta(store object.StoreID, oid object.ObjectID, m object.Meta) error
	CreateStore(store object.StoreID) error
	DeleteStore(store object.StoreID) error

	// OnCommit registers a function called after a successful commit.
	OnCommit(func())
	// OnRollback registers a function called after a rollback or a
	// failed commit.
	OnRollback(func())

	Commit() error
	Rollback() error
}

// Catalog is the transactional object catalog.
type Catalog interface {
	Reader
	Begin() (Tx, error)
	Close() error
}

// Update runs fn inside a transaction, committing if fn returns nil and
// rolling back otherwise.
func Update(c Catalog, fn func(Tx) error) error {
	tx, err := c.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
