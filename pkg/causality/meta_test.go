// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package causality_test

import (
	"errors"
	"testing"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/causality"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/version"
)

const store object.StoreID = 7

var self = object.MustParseDeviceID("00000000-0000-0000-0000-0000000000ff")

func setMeta(t *testing.T, c catalog.Catalog, oid object.ObjectID, m object.Meta, v version.Vector) {
	t.Helper()
	err := catalog.Update(c, func(tx catalog.Tx) error {
		if err := tx.SetMeta(store, oid, m); err != nil {
			return err
		}
		return tx.AddVersion(object.MetaOf(store, oid), object.MasterBranch, v)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func commitMeta(t *testing.T, c catalog.Catalog, mr *causality.MetaResolver, res *causality.MetaResult) {
	t.Helper()
	if err := catalog.Update(c, func(tx catalog.Tx) error { return mr.Commit(tx, res) }); err != nil {
		t.Fatal(err)
	}
}

func TestMetaMissingParent(t *testing.T) {
	c := newCatalog(t)
	mr := causality.NewMetaResolver(self)
	dir, file := object.NewObjectID(), object.NewObjectID()
	adv := causality.MetaAdvertisement{
		Vector: version.Of(devA, 1),
		Meta:   object.Meta{Type: object.TypeFile, Parent: dir, Name: "a.txt"},
	}

	_, err := mr.Resolve(c, store, file, adv, causality.MetaOptions{})
	var perr *causality.PrerequisiteError
	if !errors.As(err, &perr) {
		t.Fatalf("got error %v, want prerequisite", err)
	}
	if perr.Prerequisite != object.MetaOf(store, dir) || perr.Probe {
		t.Fatalf("got prerequisite %+v, want parent", perr)
	}

	// breaking the cycle places the object under the root
	res, err := mr.Resolve(c, store, file, adv, causality.MetaOptions{BreakCycles: true})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Meta.Parent.IsRoot() || res.Meta.Flags&object.FlagOrphaned == 0 {
		t.Fatalf("got meta %+v, want orphan under root", res.Meta)
	}
	commitMeta(t, c, mr, res)
	if got, err := c.Lookup(store, object.Root, "a.txt"); err != nil || got != file {
		t.Fatalf("lookup got %s, %v", got, err)
	}
}

func TestMetaNameCollision(t *testing.T) {
	mr := causality.NewMetaResolver(self)

	lo := object.MustParseObjectID("00000000-0000-0000-0000-000000000001")
	hi := object.MustParseObjectID("ffffffff-0000-0000-0000-000000000001")

	for _, tc := range []struct {
		name     string
		existing object.ObjectID
		incoming object.ObjectID
	}{
		{"incoming keeps name", hi, lo},
		{"incoming renamed", lo, hi},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newCatalog(t)
			setMeta(t, c, tc.existing, object.Meta{Type: object.TypeFile, Parent: object.Root, Name: "x"}, version.Of(devB, 1))
			adv := causality.MetaAdvertisement{
				Vector: version.Of(devA, 1),
				Meta:   object.Meta{Type: object.TypeFile, Parent: object.Root, Name: "x"},
			}

			_, err := mr.Resolve(c, store, tc.incoming, adv, causality.MetaOptions{})
			var perr *causality.PrerequisiteError
			if !errors.As(err, &perr) || !perr.Probe || perr.Prerequisite != object.MetaOf(store, tc.existing) {
				t.Fatalf("got error %v, want probe of the existing object", err)
			}

			probed := func(oid object.ObjectID) bool { return oid == tc.existing }
			res, err := mr.Resolve(c, store, tc.incoming, adv, causality.MetaOptions{Probed: probed})
			if err != nil {
				t.Fatal(err)
			}
			commitMeta(t, c, mr, res)

			winner, err := c.Lookup(store, object.Root, "x")
			if err != nil {
				t.Fatal(err)
			}
			if winner != lo {
				t.Fatalf("name held by %s, want the smaller identifier %s", winner, lo)
			}
			renamed, err := c.Lookup(store, object.Root, causality.Disambiguate("x", hi))
			if err != nil || renamed != hi {
				t.Fatalf("renamed object lookup got %s, %v", renamed, err)
			}
			v, _ := c.Version(object.MetaOf(store, hi), object.MasterBranch)
			if v.Get(self) != 1 {
				t.Fatalf("local rename not recorded in version %v", v)
			}
		})
	}
}

func TestMetaCommitRenamedObjectMoved(t *testing.T) {
	mr := causality.NewMetaResolver(self)

	lo := object.MustParseObjectID("00000000-0000-0000-0000-000000000001")
	hi := object.MustParseObjectID("ffffffff-0000-0000-0000-000000000001")

	for _, tc := range []struct {
		name   string
		change func(tx catalog.Tx) error
	}{
		{
			name: "version",
			change: func(tx catalog.Tx) error {
				return tx.AddVersion(object.MetaOf(store, hi), object.MasterBranch, version.Of(devC, 1))
			},
		},
		{
			name: "metadata",
			change: func(tx catalog.Tx) error {
				return tx.SetMeta(store, hi, object.Meta{Type: object.TypeFile, Parent: object.Root, Name: "y"})
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newCatalog(t)
			setMeta(t, c, hi, object.Meta{Type: object.TypeFile, Parent: object.Root, Name: "x"}, version.Of(devB, 1))
			adv := causality.MetaAdvertisement{
				Vector: version.Of(devA, 1),
				Meta:   object.Meta{Type: object.TypeFile, Parent: object.Root, Name: "x"},
			}
			probed := func(oid object.ObjectID) bool { return oid == hi }
			res, err := mr.Resolve(c, store, lo, adv, causality.MetaOptions{Probed: probed})
			if err != nil {
				t.Fatal(err)
			}
			if res.Rename == nil || res.Rename.Object != hi {
				t.Fatalf("got rename %+v, want %s renamed", res.Rename, hi)
			}

			if err := catalog.Update(c, tc.change); err != nil {
				t.Fatal(err)
			}
			err = catalog.Update(c, func(tx catalog.Tx) error { return mr.Commit(tx, res) })
			if !errors.Is(err, causality.ErrVersionChanged) {
				t.Fatalf("got error %v, want %v", err, causality.ErrVersionChanged)
			}
			if _, err := c.Meta(store, lo); !errors.Is(err, catalog.ErrNotFound) {
				t.Fatalf("incoming metadata applied: %v", err)
			}
			if _, err := c.Lookup(store, object.Root, causality.Disambiguate("x", hi)); !errors.Is(err, catalog.ErrNotFound) {
				t.Fatalf("stale rename applied: %v", err)
			}
		})
	}
}

func TestMetaConcurrent(t *testing.T) {
	c := newCatalog(t)
	mr := causality.NewMetaResolver(self)
	oid := object.NewObjectID()
	setMeta(t, c, oid, object.Meta{Type: object.TypeFile, Parent: object.Root, Name: "local"}, version.Of(devA, 1))

	_, err := mr.Resolve(c, store, oid, causality.MetaAdvertisement{
		Vector: version.Of(devB, 1),
		Meta:   object.Meta{Type: object.TypeDir, Parent: object.Root, Name: "local"},
	}, causality.MetaOptions{})
	if !errors.Is(err, causality.ErrMetaConflict) {
		t.Fatalf("got error %v, want %v", err, causality.ErrMetaConflict)
	}

	// the side with more ticks wins a concurrent rename
	res, err := mr.Resolve(c, store, oid, causality.MetaAdvertisement{
		Vector: version.Of(devB, 2),
		Meta:   object.Meta{Type: object.TypeFile, Parent: object.Root, Name: "remote"},
	}, causality.MetaOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Meta.Name != "remote" {
		t.Fatalf("got name %q, want remote", res.Meta.Name)
	}
	commitMeta(t, c, mr, res)
	v, _ := c.Version(object.MetaOf(store, oid), object.MasterBranch)
	if !v.Equal(version.Of(devA, 1, devB, 2)) {
		t.Fatalf("got version %v", v)
	}

	res, err = mr.Resolve(c, store, oid, causality.MetaAdvertisement{
		Vector: version.Of(devA, 1),
		Meta:   object.Meta{Type: object.TypeFile, Parent: object.Root, Name: "old"},
	}, causality.MetaOptions{})
	if err != nil || res != nil {
		t.Fatalf("got %+v, %v for covered advertisement", res, err)
	}
}
