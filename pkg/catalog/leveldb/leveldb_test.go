// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leveldb_test

import (
	"errors"
	"io"
	"testing"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/catalog/leveldb"
	"github.com/ethersphere/replica/pkg/logging"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/version"
	"github.com/google/go-cmp/cmp"
)

var (
	devA = object.MustParseDeviceID("00000000-0000-0000-0000-00000000000a")
	devB = object.MustParseDeviceID("00000000-0000-0000-0000-00000000000b")
)

func newCatalog(t *testing.T) *leveldb.Catalog {
	t.Helper()
	c, err := leveldb.NewInMemory(logging.New(io.Discard, 0))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestBranches(t *testing.T) {
	c := newCatalog(t)
	id := object.ContentOf(1, object.NewObjectID())

	bs, err := c.Branches(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(bs) != 0 {
		t.Fatalf("got %d branches, want none", len(bs))
	}

	h := object.HashBytes([]byte("conflict"))
	err = catalog.Update(c, func(tx catalog.Tx) error {
		// created out of order on purpose
		if err := tx.SetContent(id, object.Branch{Index: 1, Length: 8, ModTime: 2, Hash: h}); err != nil {
			return err
		}
		return tx.SetContent(id, object.Branch{Index: object.MasterBranch, Length: 4, ModTime: 1})
	})
	if err != nil {
		t.Fatal(err)
	}

	bs, err = c.Branches(id)
	if err != nil {
		t.Fatal(err)
	}
	want := []object.Branch{
		{Index: 0, Length: 4, ModTime: 1},
		{Index: 1, Length: 8, ModTime: 2, Hash: h},
	}
	if diff := cmp.Diff(want, bs); diff != "" {
		t.Fatalf("branches mismatch (-want +got):\n%s", diff)
	}

	err = catalog.Update(c, func(tx catalog.Tx) error {
		return tx.SetContent(id, object.Branch{Index: 2})
	})
	if !errors.Is(err, catalog.ErrBranchLimit) {
		t.Fatalf("got error %v, want %v", err, catalog.ErrBranchLimit)
	}

	// updating an existing branch is not limited
	err = catalog.Update(c, func(tx catalog.Tx) error {
		return tx.SetContent(id, object.Branch{Index: 1, Length: 9})
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestVersions(t *testing.T) {
	c := newCatalog(t)
	id := object.ContentOf(1, object.NewObjectID())

	err := catalog.Update(c, func(tx catalog.Tx) error {
		if err := tx.AddVersion(id, 0, version.Of(devA, 2)); err != nil {
			return err
		}
		// reads within the transaction see its own writes
		v, err := tx.Version(id, 0)
		if err != nil {
			return err
		}
		if !v.Equal(version.Of(devA, 2)) {
			t.Errorf("got version %v within tx", v)
		}
		return tx.AddVersion(id, 0, version.Of(devA, 1, devB, 3))
	})
	if err != nil {
		t.Fatal(err)
	}

	v, err := c.Version(id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(version.Of(devA, 2, devB, 3)) {
		t.Fatalf("got version %v, want union", v)
	}

	err = catalog.Update(c, func(tx catalog.Tx) error {
		return tx.SetCentralVersion(id, 7)
	})
	if err != nil {
		t.Fatal(err)
	}
	err = catalog.Update(c, func(tx catalog.Tx) error {
		return tx.SetCentralVersion(id, 6)
	})
	if !errors.Is(err, catalog.ErrVersionRegression) {
		t.Fatalf("got error %v, want %v", err, catalog.ErrVersionRegression)
	}
	if cv, _ := c.CentralVersion(id); cv != 7 {
		t.Fatalf("got central version %d, want 7", cv)
	}

	err = catalog.Update(c, func(tx catalog.Tx) error {
		if err := tx.SetKML(id, version.Of(devB, 4)); err != nil {
			return err
		}
		return tx.SetLocalChange(id, true)
	})
	if err != nil {
		t.Fatal(err)
	}
	kml, _ := c.KML(id)
	if !kml.Equal(version.Of(devB, 4)) {
		t.Fatalf("got kml %v", kml)
	}
	if ok, _ := c.HasLocalChange(id); !ok {
		t.Fatal("expected local change")
	}

	err = catalog.Update(c, func(tx catalog.Tx) error {
		return tx.DeleteBranch(id, 0)
	})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := c.Version(id, 0); !v.IsZero() {
		t.Fatalf("got version %v of deleted branch", v)
	}
}

func TestMeta(t *testing.T) {
	c := newCatalog(t)
	const store object.StoreID = 3
	dir := object.NewObjectID()
	file := object.NewObjectID()

	err := catalog.Update(c, func(tx catalog.Tx) error {
		if err := tx.CreateStore(store); err != nil {
			return err
		}
		if err := tx.SetMeta(store, dir, object.Meta{Type: object.TypeDir, Parent: object.Root, Name: "docs"}); err != nil {
			return err
		}
		return tx.SetMeta(store, file, object.Meta{Type: object.TypeFile, Parent: dir, Name: "a.txt"})
	})
	if err != nil {
		t.Fatal(err)
	}

	if ok, _ := c.StoreExists(store); !ok {
		t.Fatal("store does not exist")
	}
	got, err := c.Lookup(store, dir, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != file {
		t.Fatalf("lookup got %s, want %s", got, file)
	}

	// renaming drops the old name from the index
	err = catalog.Update(c, func(tx catalog.Tx) error {
		return tx.SetMeta(store, file, object.Meta{Type: object.TypeFile, Parent: dir, Name: "b.txt", Flags: object.FlagExpelled})
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Lookup(store, dir, "a.txt"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("got error %v, want %v", err, catalog.ErrNotFound)
	}
	m, err := c.Meta(store, file)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(object.Meta{Type: object.TypeFile, Parent: dir, Name: "b.txt", Flags: object.FlagExpelled}, m); diff != "" {
		t.Fatalf("meta mismatch (-want +got):\n%s", diff)
	}
	if ok, _ := c.Expelled(store, file); !ok {
		t.Fatal("expected object to be expelled")
	}
	if _, err := c.Meta(store, object.NewObjectID()); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("got error %v, want %v", err, catalog.ErrNotFound)
	}
}

func TestHooks(t *testing.T) {
	c := newCatalog(t)
	id := object.ContentOf(1, object.NewObjectID())

	var calls []string
	tx, err := c.Begin()
	if err != nil {
		t.Fatal(err)
	}
	tx.OnCommit(func() { calls = append(calls, "commit-1") })
	tx.OnCommit(func() { calls = append(calls, "commit-2") })
	tx.OnRollback(func() { calls = append(calls, "rollback") })
	if err := tx.SetContent(id, object.Branch{}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); !errors.Is(err, catalog.ErrTxDone) {
		t.Fatalf("got error %v, want %v", err, catalog.ErrTxDone)
	}
	if diff := cmp.Diff([]string{"commit-2", "commit-1"}, calls); diff != "" {
		t.Fatalf("hooks mismatch (-want +got):\n%s", diff)
	}

	calls = nil
	errFailed := errors.New("failed")
	err = catalog.Update(c, func(tx catalog.Tx) error {
		tx.OnCommit(func() { calls = append(calls, "commit") })
		tx.OnRollback(func() { calls = append(calls, "rollback") })
		if err := tx.DeleteBranch(id, 0); err != nil {
			return err
		}
		return errFailed
	})
	if !errors.Is(err, errFailed) {
		t.Fatalf("got error %v, want %v", err, errFailed)
	}
	if diff := cmp.Diff([]string{"rollback"}, calls); diff != "" {
		t.Fatalf("hooks mismatch (-want +got):\n%s", diff)
	}
	if bs, _ := c.Branches(id); len(bs) != 1 {
		t.Fatalf("rolled back delete removed the branch")
	}
}

func TestPersistent(t *testing.T) {
	dir := t.TempDir()
	id := object.MetaOf(1, object.NewObjectID())
	logger := logging.New(io.Discard, 0)

	c, err := leveldb.New(dir, &leveldb.Options{BlockCacheCapacity: 1 << 20}, logger)
	if err != nil {
		t.Fatal(err)
	}
	err = catalog.Update(c, func(tx catalog.Tx) error {
		return tx.AddVersion(id, 0, version.Of(devA, 5))
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c, err = leveldb.New(dir, nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	v, err := c.Version(id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(version.Of(devA, 5)) {
		t.Fatalf("got version %v after reopen", v)
	}
	if n := len(c.Metrics()); n != 2 {
		t.Fatalf("got %d collectors, want 2", n)
	}
}
