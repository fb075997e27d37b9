// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package causality_test

import (
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/catalog/leveldb"
	"github.com/ethersphere/replica/pkg/causality"
	"github.com/ethersphere/replica/pkg/logging"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/version"
	"github.com/google/go-cmp/cmp"
)

var (
	devA = object.MustParseDeviceID("00000000-0000-0000-0000-00000000000a")
	devB = object.MustParseDeviceID("00000000-0000-0000-0000-00000000000b")
	devC = object.MustParseDeviceID("00000000-0000-0000-0000-00000000000c")

	hashC = object.HashBytes([]byte("content C"))
	hashD = object.HashBytes([]byte("content D"))
)

type remover struct {
	deleted []object.BranchIndex
}

func (r *remover) DeleteBranch(tx catalog.Tx, _ object.Identity, idx object.BranchIndex) {
	tx.OnCommit(func() { r.deleted = append(r.deleted, idx) })
}

func newCatalog(t *testing.T) catalog.Catalog {
	t.Helper()
	c, err := leveldb.NewInMemory(logging.New(io.Discard, 0))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// setBranch creates a local branch at the provided version.
func setBranch(t *testing.T, c catalog.Catalog, id object.Identity, b object.Branch, v version.Vector) {
	t.Helper()
	err := catalog.Update(c, func(tx catalog.Tx) error {
		if err := tx.SetContent(id, b); err != nil {
			return err
		}
		return tx.AddVersion(id, b.Index, v)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func commit(t *testing.T, c catalog.Catalog, s causality.Strategy, res *causality.Result) {
	t.Helper()
	if !res.SkipIO {
		res.Content = &object.Branch{Length: 9, ModTime: 1, Hash: res.Hash}
	}
	if err := catalog.Update(c, func(tx catalog.Tx) error { return s.Commit(tx, res) }); err != nil {
		t.Fatal(err)
	}
}

func version0(t *testing.T, c catalog.Reader, id object.Identity, idx object.BranchIndex) version.Vector {
	t.Helper()
	v, err := c.Version(id, idx)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestScenarioA_CreateMaster(t *testing.T) {
	c := newCatalog(t)
	s := causality.NewDispatcher(nil)
	id := object.ContentOf(1, object.NewObjectID())
	adv := causality.Advertisement{Vector: version.Of(devA, 1), Hash: hashC, Length: 9}

	res, err := s.Resolve(c, id, adv)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Target != object.MasterBranch || !res.NewBranch || res.SkipIO {
		t.Fatalf("got result %+v, want new master", res)
	}
	if !res.Delta.Equal(version.Of(devA, 1)) {
		t.Fatalf("got delta %v, want {A:1}", res.Delta)
	}
	commit(t, c, s, res)

	b, err := c.Branch(id, object.MasterBranch)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Hash.Equal(hashC) {
		t.Fatalf("got hash %s, want %s", b.Hash, hashC)
	}
	if v := version0(t, c, id, 0); !v.Equal(version.Of(devA, 1)) {
		t.Fatalf("got version %v", v)
	}

	// re-resolving the same advertisement is a no-op
	res, err = s.Resolve(c, id, adv)
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Fatalf("got result %+v after commit, want nil", res)
	}
}

func TestScenarioB_LocalAhead(t *testing.T) {
	c := newCatalog(t)
	s := causality.NewLegacy(nil)
	id := object.ContentOf(1, object.NewObjectID())
	setBranch(t, c, id, object.Branch{Hash: hashC}, version.Of(devA, 2))

	res, err := s.Resolve(c, id, causality.Advertisement{Vector: version.Of(devA, 1), Hash: hashD})
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Fatalf("got result %+v, want nil", res)
	}
	if v := version0(t, c, id, 0); !v.Equal(version.Of(devA, 2)) {
		t.Fatalf("version changed to %v", v)
	}
}

func TestScenarioC_ConflictBranch(t *testing.T) {
	c := newCatalog(t)
	s := causality.NewLegacy(nil)
	id := object.ContentOf(1, object.NewObjectID())
	setBranch(t, c, id, object.Branch{Hash: hashC}, version.Of(devA, 1))

	res, err := s.Resolve(c, id, causality.Advertisement{Vector: version.Of(devB, 1), Hash: hashD})
	if err != nil {
		t.Fatal(err)
	}
	if res.Target != 1 || !res.NewBranch || len(res.Delete) != 0 {
		t.Fatalf("got result %+v, want new conflict branch 1", res)
	}
	commit(t, c, s, res)

	if v := version0(t, c, id, 0); !v.Equal(version.Of(devA, 1)) {
		t.Fatalf("master version changed to %v", v)
	}
	if v := version0(t, c, id, 1); !v.Equal(version.Of(devB, 1)) {
		t.Fatalf("got conflict version %v, want {B:1}", v)
	}
}

func TestScenarioD_MergeWithoutIO(t *testing.T) {
	c := newCatalog(t)
	s := causality.NewLegacy(nil)
	id := object.ContentOf(1, object.NewObjectID())
	setBranch(t, c, id, object.Branch{Length: 9, Hash: hashC}, version.Of(devA, 1))

	res, err := s.Resolve(c, id, causality.Advertisement{Vector: version.Of(devA, 1, devB, 1), Hash: hashC})
	if err != nil {
		t.Fatal(err)
	}
	if res.Target != object.MasterBranch || res.NewBranch || !res.SkipIO {
		t.Fatalf("got result %+v, want merge into master without io", res)
	}
	if diff := cmp.Diff(version.Of(devB, 1), res.Delta); diff != "" {
		t.Fatalf("delta mismatch (-want +got):\n%s", diff)
	}
	commit(t, c, s, res)
	if v := version0(t, c, id, 0); !v.Equal(version.Of(devA, 1, devB, 1)) {
		t.Fatalf("got version %v", v)
	}
}

func TestConcurrentSameHashMerges(t *testing.T) {
	c := newCatalog(t)
	rm := new(remover)
	s := causality.NewLegacy(rm)
	id := object.ContentOf(1, object.NewObjectID())
	setBranch(t, c, id, object.Branch{Index: 0, Hash: hashD}, version.Of(devA, 1))
	setBranch(t, c, id, object.Branch{Index: 1, Hash: hashC}, version.Of(devB, 1))

	// dominates master, concurrent with branch 1 holding the same content
	adv := causality.Advertisement{Vector: version.Of(devA, 2, devC, 1), Hash: hashC}
	res, err := s.Resolve(c, id, adv)
	if err != nil {
		t.Fatal(err)
	}
	if res.Target != 0 || res.SkipIO {
		t.Fatalf("got result %+v, want master target", res)
	}
	if diff := cmp.Diff([]object.BranchIndex{1}, res.Delete); diff != "" {
		t.Fatalf("delete mismatch (-want +got):\n%s", diff)
	}
	if res.CopyFrom == nil || *res.CopyFrom != 1 {
		t.Fatalf("got copy source %v, want branch 1", res.CopyFrom)
	}
	want := version.Of(devA, 2, devB, 1, devC, 1)
	if !res.Stamp.Vector.Equal(want) {
		t.Fatalf("got target version %v, want %v", res.Stamp.Vector, want)
	}
	commit(t, c, s, res)

	bs, _ := c.Branches(id)
	if len(bs) != 1 {
		t.Fatalf("got %d branches, want 1", len(bs))
	}
	if diff := cmp.Diff([]object.BranchIndex{1}, rm.deleted); diff != "" {
		t.Fatalf("physical deletions mismatch (-want +got):\n%s", diff)
	}
	if v := version0(t, c, id, 0); !v.Equal(want) {
		t.Fatalf("got version %v, want %v", v, want)
	}
}

func TestHashRequired(t *testing.T) {
	c := newCatalog(t)
	s := causality.NewLegacy(nil)
	id := object.ContentOf(1, object.NewObjectID())
	setBranch(t, c, id, object.Branch{}, version.Of(devA, 1))

	_, err := s.Resolve(c, id, causality.Advertisement{Vector: version.Of(devB, 1), Hash: hashC})
	var herr *causality.HashRequiredError
	if !errors.As(err, &herr) {
		t.Fatalf("got error %v, want hash required", err)
	}
	if diff := cmp.Diff([]object.BranchIndex{0}, herr.Branches); diff != "" || herr.Remote {
		t.Fatalf("got %+v, want local branch 0", herr)
	}

	err = catalog.Update(c, func(tx catalog.Tx) error { return tx.SetHash(id, 0, hashC) })
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Resolve(c, id, causality.Advertisement{Vector: version.Of(devB, 1)})
	if !errors.As(err, &herr) || !herr.Remote {
		t.Fatalf("got error %v, want remote hash required", err)
	}

	// a stale branch does not need a hash
	res, err := s.Resolve(c, id, causality.Advertisement{Vector: version.Of(devA, 2)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Target != 0 || res.SkipIO {
		t.Fatalf("got result %+v", res)
	}
}

func TestBranchLimit(t *testing.T) {
	c := newCatalog(t)
	s := causality.NewLegacy(nil)
	id := object.ContentOf(1, object.NewObjectID())
	setBranch(t, c, id, object.Branch{Index: 0, Hash: hashC}, version.Of(devA, 1))
	setBranch(t, c, id, object.Branch{Index: 1, Hash: hashD}, version.Of(devB, 1))

	_, err := s.Resolve(c, id, causality.Advertisement{Vector: version.Of(devC, 1), Hash: object.HashBytes([]byte("E"))})
	if !errors.Is(err, catalog.ErrBranchLimit) {
		t.Fatalf("got error %v, want %v", err, catalog.ErrBranchLimit)
	}
}

func TestCommitVersionChanged(t *testing.T) {
	c := newCatalog(t)
	s := causality.NewLegacy(nil)
	id := object.ContentOf(1, object.NewObjectID())
	setBranch(t, c, id, object.Branch{Hash: hashC}, version.Of(devA, 1))

	res, err := s.Resolve(c, id, causality.Advertisement{Vector: version.Of(devA, 2), Hash: hashD})
	if err != nil {
		t.Fatal(err)
	}

	// a local edit lands while the content is transferred
	err = catalog.Update(c, func(tx catalog.Tx) error {
		return tx.AddVersion(id, 0, version.Of(devC, 1))
	})
	if err != nil {
		t.Fatal(err)
	}

	res.Content = &object.Branch{Hash: hashD}
	err = catalog.Update(c, func(tx catalog.Tx) error { return s.Commit(tx, res) })
	if !errors.Is(err, causality.ErrVersionChanged) {
		t.Fatalf("got error %v, want %v", err, causality.ErrVersionChanged)
	}
	b, _ := c.Branch(id, 0)
	if !b.Hash.Equal(hashC) {
		t.Fatal("stale decision was partially applied")
	}
}

func TestCommitShrinksKML(t *testing.T) {
	c := newCatalog(t)
	s := causality.NewLegacy(nil)
	id := object.ContentOf(1, object.NewObjectID())
	err := catalog.Update(c, func(tx catalog.Tx) error {
		return tx.SetKML(id, version.Of(devA, 3, devB, 2))
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Resolve(c, id, causality.Advertisement{Vector: version.Of(devA, 3, devB, 1), Hash: hashC})
	if err != nil {
		t.Fatal(err)
	}
	commit(t, c, s, res)

	kml, _ := c.KML(id)
	if diff := cmp.Diff(version.Of(devB, 2), kml); diff != "" {
		t.Fatalf("kml mismatch (-want +got):\n%s", diff)
	}
}

// TestBranchCountInvariant applies random advertisements and checks that
// no identity ever holds more than the maximum number of branches and
// that committed versions never decrease.
func TestBranchCountInvariant(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	c := newCatalog(t)
	s := causality.NewLegacy(nil)
	id := object.ContentOf(1, object.NewObjectID())
	hashes := []object.Hash{hashC, hashD, object.HashBytes([]byte("E"))}
	devs := []object.DeviceID{devA, devB, devC}

	for i := 0; i < 300; i++ {
		adv := causality.Advertisement{Vector: version.New(), Hash: hashes[r.Intn(len(hashes))]}
		for _, d := range devs {
			adv.Vector.Set(d, version.Tick(r.Intn(4)))
		}

		before := map[object.BranchIndex]version.Vector{}
		bs, _ := c.Branches(id)
		for _, b := range bs {
			before[b.Index] = version0(t, c, id, b.Index)
		}

		res, err := s.Resolve(c, id, adv)
		if err != nil {
			if errors.Is(err, catalog.ErrBranchLimit) {
				continue
			}
			t.Fatal(err)
		}
		if res == nil {
			continue
		}
		commit(t, c, s, res)

		bs, _ = c.Branches(id)
		if len(bs) > object.MaxBranches {
			t.Fatalf("step %d: %d branches", i, len(bs))
		}
		for _, b := range bs {
			if pre, ok := before[b.Index]; ok && !version0(t, c, id, b.Index).Covers(pre) {
				t.Fatalf("step %d: branch %d version decreased", i, b.Index)
			}
		}
		if again, err := s.Resolve(c, id, adv); err != nil || again != nil {
			t.Fatalf("step %d: re-resolve got %+v, %v", i, again, err)
		}
	}
}

func TestNextIndex(t *testing.T) {
	if got := causality.NextIndex(nil); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
	if got := causality.NextIndex([]object.Branch{{Index: 1}}); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
	if got := causality.NextIndex([]object.Branch{{Index: 0}}); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}
