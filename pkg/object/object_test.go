// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package object_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethersphere/replica/pkg/object"
)

func TestDeviceID(t *testing.T) {
	d := object.NewDeviceID()

	parsed, err := object.ParseDeviceID(d.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != d {
		t.Fatalf("got %s, want %s", parsed, d)
	}

	fromBytes, err := object.DeviceIDFromBytes(d.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if fromBytes != d {
		t.Fatalf("got %s, want %s", fromBytes, d)
	}

	if _, err := object.ParseDeviceID("device"); !errors.Is(err, object.ErrInvalidID) {
		t.Fatalf("got error %v, want %v", err, object.ErrInvalidID)
	}
	if _, err := object.DeviceIDFromBytes([]byte{1, 2}); !errors.Is(err, object.ErrInvalidID) {
		t.Fatalf("got error %v, want %v", err, object.ErrInvalidID)
	}
	if !object.ZeroDevice.IsZero() || d.IsZero() {
		t.Fatal("only the zero device is zero")
	}
}

func TestDeviceIDJSON(t *testing.T) {
	d := object.MustParseDeviceID("00000000-0000-0000-0000-00000000000a")

	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), `"00000000-0000-0000-0000-00000000000a"`; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}

	var got object.DeviceID
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got != d {
		t.Fatalf("got %s, want %s", got, d)
	}
	if err := json.Unmarshal([]byte(`"x"`), &got); err == nil {
		t.Fatal("expected error")
	}
}

func TestObjectIDFromBytes(t *testing.T) {
	root, err := object.ObjectIDFromBytes(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !root.IsRoot() {
		t.Fatalf("got %s, want root", root)
	}

	oid := object.NewObjectID()
	got, err := object.ObjectIDFromBytes(oid.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if got != oid {
		t.Fatalf("got %s, want %s", got, oid)
	}
}

func TestIdentity(t *testing.T) {
	oid := object.MustParseObjectID("00000000-0000-0000-0000-000000000001")

	if got, want := object.ContentOf(3, oid).String(), "3:00000000-0000-0000-0000-000000000001:content"; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
	if object.MetaOf(3, oid) == object.ContentOf(3, oid) {
		t.Fatal("meta and content identities must differ")
	}
}

func TestHash(t *testing.T) {
	h := object.HashBytes([]byte("hello"))
	if len(h) != object.HashSize {
		t.Fatalf("got hash length %d, want %d", len(h), object.HashSize)
	}
	if !h.Equal(object.HashBytes([]byte("hello"))) {
		t.Fatal("hash is not deterministic")
	}
	if h.Equal(object.HashBytes([]byte("hellp"))) {
		t.Fatal("different data has the same hash")
	}

	var unknown object.Hash
	if !unknown.IsZero() || unknown.String() != "<unknown>" {
		t.Fatalf("got %q for unknown hash", unknown.String())
	}
}

func TestBranchSignature(t *testing.T) {
	b := object.Branch{Index: 1, Length: 10, ModTime: 20}
	if got, want := b.Signature(), (object.Signature{Length: 10, ModTime: 20}); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if b.Index.IsMaster() || !object.MasterBranch.IsMaster() {
		t.Fatal("only branch zero is the master branch")
	}
}
