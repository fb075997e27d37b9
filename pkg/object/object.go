// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package object contains the most basic concepts shared by the
// reconciliation packages: device and object identifiers, the identity
// of a reconciled unit, branches and content hashes.
package object

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"

	"github.com/google/uuid"
)

const (
	// MasterBranch is the canonical branch of every object.
	MasterBranch BranchIndex = 0
	// MaxBranches is the maximum number of live branches of one identity:
	// the master branch and at most one conflict branch.
	MaxBranches = 2
	// HashSize is the length of a content hash in bytes.
	HashSize = sha256.Size
)

var (
	// NewHasher returns the hash function used for content hashes.
	NewHasher func() hash.Hash = sha256.New

	ErrInvalidID = errors.New("invalid identifier")
)

// DeviceID identifies a device taking part in synchronization. Devices are
// the peers that objects are fetched from.
type DeviceID [16]byte

// ZeroDevice is the device identifier that has no value.
var ZeroDevice DeviceID

// NewDeviceID returns a new random device identifier.
func NewDeviceID() DeviceID {
	return DeviceID(uuid.New())
}

// ParseDeviceID parses the canonical string form of a device identifier.
func ParseDeviceID(s string) (DeviceID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ZeroDevice, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return DeviceID(u), nil
}

// MustParseDeviceID is like ParseDeviceID but panics on error.
func MustParseDeviceID(s string) DeviceID {
	d, err := ParseDeviceID(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DeviceIDFromBytes constructs a device identifier from its binary form.
func DeviceIDFromBytes(b []byte) (DeviceID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return ZeroDevice, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return DeviceID(u), nil
}

func (d DeviceID) String() string {
	return uuid.UUID(d).String()
}

func (d DeviceID) Bytes() []byte {
	b := make([]byte, len(d))
	copy(b, d[:])
	return b
}

func (d DeviceID) IsZero() bool {
	return d == ZeroDevice
}

// Less defines the canonical order of device identifiers.
func (d DeviceID) Less(o DeviceID) bool {
	return bytes.Compare(d[:], o[:]) < 0
}

func (d DeviceID) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DeviceID) UnmarshalJSON(b []byte) (err error) {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*d, err = ParseDeviceID(s)
	return err
}

// StoreID identifies a synchronized store (a shared folder).
type StoreID uint32

// ObjectID identifies a file or a directory within a store.
type ObjectID [16]byte

// Root is the identifier of the root directory of every store.
var Root ObjectID

// NewObjectID returns a new random object identifier.
func NewObjectID() ObjectID {
	return ObjectID(uuid.New())
}

// ParseObjectID parses the canonical string form of an object identifier.
func ParseObjectID(s string) (ObjectID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Root, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return ObjectID(u), nil
}

// MustParseObjectID is like ParseObjectID but panics on error.
func MustParseObjectID(s string) ObjectID {
	o, err := ParseObjectID(s)
	if err != nil {
		panic(err)
	}
	return o
}

// ObjectIDFromBytes constructs an object identifier from its binary form.
func ObjectIDFromBytes(b []byte) (ObjectID, error) {
	if len(b) == 0 {
		return Root, nil
	}
	u, err := uuid.FromBytes(b)
	if err != nil {
		return Root, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return ObjectID(u), nil
}

func (o ObjectID) String() string {
	return uuid.UUID(o).String()
}

func (o ObjectID) Bytes() []byte {
	b := make([]byte, len(o))
	copy(b, o[:])
	return b
}

func (o ObjectID) IsRoot() bool {
	return o == Root
}

// Less defines the canonical order of object identifiers.
func (o ObjectID) Less(p ObjectID) bool {
	return bytes.Compare(o[:], p[:]) < 0
}

func (o ObjectID) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// Kind is the component of an object that is reconciled as one unit.
type Kind uint8

const (
	KindMeta Kind = iota
	KindContent
)

func (k Kind) String() string {
	switch k {
	case KindMeta:
		return "meta"
	case KindContent:
		return "content"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Identity is the unit of reconciliation.
type Identity struct {
	Store  StoreID
	Object ObjectID
	Kind   Kind
}

// MetaOf returns the metadata identity of an object.
func MetaOf(store StoreID, oid ObjectID) Identity {
	return Identity{Store: store, Object: oid, Kind: KindMeta}
}

// ContentOf returns the content identity of an object.
func ContentOf(store StoreID, oid ObjectID) Identity {
	return Identity{Store: store, Object: oid, Kind: KindContent}
}

func (i Identity) String() string {
	return fmt.Sprintf("%d:%s:%s", i.Store, i.Object, i.Kind)
}

func (i Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// BranchIndex is the index of a branch within an identity.
type BranchIndex uint16

func (b BranchIndex) IsMaster() bool {
	return b == MasterBranch
}

// Hash is a content hash.
type Hash []byte

// HashBytes returns the content hash of data.
func HashBytes(data []byte) Hash {
	h := NewHasher()
	_, _ = h.Write(data)
	return h.Sum(nil)
}

func (h Hash) Equal(o Hash) bool {
	return bytes.Equal(h, o)
}

func (h Hash) IsZero() bool {
	return len(h) == 0
}

func (h Hash) String() string {
	if h.IsZero() {
		return "<unknown>"
	}
	return hex.EncodeToString(h)
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

// Signature is the (length, modification time) pair that identifies
// a physical file revision. A change of signature means the file was
// modified outside of the synchronization process.
type Signature struct {
	Length  int64
	ModTime int64
}

func (s Signature) String() string {
	return fmt.Sprintf("len=%d mtime=%d", s.Length, s.ModTime)
}

// Branch is one content variant of an identity.
type Branch struct {
	Index   BranchIndex
	Length  int64
	ModTime int64
	Hash    Hash
}

// Signature returns the physical signature the catalog expects for the branch.
func (b Branch) Signature() Signature {
	return Signature{Length: b.Length, ModTime: b.ModTime}
}

// ObjectType is the type of a synchronized object.
type ObjectType uint8

const (
	TypeFile ObjectType = iota
	TypeDir
	TypeAnchor
)

func (t ObjectType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDir:
		return "dir"
	case TypeAnchor:
		return "anchor"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Meta flags.
const (
	FlagExpelled uint32 = 1 << iota
	FlagOrphaned
)

// Meta is the structural metadata of an object.
type Meta struct {
	Type        ObjectType
	Parent      ObjectID
	Name        string
	Flags       uint32
	AliasTarget ObjectID
}

// Priority orders competing fetches. Higher values win.
type Priority int

const (
	PriorityLow     Priority = -1
	PriorityDefault Priority = 0
	PriorityHigh    Priority = 1
)
