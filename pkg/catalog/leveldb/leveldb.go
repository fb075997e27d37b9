// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package leveldb implements the object catalog on top of LevelDB.
package leveldb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/logging"
	m "github.com/ethersphere/replica/pkg/metrics"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/syndtr/goleveldb/leveldb"
	ldberr "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	ldbs "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vmihailenco/msgpack/v5"
)

var _ catalog.Catalog = (*Catalog)(nil)

// key namespaces
const (
	prefixStore   = 's'
	prefixBranch  = 'b'
	prefixVersion = 'v'
	prefixCentral = 'c'
	prefixKML     = 'k'
	prefixLocal   = 'l'
	prefixMeta    = 'm'
	prefixName    = 'n'
)

// Options tune the underlying database.
type Options struct {
	BlockCacheCapacity     uint64
	WriteBufferSize        uint64
	OpenFilesCacheCapacity uint64
}

// Catalog uses LevelDB to store the object catalog.
type Catalog struct {
	reader
	db      *leveldb.DB
	logger  logging.Logger
	metrics metrics
}

// NewInMemory returns a catalog backed by memory storage.
func NewInMemory(logger logging.Logger) (*Catalog, error) {
	db, err := leveldb.Open(ldbs.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newCatalog(db, logger), nil
}

// New opens a persistent catalog at path, recovering the database if it
// is corrupted.
func New(path string, o *Options, logger logging.Logger) (*Catalog, error) {
	var lo *opt.Options
	if o != nil {
		lo = &opt.Options{
			BlockCacheCapacity:     int(o.BlockCacheCapacity),
			WriteBuffer:            int(o.WriteBufferSize),
			OpenFilesCacheCapacity: int(o.OpenFilesCacheCapacity),
		}
	}

	db, err := leveldb.OpenFile(path, lo)
	if err != nil {
		if !ldberr.IsCorrupted(err) {
			return nil, err
		}

		logger.Warningf("catalog open failed, attempting recovery: %v", err)
		db, err = leveldb.RecoverFile(path, lo)
		if err != nil {
			return nil, fmt.Errorf("catalog recovery: %w", err)
		}
		logger.Warning("catalog recovery done")
	}

	return newCatalog(db, logger), nil
}

func newCatalog(db *leveldb.DB, logger logging.Logger) *Catalog {
	return &Catalog{
		reader:  reader{g: db},
		db:      db,
		logger:  logger,
		metrics: newMetrics(),
	}
}

// Begin opens a transaction. Only one transaction can be open at a time;
// Begin blocks until the previous one is done.
func (c *Catalog) Begin() (catalog.Tx, error) {
	t, err := c.db.OpenTransaction()
	if err != nil {
		return nil, err
	}
	return &tx{reader: reader{g: t}, t: t, c: c}, nil
}

// Close releases the resources used by the catalog.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(c.metrics)
}

// getter is satisfied by both *leveldb.DB and *leveldb.Transaction.
type getter interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

type reader struct {
	g getter
}

func (r reader) get(key []byte, v interface{}) error {
	data, err := r.g.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return catalog.ErrNotFound
		}
		return err
	}
	return msgpack.Unmarshal(data, v)
}

func (r reader) has(key []byte) (bool, error) {
	_, err := r.g.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r reader) Branches(id object.Identity) ([]object.Branch, error) {
	prefix := identityKey(prefixBranch, id)
	iter := r.g.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	bs := make([]object.Branch, 0, object.MaxBranches)
	for iter.Next() {
		k := iter.Key()
		var rec branchRecord
		if err := msgpack.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode branch %s: %w", id, err)
		}
		idx := object.BranchIndex(binary.BigEndian.Uint16(k[len(prefix):]))
		bs = append(bs, rec.branch(idx))
	}
	return bs, iter.Error()
}

func (r reader) Branch(id object.Identity, idx object.BranchIndex) (object.Branch, error) {
	var rec branchRecord
	if err := r.get(branchKey(prefixBranch, id, idx), &rec); err != nil {
		return object.Branch{}, err
	}
	return rec.branch(idx), nil
}

func (r reader) Version(id object.Identity, idx object.BranchIndex) (version.Vector, error) {
	return r.vector(branchKey(prefixVersion, id, idx))
}

func (r reader) vector(key []byte) (version.Vector, error) {
	var ts []tick
	if err := r.get(key, &ts); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return version.New(), nil
		}
		return nil, err
	}
	return decodeVector(ts)
}

func (r reader) CentralVersion(id object.Identity) (uint64, error) {
	var v uint64
	if err := r.get(identityKey(prefixCentral, id), &v); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

func (r reader) KML(id object.Identity) (version.Vector, error) {
	return r.vector(identityKey(prefixKML, id))
}

func (r reader) HasLocalChange(id object.Identity) (bool, error) {
	return r.has(identityKey(prefixLocal, id))
}

func (r reader) Meta(store object.StoreID, oid object.ObjectID) (object.Meta, error) {
	var rec metaRecord
	if err := r.get(objectKey(prefixMeta, store, oid), &rec); err != nil {
		return object.Meta{}, err
	}
	return rec.meta(), nil
}

func (r reader) Lookup(store object.StoreID, parent object.ObjectID, name string) (object.ObjectID, error) {
	var b []byte
	if err := r.get(nameKey(store, parent, name), &b); err != nil {
		return object.Root, err
	}
	return object.ObjectIDFromBytes(b)
}

func (r reader) StoreExists(store object.StoreID) (bool, error) {
	return r.has(storeKey(store))
}

func (r reader) Expelled(store object.StoreID, oid object.ObjectID) (bool, error) {
	m, err := r.Meta(store, oid)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.Flags&object.FlagExpelled != 0, nil
}

type tx struct {
	reader
	t          *leveldb.Transaction
	c          *Catalog
	mu         sync.Mutex
	done       bool
	onCommit   []func()
	onRollback []func()
}

func (t *tx) put(key []byte, v interface{}) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return t.t.Put(key, data, nil)
}

func (t *tx) AddVersion(id object.Identity, idx object.BranchIndex, delta version.Vector) error {
	key := branchKey(prefixVersion, id, idx)
	cur, err := t.vector(key)
	if err != nil {
		return err
	}
	return t.put(key, encodeVector(cur.Union(delta)))
}

func (t *tx) SetCentralVersion(id object.Identity, v uint64) error {
	cur, err := t.CentralVersion(id)
	if err != nil {
		return err
	}
	if v < cur {
		return fmt.Errorf("%w: %s from %d to %d", catalog.ErrVersionRegression, id, cur, v)
	}
	return t.put(identityKey(prefixCentral, id), v)
}

func (t *tx) SetContent(id object.Identity, b object.Branch) error {
	key := branchKey(prefixBranch, id, b.Index)
	exists, err := t.has(key)
	if err != nil {
		return err
	}
	if !exists {
		bs, err := t.Branches(id)
		if err != nil {
			return err
		}
		if len(bs) >= object.MaxBranches {
			return fmt.Errorf("%w: %s has %d branches", catalog.ErrBranchLimit, id, len(bs))
		}
	}
	return t.put(key, newBranchRecord(b))
}

func (t *tx) SetHash(id object.Identity, idx object.BranchIndex, h object.Hash) error {
	b, err := t.Branch(id, idx)
	if err != nil {
		return err
	}
	b.Hash = h
	return t.put(branchKey(prefixBranch, id, idx), newBranchRecord(b))
}

func (t *tx) DeleteBranch(id object.Identity, idx object.BranchIndex) error {
	if err := t.t.Delete(branchKey(prefixBranch, id, idx), nil); err != nil {
		return err
	}
	return t.t.Delete(branchKey(prefixVersion, id, idx), nil)
}

func (t *tx) SetKML(id object.Identity, v version.Vector) error {
	key := identityKey(prefixKML, id)
	if v.IsZero() {
		return t.t.Delete(key, nil)
	}
	return t.put(key, encodeVector(v))
}

func (t *tx) SetLocalChange(id object.Identity, changed bool) error {
	key := identityKey(prefixLocal, id)
	if !changed {
		return t.t.Delete(key, nil)
	}
	return t.t.Put(key, nil, nil)
}

// SetMeta stores the metadata of an object and keeps the name index of
// its parent directory in sync.
func (t *tx) SetMeta(store object.StoreID, oid object.ObjectID, m object.Meta) error {
	old, err := t.Meta(store, oid)
	switch {
	case err == nil:
		if err := t.t.Delete(nameKey(store, old.Parent, old.Name), nil); err != nil {
			return err
		}
	case !errors.Is(err, catalog.ErrNotFound):
		return err
	}
	if err := t.put(objectKey(prefixMeta, store, oid), newMetaRecord(m)); err != nil {
		return err
	}
	if oid.IsRoot() {
		return nil
	}
	return t.put(nameKey(store, m.Parent, m.Name), oid.Bytes())
}

func (t *tx) CreateStore(store object.StoreID) error {
	return t.t.Put(storeKey(store), nil, nil)
}

func (t *tx) DeleteStore(store object.StoreID) error {
	return t.t.Delete(storeKey(store), nil)
}

func (t *tx) OnCommit(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCommit = append(t.onCommit, f)
}

func (t *tx) OnRollback(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRollback = append(t.onRollback, f)
}

func (t *tx) finish() ([]func(), []func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, nil, catalog.ErrTxDone
	}
	t.done = true
	return t.onCommit, t.onRollback, nil
}

func (t *tx) Commit() error {
	onCommit, onRollback, err := t.finish()
	if err != nil {
		return err
	}
	if err := t.t.Commit(); err != nil {
		t.t.Discard()
		t.c.metrics.RolledBack.Inc()
		run(onRollback)
		return fmt.Errorf("commit: %w", err)
	}
	t.c.metrics.Committed.Inc()
	run(onCommit)
	return nil
}

func (t *tx) Rollback() error {
	_, onRollback, err := t.finish()
	if err != nil {
		return err
	}
	t.t.Discard()
	t.c.metrics.RolledBack.Inc()
	run(onRollback)
	return nil
}

// run calls hooks in reverse registration order.
func run(fs []func()) {
	for i := len(fs) - 1; i >= 0; i-- {
		fs[i]()
	}
}

func storeKey(store object.StoreID) []byte {
	k := make([]byte, 5)
	k[0] = prefixStore
	binary.BigEndian.PutUint32(k[1:], uint32(store))
	return k
}

func objectKey(prefix byte, store object.StoreID, oid object.ObjectID) []byte {
	k := make([]byte, 0, 21)
	k = append(k, prefix)
	k = binary.BigEndian.AppendUint32(k, uint32(store))
	return append(k, oid[:]...)
}

func identityKey(prefix byte, id object.Identity) []byte {
	return append(objectKey(prefix, id.Store, id.Object), byte(id.Kind))
}

func branchKey(prefix byte, id object.Identity, idx object.BranchIndex) []byte {
	return binary.BigEndian.AppendUint16(identityKey(prefix, id), uint16(idx))
}

func nameKey(store object.StoreID, parent object.ObjectID, name string) []byte {
	return append(objectKey(prefixName, store, parent), name...)
}
