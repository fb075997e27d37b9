// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transfer

import (
	"context"
	"fmt"
	"io"

	"github.com/ethersphere/replica/pkg/logging"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/token"
	lru "github.com/hashicorp/golang-lru"
	"resenje.org/singleflight"
)

// DefaultHashCacheSize is the number of content hashes remembered.
const DefaultHashCacheSize = 4096

type hashKey struct {
	id  object.Identity
	idx object.BranchIndex
	sig object.Signature
}

func (k hashKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.id, k.idx, k.sig.Length, k.sig.ModTime)
}

// Hasher computes content hashes of branches. Results are cached per
// physical signature and concurrent requests for the same file share one
// computation.
type Hasher struct {
	src     Source
	tokens  *token.Manager
	cache   *lru.Cache
	group   singleflight.Group
	onHash  func(id object.Identity, idx object.BranchIndex, sig object.Signature, h object.Hash)
	logger  logging.Logger
	metrics hasherMetrics
}

type HasherOptions struct {
	CacheSize int
	// OnHash is called with every computed hash, typically to record it
	// in the catalog.
	OnHash func(id object.Identity, idx object.BranchIndex, sig object.Signature, h object.Hash)
}

func NewHasher(src Source, tokens *token.Manager, o HasherOptions, logger logging.Logger) (*Hasher, error) {
	size := o.CacheSize
	if size <= 0 {
		size = DefaultHashCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Hasher{
		src:     src,
		tokens:  tokens,
		cache:   cache,
		onHash:  o.OnHash,
		logger:  logger,
		metrics: newHasherMetrics(),
	}, nil
}

// Cached returns the hash of the content with the provided signature if
// it was computed before.
func (h *Hasher) Cached(id object.Identity, idx object.BranchIndex, sig object.Signature) (object.Hash, bool) {
	v, ok := h.cache.Get(hashKey{id: id, idx: idx, sig: sig})
	if !ok {
		return nil, false
	}
	h.metrics.HashCacheHits.Inc()
	return v.(object.Hash), true
}

// Hash returns the hash of the content of a branch that is expected to
// have the provided signature.
func (h *Hasher) Hash(ctx context.Context, id object.Identity, idx object.BranchIndex, sig object.Signature) (object.Hash, error) {
	if hash, ok := h.Cached(id, idx, sig); ok {
		return hash, nil
	}

	key := hashKey{id: id, idx: idx, sig: sig}
	v, _, err := h.group.Do(ctx, key.String(), func(ctx context.Context) (interface{}, error) {
		// a computation may have finished since the lookup above
		if v, ok := h.cache.Get(key); ok {
			return v, nil
		}
		var tk *token.Token
		if h.tokens != nil {
			t, err := h.tokens.Acquire(ctx, token.CategoryHasher, object.PriorityDefault, "hash "+id.String())
			if err != nil {
				return nil, err
			}
			defer t.Release()
			tk = t
		}
		return h.compute(ctx, key, tk)
	})
	if err != nil {
		return nil, err
	}
	return v.(object.Hash), nil
}

func (h *Hasher) compute(ctx context.Context, key hashKey, tk *token.Token) (object.Hash, error) {
	f, err := h.src.Open(key.id, key.idx)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := object.NewHasher()
	buf := make([]byte, DefaultChunkSize)
	for {
		var n int
		err := tk.Pause(ctx, func() (err error) {
			n, err = f.Read(buf)
			return err
		})
		_, _ = d.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	sig, err := h.src.Signature(key.id, key.idx)
	if err != nil {
		return nil, err
	}
	if sig != key.sig {
		return nil, fmt.Errorf("%w: %s branch %d while hashing", ErrContentChanged, key.id, key.idx)
	}

	hash := object.Hash(d.Sum(nil))
	h.cache.Add(key, hash)
	h.metrics.HashesComputed.Inc()
	if h.onHash != nil {
		h.onHash(key.id, key.idx, key.sig, hash)
	}
	h.logger.Tracef("transfer: hashed %s branch %d: %s", key.id, key.idx, hash)
	return hash, nil
}
