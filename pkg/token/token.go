// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package token implements cooperative, capacity-bounded permissions to
// run. A task holds a token while it mutates state and pauses it around
// blocking I/O so that other tasks of the same category can make
// progress. A task of strictly higher priority preempts the lowest
// priority holder instead of waiting behind it.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethersphere/replica/pkg/logging"
	m "github.com/ethersphere/replica/pkg/metrics"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// ErrPreempted is the cancellation cause of the context of a token whose
// slot was claimed by a higher priority task.
var ErrPreempted = errors.New("token: preempted by higher priority task")

// Category groups tokens that share one capacity.
type Category int

const (
	CategoryClient Category = iota
	CategoryServer
	CategoryHasher
)

func (c Category) String() string {
	switch c {
	case CategoryClient:
		return "client"
	case CategoryServer:
		return "server"
	case CategoryHasher:
		return "hasher"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// DefaultCapacities are used for categories without a configured capacity.
var DefaultCapacities = map[Category]int{
	CategoryClient: 8,
	CategoryServer: 8,
	CategoryHasher: 2,
}

type category struct {
	name     string
	sem      *semaphore.Weighted
	capacity int
	holders  map[*Token]struct{}
	inUse    atomic.Int64
	waiting  atomic.Int64
}

// Manager hands out tokens.
type Manager struct {
	mu      sync.Mutex
	cats    map[Category]*category
	logger  logging.Logger
	metrics metrics
}

// NewManager returns a manager with the provided capacity per category.
func NewManager(capacities map[Category]int, logger logging.Logger) *Manager {
	mgr := &Manager{
		cats:    make(map[Category]*category),
		logger:  logger,
		metrics: newMetrics(),
	}
	for c, n := range DefaultCapacities {
		if v, ok := capacities[c]; ok && v > 0 {
			n = v
		}
		mgr.cats[c] = &category{
			name:     c.String(),
			sem:      semaphore.NewWeighted(int64(n)),
			capacity: n,
			holders:  make(map[*Token]struct{}),
		}
	}
	return mgr
}

// Acquire blocks until a slot of the category is available. The returned
// token's context is derived from ctx and is cancelled with ErrPreempted
// if a higher priority task claims the slot.
func (mgr *Manager) Acquire(ctx context.Context, cat Category, prio object.Priority, reason string) (*Token, error) {
	c, ok := mgr.cats[cat]
	if !ok {
		return nil, fmt.Errorf("token: unknown category %v", cat)
	}

	tctx, cancel := context.WithCancelCause(ctx)
	t := &Token{
		mgr:    mgr,
		cat:    c,
		ctx:    tctx,
		cancel: cancel,
		prio:   prio,
		reason: reason,
	}
	if err := mgr.claim(ctx, t); err != nil {
		cancel(err)
		return nil, err
	}
	mgr.metrics.Acquired.WithLabelValues(c.name).Inc()
	return t, nil
}

// claim takes a slot for t, preempting a lower priority holder if no slot
// is free.
func (mgr *Manager) claim(ctx context.Context, t *Token) error {
	c := t.cat
	if !c.sem.TryAcquire(1) {
		mgr.preempt(c, t.Priority())
		c.waiting.Inc()
		err := c.sem.Acquire(ctx, 1)
		c.waiting.Dec()
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return cause
			}
			return err
		}
	}

	mgr.mu.Lock()
	c.holders[t] = struct{}{}
	t.held = true
	mgr.mu.Unlock()
	c.inUse.Inc()
	return nil
}

func (mgr *Manager) unclaim(t *Token) bool {
	mgr.mu.Lock()
	if !t.held {
		mgr.mu.Unlock()
		return false
	}
	t.held = false
	delete(t.cat.holders, t)
	mgr.mu.Unlock()

	t.cat.inUse.Dec()
	t.cat.sem.Release(1)
	return true
}

// preempt cancels the lowest priority holder with a priority strictly
// below prio. The holder is expected to release its token once its
// operation fails.
func (mgr *Manager) preempt(c *category, prio object.Priority) {
	mgr.mu.Lock()
	var victim *Token
	for t := range c.holders {
		if t.preempted || t.prio >= prio {
			continue
		}
		if victim == nil || t.prio < victim.prio {
			victim = t
		}
	}
	if victim != nil {
		victim.preempted = true
	}
	mgr.mu.Unlock()

	if victim == nil {
		return
	}
	mgr.logger.Debugf("token: preempting %s holder %q (priority %d) for priority %d", c.name, victim.reason, victim.prio, prio)
	mgr.metrics.Preempted.WithLabelValues(c.name).Inc()
	victim.cancel(ErrPreempted)
}

// Stat describes the usage of one category.
type Stat struct {
	Category string `json:"category"`
	Capacity int    `json:"capacity"`
	InUse    int64  `json:"inUse"`
	Waiting  int64  `json:"waiting"`
}

// Stats returns the usage of all categories.
func (mgr *Manager) Stats() []Stat {
	stats := make([]Stat, 0, len(mgr.cats))
	for _, cat := range []Category{CategoryClient, CategoryServer, CategoryHasher} {
		c := mgr.cats[cat]
		stats = append(stats, Stat{
			Category: c.name,
			Capacity: c.capacity,
			InUse:    c.inUse.Load(),
			Waiting:  c.waiting.Load(),
		})
	}
	return stats
}

func (mgr *Manager) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(mgr.metrics)
}

// Token is a permission to run within a category.
type Token struct {
	mgr    *Manager
	cat    *category
	ctx    context.Context
	cancel context.CancelCauseFunc
	reason string

	// guarded by mgr.mu
	prio      object.Priority
	held      bool
	preempted bool
}

// Context returns the context operations under the token must observe.
func (t *Token) Context() context.Context {
	return t.ctx
}

func (t *Token) Priority() object.Priority {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	return t.prio
}

// Raise raises the priority of the token to at least prio.
func (t *Token) Raise(prio object.Priority) {
	if t == nil {
		return
	}
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	if prio > t.prio {
		t.prio = prio
	}
}

// Pause releases the slot while fn runs and reacquires it afterwards.
// A nil token only runs fn.
func (t *Token) Pause(ctx context.Context, fn func() error) error {
	if t == nil {
		return fn()
	}
	released := t.mgr.unclaim(t)
	err := fn()
	if !released {
		return err
	}
	if cerr := t.mgr.claim(ctx, t); cerr != nil {
		return cerr
	}
	return err
}

// Release returns the slot and cancels the token context. It is safe to
// call Release more than once and on a nil token.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.mgr.unclaim(t)
	t.cancel(nil)
}
