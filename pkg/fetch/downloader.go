// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/causality"
	"github.com/ethersphere/replica/pkg/depgraph"
	"github.com/ethersphere/replica/pkg/logging"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/p2p"
	"github.com/ethersphere/replica/pkg/physical"
	"github.com/ethersphere/replica/pkg/token"
	"github.com/ethersphere/replica/pkg/tracing"
	"github.com/ethersphere/replica/pkg/transfer"
)

const (
	DefaultRetryDelay          = 100 * time.Millisecond
	DefaultMaxRetryDelay       = 10 * time.Second
	DefaultMaxTransientRetries = 5
	DefaultMaxHashMismatches   = 2
	DefaultRoundTimeout        = 5 * time.Minute

	maxPrerequisites = 32
	// maxImmediateRetries bounds the retries without delay after the
	// local version changed during a round.
	maxImmediateRetries = 8
)

// State is the state of a fetch task.
type State int

const (
	StateCreated State = iota
	StateRequestSent
	StateRetry
	StatePrerequisiteNeeded
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRequestSent:
		return "request-sent"
	case StateRetry:
		return "retry"
	case StatePrerequisiteNeeded:
		return "prerequisite-needed"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Options struct {
	Self     object.DeviceID
	Streamer p2p.Streamer
	Catalog  catalog.Catalog
	Store    *physical.Store
	Hasher   *transfer.Hasher
	Tokens   *token.Manager
	// Breaker is handed every dependency cycle. The default breaker
	// makes the task that closed the cycle place orphaned objects under
	// the store root instead of waiting for their parents.
	Breaker depgraph.Breaker
	Tracer  *tracing.Tracer

	RetryDelay          time.Duration
	MaxRetryDelay       time.Duration
	MaxTransientRetries int
	MaxHashMismatches   int
	RoundTimeout        time.Duration

	Logger logging.Logger
}

// Downloader runs fetch tasks. All task state, the task registry and the
// dependency graph are guarded by one mutex.
type Downloader struct {
	streamer p2p.Streamer
	catalog  catalog.Catalog
	store    *physical.Store
	hasher   *transfer.Hasher
	tokens   *token.Manager
	resolver *causality.Dispatcher
	meta     *causality.MetaResolver
	receiver *transfer.Receiver
	breaker  depgraph.Breaker
	tracer   *tracing.Tracer

	retryDelay          time.Duration
	maxRetryDelay       time.Duration
	maxTransientRetries int
	maxHashMismatches   int
	roundTimeout        time.Duration

	mu     sync.Mutex
	tasks  map[object.Identity]*task
	graph  *depgraph.Graph
	closed bool

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	logger  logging.Logger
	metrics metrics
}

type task struct {
	id         object.Identity
	prio       object.Priority
	state      State
	candidates []object.DeviceID
	cursor     int
	excluded   map[object.DeviceID]bool
	reasons    map[object.DeviceID]error
	transient  map[object.DeviceID]int
	mismatches map[object.DeviceID]int
	listeners  []Listener
	token      *token.Token
	attempts   int
	immediate  int
	// probed holds the objects whose metadata was fetched to settle a
	// name collision.
	probed        map[object.ObjectID]bool
	breakCycles   bool
	prerequisites int
	created       time.Time
}

func New(o Options) *Downloader {
	ctx, cancel := context.WithCancelCause(context.Background())
	d := &Downloader{
		streamer:            o.Streamer,
		catalog:             o.Catalog,
		store:               o.Store,
		hasher:              o.Hasher,
		tokens:              o.Tokens,
		resolver:            causality.NewDispatcher(o.Store),
		meta:                causality.NewMetaResolver(o.Self),
		receiver:            transfer.NewReceiver(o.Logger),
		breaker:             o.Breaker,
		tracer:              o.Tracer,
		retryDelay:          o.RetryDelay,
		maxRetryDelay:       o.MaxRetryDelay,
		maxTransientRetries: o.MaxTransientRetries,
		maxHashMismatches:   o.MaxHashMismatches,
		roundTimeout:        o.RoundTimeout,
		tasks:               make(map[object.Identity]*task),
		graph:               depgraph.New(),
		ctx:                 ctx,
		cancel:              cancel,
		logger:              o.Logger,
		metrics:             newMetrics(),
	}
	if d.breaker == nil {
		d.breaker = depgraph.BreakerFunc(d.BreakCycle)
	}
	if d.retryDelay <= 0 {
		d.retryDelay = DefaultRetryDelay
	}
	if d.maxRetryDelay <= 0 {
		d.maxRetryDelay = DefaultMaxRetryDelay
	}
	if d.maxTransientRetries <= 0 {
		d.maxTransientRetries = DefaultMaxTransientRetries
	}
	if d.maxHashMismatches <= 0 {
		d.maxHashMismatches = DefaultMaxHashMismatches
	}
	if d.roundTimeout <= 0 {
		d.roundTimeout = DefaultRoundTimeout
	}
	return d
}

// Fetch starts fetching an identity from the candidate peers, or merges
// the request into the live task for the identity. The outcome is
// delivered to the listener.
func (d *Downloader) Fetch(id object.Identity, peers []object.DeviceID, prio object.Priority, l Listener) error {
	if len(peers) == 0 {
		return fmt.Errorf("%w: %s", ErrNoCandidates, id)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	if t, ok := d.tasks[id]; ok {
		t.addCandidates(peers)
		if prio > t.prio {
			t.prio = prio
			t.token.Raise(prio)
		}
		if l != nil {
			t.listeners = append(t.listeners, l)
		}
		d.metrics.Coalesced.Inc()
		return nil
	}

	t := &task{
		id:         id,
		prio:       prio,
		state:      StateCreated,
		excluded:   make(map[object.DeviceID]bool),
		reasons:    make(map[object.DeviceID]error),
		transient:  make(map[object.DeviceID]int),
		mismatches: make(map[object.DeviceID]int),
		probed:     make(map[object.ObjectID]bool),
		created:    time.Now(),
	}
	t.addCandidates(peers)
	if l != nil {
		t.listeners = append(t.listeners, l)
	}
	d.tasks[id] = t
	d.metrics.Tasks.Inc()
	d.metrics.ActiveTasks.Inc()

	d.wg.Add(1)
	go d.run(t)
	return nil
}

type outcome struct {
	peer object.DeviceID
	err  error
}

// FetchSync fetches an identity and blocks until the fetch is resolved or
// ctx is done. It returns the peer the identity was fetched from.
func (d *Downloader) FetchSync(ctx context.Context, id object.Identity, peers []object.DeviceID, prio object.Priority) (object.DeviceID, error) {
	c := make(chan outcome, 1)
	err := d.Fetch(id, peers, prio, ListenerFuncs{
		Success: func(_ object.Identity, peer object.DeviceID) {
			c <- outcome{peer: peer}
		},
		Failure: func(_ object.Identity, err error) {
			c <- outcome{err: err}
		},
	})
	if err != nil {
		return object.ZeroDevice, err
	}

	select {
	case o := <-c:
		return o.peer, o.err
	case <-ctx.Done():
		return object.ZeroDevice, ctx.Err()
	}
}

func (t *task) addCandidates(peers []object.DeviceID) {
next:
	for _, p := range peers {
		for _, c := range t.candidates {
			if c == p {
				continue next
			}
		}
		t.candidates = append(t.candidates, p)
	}
}

// remaining returns the candidates that were not excluded, starting with
// first if it is one of them.
func (t *task) remaining(first object.DeviceID) []object.DeviceID {
	peers := make([]object.DeviceID, 0, len(t.candidates))
	if !t.excluded[first] {
		peers = append(peers, first)
	}
	for _, p := range t.candidates {
		if p != first && !t.excluded[p] {
			peers = append(peers, p)
		}
	}
	return peers
}

func (d *Downloader) run(t *task) {
	defer d.wg.Done()

	peer, err := d.loop(t)

	d.mu.Lock()
	t.state = StateDone
	delete(d.tasks, t.id)
	listeners := t.listeners
	d.mu.Unlock()
	d.metrics.ActiveTasks.Dec()

	if err != nil {
		d.metrics.Failed.Inc()
		d.logger.Debugf("fetch: %s failed: %v", t.id, err)
		for _, l := range listeners {
			l.OnFailure(t.id, err)
		}
		return
	}
	d.metrics.Succeeded.Inc()
	d.logger.Tracef("fetch: %s fetched from %s", t.id, peer)
	for _, l := range listeners {
		l.OnSuccess(t.id, peer)
	}
}

// next returns the next candidate that was not excluded.
func (d *Downloader) next(t *task) (object.DeviceID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := 0; i < len(t.candidates); i++ {
		p := t.candidates[(t.cursor+i)%len(t.candidates)]
		if !t.excluded[p] {
			t.cursor = (t.cursor + i + 1) % len(t.candidates)
			t.state = StateRequestSent
			t.attempts++
			return p, true
		}
	}
	return object.ZeroDevice, false
}

func (d *Downloader) exclude(t *task, peer object.DeviceID, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t.excluded[peer] = true
	t.reasons[peer] = err
	d.metrics.PeersExcluded.Inc()
	d.logger.Debugf("fetch: %s: excluding peer %s: %v", t.id, peer, err)
}

// count increments the counter of a peer and reports whether it stays
// within limit.
func (d *Downloader) count(t *task, counters map[object.DeviceID]int, peer object.DeviceID, limit int) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	counters[peer]++
	return counters[peer], counters[peer] <= limit
}

func (d *Downloader) setState(t *task, s State) {
	d.mu.Lock()
	t.state = s
	d.mu.Unlock()
}

// loop runs rounds until the task succeeds or fails terminally.
func (d *Downloader) loop(t *task) (object.DeviceID, error) {
	ctx := d.ctx
	for {
		if ctx.Err() != nil {
			return object.ZeroDevice, context.Cause(ctx)
		}

		peer, ok := d.next(t)
		if !ok {
			d.mu.Lock()
			reasons := make(map[object.DeviceID]error, len(t.reasons))
			for p, err := range t.reasons {
				reasons[p] = err
			}
			d.mu.Unlock()
			return object.ZeroDevice, &FailureError{Identity: t.id, Reasons: reasons}
		}

		err := d.attempt(ctx, t, peer)
		kind := Classify(err)
		d.metrics.Rounds.WithLabelValues(kind.String()).Inc()

		switch kind {
		case KindNone:
			return peer, nil

		case KindPermanent:
			d.exclude(t, peer, err)

		case KindTransient, KindCorrupted:
			n, ok := d.count(t, t.transient, peer, d.maxTransientRetries)
			if !ok {
				d.exclude(t, peer, err)
				continue
			}
			d.mu.Lock()
			t.reasons[peer] = err
			d.mu.Unlock()
			if err := d.backoff(ctx, t, n); err != nil {
				return object.ZeroDevice, err
			}

		case KindIntegrity:
			d.metrics.IntegrityFails.Inc()
			d.logger.Errorf("fetch: %s from peer %s: %v", t.id, peer, err)
			if _, ok := d.count(t, t.mismatches, peer, d.maxHashMismatches-1); !ok {
				d.exclude(t, peer, err)
			}

		case KindHashRequired:
			var hashErr *causality.HashRequiredError
			errors.As(err, &hashErr)
			if herr := d.hashBranches(ctx, hashErr); herr != nil {
				if Classify(herr).Terminal() {
					return object.ZeroDevice, herr
				}
				d.logger.Debugf("fetch: %s: hash local branches: %v", t.id, herr)
				n, _ := d.count(t, t.transient, peer, d.maxTransientRetries)
				if err := d.backoff(ctx, t, n); err != nil {
					return object.ZeroDevice, err
				}
			}

		case KindVersionChanged:
			d.mu.Lock()
			t.immediate++
			n := t.immediate
			d.mu.Unlock()
			if n > maxImmediateRetries {
				if err := d.backoff(ctx, t, n-maxImmediateRetries); err != nil {
					return object.ZeroDevice, err
				}
			}

		case KindPrerequisite:
			var prereqErr *causality.PrerequisiteError
			errors.As(err, &prereqErr)
			if perr := d.resolvePrerequisite(ctx, t, peer, prereqErr); perr != nil {
				if Classify(perr).Terminal() {
					return object.ZeroDevice, perr
				}
				d.exclude(t, peer, perr)
			}

		default:
			if ctx.Err() != nil {
				return object.ZeroDevice, context.Cause(ctx)
			}
			return object.ZeroDevice, fmt.Errorf("fetch %s: %w", t.id, err)
		}
	}
}

// attempt runs one round against peer under a client token.
func (d *Downloader) attempt(ctx context.Context, t *task, peer object.DeviceID) error {
	d.mu.Lock()
	prio := t.prio
	d.mu.Unlock()

	tk, err := d.tokens.Acquire(ctx, token.CategoryClient, prio, "fetch "+t.id.String())
	if err != nil {
		return err
	}
	d.mu.Lock()
	t.token = tk
	// the priority may have been raised while waiting for the slot
	tk.Raise(t.prio)
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		t.token = nil
		d.mu.Unlock()
		tk.Release()
	}()

	rctx, cancel := context.WithTimeout(tk.Context(), d.roundTimeout)
	defer cancel()

	err = d.round(rctx, t, peer, tk)
	if err != nil && errors.Is(context.Cause(tk.Context()), token.ErrPreempted) {
		return fmt.Errorf("%w: %v", token.ErrPreempted, err)
	}
	return err
}

func (d *Downloader) backoff(ctx context.Context, t *task, n int) error {
	d.setState(t, StateRetry)

	delay := d.retryDelay
	for i := 1; i < n && delay < d.maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > d.maxRetryDelay {
		delay = d.maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// hashBranches computes and records the hashes of local branches a
// resolution asked for.
func (d *Downloader) hashBranches(ctx context.Context, e *causality.HashRequiredError) error {
	d.metrics.HashRestarts.Inc()
	for _, idx := range e.Branches {
		b, err := d.catalog.Branch(e.Identity, idx)
		if err != nil {
			return err
		}
		h, err := d.hasher.Hash(ctx, e.Identity, idx, b.Signature())
		if err != nil {
			return err
		}
		err = catalog.Update(d.catalog, func(tx catalog.Tx) error {
			cur, err := tx.Branch(e.Identity, idx)
			if err != nil {
				return err
			}
			if cur.Signature() != b.Signature() {
				return fmt.Errorf("%w: %s branch %d", transfer.ErrContentChanged, e.Identity, idx)
			}
			return tx.SetHash(e.Identity, idx, h)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// resolvePrerequisite resolves the prerequisite of a task as a nested
// fetch. The dependency is recorded in the graph while the nested fetch
// runs; a dependency that would close a cycle goes to the breaker
// instead.
func (d *Downloader) resolvePrerequisite(ctx context.Context, t *task, peer object.DeviceID, e *causality.PrerequisiteError) error {
	pre := e.Prerequisite

	d.mu.Lock()
	t.prerequisites++
	if t.prerequisites > maxPrerequisites {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTooManyPrerequisites, t.id)
	}
	if e.Probe && t.probed[pre.Object] {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s probed twice", errProtocol, pre)
	}
	t.state = StatePrerequisiteNeeded
	err := d.graph.Add(t.id, pre)
	peers := t.remaining(peer)
	prio := t.prio
	d.mu.Unlock()
	d.metrics.Prerequisites.Inc()

	var cycleErr *depgraph.CycleError
	if errors.As(err, &cycleErr) {
		d.metrics.CyclesBroken.Inc()
		d.logger.Debugf("fetch: %s: breaking %v", t.id, cycleErr)
		if err := d.breaker.Break(cycleErr.Cycle); err != nil {
			return fmt.Errorf("%w: %v", cycleErr, err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		d.mu.Lock()
		d.graph.Remove(t.id, pre)
		d.mu.Unlock()
	}()

	_, ferr := d.FetchSync(ctx, pre, peers, prio)

	d.mu.Lock()
	defer d.mu.Unlock()

	if e.Probe {
		// a peer without the object answered the probe as well
		t.probed[pre.Object] = true
		if Classify(ferr) == KindLocalAbort {
			return ferr
		}
		return nil
	}
	if ferr == nil {
		return nil
	}
	if Classify(ferr) == KindLocalAbort {
		return ferr
	}
	if t.id.Kind == object.KindMeta && errors.Is(ferr, ErrExhausted) {
		d.logger.Debugf("fetch: %s: parent %s unavailable, placing under root", t.id, pre)
		t.breakCycles = true
		return nil
	}
	return fmt.Errorf("prerequisite %s: %w", pre, ferr)
}

// BreakCycle is the default cycle breaker. The task that closed the cycle
// stops waiting for missing parents and places its object under the
// store root.
func (d *Downloader) BreakCycle(cycle []object.Identity) error {
	if len(cycle) == 0 {
		return errors.New("fetch: empty cycle")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tasks[cycle[0]]
	if !ok {
		return fmt.Errorf("fetch: no task for %s", cycle[0])
	}
	t.breakCycles = true
	return nil
}

// TaskInfo describes a live task.
type TaskInfo struct {
	Identity  object.Identity   `json:"identity"`
	State     string            `json:"state"`
	Priority  object.Priority   `json:"priority"`
	Peers     []object.DeviceID `json:"peers"`
	Excluded  []object.DeviceID `json:"excluded,omitempty"`
	Attempts  int               `json:"attempts"`
	Listeners int               `json:"listeners"`
	WaitingOn []object.Identity `json:"waitingOn,omitempty"`
	Since     time.Time         `json:"since"`
}

// Tasks returns the live tasks ordered by creation time.
func (d *Downloader) Tasks() []TaskInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	infos := make([]TaskInfo, 0, len(d.tasks))
	for _, t := range d.tasks {
		info := TaskInfo{
			Identity:  t.id,
			State:     t.state.String(),
			Priority:  t.prio,
			Peers:     append([]object.DeviceID(nil), t.candidates...),
			Attempts:  t.attempts,
			Listeners: len(t.listeners),
			WaitingOn: d.graph.Dependencies(t.id),
			Since:     t.created,
		}
		for _, p := range t.candidates {
			if t.excluded[p] {
				info.Excluded = append(info.Excluded, p)
			}
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Since.Before(infos[j].Since) })
	return infos
}

// Close cancels all tasks and waits for them to finish. Staged content
// of interrupted transfers is kept for a later resume.
func (d *Downloader) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel(ErrClosed)
	d.wg.Wait()
	return nil
}
