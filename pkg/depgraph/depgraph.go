// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package depgraph tracks which in-flight fetches wait on which others.
// An edge that would close a cycle is refused at insertion time so that
// no fetch ever blocks on a chain that leads back to itself.
package depgraph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethersphere/replica/pkg/object"
)

// CycleError is returned by Add when the edge would close a cycle.
// Cycle lists the identities in dependency order, starting and ending
// with the dependent of the refused edge.
type CycleError struct {
	Cycle []object.Identity
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Cycle))
	for _, id := range e.Cycle {
		parts = append(parts, id.String())
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

// Edge is a dependent to prerequisite relation.
type Edge struct {
	From object.Identity `json:"from"`
	To   object.Identity `json:"to"`
}

// Graph is a directed acyclic graph of identities. Edges are counted so
// that the same relation can be registered by several waiters.
type Graph struct {
	mu    sync.Mutex
	edges map[object.Identity]map[object.Identity]int
}

func New() *Graph {
	return &Graph{edges: make(map[object.Identity]map[object.Identity]int)}
}

// Add registers that from waits on to. It returns a *CycleError and
// leaves the graph unchanged if to already reaches from.
func (g *Graph) Add(from, to object.Identity) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if from == to {
		return &CycleError{Cycle: []object.Identity{from, from}}
	}
	if path := g.path(to, from); path != nil {
		return &CycleError{Cycle: append([]object.Identity{from}, path...)}
	}

	out, ok := g.edges[from]
	if !ok {
		out = make(map[object.Identity]int)
		g.edges[from] = out
	}
	out[to]++
	return nil
}

// Remove unregisters one registration of the edge.
func (g *Graph) Remove(from, to object.Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out, ok := g.edges[from]
	if !ok {
		return
	}
	if out[to] > 1 {
		out[to]--
		return
	}
	delete(out, to)
	if len(out) == 0 {
		delete(g.edges, from)
	}
}

// path returns a path from src to dst, or nil if dst is unreachable.
func (g *Graph) path(src, dst object.Identity) []object.Identity {
	prev := map[object.Identity]object.Identity{}
	seen := map[object.Identity]bool{src: true}
	stack := []object.Identity{src}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == dst {
			var p []object.Identity
			for c := dst; c != src; c = prev[c] {
				p = append(p, c)
			}
			p = append(p, src)
			for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
				p[i], p[j] = p[j], p[i]
			}
			return p
		}
		for next := range g.edges[n] {
			if !seen[next] {
				seen[next] = true
				prev[next] = n
				stack = append(stack, next)
			}
		}
	}
	return nil
}

// Dependencies returns the identities that id waits on.
func (g *Graph) Dependencies(id object.Identity) []object.Identity {
	g.mu.Lock()
	defer g.mu.Unlock()

	ds := make([]object.Identity, 0, len(g.edges[id]))
	for to := range g.edges[id] {
		ds = append(ds, to)
	}
	sortIdentities(ds)
	return ds
}

// Edges returns a snapshot of all edges.
func (g *Graph) Edges() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()

	var es []Edge
	for from, out := range g.edges {
		for to := range out {
			es = append(es, Edge{From: from, To: to})
		}
	}
	sort.Slice(es, func(i, j int) bool {
		if es[i].From != es[j].From {
			return less(es[i].From, es[j].From)
		}
		return less(es[i].To, es[j].To)
	})
	return es
}

// Len returns the number of distinct edges.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, out := range g.edges {
		n += len(out)
	}
	return n
}

// HasCycle reports whether the graph contains a cycle. Add keeps the graph
// acyclic, so this only serves as a consistency check.
func (g *Graph) HasCycle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	const (
		white = iota
		grey
		black
	)
	color := map[object.Identity]int{}
	var visit func(object.Identity) bool
	visit = func(n object.Identity) bool {
		color[n] = grey
		for next := range g.edges[n] {
			switch color[next] {
			case grey:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	for n := range g.edges {
		if color[n] == white && visit(n) {
			return true
		}
	}
	return false
}

// Breaker forces a participant of a detected cycle off its strategy.
type Breaker interface {
	Break(cycle []object.Identity) error
}

// BreakerFunc adapts a function to the Breaker interface.
type BreakerFunc func(cycle []object.Identity) error

func (f BreakerFunc) Break(cycle []object.Identity) error {
	return f(cycle)
}

func sortIdentities(ids []object.Identity) {
	sort.Slice(ids, func(i, j int) bool { return less(ids[i], ids[j]) })
}

func less(a, b object.Identity) bool {
	if a.Store != b.Store {
		return a.Store < b.Store
	}
	if a.Object != b.Object {
		return a.Object.Less(b.Object)
	}
	return a.Kind < b.Kind
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s", e.From, e.To)
}
