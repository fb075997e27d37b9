// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package version implements the two versioning regimes used to decide
// causality between replicas of one object: per-device version vectors
// (the legacy regime) and a single counter handed out by a centralized
// sequencer.
package version

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethersphere/replica/pkg/object"
)

// Tick is a per-device monotonic counter.
type Tick uint64

// Relation is the causal relation of a version to another one.
type Relation int

const (
	Equal Relation = iota
	// Dominates means that every component is greater or equal and
	// the versions differ.
	Dominates
	// DominatedBy is the inverse of Dominates.
	DominatedBy
	// Concurrent means neither version dominates the other.
	Concurrent
)

func (r Relation) String() string {
	switch r {
	case Equal:
		return "equal"
	case Dominates:
		return "dominates"
	case DominatedBy:
		return "dominated-by"
	case Concurrent:
		return "concurrent"
	}
	return fmt.Sprintf("relation(%d)", int(r))
}

// Vector maps devices to the highest tick known from them.
// Absent entries and zero ticks are equivalent.
type Vector map[object.DeviceID]Tick

// New returns an empty vector.
func New() Vector {
	return make(Vector)
}

// Of builds a vector from device and tick pairs.
func Of(pairs ...interface{}) Vector {
	if len(pairs)%2 != 0 {
		panic("version: odd number of arguments")
	}
	v := New()
	for i := 0; i < len(pairs); i += 2 {
		d := pairs[i].(object.DeviceID)
		switch t := pairs[i+1].(type) {
		case int:
			v.Set(d, Tick(t))
		case Tick:
			v.Set(d, t)
		default:
			panic(fmt.Sprintf("version: unsupported tick type %T", t))
		}
	}
	return v
}

func (v Vector) Get(d object.DeviceID) Tick {
	return v[d]
}

// Set sets the tick of a device. A zero tick removes the entry.
func (v Vector) Set(d object.DeviceID, t Tick) {
	if t == 0 {
		delete(v, d)
		return
	}
	v[d] = t
}

func (v Vector) Copy() Vector {
	c := make(Vector, len(v))
	for d, t := range v {
		if t != 0 {
			c[d] = t
		}
	}
	return c
}

// IsZero reports whether the vector carries no ticks.
func (v Vector) IsZero() bool {
	for _, t := range v {
		if t != 0 {
			return false
		}
	}
	return true
}

// Union returns the component-wise maximum of both vectors.
func (v Vector) Union(o Vector) Vector {
	u := v.Copy()
	for d, t := range o {
		if t > u[d] {
			u[d] = t
		}
	}
	return u
}

// Sub returns the entries of v that o does not cover, that is the
// components where v is ahead of o, with the ticks of v.
func (v Vector) Sub(o Vector) Vector {
	s := New()
	for d, t := range v {
		if t > o[d] {
			s[d] = t
		}
	}
	return s
}

// Covers reports whether v is greater than or equal to o in every component.
func (v Vector) Covers(o Vector) bool {
	for d, t := range o {
		if t > v[d] {
			return false
		}
	}
	return true
}

func (v Vector) Equal(o Vector) bool {
	return v.Covers(o) && o.Covers(v)
}

// Compare returns the causal relation of v to o.
func (v Vector) Compare(o Vector) Relation {
	vc, oc := v.Covers(o), o.Covers(v)
	switch {
	case vc && oc:
		return Equal
	case vc:
		return Dominates
	case oc:
		return DominatedBy
	}
	return Concurrent
}

// Dominates reports whether v strictly dominates o.
func (v Vector) Dominates(o Vector) bool {
	return v.Compare(o) == Dominates
}

// Devices returns the devices with a non-zero tick in canonical order.
func (v Vector) Devices() []object.DeviceID {
	ds := make([]object.DeviceID, 0, len(v))
	for d, t := range v {
		if t != 0 {
			ds = append(ds, d)
		}
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].Less(ds[j]) })
	return ds
}

func (v Vector) String() string {
	ds := v.Devices()
	if len(ds) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(ds))
	for _, d := range ds {
		parts = append(parts, fmt.Sprintf("%s:%d", d, v[d]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Parse parses the form produced by String, for example
// "{<device>:3, <device>:1}". Braces are optional.
func Parse(s string) (Vector, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	v := New()
	if strings.TrimSpace(s) == "" {
		return v, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		i := strings.LastIndexByte(part, ':')
		if i < 0 {
			return nil, fmt.Errorf("parse version %q: missing tick", part)
		}
		d, err := object.ParseDeviceID(part[:i])
		if err != nil {
			return nil, fmt.Errorf("parse version %q: %w", part, err)
		}
		t, err := strconv.ParseUint(part[i+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version %q: %w", part, err)
		}
		if _, ok := v[d]; ok {
			return nil, fmt.Errorf("parse version: duplicate device %s", d)
		}
		v.Set(d, Tick(t))
	}
	return v, nil
}

// CompareCentral returns the relation of two counters of the centralized regime.
func CompareCentral(a, b uint64) Relation {
	switch {
	case a == b:
		return Equal
	case a > b:
		return Dominates
	}
	return DominatedBy
}

// Regime discriminates the versioning regime of an object.
type Regime uint8

const (
	RegimeLegacy Regime = iota
	RegimeCentralized
)

func (r Regime) String() string {
	switch r {
	case RegimeLegacy:
		return "legacy"
	case RegimeCentralized:
		return "centralized"
	}
	return fmt.Sprintf("regime(%d)", uint8(r))
}

// Stamp is a version in either regime.
type Stamp struct {
	Regime  Regime
	Vector  Vector
	Central uint64
}

func (s Stamp) Equal(o Stamp) bool {
	if s.Regime != o.Regime {
		return false
	}
	if s.Regime == RegimeCentralized {
		return s.Central == o.Central
	}
	return s.Vector.Equal(o.Vector)
}

func (s Stamp) IsZero() bool {
	if s.Regime == RegimeCentralized {
		return s.Central == 0
	}
	return s.Vector.IsZero()
}

func (s Stamp) String() string {
	if s.Regime == RegimeCentralized {
		return fmt.Sprintf("#%d", s.Central)
	}
	return s.Vector.String()
}
