// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package physical

import (
	"encoding"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/version"
	"github.com/spf13/afero"
	"github.com/vmihailenco/msgpack/v5"
)

var errPrefixClosed = errors.New("physical: prefix closed")

// Prefix is a resumable staging file. It pairs the bytes received so far
// with the version they belong to and the running digest over them.
type Prefix struct {
	s    *Store
	id   object.Identity
	path string

	mu     sync.Mutex
	f      afero.File
	h      hash.Hash
	length int64
	stamp  version.Stamp
	closed bool
}

type prefixState struct {
	Regime  uint8     `msgpack:"r"`
	Vector  []vecTick `msgpack:"v"`
	Central uint64    `msgpack:"c"`
	Length  int64     `msgpack:"l"`
	Digest  []byte    `msgpack:"d"`
}

type vecTick struct {
	Device []byte `msgpack:"d"`
	Tick   uint64 `msgpack:"t"`
}

func openPrefix(s *Store, id object.Identity) (*Prefix, error) {
	path := s.prefixPath(id)
	if err := s.fs.MkdirAll(filepath.Dir(path), directoryPerm); err != nil {
		return nil, err
	}
	f, err := s.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		return nil, err
	}

	p := &Prefix{s: s, id: id, path: path, f: f, h: object.NewHasher()}
	if err := p.load(); err != nil {
		s.logger.Debugf("physical: prefix of %s not resumable: %v", id, err)
		if err := p.reset(version.Stamp{}); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *Prefix) statePath() string {
	return p.path + stateSuffix
}

// load restores the state persisted by the last flush. The state is only
// valid if it accounts for exactly the bytes in the staging file.
func (p *Prefix) load() error {
	data, err := afero.ReadFile(p.s.fs, p.statePath())
	if err != nil {
		return err
	}
	var st prefixState
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return err
	}
	fi, err := p.f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() != st.Length {
		return fmt.Errorf("staged %d bytes, state records %d", fi.Size(), st.Length)
	}
	u, ok := p.h.(encoding.BinaryUnmarshaler)
	if !ok {
		return errors.New("digest state not restorable")
	}
	if err := u.UnmarshalBinary(st.Digest); err != nil {
		return err
	}

	stamp := version.Stamp{Regime: version.Regime(st.Regime), Central: st.Central, Vector: version.New()}
	for _, t := range st.Vector {
		d, err := object.DeviceIDFromBytes(t.Device)
		if err != nil {
			return err
		}
		stamp.Vector.Set(d, version.Tick(t.Tick))
	}
	if _, err := p.f.Seek(st.Length, io.SeekStart); err != nil {
		return err
	}
	p.length = st.Length
	p.stamp = stamp
	return nil
}

// Identity returns the identity the prefix stages content for.
func (p *Prefix) Identity() object.Identity {
	return p.id
}

// Length returns the number of staged bytes.
func (p *Prefix) Length() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.length
}

// Version returns the version the staged bytes belong to.
func (p *Prefix) Version() version.Stamp {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stamp
}

// Reset drops the staged bytes and starts staging content of the
// provided version.
func (p *Prefix) Reset(stamp version.Stamp) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPrefixClosed
	}
	return p.reset(stamp)
}

func (p *Prefix) reset(stamp version.Stamp) error {
	if err := p.f.Truncate(0); err != nil {
		return err
	}
	if _, err := p.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if stamp.Vector != nil {
		stamp.Vector = stamp.Vector.Copy()
	}
	p.h.Reset()
	p.length = 0
	p.stamp = stamp
	return p.flush()
}

// Write appends bytes to the staged content.
func (p *Prefix) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPrefixClosed
	}
	n, err := p.f.Write(b)
	_, _ = p.h.Write(b[:n])
	p.length += int64(n)
	return n, err
}

// Sum returns the digest of the staged bytes.
func (p *Prefix) Sum() object.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h.Sum(nil)
}

// Flush durably records the version, length and digest state of the
// staged content.
func (p *Prefix) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPrefixClosed
	}
	return p.flush()
}

func (p *Prefix) flush() error {
	m, ok := p.h.(encoding.BinaryMarshaler)
	if !ok {
		return errors.New("digest state not persistable")
	}
	digest, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	if err := p.f.Sync(); err != nil {
		return err
	}

	st := prefixState{
		Regime:  uint8(p.stamp.Regime),
		Central: p.stamp.Central,
		Length:  p.length,
		Digest:  digest,
	}
	for _, d := range p.stamp.Vector.Devices() {
		st.Vector = append(st.Vector, vecTick{Device: d.Bytes(), Tick: uint64(p.stamp.Vector.Get(d))})
	}
	data, err := msgpack.Marshal(st)
	if err != nil {
		return err
	}

	tmp := p.statePath() + tempSuffix
	if err := afero.WriteFile(p.s.fs, tmp, data, filePerm); err != nil {
		return err
	}
	return p.s.fs.Rename(tmp, p.statePath())
}

// Close flushes the prefix state and releases the staging file. The
// prefix can be opened again to resume.
func (p *Prefix) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	defer p.s.release(p.id)

	ferr := p.flush()
	if err := p.f.Close(); err != nil {
		return err
	}
	return ferr
}

// Discard removes the staged bytes and their state.
func (p *Prefix) Discard() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		defer p.s.release(p.id)
		_ = p.f.Close()
	}

	if err := p.s.fs.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := p.s.fs.Remove(p.statePath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
