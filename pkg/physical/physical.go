// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package physical stores branch contents and resumable download
// prefixes on a filesystem.
package physical

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/logging"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

var (
	// ErrNotFound is returned when a branch has no physical content.
	ErrNotFound = errors.New("physical: not found")
	// ErrPrefixBusy is returned when a prefix is already opened by
	// another transfer.
	ErrPrefixBusy = errors.New("physical: prefix in use")
)

const (
	branchesDir   = "branches"
	prefixesDir   = "prefixes"
	stateSuffix   = ".state"
	backupSuffix  = ".orig"
	tempSuffix    = ".tmp"
	filePerm      = 0o600
	directoryPerm = 0o700
)

// Store manages branch files and prefixes below a root directory.
type Store struct {
	fs     afero.Fs
	root   string
	logger logging.Logger

	mu   sync.Mutex
	open map[object.Identity]*Prefix
}

// New returns a store rooted at root on the provided filesystem.
func New(fs afero.Fs, root string, logger logging.Logger) (*Store, error) {
	for _, d := range []string{branchesDir, prefixesDir} {
		if err := fs.MkdirAll(filepath.Join(root, d), directoryPerm); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", d, err)
		}
	}
	return &Store{
		fs:     fs,
		root:   root,
		logger: logger,
		open:   make(map[object.Identity]*Prefix),
	}, nil
}

func (s *Store) branchPath(id object.Identity, idx object.BranchIndex) string {
	return filepath.Join(s.root, branchesDir, strconv.FormatUint(uint64(id.Store), 10), id.Object.String()+"."+strconv.Itoa(int(idx)))
}

func (s *Store) prefixPath(id object.Identity) string {
	return filepath.Join(s.root, prefixesDir, strconv.FormatUint(uint64(id.Store), 10), id.Object.String())
}

// Open opens the content of a branch for reading.
func (s *Store) Open(id object.Identity, idx object.BranchIndex) (afero.File, error) {
	f, err := s.fs.Open(s.branchPath(id, idx))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s branch %d", ErrNotFound, id, idx)
		}
		return nil, err
	}
	return f, nil
}

// Signature returns the current length and modification time of the
// content of a branch.
func (s *Store) Signature(id object.Identity, idx object.BranchIndex) (object.Signature, error) {
	fi, err := s.fs.Stat(s.branchPath(id, idx))
	if err != nil {
		if os.IsNotExist(err) {
			return object.Signature{}, fmt.Errorf("%w: %s branch %d", ErrNotFound, id, idx)
		}
		return object.Signature{}, err
	}
	return signatureOf(fi), nil
}

func signatureOf(fi os.FileInfo) object.Signature {
	return object.Signature{Length: fi.Size(), ModTime: fi.ModTime().UnixNano()}
}

// Write replaces the content of a branch. It is used for local edits.
func (s *Store) Write(id object.Identity, idx object.BranchIndex, data []byte, mtime time.Time) (object.Signature, error) {
	path := s.branchPath(id, idx)
	if err := s.fs.MkdirAll(filepath.Dir(path), directoryPerm); err != nil {
		return object.Signature{}, err
	}
	if err := afero.WriteFile(s.fs, path, data, filePerm); err != nil {
		return object.Signature{}, err
	}
	if err := s.fs.Chtimes(path, mtime, mtime); err != nil {
		return object.Signature{}, err
	}
	return s.Signature(id, idx)
}

// DeleteBranch removes the content of a branch once tx commits.
func (s *Store) DeleteBranch(tx catalog.Tx, id object.Identity, idx object.BranchIndex) {
	path := s.branchPath(id, idx)
	tx.OnCommit(func() {
		if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Errorf("physical: remove %s branch %d: %v", id, idx, err)
		}
	})
}

// Apply moves the staged content of a prefix into place as the content
// of a branch and sets its modification time. The previous content is
// restored and the prefix stays resumable if tx is rolled back.
func (s *Store) Apply(tx catalog.Tx, p *Prefix, idx object.BranchIndex, mtime time.Time) (object.Signature, error) {
	if err := p.Close(); err != nil {
		return object.Signature{}, err
	}

	id := p.id
	path := s.branchPath(id, idx)
	backup := path + backupSuffix
	if err := s.fs.MkdirAll(filepath.Dir(path), directoryPerm); err != nil {
		return object.Signature{}, err
	}

	hasBackup := false
	if _, err := s.fs.Stat(path); err == nil {
		if err := s.fs.Rename(path, backup); err != nil {
			return object.Signature{}, fmt.Errorf("back up %s branch %d: %w", id, idx, err)
		}
		hasBackup = true
	}

	restore := func() {
		if err := s.fs.Rename(path, p.path); err != nil && !os.IsNotExist(err) {
			s.logger.Errorf("physical: restore prefix of %s: %v", id, err)
		}
		if hasBackup {
			if err := s.fs.Rename(backup, path); err != nil {
				s.logger.Errorf("physical: restore %s branch %d: %v", id, idx, err)
			}
		}
	}

	if err := s.fs.Rename(p.path, path); err != nil {
		restore()
		return object.Signature{}, fmt.Errorf("move prefix of %s: %w", id, err)
	}
	if err := s.fs.Chtimes(path, mtime, mtime); err != nil {
		restore()
		return object.Signature{}, err
	}
	fi, err := s.fs.Stat(path)
	if err != nil {
		restore()
		return object.Signature{}, err
	}

	tx.OnCommit(func() {
		if hasBackup {
			if err := s.fs.Remove(backup); err != nil {
				s.logger.Errorf("physical: remove backup of %s branch %d: %v", id, idx, err)
			}
		}
		if err := s.fs.Remove(p.statePath()); err != nil && !os.IsNotExist(err) {
			s.logger.Errorf("physical: remove prefix state of %s: %v", id, err)
		}
	})
	tx.OnRollback(restore)

	return signatureOf(fi), nil
}

// CopyBranch appends the content of a local branch to a prefix.
func (s *Store) CopyBranch(id object.Identity, idx object.BranchIndex, p *Prefix) (int64, error) {
	f, err := s.Open(id, idx)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return io.Copy(p, f)
}

// OpenPrefix opens the prefix of an identity for exclusive use. The
// prefix keeps its staged bytes, version and digest state from a previous
// interrupted transfer if they are consistent.
func (s *Store) OpenPrefix(id object.Identity) (*Prefix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.open[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPrefixBusy, id)
	}

	p, err := openPrefix(s, id)
	if err != nil {
		return nil, err
	}
	s.open[id] = p
	return p, nil
}

func (s *Store) release(id object.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.open, id)
}

// Close flushes and closes all open prefixes.
func (s *Store) Close() error {
	s.mu.Lock()
	ps := make([]*Prefix, 0, len(s.open))
	for _, p := range s.open {
		ps = append(ps, p)
	}
	s.mu.Unlock()

	var errs *multierror.Error
	for _, p := range ps {
		if err := p.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close prefix %s: %w", p.id, err))
		}
	}
	return errs.ErrorOrNil()
}
