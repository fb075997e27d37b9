// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package physical

// Abandon drops a prefix without flushing its state, as an abrupt
// process termination would.
func (s *Store) Abandon(p *Prefix) {
	p.mu.Lock()
	p.closed = true
	_ = p.f.Close()
	p.mu.Unlock()
	s.release(p.id)
}
