// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transfer

var (
	WindowChunks = windowChunks
	MaxChunkSize = maxChunkSize
)

func (s *Sender) ChunkSize() int {
	return s.chunkSize
}
