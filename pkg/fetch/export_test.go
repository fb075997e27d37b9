// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fetch

import "github.com/ethersphere/replica/pkg/depgraph"

var (
	ProtocolName    = protocolName
	ProtocolVersion = protocolVersion
	StreamName      = streamName
)

// Edges returns the dependencies recorded between live tasks.
func (d *Downloader) Edges() []depgraph.Edge {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.graph.Edges()
}
