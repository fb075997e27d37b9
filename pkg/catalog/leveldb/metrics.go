// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leveldb

import (
	m "github.com/ethersphere/replica/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	Committed  prometheus.Counter
	RolledBack prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "catalog"

	return metrics{
		Committed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "tx_committed_total",
			Help:      "Number of committed catalog transactions.",
		}),
		RolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "tx_rolled_back_total",
			Help:      "Number of rolled back catalog transactions.",
		}),
	}
}
