// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"github.com/ethersphere/replica/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type nodeMetrics struct {
	// StartupDuration measures time in seconds for the node to construct
	// its components.
	StartupDuration prometheus.Histogram
}

func newMetrics() nodeMetrics {
	subsystem := "init"

	return nodeMetrics{
		StartupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: subsystem,
				Name:      "startup_duration_seconds",
				Help:      "Duration in seconds for the node to start.",
			},
		),
	}
}

func (m nodeMetrics) collectors() []prometheus.Collector {
	return metrics.PrometheusCollectorsFromFields(m)
}
