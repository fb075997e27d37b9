// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package token

import (
	m "github.com/ethersphere/replica/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	Acquired  *prometheus.CounterVec
	Preempted *prometheus.CounterVec
}

func newMetrics() metrics {
	subsystem := "token"

	return metrics{
		Acquired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: m.Namespace,
				Subsystem: subsystem,
				Name:      "acquired_total",
				Help:      "Number of tokens acquired per category.",
			},
			[]string{"category"},
		),
		Preempted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: m.Namespace,
				Subsystem: subsystem,
				Name:      "preempted_total",
				Help:      "Number of tokens preempted by higher priority tasks per category.",
			},
			[]string{"category"},
		),
	}
}
