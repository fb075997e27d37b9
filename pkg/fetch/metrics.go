// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fetch

import (
	m "github.com/ethersphere/replica/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	Tasks          prometheus.Counter
	ActiveTasks    prometheus.Gauge
	Coalesced      prometheus.Counter
	Succeeded      prometheus.Counter
	Failed         prometheus.Counter
	Rounds         *prometheus.CounterVec
	PeersExcluded  prometheus.Counter
	Prerequisites  prometheus.Counter
	CyclesBroken   prometheus.Counter
	HashRestarts   prometheus.Counter
	IntegrityFails prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "fetch"

	return metrics{
		Tasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "tasks_total",
			Help:      "Number of fetch tasks started.",
		}),
		ActiveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "active_tasks",
			Help:      "Number of live fetch tasks.",
		}),
		Coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "coalesced_total",
			Help:      "Number of fetch requests merged into a live task.",
		}),
		Succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "succeeded_total",
			Help:      "Number of fetch tasks that succeeded.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "failed_total",
			Help:      "Number of fetch tasks that failed.",
		}),
		Rounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: m.Namespace,
				Subsystem: subsystem,
				Name:      "rounds_total",
				Help:      "Number of fetch rounds by outcome.",
			},
			[]string{"outcome"},
		),
		PeersExcluded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "peers_excluded_total",
			Help:      "Number of candidate peers excluded from a task.",
		}),
		Prerequisites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "prerequisites_total",
			Help:      "Number of prerequisites resolved as nested fetches.",
		}),
		CyclesBroken: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "cycles_broken_total",
			Help:      "Number of dependency cycles handed to the breaker.",
		}),
		HashRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "hash_restarts_total",
			Help:      "Number of resolutions restarted after hashing local content.",
		}),
		IntegrityFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "integrity_failures_total",
			Help:      "Number of received contents that did not match their hash.",
		}),
	}
}

func (d *Downloader) Metrics() []prometheus.Collector {
	return append(m.PrometheusCollectorsFromFields(d.metrics), d.receiver.Metrics()...)
}

type serverMetrics struct {
	Requests *prometheus.CounterVec
	Errors   *prometheus.CounterVec
}

func newServerMetrics() serverMetrics {
	subsystem := "fetch_server"

	return serverMetrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: m.Namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Number of served fetch requests by kind.",
			},
			[]string{"kind"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: m.Namespace,
				Subsystem: subsystem,
				Name:      "errors_total",
				Help:      "Number of error responses by code.",
			},
			[]string{"code"},
		),
	}
}

func (s *Server) Metrics() []prometheus.Collector {
	return append(m.PrometheusCollectorsFromFields(s.metrics), s.sender.Metrics()...)
}
