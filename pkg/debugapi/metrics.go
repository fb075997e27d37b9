// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"strconv"

	"github.com/ethersphere/replica"
	"github.com/ethersphere/replica/pkg/logging/httpaccess"
	"github.com/ethersphere/replica/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests no route matched, so that arbitrary paths
// do not create new series.
const unmatchedRoute = "unmatched"

type apiMetrics struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func newAPIMetrics() apiMetrics {
	subsystem := "debugapi"

	return apiMetrics{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: subsystem,
				Name:      "request_count",
				Help:      "Number of requests served by the debug API.",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Time to serve a debug API request.",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"route"},
		),
	}
}

func (m apiMetrics) observe(r httpaccess.Record) {
	route := r.Route
	if route == "" {
		route = unmatchedRoute
	}
	m.RequestCount.WithLabelValues(route, r.Method, strconv.Itoa(r.Status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(r.Duration.Seconds())
}

func newMetricsRegistry(m apiMetrics) (r *prometheus.Registry) {
	r = prometheus.NewRegistry()

	// register standard metrics
	r.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{
			Namespace: metrics.Namespace,
		}),
		prometheus.NewGoCollector(),
		prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Name:      "info",
			Help:      "Replica daemon information.",
			ConstLabels: prometheus.Labels{
				"version": replica.Version,
			},
		}),
	)
	r.MustRegister(metrics.PrometheusCollectorsFromFields(m)...)

	return r
}

// MustRegisterMetrics adds collectors to the registry served on /metrics.
func (s *Service) MustRegisterMetrics(cs ...prometheus.Collector) {
	s.metricsRegistry.MustRegister(cs...)
}
