// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package debugapi exposes the debug API used to inspect the state of
// the reconciliation engine: live downloads, token usage, catalog
// records and the prometheus metrics.
package debugapi

import (
	"net/http"
	"sync"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/fetch"
	"github.com/ethersphere/replica/pkg/logging"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/token"
	"github.com/prometheus/client_golang/prometheus"
)

// Downloader is the part of the download orchestrator the API uses.
type Downloader interface {
	Fetch(id object.Identity, peers []object.DeviceID, prio object.Priority, l fetch.Listener) error
	Tasks() []fetch.TaskInfo
}

// TokenStats reports the usage of the cooperative tokens.
type TokenStats interface {
	Stats() []token.Stat
}

// Service implements http.Handler interface to be used in HTTP server.
type Service struct {
	downloader      Downloader
	tokens          TokenStats
	catalog         catalog.Reader
	logger          logging.Logger
	metrics         apiMetrics
	metricsRegistry *prometheus.Registry

	// handler is changed in the Configure method
	handler   http.Handler
	handlerMu sync.RWMutex
}

// New creates a Debug API Service with only the routes that do not need
// the engine: /health, metrics, pprof and vars. They are available while
// the node starts.
func New(logger logging.Logger) *Service {
	s := &Service{
		logger:  logger,
		metrics: newAPIMetrics(),
	}
	s.metricsRegistry = newMetricsRegistry(s.metrics)
	s.setRouter(s.newBasicRouter())
	return s
}

// Configure injects the engine and enables the remaining routes. It is
// intended to be called once.
func (s *Service) Configure(d Downloader, tokens TokenStats, c catalog.Reader) {
	s.downloader = d
	s.tokens = tokens
	s.catalog = c

	s.setRouter(s.newRouter())
}

// ServeHTTP implements http.Handler interface.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// protect handler as it is changed by the Configure method
	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()

	h.ServeHTTP(w, r)
}
