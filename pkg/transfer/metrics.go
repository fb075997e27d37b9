// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transfer

import (
	m "github.com/ethersphere/replica/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type senderMetrics struct {
	BytesSent  prometheus.Counter
	Aborts     prometheus.Counter
	PeerAborts prometheus.Counter
}

func newSenderMetrics() senderMetrics {
	subsystem := "transfer"

	return senderMetrics{
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "bytes_sent_total",
			Help:      "Number of content bytes sent.",
		}),
		Aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "aborts_sent_total",
			Help:      "Number of transfers aborted because the content changed.",
		}),
		PeerAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "peer_aborts_total",
			Help:      "Number of transfers stopped by the receiver.",
		}),
	}
}

type receiverMetrics struct {
	BytesReceived  prometheus.Counter
	Aborts         prometheus.Counter
	HashMismatches prometheus.Counter
	LocalCopies    prometheus.Counter
}

func newReceiverMetrics() receiverMetrics {
	subsystem := "transfer"

	return receiverMetrics{
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "bytes_received_total",
			Help:      "Number of content bytes received.",
		}),
		Aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "aborts_received_total",
			Help:      "Number of transfers aborted by the sender.",
		}),
		HashMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "hash_mismatches_total",
			Help:      "Number of received contents that failed verification.",
		}),
		LocalCopies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "local_copies_total",
			Help:      "Number of contents staged from a local branch.",
		}),
	}
}

type hasherMetrics struct {
	HashesComputed prometheus.Counter
	HashCacheHits  prometheus.Counter
}

func newHasherMetrics() hasherMetrics {
	subsystem := "transfer"

	return hasherMetrics{
		HashesComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "hashes_computed_total",
			Help:      "Number of content hashes computed.",
		}),
		HashCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "hash_cache_hits_total",
			Help:      "Number of content hashes served from the cache.",
		}),
	}
}

func (s *Sender) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}

func (r *Receiver) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(r.metrics)
}

func (h *Hasher) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(h.metrics)
}
