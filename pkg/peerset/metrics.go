// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package peerset

import (
	"github.com/prometheus/client_golang/prometheus"
	m "github.com/tradenet/gossipd/pkg/metrics"
)

type metrics struct {
	LivePeers       prometheus.Gauge
	ReportedPeers   prometheus.Gauge
	InvalidReported prometheus.Counter
	EvictedReported prometheus.Counter
	Failures        prometheus.Counter
	Evicted         prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "peerset"

	return metrics{
		LivePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "live_peers",
			Help:      "Number of connected peers.",
		}),
		ReportedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "reported_peers",
			Help:      "Number of peers known from peer exchange.",
		}),
		InvalidReported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "invalid_reported_count",
			Help:      "Number of reported peers whose address did not verify.",
		}),
		EvictedReported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "reported_evicted_count",
			Help:      "Number of reported peers evicted by the size cap.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "failure_count",
			Help:      "Number of reported peer failures.",
		}),
		Evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "evicted_count",
			Help:      "Number of peers evicted after repeated failures.",
		}),
	}
}

func (s *Set) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
