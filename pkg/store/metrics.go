// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"github.com/prometheus/client_golang/prometheus"
	m "github.com/tradenet/gossipd/pkg/metrics"
)

type metrics struct {
	Added          prometheus.Counter
	AlreadyPresent prometheus.Counter
	Rejected       *prometheus.CounterVec
	Ignored        prometheus.Counter
	Removed        prometheus.Counter
	RemoveNotFound prometheus.Counter
	Refreshed      prometheus.Counter
	Expired        prometheus.Counter
	Records        *prometheus.GaugeVec
	Sequences      prometheus.Gauge
	PersistErrors  prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "store"

	return metrics{
		Added: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "added_count",
			Help:      "Number of records added.",
		}),
		AlreadyPresent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "already_present_count",
			Help:      "Number of adds of records that were already current.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "rejected_count",
			Help:      "Number of rejected operations by reason.",
		}, []string{"reason"}),
		Ignored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "ignored_count",
			Help:      "Number of operations ignored for missing capabilities.",
		}),
		Removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "removed_count",
			Help:      "Number of records removed.",
		}),
		RemoveNotFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "remove_not_found_count",
			Help:      "Number of accepted removals of records not held.",
		}),
		Refreshed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "refreshed_count",
			Help:      "Number of records refreshed.",
		}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "expired_count",
			Help:      "Number of expired records purged.",
		}),
		Records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "records",
			Help:      "Number of records held by kind.",
		}, []string{"kind"}),
		Sequences: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "remembered_sequences",
			Help:      "Number of remembered sequence numbers.",
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "persist_error_count",
			Help:      "Number of failed writes to the state store.",
		}),
	}
}

func (s *Store) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
