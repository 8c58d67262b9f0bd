// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mailbox

import (
	"github.com/prometheus/client_golang/prometheus"
	m "github.com/tradenet/gossipd/pkg/metrics"
)

type metrics struct {
	Deposited    prometheus.Counter
	Collected    prometheus.Counter
	Acknowledged prometheus.Counter
	Delivered    prometheus.Counter
	Expired      prometheus.Counter
	Purged       prometheus.Counter
	Republished  prometheus.Counter
	Pending      prometheus.Gauge
}

func newMetrics() metrics {
	subsystem := "mailbox"

	return metrics{
		Deposited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "deposited_count",
			Help:      "Number of locally deposited mailbox records.",
		}),
		Collected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "collected_count",
			Help:      "Number of mailbox records returned by collect.",
		}),
		Acknowledged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "acknowledged_count",
			Help:      "Number of mailbox records acknowledged by a local recipient.",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "delivered_count",
			Help:      "Number of mailbox records removed by their recipient.",
		}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "expired_count",
			Help:      "Number of mailbox records that expired undelivered.",
		}),
		Purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "purged_count",
			Help:      "Number of mailbox records purged.",
		}),
		Republished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "republished_count",
			Help:      "Number of owned mailbox records broadcast again on start.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "pending",
			Help:      "Number of held mailbox records awaiting their recipient.",
		}),
	}
}

func (s *Service) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
