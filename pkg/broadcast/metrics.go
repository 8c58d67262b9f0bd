// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	m "github.com/tradenet/gossipd/pkg/metrics"
)

type metrics struct {
	Broadcasts   prometheus.Counter
	InFlight     prometheus.Gauge
	Sends        prometheus.Counter
	SendFailures prometheus.Counter
	Received     prometheus.Counter
	Rejected     prometheus.Counter
	Dropped      prometheus.Counter
	Relayed      prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "broadcast"

	return metrics{
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "broadcast_count",
			Help:      "Number of started broadcasts.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "in_flight",
			Help:      "Number of running broadcasts.",
		}),
		Sends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "send_count",
			Help:      "Number of operations sent to peers.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "send_failure_count",
			Help:      "Number of operations that could not be sent.",
		}),
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "received_count",
			Help:      "Number of operations received from peers.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "rejected_count",
			Help:      "Number of received operations rejected by the store.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "dropped_count",
			Help:      "Number of received operations requiring missing capabilities.",
		}),
		Relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "relayed_count",
			Help:      "Number of received operations sent on.",
		}),
	}
}

func (s *Service) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
