// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inventory

import (
	"github.com/prometheus/client_golang/prometheus"
	m "github.com/tradenet/gossipd/pkg/metrics"
)

type metrics struct {
	RequestsSent     prometheus.Counter
	RequestsReceived prometheus.Counter
	RequestFailures  prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "inventory"

	return metrics{
		RequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "requests_sent_count",
			Help:      "Number of inventory requests sent.",
		}),
		RequestsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "requests_received_count",
			Help:      "Number of inventory requests answered.",
		}),
		RequestFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "request_failures_count",
			Help:      "Number of failed inventory requests.",
		}),
	}
}

func (s *Service) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
