// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package peerexchange

import (
	"github.com/prometheus/client_golang/prometheus"
	m "github.com/tradenet/gossipd/pkg/metrics"
)

type metrics struct {
	Rounds          prometheus.Counter
	Requests        prometheus.Counter
	RequestFailures prometheus.Counter
	Handled         prometheus.Counter
	RateLimited     prometheus.Counter
	Unsupported     prometheus.Counter
	ReceivedPeers   prometheus.Counter
	Connects        prometheus.Counter
	ConnectFailures prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "peerexchange"

	return metrics{
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "round_count",
			Help:      "Number of peer exchange rounds.",
		}),
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "request_count",
			Help:      "Number of peer requests sent.",
		}),
		RequestFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "request_failure_count",
			Help:      "Number of failed peer requests.",
		}),
		Handled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "handled_count",
			Help:      "Number of peer requests received.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "rate_limited_count",
			Help:      "Number of peer requests refused by the rate limit.",
		}),
		Unsupported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "unsupported_count",
			Help:      "Number of peer requests answered empty for missing capabilities.",
		}),
		ReceivedPeers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "received_peers_count",
			Help:      "Number of peer addresses received.",
		}),
		Connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "connect_count",
			Help:      "Number of connection attempts to learned peers.",
		}),
		ConnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "connect_failure_count",
			Help:      "Number of failed connection attempts to learned peers.",
		}),
	}
}

func (s *Service) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
