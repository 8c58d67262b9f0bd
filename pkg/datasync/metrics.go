// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datasync

import (
	"github.com/prometheus/client_golang/prometheus"
	m "github.com/tradenet/gossipd/pkg/metrics"
)

type metrics struct {
	RequestsSent     prometheus.Counter
	RequestsReceived prometheus.Counter
	RequestFailures  prometheus.Counter
	RateLimited      prometheus.Counter
	RecordsSent      prometheus.Counter
	RecordsReceived  prometheus.Counter
	RecordsStored    prometheus.Counter
	RecordsRejected  prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "datasync"

	return metrics{
		RequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "requests_sent_count",
			Help:      "Number of data requests sent.",
		}),
		RequestsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "requests_received_count",
			Help:      "Number of data requests received.",
		}),
		RequestFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "request_failures_count",
			Help:      "Number of failed data requests.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "rate_limited_count",
			Help:      "Number of data requests refused by the rate limit.",
		}),
		RecordsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "records_sent_count",
			Help:      "Number of records sent in data responses.",
		}),
		RecordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "records_received_count",
			Help:      "Number of records received in data responses.",
		}),
		RecordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "records_stored_count",
			Help:      "Number of received records that were new.",
		}),
		RecordsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "records_rejected_count",
			Help:      "Number of received records that failed validation.",
		}),
	}
}

func (s *Service) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
