// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tradenet/gossipd/pkg/metrics"
)

type nodeMetrics struct {
	// StartupDuration measures time in seconds for the node to start all services
	StartupDuration prometheus.Histogram
	// LoadedRecords is the number of records loaded from the state store at startup
	LoadedRecords prometheus.Gauge
}

func newMetrics() nodeMetrics {
	subsystem := "init"

	return nodeMetrics{
		StartupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: subsystem,
				Name:      "startup_duration_seconds",
				Help:      "Duration in seconds for the node to start all services.",
			},
		),
		LoadedRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Subsystem: subsystem,
				Name:      "loaded_records",
				Help:      "Number of records loaded from the state store at startup.",
			},
		),
	}
}

func (m nodeMetrics) Metrics() []prometheus.Collector {
	return metrics.PrometheusCollectorsFromFields(m)
}
