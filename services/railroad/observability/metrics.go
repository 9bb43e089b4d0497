// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the Prometheus metrics of the railroad
// service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the service exports. Create exactly
// one per process with NewMetrics.
type Metrics struct {
	// ActiveSessions is the number of live websocket sessions.
	ActiveSessions prometheus.Gauge

	// ValidationsTotal counts validation runs by outcome
	// (won, not_won, malformed, error).
	ValidationsTotal *prometheus.CounterVec

	// ValidationDuration observes wall time per validation run.
	ValidationDuration prometheus.Histogram

	// RoutesCommittedTotal counts routes persisted by commit batches.
	RoutesCommittedTotal prometheus.Counter

	// CommitBatchesTotal counts commit attempts by status
	// (committed, rejected, error).
	CommitBatchesTotal *prometheus.CounterVec
}

// NewMetrics registers the service collectors on reg. Pass
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "railroad",
			Name:      "active_sessions",
			Help:      "Number of live websocket submission sessions.",
		}),
		ValidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railroad",
			Name:      "validations_total",
			Help:      "Validation runs by outcome.",
		}, []string{"outcome"}),
		ValidationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "railroad",
			Name:      "validation_duration_seconds",
			Help:      "Wall time of a validation run.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		RoutesCommittedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "railroad",
			Name:      "routes_committed_total",
			Help:      "Routes persisted by successful commit batches.",
		}),
		CommitBatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railroad",
			Name:      "commit_batches_total",
			Help:      "Commit batch attempts by status.",
		}, []string{"status"}),
	}
}

// Outcome label values for ValidationsTotal.
const (
	OutcomeWon       = "won"
	OutcomeNotWon    = "not_won"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

// Status label values for CommitBatchesTotal.
const (
	CommitCommitted = "committed"
	CommitRejected  = "rejected"
	CommitError     = "error"
)
