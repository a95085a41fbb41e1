// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import "github.com/prometheus/client_golang/prometheus"

// Result label values for the DM and repost counters.
const (
	resultSent    = "sent"
	resultFailed  = "failed"
	resultSkipped = "skipped"
)

// Metrics holds the engine's Prometheus collectors. Label sets are
// fixed and small: no user or room IDs appear as label values.
type Metrics struct {
	joins        prometheus.Counter
	reposts      *prometheus.CounterVec
	welcomeDMs   *prometheus.CounterVec
	tipsDMs      *prometheus.CounterVec
	invites      *prometheus.CounterVec
	reactions    *prometheus.CounterVec
	syncFailures prometheus.Counter
	tracked      prometheus.Gauge
}

// NewMetrics creates the engine's collectors and registers them with
// registerer. A nil registerer leaves them unregistered, which is what
// tests want when several engines share a process.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_joins_total",
			Help: "Qualifying joins observed in the gated room.",
		}),
		reposts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_reposts_total",
			Help: "Rules message posts by result.",
		}, []string{"result"}),
		welcomeDMs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_welcome_dms_total",
			Help: "Welcome direct messages by result.",
		}, []string{"result"}),
		tipsDMs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_tips_dms_total",
			Help: "Tips direct messages by result.",
		}, []string{"result"}),
		invites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_invites_total",
			Help: "Destination invites by outcome.",
		}, []string{"outcome"}),
		reactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_reactions_total",
			Help: "Reactions on tracked rules messages, by whether the key is an acceptance glyph.",
		}, []string{"accepted"}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_sync_failures_total",
			Help: "Failed receive calls, each followed by a backoff.",
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_tracked_messages",
			Help: "Rules messages whose reactions are currently honored.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(
			metrics.joins,
			metrics.reposts,
			metrics.welcomeDMs,
			metrics.tipsDMs,
			metrics.invites,
			metrics.reactions,
			metrics.syncFailures,
			metrics.tracked,
		)
	}
	return metrics
}
