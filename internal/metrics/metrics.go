// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

// Package metrics provides Prometheus instrumentation for the decision
// engine, the decision cache, key-set refreshes, session lifecycle,
// and the invalidation bus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decision engine metrics
	DecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authz_decision_duration_seconds",
			Help:    "Duration of authorization decisions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"}, // "allow", "deny", "error"
	)

	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"outcome", "source"}, // source: "cache", "evaluated", "root", "fallback"
	)

	// Decision cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authz_cache_hits_total",
			Help: "Total number of decision cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authz_cache_misses_total",
			Help: "Total number of decision cache misses",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "authz_cache_entries",
			Help: "Current number of cached decisions",
		},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_cache_evictions_total",
			Help: "Total number of decision cache evictions",
		},
		[]string{"reason"}, // "expired", "capacity", "invalidated"
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_cache_invalidations_total",
			Help: "Total number of cache invalidation requests",
		},
		[]string{"scope"}, // "subject", "object", "all"
	)

	// Key set metrics
	KeysetRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyset_refreshes_total",
			Help: "Total number of signing key set refresh attempts",
		},
		[]string{"result"}, // "success", "failure", "throttled"
	)

	KeysetKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keyset_keys",
			Help: "Current number of cached signing keys",
		},
	)

	TokenVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_verifications_total",
			Help: "Total number of token verification attempts",
		},
		[]string{"result"}, // "ok", "expired", "invalid", "key_not_found", "unavailable"
	)

	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Current number of active sessions",
		},
	)

	SessionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_operations_total",
			Help: "Total number of session lifecycle operations",
		},
		[]string{"operation", "result"}, // operation: "create", "activate", "refresh", "revoke", "cleanup"
	)

	// Invalidation bus metrics
	BusEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invalidation_events_published_total",
			Help: "Total number of invalidation events published",
		},
	)

	BusEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_received_total",
			Help: "Total number of invalidation events received",
		},
		[]string{"result"}, // "applied", "skipped", "malformed"
	)

	// Circuit breaker metrics (key set fetches)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)

// RecordDecision records one authorization decision with its latency.
func RecordDecision(outcome, source string, duration time.Duration) {
	DecisionsTotal.WithLabelValues(outcome, source).Inc()
	DecisionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordCacheHit records a decision cache hit.
func RecordCacheHit() {
	CacheHits.Inc()
}

// RecordCacheMiss records a decision cache miss.
func RecordCacheMiss() {
	CacheMisses.Inc()
}

// RecordVerification records one token verification attempt.
func RecordVerification(result string) {
	TokenVerifications.WithLabelValues(result).Inc()
}

// RecordSessionOp records one session lifecycle operation.
func RecordSessionOp(operation, result string) {
	SessionOperations.WithLabelValues(operation, result).Inc()
}
