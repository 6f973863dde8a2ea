// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package health

import "time"

// ProviderHealth is a point-in-time snapshot of one provider's health
// record for monitoring and operator visibility. All fields are safe to
// serialize to JSON.
type ProviderHealth struct {
	Provider            string        `json:"provider"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	FailureRate         float64       `json:"failure_rate"`
	AvgResponseTimeMS   float64       `json:"avg_response_time_ms"`
	LastSuccessAt       *time.Time    `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time    `json:"last_failure_at,omitempty"`
	IsHealthy           bool          `json:"is_healthy"`
	Breaker             BreakerStatus `json:"breaker"`
}

// BreakerStatus reports the circuit breaker half of a provider record.
type BreakerStatus struct {
	State                  string     `json:"state"`
	FailureCount           int        `json:"failure_count"`
	FailureThreshold       int        `json:"failure_threshold"`
	RecoveryTimeoutSeconds int        `json:"recovery_timeout_seconds"`
	RecoveryTime           *time.Time `json:"recovery_time,omitempty"`
}

// PerformanceWindow aggregates a provider's probe history over one rolling
// window, recomputed each monitoring tick.
type PerformanceWindow struct {
	WindowMinutes     int     `json:"window_minutes"`
	SuccessCount      int     `json:"success_count"`
	FailureCount      int     `json:"failure_count"`
	AvgResponseTimeMS float64 `json:"avg_response_time_ms"`
	P95ResponseTimeMS float64 `json:"p95_response_time_ms"`
	ErrorRate         float64 `json:"error_rate"`
}

// AlertLevel grades alert severity.
type AlertLevel string

const (
	AlertInfo      AlertLevel = "info"
	AlertWarning   AlertLevel = "warning"
	AlertCritical  AlertLevel = "critical"
	AlertEmergency AlertLevel = "emergency"
)

// Alert is a de-duplicated health alert. Repeat detections of the same
// (source, level, message) update LastSeenAt and OccurrenceCount instead of
// creating a new alert; alerts are acknowledged, never deleted.
type Alert struct {
	ID              string         `json:"id"`
	Source          string         `json:"source"`
	Level           AlertLevel     `json:"level"`
	Message         string         `json:"message"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	LastSeenAt      time.Time      `json:"last_seen_at"`
	OccurrenceCount int            `json:"occurrence_count"`
	Acknowledged    bool           `json:"acknowledged"`
}

// RankedProvider is one row of the weighted provider ranking.
type RankedProvider struct {
	Provider          string  `json:"provider"`
	Score             float64 `json:"score"`
	IsHealthy         bool    `json:"is_healthy"`
	FailureRate       float64 `json:"failure_rate"`
	AvgResponseTimeMS float64 `json:"avg_response_time_ms"`
}

// FetchQuality is the quality assessment attached to a fetch result.
type FetchQuality struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Freshness    float64 `json:"freshness"`
	Consistency  float64 `json:"consistency"`
	OverallScore float64 `json:"overall_score"`
}

// FetchResult is the wire view of one composed fetch, shared by the ops
// server, the CLI client, and the watch dashboard.
type FetchResult struct {
	Data                any            `json:"data"`
	PrimarySource       string         `json:"primary_source"`
	ContributingSources []string       `json:"contributing_sources"`
	Quality             FetchQuality   `json:"quality"`
	ConflictsDetected   bool           `json:"conflicts_detected"`
	FailoverOccurred    bool           `json:"failover_occurred"`
	ResponseTimeMS      float64        `json:"response_time_ms"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}
