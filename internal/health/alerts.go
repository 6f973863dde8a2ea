// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package health

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"time"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/feedfuse/feedfuse/pkg/health"
)

// alertIDLen is how many hex characters of the digest form an alert ID.
const alertIDLen = 12

// alertCandidate is one threshold breach detected during a tick.
type alertCandidate struct {
	source   string
	level    health.AlertLevel
	message  string
	metadata map[string]any
}

// evaluateAlerts compares every provider's health snapshot against the
// thresholds. Each alert family (failure rate, latency, failure streak)
// contributes at most its highest breached level per tick.
func (m *Monitor) evaluateAlerts() {
	snapshot := m.Health()
	now := m.now()

	var candidates []alertCandidate
	for _, h := range snapshot {
		if c := rateAlert(h, m.thresholds); c != nil {
			candidates = append(candidates, *c)
		}
		if c := latencyAlert(h, m.thresholds); c != nil {
			candidates = append(candidates, *c)
		}
		if c := streakAlert(h, m.thresholds); c != nil {
			candidates = append(candidates, *c)
		}
	}

	if len(candidates) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range candidates {
		m.raiseLocked(c, now)
	}
}

// raiseLocked creates the alert or, when the same (source, level, message)
// already exists, refreshes it in place. Caller must hold m.mu.
func (m *Monitor) raiseLocked(c alertCandidate, now time.Time) {
	id := alertID(c.source, c.level, c.message)

	if existing, ok := m.alerts[id]; ok {
		existing.LastSeenAt = now
		existing.OccurrenceCount++
		existing.Metadata = c.metadata
		return
	}

	m.alerts[id] = &health.Alert{
		ID:              id,
		Source:          c.source,
		Level:           c.level,
		Message:         c.message,
		Metadata:        c.metadata,
		CreatedAt:       now,
		LastSeenAt:      now,
		OccurrenceCount: 1,
	}
	m.logger.Warn("alert raised",
		slog.String("provider", c.source),
		slog.String("level", string(c.level)),
		slog.String("message", c.message),
		slog.String("alert_id", id))
}

// rateAlert flags an elevated failure rate.
func rateAlert(h health.ProviderHealth, t Thresholds) *alertCandidate {
	switch {
	case h.FailureRate >= t.CriticalFailureRate:
		return &alertCandidate{
			source:  h.Provider,
			level:   health.AlertCritical,
			message: "failure rate above critical threshold",
			metadata: map[string]any{
				"failure_rate": h.FailureRate,
				"threshold":    t.CriticalFailureRate,
			},
		}
	case h.FailureRate >= t.WarningFailureRate:
		return &alertCandidate{
			source:  h.Provider,
			level:   health.AlertWarning,
			message: "failure rate above warning threshold",
			metadata: map[string]any{
				"failure_rate": h.FailureRate,
				"threshold":    t.WarningFailureRate,
			},
		}
	}
	return nil
}

// latencyAlert flags slow average responses.
func latencyAlert(h health.ProviderHealth, t Thresholds) *alertCandidate {
	switch {
	case h.AvgResponseTimeMS >= t.CriticalLatencyMS:
		return &alertCandidate{
			source:  h.Provider,
			level:   health.AlertCritical,
			message: "average response time above critical threshold",
			metadata: map[string]any{
				"avg_response_time_ms": h.AvgResponseTimeMS,
				"threshold_ms":         t.CriticalLatencyMS,
			},
		}
	case h.AvgResponseTimeMS >= t.WarningLatencyMS:
		return &alertCandidate{
			source:  h.Provider,
			level:   health.AlertWarning,
			message: "average response time above warning threshold",
			metadata: map[string]any{
				"avg_response_time_ms": h.AvgResponseTimeMS,
				"threshold_ms":         t.WarningLatencyMS,
			},
		}
	}
	return nil
}

// streakAlert flags runs of consecutive failures.
func streakAlert(h health.ProviderHealth, t Thresholds) *alertCandidate {
	switch {
	case h.ConsecutiveFailures >= t.EmergencyConsecutive:
		return &alertCandidate{
			source:  h.Provider,
			level:   health.AlertEmergency,
			message: "provider unresponsive across consecutive probes",
			metadata: map[string]any{
				"consecutive_failures": h.ConsecutiveFailures,
				"threshold":            t.EmergencyConsecutive,
			},
		}
	case h.ConsecutiveFailures >= t.CriticalConsecutive:
		return &alertCandidate{
			source:  h.Provider,
			level:   health.AlertCritical,
			message: "consecutive failures above critical threshold",
			metadata: map[string]any{
				"consecutive_failures": h.ConsecutiveFailures,
				"threshold":            t.CriticalConsecutive,
			},
		}
	}
	return nil
}

// Alerts returns alerts newest first, optionally including acknowledged
// ones. Alerts are never deleted.
func (m *Monitor) Alerts(includeAcknowledged bool) []health.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]health.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if !includeAcknowledged && a.Acknowledged {
			continue
		}
		out = append(out, *a)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].LastSeenAt.After(out[j].LastSeenAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveAlerts returns the unacknowledged alerts, newest first.
func (m *Monitor) ActiveAlerts() []health.Alert {
	return m.Alerts(false)
}

// Acknowledge marks one alert as handled.
func (m *Monitor) Acknowledge(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return fferr.New(fferr.CodeAlertNotFound, "alert not found: "+id, fferr.FieldAlertID(id))
	}
	a.Acknowledged = true
	return nil
}

// alertID derives the deterministic alert identity from what makes an
// alert unique: its source, level, and message.
func alertID(source string, level health.AlertLevel, message string) string {
	sum := sha256.Sum256([]byte(source + "|" + string(level) + "|" + message))
	return hex.EncodeToString(sum[:])[:alertIDLen]
}
