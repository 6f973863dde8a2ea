// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package health

import (
	"slices"
	"sort"
	"time"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/feedfuse/feedfuse/pkg/health"
)

// Metrics aggregates the retained probe history over one configured window.
// Asking for an unconfigured window is an invalid-input error naming the
// windows that exist.
func (m *Monitor) Metrics(windowMinutes int) (map[string]health.PerformanceWindow, error) {
	if !slices.Contains(m.windows, windowMinutes) {
		return nil, fferr.Errorf(fferr.CodeMonitorWindowInvalid,
			"unknown performance window %dm: configured windows are %v", windowMinutes, m.windows)
	}

	cutoff := m.now().Add(-time.Duration(windowMinutes) * time.Minute)

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]health.PerformanceWindow, m.chain.Len())
	for _, name := range m.chain.Names() {
		w := health.PerformanceWindow{WindowMinutes: windowMinutes}

		var elapsed []float64
		var totalMS float64
		for _, obs := range m.history[name] {
			if obs.at.Before(cutoff) {
				continue
			}
			if obs.success {
				w.SuccessCount++
			} else {
				w.FailureCount++
			}
			elapsed = append(elapsed, obs.elapsedMS)
			totalMS += obs.elapsedMS
		}

		if total := w.SuccessCount + w.FailureCount; total > 0 {
			w.AvgResponseTimeMS = totalMS / float64(total)
			w.P95ResponseTimeMS = percentile95(elapsed)
			w.ErrorRate = float64(w.FailureCount) / float64(total)
		}
		out[name] = w
	}
	return out, nil
}

// Rankings scores every known provider and sorts descending. Ties break on
// ascending name so identical snapshots always rank identically.
func (m *Monitor) Rankings() []health.RankedProvider {
	snapshot := m.Health()

	rows := make([]health.RankedProvider, 0, len(snapshot))
	for name, h := range snapshot {
		rows = append(rows, health.RankedProvider{
			Provider:          name,
			Score:             rankScore(h),
			IsHealthy:         h.IsHealthy,
			FailureRate:       h.FailureRate,
			AvgResponseTimeMS: h.AvgResponseTimeMS,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].Provider < rows[j].Provider
	})
	return rows
}

// rankScore weights recent reliability, latency, and overall health into a
// single comparable score.
func rankScore(h health.ProviderHealth) float64 {
	healthBonus := 0.0
	if h.IsHealthy {
		healthBonus = 20
	}
	return 0.4*(1-h.FailureRate) + 0.4*max(0, 1-h.AvgResponseTimeMS/100) + 0.2*healthBonus
}

// percentile95 returns the 95th percentile of samples by copy, sort, and
// index. Zero samples yield zero.
func percentile95(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	s := append([]float64(nil), samples...)
	sort.Float64s(s)

	idx := int(float64(len(s)) * 0.95)
	if idx >= len(s) {
		idx = len(s) - 1
	}
	return s[idx]
}
