// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

// Package conflict picks a winner when more than one provider contributed
// data for the same logical request.
package conflict

import (
	"sort"
	"time"

	"github.com/feedfuse/feedfuse/internal/provider"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

// Strategy names a conflict resolution policy.
type Strategy string

const (
	// PrimaryWins returns the highest-priority source present.
	PrimaryWins Strategy = "primary_wins"
	// LatestTimestamp returns the source with the most recent extractable
	// timestamp, falling back to PrimaryWins when none is extractable.
	LatestTimestamp Strategy = "latest_timestamp"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case PrimaryWins, LatestTimestamp:
		return Strategy(s), nil
	default:
		return "", fferr.Errorf(fferr.CodeConflictStrategyInvalid, "unknown conflict strategy %q", s)
	}
}

// Sample is one provider's contribution for a logical request. Timestamp
// is zero when nothing time-like could be extracted from the payload.
type Sample struct {
	Payload   any
	Timestamp time.Time
}

// Resolve picks the winning source among bySource under the given strategy.
// priority is the configured provider chain in ascending priority order.
//
// When the strategy's preferred source is absent, the highest-priority
// present source wins; when no present source matches any known priority,
// the lexicographically smallest present source is returned. That last
// case is a weak guarantee chosen for determinism, not correctness.
func Resolve(bySource map[string]Sample, priority []string, strategy Strategy) (string, error) {
	if len(bySource) == 0 {
		return "", fferr.New(fferr.CodeConflictNoSources, "no sources to resolve")
	}

	switch strategy {
	case PrimaryWins:
		return primaryWins(bySource, priority), nil
	case LatestTimestamp:
		return latestTimestamp(bySource, priority), nil
	default:
		return "", fferr.Errorf(fferr.CodeConflictStrategyInvalid, "unknown conflict strategy %q", strategy)
	}
}

func primaryWins(bySource map[string]Sample, priority []string) string {
	for _, name := range priority {
		if _, ok := bySource[name]; ok {
			return name
		}
	}

	// No present source matches a known priority: deterministic stand-in
	// for "arbitrary".
	names := make([]string, 0, len(bySource))
	for name := range bySource {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0]
}

func latestTimestamp(bySource map[string]Sample, priority []string) string {
	var (
		winner string
		best   time.Time
	)

	// Walk priority first so equal timestamps resolve to the higher-priority
	// source; then pick up sources outside the configured chain.
	seen := make(map[string]bool, len(bySource))
	ordered := make([]string, 0, len(bySource))
	for _, name := range priority {
		if _, ok := bySource[name]; ok {
			ordered = append(ordered, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(bySource))
	for name := range bySource {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	for _, name := range ordered {
		ts := bySource[name].Timestamp
		if ts.IsZero() {
			continue
		}
		if ts.After(best) {
			winner = name
			best = ts
		}
	}

	if winner == "" {
		return primaryWins(bySource, priority)
	}
	return winner
}

// ExtractTimestamp pulls the most recent observation time out of a payload.
// Unknown payload shapes yield a zero time.
func ExtractTimestamp(payload any) time.Time {
	var latest time.Time

	switch data := payload.(type) {
	case map[string][]provider.Bar:
		for _, bars := range data {
			for _, bar := range bars {
				if bar.Timestamp.After(latest) {
					latest = bar.Timestamp
				}
			}
		}
	case map[string]provider.Bar:
		for _, bar := range data {
			if bar.Timestamp.After(latest) {
				latest = bar.Timestamp
			}
		}
	}

	return latest
}
