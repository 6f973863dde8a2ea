// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

// Package breaker owns the per-provider health and circuit state shared by
// the fetch orchestrator and the health monitor. One record per provider
// carries both the breaker counters and the derived health view, so call
// denial and alerting never disagree about what failed.
package breaker

import (
	"sort"
	"sync"
	"time"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/feedfuse/feedfuse/pkg/health"
)

// State of a provider's circuit.
type State string

const (
	StateClosed  State = "closed"
	StateOpen    State = "open"
	StateProbing State = "probing"
)

const (
	// DefaultFailureThreshold opens the breaker after this many consecutive
	// failures.
	DefaultFailureThreshold = 5
	// DefaultRecoveryTimeout is how long an open breaker denies calls before
	// allowing a probe.
	DefaultRecoveryTimeout = 300 * time.Second

	// Health derivation bounds. A provider is healthy while its recent
	// failure rate, trailing failure streak, and average latency all stay
	// under these limits.
	recentOutcomes   = 10
	healthyMaxRate   = 0.5
	healthyMaxStreak = 3
	healthyMaxAvgMS  = 5000.0
)

// outcome is one recorded provider call, from either execution context.
type outcome struct {
	at        time.Time
	elapsedMS float64
	success   bool
}

// record is the unified breaker + health state for one provider.
// Access is serialized by its own mutex so the orchestrator and the
// monitor can update different providers without contention.
type record struct {
	mu sync.Mutex

	threshold       int
	recoveryTimeout time.Duration

	failureCount int
	open         bool
	probing      bool
	recoveryTime time.Time

	consecutiveFailures int
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	recent              []outcome
}

// push appends an outcome, keeping only the most recent entries.
func (r *record) push(o outcome) {
	r.recent = append(r.recent, o)
	if len(r.recent) > recentOutcomes {
		r.recent = r.recent[len(r.recent)-recentOutcomes:]
	}
}

// Registry tracks one record per provider. Records are created lazily on
// first touch with the registry defaults and are never deleted; Reset is
// the only administrative way to clear one.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record

	defaultThreshold int
	defaultRecovery  time.Duration
	nowFunc          func() time.Time // for testing
}

// NewRegistry creates a Registry with per-provider defaults.
// Returns an error if threshold < 1 or recovery is not positive.
func NewRegistry(threshold int, recovery time.Duration) (*Registry, error) {
	if threshold < 1 {
		return nil, fferr.Errorf(fferr.CodeBreakerConfigInvalid,
			"failure threshold must be at least 1, got %d", threshold)
	}
	if recovery <= 0 {
		return nil, fferr.Errorf(fferr.CodeBreakerConfigInvalid,
			"recovery timeout must be positive, got %s", recovery)
	}
	return &Registry{
		records:          make(map[string]*record),
		defaultThreshold: threshold,
		defaultRecovery:  recovery,
		nowFunc:          time.Now,
	}, nil
}

// SetNowFunc overrides the time source (for testing).
func (g *Registry) SetNowFunc(fn func() time.Time) {
	g.mu.Lock()
	g.nowFunc = fn
	g.mu.Unlock()
}

func (g *Registry) now() time.Time {
	g.mu.RLock()
	fn := g.nowFunc
	g.mu.RUnlock()
	return fn()
}

// ensure returns the record for name, creating it with defaults on first touch.
func (g *Registry) ensure(name string) *record {
	g.mu.RLock()
	rec, ok := g.records[name]
	g.mu.RUnlock()
	if ok {
		return rec
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok = g.records[name]; ok {
		return rec
	}
	rec = &record{
		threshold:       g.defaultThreshold,
		recoveryTimeout: g.defaultRecovery,
	}
	g.records[name] = rec
	return rec
}

// Configure overrides one provider's failure threshold and recovery timeout.
// Existing counters are preserved so reconfiguring a tripping provider does
// not grant it a clean slate.
func (g *Registry) Configure(name string, threshold int, recovery time.Duration) error {
	if threshold < 1 {
		return fferr.Errorf(fferr.CodeBreakerConfigInvalid,
			"failure threshold must be at least 1, got %d", threshold)
	}
	if recovery <= 0 {
		return fferr.Errorf(fferr.CodeBreakerConfigInvalid,
			"recovery timeout must be positive, got %s", recovery)
	}

	rec := g.ensure(name)
	rec.mu.Lock()
	rec.threshold = threshold
	rec.recoveryTimeout = recovery
	rec.mu.Unlock()
	return nil
}

// Available reports whether calls to the provider are currently allowed.
// A closed breaker always allows. An open breaker past its recovery time
// admits exactly one probing call; the probe's recorded outcome decides the
// next state, and concurrent callers are denied until it resolves.
func (g *Registry) Available(name string) bool {
	rec := g.ensure(name)
	now := g.now()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.open {
		return true
	}
	if rec.probing {
		return false
	}
	if !now.Before(rec.recoveryTime) {
		rec.probing = true
		return true
	}
	return false
}

// RecordSuccess resets the provider's failure counters and closes the breaker.
func (g *Registry) RecordSuccess(name string, elapsed time.Duration) {
	rec := g.ensure(name)
	now := g.now()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.failureCount = 0
	rec.consecutiveFailures = 0
	rec.open = false
	rec.probing = false
	rec.recoveryTime = time.Time{}
	rec.lastSuccessAt = now
	rec.push(outcome{at: now, elapsedMS: float64(elapsed.Milliseconds()), success: true})
}

// RecordFailure increments the provider's failure counters, opening the
// breaker (with a fresh recovery deadline) once the threshold is reached.
// A failed probe re-opens immediately with a renewed timer.
func (g *Registry) RecordFailure(name string, elapsed time.Duration) {
	rec := g.ensure(name)
	now := g.now()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.failureCount++
	rec.consecutiveFailures++
	rec.lastFailureAt = now

	if rec.probing {
		rec.probing = false
		rec.open = true
		rec.recoveryTime = now.Add(rec.recoveryTimeout)
	} else if rec.failureCount >= rec.threshold {
		rec.open = true
		rec.recoveryTime = now.Add(rec.recoveryTimeout)
	}
	rec.push(outcome{at: now, elapsedMS: float64(elapsed.Milliseconds()), success: false})
}

// Reset clears a provider's counters and closes its breaker. This is the
// explicit administrative reset; records are never dropped otherwise.
func (g *Registry) Reset(name string) {
	rec := g.ensure(name)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.failureCount = 0
	rec.consecutiveFailures = 0
	rec.open = false
	rec.probing = false
	rec.recoveryTime = time.Time{}
	rec.recent = nil
}

// State returns the provider's circuit state.
func (g *Registry) State(name string) State {
	rec := g.ensure(name)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch {
	case rec.probing:
		return StateProbing
	case rec.open:
		return StateOpen
	default:
		return StateClosed
	}
}

// Health returns the provider's derived health snapshot.
func (g *Registry) Health(name string) health.ProviderHealth {
	rec := g.ensure(name)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.healthLocked(name)
}

// Snapshot returns health snapshots for every known provider.
func (g *Registry) Snapshot() map[string]health.ProviderHealth {
	g.mu.RLock()
	names := make([]string, 0, len(g.records))
	for name := range g.records {
		names = append(names, name)
	}
	g.mu.RUnlock()

	out := make(map[string]health.ProviderHealth, len(names))
	for _, name := range names {
		out[name] = g.Health(name)
	}
	return out
}

// Providers returns every known provider name in sorted order.
func (g *Registry) Providers() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.records))
	for name := range g.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// healthLocked derives the snapshot. Caller must hold rec.mu.
func (r *record) healthLocked(name string) health.ProviderHealth {
	var failures int
	var totalMS float64
	for _, o := range r.recent {
		if !o.success {
			failures++
		}
		totalMS += o.elapsedMS
	}

	var rate, avgMS float64
	if n := len(r.recent); n > 0 {
		rate = float64(failures) / float64(n)
		avgMS = totalMS / float64(n)
	}

	h := health.ProviderHealth{
		Provider:            name,
		ConsecutiveFailures: r.consecutiveFailures,
		FailureRate:         rate,
		AvgResponseTimeMS:   avgMS,
		IsHealthy:           rate < healthyMaxRate && r.consecutiveFailures < healthyMaxStreak && avgMS < healthyMaxAvgMS,
		Breaker: health.BreakerStatus{
			State:                  string(r.stateLocked()),
			FailureCount:           r.failureCount,
			FailureThreshold:       r.threshold,
			RecoveryTimeoutSeconds: int(r.recoveryTimeout / time.Second),
		},
	}
	if !r.lastSuccessAt.IsZero() {
		t := r.lastSuccessAt
		h.LastSuccessAt = &t
	}
	if !r.lastFailureAt.IsZero() {
		t := r.lastFailureAt
		h.LastFailureAt = &t
	}
	if !r.recoveryTime.IsZero() {
		t := r.recoveryTime
		h.Breaker.RecoveryTime = &t
	}
	return h
}

func (r *record) stateLocked() State {
	switch {
	case r.probing:
		return StateProbing
	case r.open:
		return StateOpen
	default:
		return StateClosed
	}
}
