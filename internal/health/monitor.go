// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

// Package health runs the supervised background monitor: it probes every
// provider on a fixed interval with bounded fan-out, keeps a retained probe
// history for windowed metrics, evaluates alert thresholds, and ranks
// providers by weighted health score. All breaker and health state lives in
// the shared registry; the monitor owns only its probe history and alerts.
package health

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/feedfuse/feedfuse/internal/breaker"
	"github.com/feedfuse/feedfuse/internal/provider"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/feedfuse/feedfuse/pkg/health"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultInterval between monitoring ticks.
	DefaultInterval = 30 * time.Second
	// DefaultProbeTimeout bounds one health-check probe.
	DefaultProbeTimeout = 5 * time.Second
	// DefaultRetention is how long probe history is kept.
	DefaultRetention = 24 * time.Hour
	// DefaultMaxConcurrentProbes caps the per-tick fan-out.
	DefaultMaxConcurrentProbes = 4
	// DefaultRestartBackoff is the pause before the loop restarts after a
	// crash.
	DefaultRestartBackoff = 10 * time.Second

	// maxHistoryPerProvider hard-caps one provider's retained history
	// independent of the time-based retention.
	maxHistoryPerProvider = 8192
)

// DefaultWindows returns the standard performance window sizes in minutes.
func DefaultWindows() []int {
	return []int{5, 15, 60, 240}
}

// Thresholds are the alert trigger levels evaluated each tick.
type Thresholds struct {
	WarningFailureRate   float64
	CriticalFailureRate  float64
	WarningLatencyMS     float64
	CriticalLatencyMS    float64
	CriticalConsecutive  int
	EmergencyConsecutive int
}

// DefaultThresholds returns the standard alert thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningFailureRate:   0.3,
		CriticalFailureRate:  0.6,
		WarningLatencyMS:     2500,
		CriticalLatencyMS:    5000,
		CriticalConsecutive:  3,
		EmergencyConsecutive: 10,
	}
}

// Options configures a Monitor. Chain and Registry are required; every
// other zero field takes its default.
type Options struct {
	Chain               *provider.Chain
	Registry            *breaker.Registry
	Interval            time.Duration
	ProbeTimeout        time.Duration
	Retention           time.Duration
	Windows             []int
	MaxConcurrentProbes int
	RestartBackoff      time.Duration
	Thresholds          Thresholds
	Logger              *slog.Logger
}

// observation is one recorded probe outcome.
type observation struct {
	at        time.Time
	elapsedMS float64
	success   bool
	errMsg    string
}

// Monitor is the supervised health monitoring loop.
type Monitor struct {
	chain        *provider.Chain
	registry     *breaker.Registry
	interval     time.Duration
	probeTimeout time.Duration
	retention    time.Duration
	backoff      time.Duration
	windows      []int
	maxProbes    int
	thresholds   Thresholds
	logger       *slog.Logger

	mu      sync.Mutex
	history map[string][]observation
	alerts  map[string]*health.Alert
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
	nowFunc func() time.Time // for testing
}

// New creates a Monitor. The chain and registry are shared with the
// orchestrator so both execution contexts see the same provider state.
func New(opts Options) (*Monitor, error) {
	if opts.Chain == nil || opts.Chain.Len() == 0 {
		return nil, fferr.New(fferr.CodeConfigValidateInvalidValue, "monitor requires a non-empty provider chain")
	}
	if opts.Registry == nil {
		return nil, fferr.New(fferr.CodeConfigValidateInvalidValue, "monitor requires a breaker registry")
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	backoff := opts.RestartBackoff
	if backoff <= 0 {
		backoff = DefaultRestartBackoff
	}
	maxProbes := opts.MaxConcurrentProbes
	if maxProbes <= 0 {
		maxProbes = DefaultMaxConcurrentProbes
	}

	windows := opts.Windows
	if len(windows) == 0 {
		windows = DefaultWindows()
	}
	windows = append([]int(nil), windows...)
	slices.Sort(windows)
	windows = slices.Compact(windows)
	for _, w := range windows {
		if w <= 0 {
			return nil, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
				"performance window must be positive minutes, got %d", w)
		}
	}

	thresholds := opts.Thresholds
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		chain:        opts.Chain,
		registry:     opts.Registry,
		interval:     interval,
		probeTimeout: probeTimeout,
		retention:    retention,
		backoff:      backoff,
		windows:      windows,
		maxProbes:    maxProbes,
		thresholds:   thresholds,
		logger:       logger,
		history:      make(map[string][]observation),
		alerts:       make(map[string]*health.Alert),
		nowFunc:      time.Now,
	}, nil
}

// SetNowFunc overrides the time source (for testing retention and alert
// timestamps).
func (m *Monitor) SetNowFunc(fn func() time.Time) {
	m.mu.Lock()
	m.nowFunc = fn
	m.mu.Unlock()
}

func (m *Monitor) now() time.Time {
	m.mu.Lock()
	fn := m.nowFunc
	m.mu.Unlock()
	return fn()
}

// Start launches the supervised monitoring goroutine. Calling Start on a
// running monitor is a misuse error.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fferr.New(fferr.CodeMonitorAlreadyRunning, "monitor is already running")
	}
	m.running = true
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.wg.Add(1)
	go m.supervise(ctx, done)

	m.logger.Info("health monitor started",
		slog.Duration("interval", m.interval),
		slog.Int("providers", m.chain.Len()),
		slog.Int("max_concurrent_probes", m.maxProbes))
	return nil
}

// Stop signals the loop and waits for a clean exit. In-flight probes finish
// under their own timeout before the loop observes the stop.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	done := m.done
	m.done = nil
	m.mu.Unlock()

	if done == nil {
		return fferr.New(fferr.CodeMonitorNotRunning, "monitor is not running")
	}

	close(done)
	m.wg.Wait()
	m.logger.Info("health monitor stopped")
	return nil
}

// Running reports whether the monitoring loop is alive.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// supervise keeps the loop alive: a crashed loop is logged and restarted
// after the backoff, a cooperative exit ends supervision.
func (m *Monitor) supervise(ctx context.Context, done <-chan struct{}) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		m.wg.Done()
	}()

	for {
		if m.loop(ctx, done) {
			return
		}

		m.logger.Error("monitor loop crashed, restarting",
			slog.Duration("backoff", m.backoff))
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-time.After(m.backoff):
		}
	}
}

// loop ticks until cancelled. It reports true on a cooperative exit and
// false when the tick body panicked; provider panics surface here through
// the probe group's Wait.
func (m *Monitor) loop(ctx context.Context, done <-chan struct{}) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor tick panicked", slog.Any("panic", r))
			clean = false
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Probe immediately so health data exists before the first interval
	// elapses.
	m.RunTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return true
		case <-done:
			return true
		case <-ticker.C:
			m.RunTick(ctx)
		}
	}
}

// RunTick performs one full monitoring pass synchronously: bounded
// concurrent probes, outcome recording, window-feeding history append,
// alert evaluation, and retention eviction. Exported so tests and doctor
// checks can drive the monitor without the background loop.
func (m *Monitor) RunTick(ctx context.Context) {
	providers := m.chain.InOrder()

	type slot struct {
		name    string
		skipped bool
		obs     observation
	}
	slots := make([]slot, len(providers))

	g := new(errgroup.Group)
	g.SetLimit(m.maxProbes)
	for i, prov := range providers {
		name := prov.Name()
		if !m.registry.Available(name) {
			slots[i] = slot{name: name, skipped: true}
			m.logger.Debug("probe skipped, circuit open", slog.String("provider", name))
			continue
		}
		g.Go(func() error {
			slots[i] = slot{name: name, obs: m.probe(ctx, prov)}
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range slots {
		if s.skipped {
			continue
		}
		elapsed := time.Duration(s.obs.elapsedMS * float64(time.Millisecond))
		if s.obs.success {
			m.registry.RecordSuccess(s.name, elapsed)
		} else {
			m.registry.RecordFailure(s.name, elapsed)
			m.logger.Warn("health probe failed",
				slog.String("provider", s.name),
				slog.Float64("elapsed_ms", s.obs.elapsedMS),
				slog.String("error", s.obs.errMsg))
		}
		m.appendHistory(s.name, s.obs)
	}

	m.evaluateAlerts()
	m.evictHistory()
}

// probe runs one health check under its own timeout, detached from loop
// cancellation so an in-flight probe always resolves.
func (m *Monitor) probe(ctx context.Context, prov provider.Provider) observation {
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.probeTimeout)
	defer cancel()

	started := time.Now()
	env, err := prov.HealthCheck(probeCtx)
	elapsed := float64(time.Since(started).Microseconds()) / 1000

	if err != nil {
		return observation{at: m.now(), elapsedMS: elapsed, errMsg: err.Error()}
	}
	if env != nil && env.Data.Status != provider.HealthStatusOK {
		m.logger.Warn("provider reports degraded health",
			slog.String("provider", prov.Name()),
			slog.String("status", env.Data.Status))
	}
	return observation{at: m.now(), elapsedMS: elapsed, success: true}
}

func (m *Monitor) appendHistory(name string, obs observation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := append(m.history[name], obs)
	if len(recs) > maxHistoryPerProvider {
		recs = recs[len(recs)-maxHistoryPerProvider:]
	}
	m.history[name] = recs
}

// evictHistory drops observations older than the retention window.
func (m *Monitor) evictHistory() {
	cutoff := m.now().Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, recs := range m.history {
		idx := 0
		for idx < len(recs) && recs[idx].at.Before(cutoff) {
			idx++
		}
		if idx > 0 {
			m.history[name] = append([]observation(nil), recs[idx:]...)
		}
	}
}

// Health returns the current per-provider health snapshot, covering every
// configured provider even before its first probe.
func (m *Monitor) Health() map[string]health.ProviderHealth {
	out := m.registry.Snapshot()
	for _, name := range m.chain.Names() {
		if _, ok := out[name]; !ok {
			out[name] = m.registry.Health(name)
		}
	}
	return out
}

// Windows returns the configured performance window sizes in minutes.
func (m *Monitor) Windows() []int {
	return append([]int(nil), m.windows...)
}
