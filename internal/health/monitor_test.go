// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package health_test

import (
	"context"
	"testing"
	"time"

	"github.com/feedfuse/feedfuse/internal/breaker"
	"github.com/feedfuse/feedfuse/internal/health"
	"github.com/feedfuse/feedfuse/internal/provider"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	healthview "github.com/feedfuse/feedfuse/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	alpha := newProbeProvider("alpha")

	t.Run("missing chain", func(t *testing.T) {
		_, err := health.New(health.Options{Registry: newRegistry(t, 5)})
		require.Error(t, err)
		assert.True(t, fferr.HasCode(err, fferr.CodeConfigValidateInvalidValue))
	})

	t.Run("missing registry", func(t *testing.T) {
		_, err := health.New(health.Options{Chain: newChain(t, alpha)})
		require.Error(t, err)
		assert.True(t, fferr.HasCode(err, fferr.CodeConfigValidateInvalidValue))
	})

	t.Run("non-positive window", func(t *testing.T) {
		_, err := health.New(health.Options{
			Chain:    newChain(t, alpha),
			Registry: newRegistry(t, 5),
			Windows:  []int{5, 0},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "performance window")
	})

	t.Run("defaults applied", func(t *testing.T) {
		mon, err := health.New(health.Options{
			Chain:    newChain(t, alpha),
			Registry: newRegistry(t, 5),
			Logger:   discardLogger(),
		})
		require.NoError(t, err)
		assert.Equal(t, health.DefaultWindows(), mon.Windows())
		assert.False(t, mon.Running())
	})

	t.Run("windows sorted and deduplicated", func(t *testing.T) {
		mon, err := health.New(health.Options{
			Chain:    newChain(t, alpha),
			Registry: newRegistry(t, 5),
			Windows:  []int{60, 5, 60, 15},
			Logger:   discardLogger(),
		})
		require.NoError(t, err)
		assert.Equal(t, []int{5, 15, 60}, mon.Windows())
	})
}

func TestRunTickRecordsOutcomes(t *testing.T) {
	alpha := newProbeProvider("alpha")
	beta := newProbeProvider("beta")
	beta.fail.Store(true)
	reg := newRegistry(t, 5)

	mon, err := health.New(health.Options{
		Chain:    newChain(t, alpha, beta),
		Registry: reg,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	mon.RunTick(context.Background())

	assert.Equal(t, 1, alpha.callCount())
	assert.Equal(t, 1, beta.callCount())

	snapshot := mon.Health()
	require.Contains(t, snapshot, "alpha")
	require.Contains(t, snapshot, "beta")

	assert.True(t, snapshot["alpha"].IsHealthy)
	assert.NotNil(t, snapshot["alpha"].LastSuccessAt)
	assert.Zero(t, snapshot["alpha"].ConsecutiveFailures)

	assert.Equal(t, 1, snapshot["beta"].ConsecutiveFailures)
	assert.NotNil(t, snapshot["beta"].LastFailureAt)
	assert.Equal(t, 1, snapshot["beta"].Breaker.FailureCount)
	assert.InDelta(t, 1.0, snapshot["beta"].FailureRate, 0.001)
}

func TestRunTickSkipsOpenBreaker(t *testing.T) {
	alpha := newProbeProvider("alpha")
	beta := newProbeProvider("beta")
	beta.fail.Store(true)
	reg := newRegistry(t, 1)

	mon, err := health.New(health.Options{
		Chain:    newChain(t, alpha, beta),
		Registry: reg,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	mon.RunTick(ctx)
	require.Equal(t, breaker.StateOpen, reg.State("beta"))

	// The open circuit denies the next probe; no call, no history.
	mon.RunTick(ctx)

	assert.Equal(t, 2, alpha.callCount())
	assert.Equal(t, 1, beta.callCount())

	windows, err := mon.Metrics(5)
	require.NoError(t, err)
	assert.Equal(t, 1, windows["beta"].FailureCount)
	assert.Equal(t, 2, windows["alpha"].SuccessCount)
}

func TestRunTickBoundedFanOut(t *testing.T) {
	tracker := &concurrencyTracker{}
	fakes := make([]*probeProvider, 6)
	provs := make([]provider.Provider, len(fakes))
	for i := range fakes {
		p := newProbeProvider(string(rune('a' + i)))
		p.delay = 25 * time.Millisecond
		p.tracker = tracker
		fakes[i] = p
		provs[i] = p
	}

	mon, err := health.New(health.Options{
		Chain:               newChain(t, provs...),
		Registry:            newRegistry(t, 5),
		MaxConcurrentProbes: 2,
		Logger:              discardLogger(),
	})
	require.NoError(t, err)

	mon.RunTick(context.Background())

	for _, p := range fakes {
		assert.Equal(t, 1, p.callCount(), "provider %s", p.Name())
	}
	assert.Equal(t, 2, tracker.peak())
}

func TestProbeTimeout(t *testing.T) {
	slow := newProbeProvider("slow")
	slow.delay = 2 * time.Second
	reg := newRegistry(t, 5)

	mon, err := health.New(health.Options{
		Chain:        newChain(t, slow),
		Registry:     reg,
		ProbeTimeout: 40 * time.Millisecond,
		Logger:       discardLogger(),
	})
	require.NoError(t, err)

	started := time.Now()
	mon.RunTick(context.Background())
	assert.Less(t, time.Since(started), time.Second)

	h := reg.Health("slow")
	assert.Equal(t, 1, h.ConsecutiveFailures)
	assert.NotNil(t, h.LastFailureAt)
}

func TestDegradedStatusCountsAsSuccess(t *testing.T) {
	gamma := newProbeProvider("gamma")
	gamma.status = "degraded"
	reg := newRegistry(t, 5)

	mon, err := health.New(health.Options{
		Chain:    newChain(t, gamma),
		Registry: reg,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	mon.RunTick(context.Background())

	h := reg.Health("gamma")
	assert.True(t, h.IsHealthy)
	assert.NotNil(t, h.LastSuccessAt)

	windows, err := mon.Metrics(5)
	require.NoError(t, err)
	assert.Equal(t, 1, windows["gamma"].SuccessCount)
}

func TestMetricsUnknownWindow(t *testing.T) {
	mon, err := health.New(health.Options{
		Chain:    newChain(t, newProbeProvider("alpha")),
		Registry: newRegistry(t, 5),
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	_, err = mon.Metrics(7)
	require.Error(t, err)
	assert.True(t, fferr.HasCode(err, fferr.CodeMonitorWindowInvalid))
	assert.Contains(t, err.Error(), "configured windows")

	windows, err := mon.Metrics(15)
	require.NoError(t, err)
	require.Contains(t, windows, "alpha")
	assert.Equal(t, 15, windows["alpha"].WindowMinutes)
	assert.Zero(t, windows["alpha"].SuccessCount)
}

func TestAlertDedupAndOrdering(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	omega := newProbeProvider("omega")
	omega.fail.Store(true)

	mon, err := health.New(health.Options{
		Chain:    newChain(t, omega),
		Registry: newRegistry(t, 100),
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	mon.SetNowFunc(clock.Now)

	ctx := context.Background()
	createdAt := clock.Now()

	mon.RunTick(ctx)
	alerts := mon.ActiveAlerts()
	require.Len(t, alerts, 1)
	rate := alerts[0]
	assert.Len(t, rate.ID, 12)
	assert.Equal(t, "omega", rate.Source)
	assert.Equal(t, healthview.AlertCritical, rate.Level)
	assert.Equal(t, "failure rate above critical threshold", rate.Message)
	assert.Equal(t, 1, rate.OccurrenceCount)
	assert.True(t, rate.CreatedAt.Equal(createdAt))
	assert.True(t, rate.LastSeenAt.Equal(createdAt))

	// Same breach again: refreshed in place, not duplicated.
	clock.Advance(time.Minute)
	mon.RunTick(ctx)
	alerts = mon.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, rate.ID, alerts[0].ID)
	assert.Equal(t, 2, alerts[0].OccurrenceCount)
	assert.True(t, alerts[0].CreatedAt.Equal(createdAt))
	assert.True(t, alerts[0].LastSeenAt.Equal(createdAt.Add(time.Minute)))

	// Third failure starts the consecutive-failures alert alongside.
	clock.Advance(time.Minute)
	mon.RunTick(ctx)
	alerts = mon.ActiveAlerts()
	require.Len(t, alerts, 2)
	messages := []string{alerts[0].Message, alerts[1].Message}
	assert.ElementsMatch(t, []string{
		"failure rate above critical threshold",
		"consecutive failures above critical threshold",
	}, messages)

	// A success resets the streak but the recent failure rate still breaches,
	// so only the rate alert refreshes and sorts first.
	clock.Advance(time.Minute)
	omega.fail.Store(false)
	mon.RunTick(ctx)
	alerts = mon.ActiveAlerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, "failure rate above critical threshold", alerts[0].Message)
	assert.Equal(t, 4, alerts[0].OccurrenceCount)
	assert.Equal(t, "consecutive failures above critical threshold", alerts[1].Message)
	assert.Equal(t, 1, alerts[1].OccurrenceCount)
	assert.True(t, alerts[0].LastSeenAt.After(alerts[1].LastSeenAt))
}

func TestAlertEscalatesToEmergency(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	omega := newProbeProvider("omega")
	omega.fail.Store(true)

	mon, err := health.New(health.Options{
		Chain:    newChain(t, omega),
		Registry: newRegistry(t, 100),
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	mon.SetNowFunc(clock.Now)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		mon.RunTick(ctx)
		clock.Advance(30 * time.Second)
	}

	byMessage := make(map[string]healthview.Alert)
	for _, a := range mon.ActiveAlerts() {
		byMessage[a.Message] = a
	}

	emergency, ok := byMessage["provider unresponsive across consecutive probes"]
	require.True(t, ok, "expected emergency alert after ten consecutive failures")
	assert.Equal(t, healthview.AlertEmergency, emergency.Level)
	assert.Equal(t, 1, emergency.OccurrenceCount)

	critical, ok := byMessage["consecutive failures above critical threshold"]
	require.True(t, ok)
	assert.Equal(t, healthview.AlertCritical, critical.Level)
	assert.Equal(t, 7, critical.OccurrenceCount)

	assert.Equal(t, 10, byMessage["failure rate above critical threshold"].OccurrenceCount)
}

func TestAcknowledge(t *testing.T) {
	omega := newProbeProvider("omega")
	omega.fail.Store(true)

	mon, err := health.New(health.Options{
		Chain:    newChain(t, omega),
		Registry: newRegistry(t, 100),
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	mon.RunTick(context.Background())
	alerts := mon.ActiveAlerts()
	require.Len(t, alerts, 1)

	require.NoError(t, mon.Acknowledge(alerts[0].ID))
	assert.Empty(t, mon.ActiveAlerts())

	all := mon.Alerts(true)
	require.Len(t, all, 1)
	assert.True(t, all[0].Acknowledged)

	err = mon.Acknowledge("no-such-alert")
	require.Error(t, err)
	assert.True(t, fferr.HasCode(err, fferr.CodeAlertNotFound))
}

func TestRankings(t *testing.T) {
	alpha := newProbeProvider("alpha")
	beta := newProbeProvider("beta")
	beta.fail.Store(true)

	mon, err := health.New(health.Options{
		Chain:    newChain(t, alpha, beta),
		Registry: newRegistry(t, 100),
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		mon.RunTick(ctx)
	}

	rows := mon.Rankings()
	require.Len(t, rows, 2)

	assert.Equal(t, "alpha", rows[0].Provider)
	assert.True(t, rows[0].IsHealthy)
	assert.InDelta(t, 4.8, rows[0].Score, 0.05)

	assert.Equal(t, "beta", rows[1].Provider)
	assert.False(t, rows[1].IsHealthy)
	assert.InDelta(t, 0.4, rows[1].Score, 0.05)
	assert.InDelta(t, 1.0, rows[1].FailureRate, 0.001)
}

func TestRankingsTieBreaksOnName(t *testing.T) {
	zeta := newProbeProvider("zeta")
	alpha := newProbeProvider("alpha")

	mon, err := health.New(health.Options{
		Chain:    newChain(t, zeta, alpha),
		Registry: newRegistry(t, 5),
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	// No probes yet: identical scores, so names decide the order.
	rows := mon.Rankings()
	require.Len(t, rows, 2)
	assert.Equal(t, rows[0].Score, rows[1].Score)
	assert.Equal(t, "alpha", rows[0].Provider)
	assert.Equal(t, "zeta", rows[1].Provider)
}

func TestRetentionEviction(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	alpha := newProbeProvider("alpha")

	mon, err := health.New(health.Options{
		Chain:     newChain(t, alpha),
		Registry:  newRegistry(t, 5),
		Retention: time.Hour,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)
	mon.SetNowFunc(clock.Now)

	ctx := context.Background()
	mon.RunTick(ctx)

	windows, err := mon.Metrics(240)
	require.NoError(t, err)
	assert.Equal(t, 1, windows["alpha"].SuccessCount)

	// Two hours later the first observation is past retention even though
	// it is still inside the four-hour window.
	clock.Advance(2 * time.Hour)
	mon.RunTick(ctx)

	windows, err = mon.Metrics(240)
	require.NoError(t, err)
	assert.Equal(t, 1, windows["alpha"].SuccessCount)
	assert.Zero(t, windows["alpha"].FailureCount)
}

func TestStartStopLifecycle(t *testing.T) {
	alpha := newProbeProvider("alpha")

	mon, err := health.New(health.Options{
		Chain:    newChain(t, alpha),
		Registry: newRegistry(t, 5),
		Interval: time.Hour,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, mon.Start(context.Background()))
	assert.True(t, mon.Running())

	err = mon.Start(context.Background())
	require.Error(t, err)
	assert.True(t, fferr.HasCode(err, fferr.CodeMonitorAlreadyRunning))

	// The loop probes immediately on start.
	require.Eventually(t, func() bool { return alpha.callCount() >= 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, mon.Stop())
	assert.False(t, mon.Running())

	err = mon.Stop()
	require.Error(t, err)
	assert.True(t, fferr.HasCode(err, fferr.CodeMonitorNotRunning))
}

func TestContextCancelStopsLoop(t *testing.T) {
	alpha := newProbeProvider("alpha")

	mon, err := health.New(health.Options{
		Chain:    newChain(t, alpha),
		Registry: newRegistry(t, 5),
		Interval: time.Hour,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, mon.Start(ctx))
	require.Eventually(t, func() bool { return alpha.callCount() >= 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !mon.Running() }, 2*time.Second, 10*time.Millisecond)

	// Stop after a context-driven exit still tears down cleanly.
	require.NoError(t, mon.Stop())
}

func TestSupervisedRestartAfterPanic(t *testing.T) {
	flaky := newProbeProvider("flaky")
	flaky.panicOnce.Store(true)
	reg := newRegistry(t, 5)

	mon, err := health.New(health.Options{
		Chain:          newChain(t, flaky),
		Registry:       reg,
		Interval:       time.Hour,
		RestartBackoff: time.Millisecond,
		Logger:         discardLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, mon.Start(context.Background()))

	// First tick panics inside the probe; the supervisor restarts the loop,
	// whose immediate tick then succeeds.
	require.Eventually(t, func() bool {
		return flaky.callCount() >= 2 && reg.Health("flaky").LastSuccessAt != nil
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, mon.Running())
	require.NoError(t, mon.Stop())
	assert.False(t, mon.Running())
}
