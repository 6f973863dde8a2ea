// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package health_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/feedfuse/feedfuse/internal/breaker"
	"github.com/feedfuse/feedfuse/internal/provider"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// concurrencyTracker counts health checks in flight across a set of fakes
// so a test can observe the probe fan-out bound.
type concurrencyTracker struct {
	mu   sync.Mutex
	cur  int
	high int
}

func (t *concurrencyTracker) enter() {
	t.mu.Lock()
	t.cur++
	if t.cur > t.high {
		t.high = t.cur
	}
	t.mu.Unlock()
}

func (t *concurrencyTracker) exit() {
	t.mu.Lock()
	t.cur--
	t.mu.Unlock()
}

func (t *concurrencyTracker) peak() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.high
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{t: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// probeProvider is a provider fake whose health-check behavior is the whole
// point: failures, delays, one-shot panics, and concurrency accounting are
// all injectable. The data operations exist only to satisfy the interface.
type probeProvider struct {
	name      string
	delay     time.Duration
	status    string
	fail      atomic.Bool
	panicOnce atomic.Bool
	tracker   *concurrencyTracker

	mu    sync.Mutex
	calls int
}

func newProbeProvider(name string) *probeProvider {
	return &probeProvider{name: name, status: provider.HealthStatusOK}
}

func (p *probeProvider) Name() string { return p.name }

func (p *probeProvider) HealthCheck(ctx context.Context) (*provider.Envelope[provider.HealthPayload], error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.tracker != nil {
		p.tracker.enter()
		defer p.tracker.exit()
	}

	if p.panicOnce.CompareAndSwap(true, false) {
		panic("adapter bug: nil vendor client")
	}

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.fail.Load() {
		return nil, fferr.New(fferr.CodeProviderUpstreamFailure, "probe refused", fferr.FieldProvider(p.name))
	}
	return &provider.Envelope[provider.HealthPayload]{
		Data: provider.HealthPayload{Status: p.status},
	}, nil
}

func (p *probeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *probeProvider) FetchHistorical(ctx context.Context, req provider.HistoricalRequest) (*provider.Envelope[map[string][]provider.Bar], error) {
	return &provider.Envelope[map[string][]provider.Bar]{}, nil
}

func (p *probeProvider) FetchRealTime(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.Bar], error) {
	return &provider.Envelope[map[string]provider.Bar]{}, nil
}

func (p *probeProvider) FetchAssetInfo(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.AssetInfo], error) {
	return &provider.Envelope[map[string]provider.AssetInfo]{}, nil
}

func (p *probeProvider) ValidateSymbols(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.Validation], error) {
	return &provider.Envelope[map[string]provider.Validation]{}, nil
}

func (p *probeProvider) SearchAssets(ctx context.Context, query string, limit int) (*provider.Envelope[[]provider.AssetInfo], error) {
	return &provider.Envelope[[]provider.AssetInfo]{}, nil
}

func (p *probeProvider) Close() error { return nil }

func newChain(t *testing.T, providers ...provider.Provider) *provider.Chain {
	t.Helper()
	entries := make([]provider.Entry, len(providers))
	for i, p := range providers {
		entries[i] = provider.Entry{Priority: i + 1, Provider: p}
	}
	chain, err := provider.NewChain(entries)
	require.NoError(t, err)
	return chain
}

func newRegistry(t *testing.T, threshold int) *breaker.Registry {
	t.Helper()
	reg, err := breaker.NewRegistry(threshold, time.Hour)
	require.NoError(t, err)
	return reg
}
