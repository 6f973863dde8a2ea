// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package composite_test

import (
	"context"
	"testing"
	"time"

	"github.com/feedfuse/feedfuse/internal/breaker"
	"github.com/feedfuse/feedfuse/internal/provider"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a configurable in-memory provider for orchestrator tests.
// failFirst makes the leading N calls fail; alwaysFail makes every call
// fail; delay simulates latency; quote customizes the real-time payload so
// consensus tests can stage disagreements.
type fakeProvider struct {
	name       string
	failFirst  int
	alwaysFail bool
	delay      time.Duration
	empty      bool
	quote      provider.Bar
	calls      int
	lastOp     provider.Operation
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name: name,
		quote: provider.Bar{
			Timestamp: time.Date(2026, 1, 2, 21, 0, 0, 0, time.UTC),
			Open:      100, High: 105, Low: 99, Close: 104,
			Volume: 1_000_000,
		},
	}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) begin(ctx context.Context, op provider.Operation) error {
	f.calls++
	f.lastOp = op
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.alwaysFail || f.calls <= f.failFirst {
		return fferr.New(fferr.CodeProviderUpstreamFailure, "simulated outage", fferr.FieldProvider(f.name))
	}
	return nil
}

func (f *fakeProvider) FetchHistorical(ctx context.Context, req provider.HistoricalRequest) (*provider.Envelope[map[string][]provider.Bar], error) {
	if err := f.begin(ctx, provider.OpHistorical); err != nil {
		return nil, err
	}
	data := make(map[string][]provider.Bar)
	if !f.empty {
		for _, s := range req.Symbols {
			data[s] = []provider.Bar{f.quote}
		}
	}
	return &provider.Envelope[map[string][]provider.Bar]{Data: data, Message: "ok"}, nil
}

func (f *fakeProvider) FetchRealTime(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.Bar], error) {
	if err := f.begin(ctx, provider.OpRealTime); err != nil {
		return nil, err
	}
	data := make(map[string]provider.Bar)
	if !f.empty {
		for _, s := range symbols {
			data[s] = f.quote
		}
	}
	return &provider.Envelope[map[string]provider.Bar]{Data: data, Message: "ok"}, nil
}

func (f *fakeProvider) FetchAssetInfo(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.AssetInfo], error) {
	if err := f.begin(ctx, provider.OpAssetInfo); err != nil {
		return nil, err
	}
	data := make(map[string]provider.AssetInfo)
	if !f.empty {
		for _, s := range symbols {
			data[s] = provider.AssetInfo{Symbol: s, Name: s + " Inc.", Exchange: "NYSE", Currency: "USD", AssetType: "equity"}
		}
	}
	return &provider.Envelope[map[string]provider.AssetInfo]{Data: data, Message: "ok"}, nil
}

func (f *fakeProvider) ValidateSymbols(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.Validation], error) {
	if err := f.begin(ctx, provider.OpValidateSymbols); err != nil {
		return nil, err
	}
	data := make(map[string]provider.Validation)
	if !f.empty {
		for _, s := range symbols {
			data[s] = provider.Validation{Valid: true}
		}
	}
	return &provider.Envelope[map[string]provider.Validation]{Data: data, Message: "ok"}, nil
}

func (f *fakeProvider) SearchAssets(ctx context.Context, query string, limit int) (*provider.Envelope[[]provider.AssetInfo], error) {
	if err := f.begin(ctx, provider.OpSearch); err != nil {
		return nil, err
	}
	var results []provider.AssetInfo
	if !f.empty {
		results = []provider.AssetInfo{
			{Symbol: "AAPL", Name: "Apple Inc.", Exchange: "NASDAQ", Currency: "USD", AssetType: "equity"},
		}
	}
	return &provider.Envelope[[]provider.AssetInfo]{Data: results, Message: "ok"}, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) (*provider.Envelope[provider.HealthPayload], error) {
	if err := f.begin(ctx, provider.OpHealthCheck); err != nil {
		return nil, err
	}
	return &provider.Envelope[provider.HealthPayload]{
		Data: provider.HealthPayload{Status: provider.HealthStatusOK},
	}, nil
}

func (f *fakeProvider) Close() error { return nil }

// newChain builds a chain from providers in the given order, assigning
// priorities 1..n.
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

// newRegistry builds a breaker registry with test-friendly defaults.
func newRegistry(t *testing.T, threshold int) *breaker.Registry {
	t.Helper()
	reg, err := breaker.NewRegistry(threshold, time.Hour)
	require.NoError(t, err)
	return reg
}
