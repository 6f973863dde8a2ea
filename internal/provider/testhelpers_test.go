// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package provider_test

import (
	"context"
	"time"

	"github.com/feedfuse/feedfuse/internal/provider"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

// fakeProvider is a reusable in-memory implementation of provider.Provider
// for tests. Set fail to make every data call return an upstream failure;
// set delay to simulate latency. Tests track dispatch through lastOp.
type fakeProvider struct {
	name   string
	fail   bool
	delay  time.Duration
	lastOp provider.Operation
	calls  int
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) barFor(symbol string) provider.Bar {
	return provider.Bar{
		Timestamp: time.Date(2026, 1, 2, 21, 0, 0, 0, time.UTC),
		Open:      100, High: 105, Low: 99, Close: 104,
		Volume: 1_000_000,
	}
}

func (f *fakeProvider) begin(ctx context.Context, op provider.Operation) error {
	f.lastOp = op
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return fferr.Wrap(ctx.Err(), fferr.CodeProviderTimeout, "call cancelled", fferr.FieldProvider(f.name))
		}
	}
	if f.fail {
		return fferr.New(fferr.CodeProviderUpstreamFailure, "simulated outage", fferr.FieldProvider(f.name))
	}
	return nil
}

func (f *fakeProvider) FetchHistorical(ctx context.Context, req provider.HistoricalRequest) (*provider.Envelope[map[string][]provider.Bar], error) {
	if err := f.begin(ctx, provider.OpHistorical); err != nil {
		return nil, err
	}
	data := make(map[string][]provider.Bar, len(req.Symbols))
	for _, s := range req.Symbols {
		data[s] = []provider.Bar{f.barFor(s)}
	}
	return &provider.Envelope[map[string][]provider.Bar]{Data: data, Message: "ok"}, nil
}

func (f *fakeProvider) FetchRealTime(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.Bar], error) {
	if err := f.begin(ctx, provider.OpRealTime); err != nil {
		return nil, err
	}
	data := make(map[string]provider.Bar, len(symbols))
	for _, s := range symbols {
		data[s] = f.barFor(s)
	}
	return &provider.Envelope[map[string]provider.Bar]{Data: data, Message: "ok"}, nil
}

func (f *fakeProvider) FetchAssetInfo(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.AssetInfo], error) {
	if err := f.begin(ctx, provider.OpAssetInfo); err != nil {
		return nil, err
	}
	data := make(map[string]provider.AssetInfo, len(symbols))
	for _, s := range symbols {
		data[s] = provider.AssetInfo{Symbol: s, Name: s + " Inc.", Exchange: "NYSE", Currency: "USD", AssetType: "equity"}
	}
	return &provider.Envelope[map[string]provider.AssetInfo]{Data: data, Message: "ok"}, nil
}

func (f *fakeProvider) ValidateSymbols(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.Validation], error) {
	if err := f.begin(ctx, provider.OpValidateSymbols); err != nil {
		return nil, err
	}
	data := make(map[string]provider.Validation, len(symbols))
	for _, s := range symbols {
		data[s] = provider.Validation{Valid: true}
	}
	return &provider.Envelope[map[string]provider.Validation]{Data: data, Message: "ok"}, nil
}

func (f *fakeProvider) SearchAssets(ctx context.Context, query string, limit int) (*provider.Envelope[[]provider.AssetInfo], error) {
	if err := f.begin(ctx, provider.OpSearch); err != nil {
		return nil, err
	}
	results := []provider.AssetInfo{
		{Symbol: "AAPL", Name: "Apple Inc.", Exchange: "NASDAQ", Currency: "USD", AssetType: "equity"},
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
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

// closeTrackingProvider records Close calls and optionally fails them.
type closeTrackingProvider struct {
	*fakeProvider
	closed   bool
	closeErr error
}

func (c *closeTrackingProvider) Close() error {
	c.closed = true
	return c.closeErr
}
