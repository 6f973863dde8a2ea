// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

// Package sim is a compiled-in market-data provider that synthesizes
// deterministic quotes, bars, and asset metadata from symbol hashes. It
// exists so the daemon, doctor checks, and integration-style tests can
// exercise the full fetch path without network access or vendor keys.
package sim

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/feedfuse/feedfuse/internal/provider"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

// maxBarsPerSymbol bounds one historical response so a wide date range
// cannot balloon memory.
const maxBarsPerSymbol = 500

// Config holds one simulated provider instance's knobs. FailureRate
// schedules failures deterministically (0.25 fails every fourth call), so
// tests never depend on randomness.
type Config struct {
	Name        string
	FailureRate float64       // fraction of calls that fail, in [0,1]
	Latency     time.Duration // artificial delay applied to every call
	OutageStart time.Time     // optional scheduled outage window
	OutageEnd   time.Time
}

// Provider implements provider.Provider with synthesized data.
type Provider struct {
	name string
	cfg  Config

	mu         sync.Mutex
	failCredit float64
	nowFunc    func() time.Time // for testing
}

// Compile-time check that Provider implements provider.Provider.
var _ provider.Provider = (*Provider)(nil)

// New creates a simulated provider. The name identifies the instance in
// chains, breaker records, and result attribution.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		return nil, fferr.New(fferr.CodeConfigValidateInvalidValue, "sim: provider name must not be empty")
	}
	if cfg.FailureRate < 0 || cfg.FailureRate > 1 {
		return nil, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"sim: failure rate %v outside [0,1]", cfg.FailureRate)
	}
	return &Provider{name: cfg.Name, cfg: cfg, nowFunc: time.Now}, nil
}

func (p *Provider) Name() string { return p.name }

// SetNowFunc overrides the time source (for testing outage windows).
func (p *Provider) SetNowFunc(fn func() time.Time) {
	p.mu.Lock()
	p.nowFunc = fn
	p.mu.Unlock()
}

// FetchHistorical synthesizes one bar per interval step between Start and
// End for every requested symbol.
func (p *Provider) FetchHistorical(ctx context.Context, req provider.HistoricalRequest) (*provider.Envelope[map[string][]provider.Bar], error) {
	if err := p.admit(ctx); err != nil {
		return nil, err
	}

	interval := req.Interval
	if interval == "" {
		interval = provider.Interval1Day
	}
	step := intervalStep(interval)

	end := req.End
	if end.IsZero() {
		end = p.now()
	}
	start := req.Start
	if start.IsZero() {
		start = end.Add(-30 * step)
	}

	out := make(map[string][]provider.Bar, len(req.Symbols))
	for _, symbol := range req.Symbols {
		var bars []provider.Bar
		for ts := start.Truncate(step); !ts.After(end) && len(bars) < maxBarsPerSymbol; ts = ts.Add(step) {
			bars = append(bars, p.barAt(symbol, ts))
		}
		out[symbol] = bars
	}

	return envelope(p.name, out, "simulated historical bars"), nil
}

// FetchRealTime synthesizes one quote per symbol, stamped at the current
// minute so repeated calls within a minute agree.
func (p *Provider) FetchRealTime(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.Bar], error) {
	if err := p.admit(ctx); err != nil {
		return nil, err
	}

	now := p.now().Truncate(time.Minute)
	out := make(map[string]provider.Bar, len(symbols))
	for _, symbol := range symbols {
		out[symbol] = p.barAt(symbol, now)
	}
	return envelope(p.name, out, "simulated real-time quotes"), nil
}

// FetchAssetInfo returns listing metadata, synthesizing entries for symbols
// outside the built-in universe.
func (p *Provider) FetchAssetInfo(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.AssetInfo], error) {
	if err := p.admit(ctx); err != nil {
		return nil, err
	}

	out := make(map[string]provider.AssetInfo, len(symbols))
	for _, symbol := range symbols {
		out[symbol] = assetInfoFor(symbol)
	}
	return envelope(p.name, out, "simulated asset info"), nil
}

var symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

// ValidateSymbols accepts well-formed ticker symbols and rejects the rest
// with a reason.
func (p *Provider) ValidateSymbols(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.Validation], error) {
	if err := p.admit(ctx); err != nil {
		return nil, err
	}

	out := make(map[string]provider.Validation, len(symbols))
	for _, symbol := range symbols {
		switch {
		case strings.TrimSpace(symbol) == "":
			out[symbol] = provider.Validation{Valid: false, Reason: "empty symbol"}
		case !symbolPattern.MatchString(strings.ToUpper(strings.TrimSpace(symbol))):
			out[symbol] = provider.Validation{Valid: false, Reason: "malformed symbol"}
		default:
			out[symbol] = provider.Validation{Valid: true}
		}
	}
	return envelope(p.name, out, "simulated symbol validation"), nil
}

// SearchAssets matches the query against the built-in universe by symbol
// and name substring.
func (p *Provider) SearchAssets(ctx context.Context, query string, limit int) (*provider.Envelope[[]provider.AssetInfo], error) {
	if err := p.admit(ctx); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = provider.DefaultSearchLimit
	}
	q := strings.ToLower(strings.TrimSpace(query))

	var out []provider.AssetInfo
	for _, asset := range listings {
		if len(out) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(asset.Symbol), q) || strings.Contains(strings.ToLower(asset.Name), q) {
			out = append(out, asset)
		}
	}
	return envelope(p.name, out, "simulated asset search"), nil
}

// HealthCheck reports ok unless the failure schedule or an outage window
// claims this call.
func (p *Provider) HealthCheck(ctx context.Context) (*provider.Envelope[provider.HealthPayload], error) {
	if err := p.admit(ctx); err != nil {
		return nil, err
	}
	payload := provider.HealthPayload{Status: provider.HealthStatusOK, Message: "simulated provider ready"}
	return envelope(p.name, payload, "ok"), nil
}

func (p *Provider) Close() error { return nil }

// admit applies the instance's latency, outage window, and deterministic
// failure schedule. Every adapter method passes through it so the monitor
// and the orchestrator observe the same behavior.
func (p *Provider) admit(ctx context.Context) error {
	if p.cfg.Latency > 0 {
		select {
		case <-time.After(p.cfg.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowFunc()
	if !p.cfg.OutageStart.IsZero() && !now.Before(p.cfg.OutageStart) && now.Before(p.cfg.OutageEnd) {
		return fferr.New(fferr.CodeProviderUpstreamFailure,
			"simulated outage in progress", fferr.FieldProvider(p.name))
	}

	// Accumulator schedule: rate 0.25 fails exactly every fourth call.
	p.failCredit += p.cfg.FailureRate
	if p.failCredit >= 1 {
		p.failCredit -= 1
		return fferr.New(fferr.CodeProviderUpstreamFailure,
			"simulated upstream failure", fferr.FieldProvider(p.name))
	}
	return nil
}

func (p *Provider) now() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nowFunc()
}

func envelope[T any](name string, data T, message string) *provider.Envelope[T] {
	return &provider.Envelope[T]{
		Data:    data,
		Message: message,
		Metadata: map[string]any{
			"provider":  name,
			"simulated": true,
		},
	}
}

// barAt synthesizes the bar for one symbol at one timestamp. The same
// (symbol, timestamp) always yields the same bar regardless of instance.
func (p *Provider) barAt(symbol string, ts time.Time) provider.Bar {
	h := hash64(symbol + "|" + ts.UTC().Format(time.RFC3339))
	base := basePrice(symbol)

	// Open drifts within ±2% of the symbol's base price; the high/low
	// spread stays within 1% of open.
	drift := float64(h%4000)/100000 - 0.02
	open := round2(base * (1 + drift))
	spread := round2(open * float64((h>>16)%100) / 10000)
	cls := round2(open + spread*(float64((h>>32)%200)/100-1))

	high := open
	if cls > high {
		high = cls
	}
	low := open
	if cls < low {
		low = cls
	}

	return provider.Bar{
		Timestamp: ts.UTC(),
		Open:      open,
		High:      round2(high + spread),
		Low:       round2(low - spread),
		Close:     cls,
		Volume:    int64(100_000 + h%900_000),
	}
}

// basePrice maps a symbol to a stable price level between $20 and $999.99.
func basePrice(symbol string) float64 {
	h := hash64(strings.ToUpper(symbol))
	return 20 + float64(h%98000)/100
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func intervalStep(i provider.Interval) time.Duration {
	switch i {
	case provider.Interval1Min:
		return time.Minute
	case provider.Interval5Min:
		return 5 * time.Minute
	case provider.Interval15Min:
		return 15 * time.Minute
	case provider.Interval1Hour:
		return time.Hour
	case provider.Interval1Week:
		return 7 * 24 * time.Hour
	case provider.Interval1Mon:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// listings is the built-in universe backing search and asset info.
var listings = []provider.AssetInfo{
	{Symbol: "AAPL", Name: "Apple Inc.", Exchange: "NASDAQ", Currency: "USD", AssetType: "equity", Sector: "Technology"},
	{Symbol: "MSFT", Name: "Microsoft Corporation", Exchange: "NASDAQ", Currency: "USD", AssetType: "equity", Sector: "Technology"},
	{Symbol: "GOOGL", Name: "Alphabet Inc.", Exchange: "NASDAQ", Currency: "USD", AssetType: "equity", Sector: "Communication Services"},
	{Symbol: "AMZN", Name: "Amazon.com Inc.", Exchange: "NASDAQ", Currency: "USD", AssetType: "equity", Sector: "Consumer Discretionary"},
	{Symbol: "NVDA", Name: "NVIDIA Corporation", Exchange: "NASDAQ", Currency: "USD", AssetType: "equity", Sector: "Technology"},
	{Symbol: "TSLA", Name: "Tesla Inc.", Exchange: "NASDAQ", Currency: "USD", AssetType: "equity", Sector: "Consumer Discretionary"},
	{Symbol: "JPM", Name: "JPMorgan Chase & Co.", Exchange: "NYSE", Currency: "USD", AssetType: "equity", Sector: "Financials"},
	{Symbol: "V", Name: "Visa Inc.", Exchange: "NYSE", Currency: "USD", AssetType: "equity", Sector: "Financials"},
	{Symbol: "JNJ", Name: "Johnson & Johnson", Exchange: "NYSE", Currency: "USD", AssetType: "equity", Sector: "Health Care"},
	{Symbol: "XOM", Name: "Exxon Mobil Corporation", Exchange: "NYSE", Currency: "USD", AssetType: "equity", Sector: "Energy"},
	{Symbol: "SPY", Name: "SPDR S&P 500 ETF Trust", Exchange: "NYSEARCA", Currency: "USD", AssetType: "etf", Sector: ""},
	{Symbol: "QQQ", Name: "Invesco QQQ Trust", Exchange: "NASDAQ", Currency: "USD", AssetType: "etf", Sector: ""},
}

// assetInfoFor returns the listed entry or synthesizes one for unknown
// symbols so the sim never reports partial data.
func assetInfoFor(symbol string) provider.AssetInfo {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	for _, asset := range listings {
		if asset.Symbol == upper {
			return asset
		}
	}

	sectors := []string{"Technology", "Financials", "Industrials", "Health Care", "Energy", "Utilities"}
	return provider.AssetInfo{
		Symbol:    upper,
		Name:      upper + " Holdings",
		Exchange:  "SIMEX",
		Currency:  "USD",
		AssetType: "equity",
		Sector:    sectors[hash64(upper)%uint64(len(sectors))],
	}
}
