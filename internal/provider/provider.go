// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package provider

import (
	"context"
	"time"
)

// Provider is the uniform contract implemented by every upstream market-data
// source. Adapters translate vendor responses into the shared payload types;
// failures are reported through coded errors, never panics.
type Provider interface {
	Name() string
	FetchHistorical(ctx context.Context, req HistoricalRequest) (*Envelope[map[string][]Bar], error)
	FetchRealTime(ctx context.Context, symbols []string) (*Envelope[map[string]Bar], error)
	FetchAssetInfo(ctx context.Context, symbols []string) (*Envelope[map[string]AssetInfo], error)
	ValidateSymbols(ctx context.Context, symbols []string) (*Envelope[map[string]Validation], error)
	SearchAssets(ctx context.Context, query string, limit int) (*Envelope[[]AssetInfo], error)
	HealthCheck(ctx context.Context) (*Envelope[HealthPayload], error)
	Close() error
}

// Envelope wraps a successful adapter payload with the vendor's
// human-readable message and transport metadata. The success/error half of
// the wire envelope maps onto the method's error return.
type Envelope[T any] struct {
	Data     T
	Message  string
	Metadata map[string]any
}

// Operation identifies one of the adapter contract's methods.
type Operation string

const (
	OpHistorical      Operation = "historical_data"
	OpRealTime        Operation = "real_time_data"
	OpAssetInfo       Operation = "asset_info"
	OpValidateSymbols Operation = "validate_symbols"
	OpSearch          Operation = "search_assets"
	OpHealthCheck     Operation = "health_check"
)

// Operations lists every adapter operation in a stable order.
func Operations() []Operation {
	return []Operation{OpHistorical, OpRealTime, OpAssetInfo, OpValidateSymbols, OpSearch, OpHealthCheck}
}

// Interval is a bar aggregation period.
type Interval string

const (
	Interval1Min  Interval = "1m"
	Interval5Min  Interval = "5m"
	Interval15Min Interval = "15m"
	Interval1Hour Interval = "1h"
	Interval1Day  Interval = "1d"
	Interval1Week Interval = "1wk"
	Interval1Mon  Interval = "1mo"
)

// Valid reports whether the interval is one of the supported periods.
func (i Interval) Valid() bool {
	switch i {
	case Interval1Min, Interval5Min, Interval15Min, Interval1Hour, Interval1Day, Interval1Week, Interval1Mon:
		return true
	}
	return false
}

// HistoricalRequest describes one historical bar fetch.
type HistoricalRequest struct {
	Symbols  []string
	Start    time.Time
	End      time.Time
	Interval Interval
}

// Bar is a single OHLCV observation. Real-time quotes reuse the same shape
// with Timestamp set to the quote time.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// AssetInfo describes a tradable instrument.
type AssetInfo struct {
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Exchange  string `json:"exchange"`
	Currency  string `json:"currency"`
	AssetType string `json:"asset_type"`
	Sector    string `json:"sector,omitempty"`
}

// Validation is the per-symbol outcome of a validate_symbols call.
type Validation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// HealthPayload is a provider's self-reported health probe result.
type HealthPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
)
