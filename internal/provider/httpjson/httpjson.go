// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

// Package httpjson adapts any upstream vendor that speaks the uniform JSON
// wire envelope {success, data, error, message, metadata} over HTTP. One
// adapter type covers every such vendor; the base URL and credentials come
// from provider config.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/feedfuse/feedfuse/internal/provider"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

// maxErrorBody bounds how much of a non-200 response body is captured into
// the error message.
const maxErrorBody = 2048

// Config holds one HTTP vendor endpoint's settings.
type Config struct {
	Name    string
	BaseURL string
	APIKey  string        // optional, sent as a bearer token
	Timeout time.Duration // optional transport guard; per-call deadlines come from ctx
}

// Provider implements provider.Provider against a wire-envelope HTTP vendor.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
}

// Compile-time check that Provider implements provider.Provider.
var _ provider.Provider = (*Provider)(nil)

// New creates an HTTP adapter. The base URL must be absolute; the path
// segment operations are appended to it.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		return nil, fferr.New(fferr.CodeConfigValidateInvalidValue, "httpjson: provider name must not be empty")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return nil, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
			"httpjson: base_url %q is not an absolute URL", cfg.BaseURL)
	}

	return &Provider{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (p *Provider) Name() string { return p.name }

type historicalBody struct {
	Symbols  []string `json:"symbols"`
	Start    string   `json:"start,omitempty"`
	End      string   `json:"end,omitempty"`
	Interval string   `json:"interval,omitempty"`
}

type symbolsBody struct {
	Symbols []string `json:"symbols"`
}

type searchBody struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (p *Provider) FetchHistorical(ctx context.Context, req provider.HistoricalRequest) (*provider.Envelope[map[string][]provider.Bar], error) {
	body := historicalBody{Symbols: req.Symbols, Interval: string(req.Interval)}
	if !req.Start.IsZero() {
		body.Start = req.Start.UTC().Format(time.RFC3339)
	}
	if !req.End.IsZero() {
		body.End = req.End.UTC().Format(time.RFC3339)
	}
	return call[map[string][]provider.Bar](ctx, p, http.MethodPost, "/historical", body)
}

func (p *Provider) FetchRealTime(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.Bar], error) {
	return call[map[string]provider.Bar](ctx, p, http.MethodPost, "/realtime", symbolsBody{Symbols: symbols})
}

func (p *Provider) FetchAssetInfo(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.AssetInfo], error) {
	return call[map[string]provider.AssetInfo](ctx, p, http.MethodPost, "/asset-info", symbolsBody{Symbols: symbols})
}

func (p *Provider) ValidateSymbols(ctx context.Context, symbols []string) (*provider.Envelope[map[string]provider.Validation], error) {
	return call[map[string]provider.Validation](ctx, p, http.MethodPost, "/validate", symbolsBody{Symbols: symbols})
}

func (p *Provider) SearchAssets(ctx context.Context, query string, limit int) (*provider.Envelope[[]provider.AssetInfo], error) {
	return call[[]provider.AssetInfo](ctx, p, http.MethodPost, "/search", searchBody{Query: query, Limit: limit})
}

func (p *Provider) HealthCheck(ctx context.Context) (*provider.Envelope[provider.HealthPayload], error) {
	return call[provider.HealthPayload](ctx, p, http.MethodGet, "/health", nil)
}

func (p *Provider) Close() error {
	p.http.CloseIdleConnections()
	return nil
}

// wireEnvelope is the vendor's uniform response envelope. Data stays raw
// until the success flag is known so error envelopes with null data decode
// cleanly.
type wireEnvelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Error    string          `json:"error"`
	Message  string          `json:"message"`
	Metadata map[string]any  `json:"metadata"`
}

// call performs one wire round-trip and maps the envelope's success/error
// halves onto (value, error).
func call[T any](ctx context.Context, p *Provider, method, path string, body any) (*provider.Envelope[T], error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fferr.Wrap(err, fferr.CodeProviderRequestInvalid,
				"httpjson: encoding request body", fferr.FieldProvider(p.name))
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, fferr.Wrap(err, fferr.CodeProviderRequestInvalid,
			"httpjson: building request", fferr.FieldProvider(p.name))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fferr.Wrap(err, fferr.CodeProviderTimeout,
				"httpjson: request timed out", fferr.FieldProvider(p.name))
		}
		return nil, fferr.Wrap(err, fferr.CodeProviderUpstreamFailure,
			"httpjson: request failed", fferr.FieldProvider(p.name))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fferr.Errorf(fferr.CodeProviderUpstreamFailure,
			"httpjson: %s returned status %d: %s", p.name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var env wireEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fferr.Wrap(err, fferr.CodeProviderResponseInvalid,
			"httpjson: decoding response envelope", fferr.FieldProvider(p.name))
	}

	if !env.Success {
		reason := env.Error
		if reason == "" {
			reason = env.Message
		}
		if reason == "" {
			reason = "upstream reported failure without detail"
		}
		return nil, fferr.New(fferr.CodeProviderUpstreamFailure,
			"httpjson: "+reason, fferr.FieldProvider(p.name))
	}

	var data T
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fferr.Wrap(err, fferr.CodeProviderResponseInvalid,
				"httpjson: decoding response data", fferr.FieldProvider(p.name))
		}
	}

	return &provider.Envelope[T]{Data: data, Message: env.Message, Metadata: env.Metadata}, nil
}
