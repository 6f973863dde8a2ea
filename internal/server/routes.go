// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package server

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/feedfuse/feedfuse/internal/provider"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/feedfuse/feedfuse/pkg/health"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "service-health",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Service liveness and monitor state",
		Tags:        []string{"system"},
	}, s.handleServiceHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "provider-health",
		Method:      http.MethodGet,
		Path:        "/api/v1/providers/health",
		Summary:     "Health snapshot for every provider in the chain",
		Tags:        []string{"providers"},
	}, s.handleProviderHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "provider-rankings",
		Method:      http.MethodGet,
		Path:        "/api/v1/providers/rankings",
		Summary:     "Providers ranked by weighted health score",
		Tags:        []string{"providers"},
	}, s.handleProviderRankings)

	huma.Register(s.api, huma.Operation{
		OperationID: "performance-metrics",
		Method:      http.MethodGet,
		Path:        "/api/v1/metrics/{window_minutes}",
		Summary:     "Rolling performance metrics for one window",
		Tags:        []string{"monitoring"},
	}, s.handleMetrics)

	huma.Register(s.api, huma.Operation{
		OperationID: "active-alerts",
		Method:      http.MethodGet,
		Path:        "/api/v1/alerts",
		Summary:     "Health alerts, newest first",
		Tags:        []string{"monitoring"},
	}, s.handleAlerts)

	huma.Register(s.api, huma.Operation{
		OperationID: "acknowledge-alert",
		Method:      http.MethodPost,
		Path:        "/api/v1/alerts/{id}/acknowledge",
		Summary:     "Acknowledge an alert",
		Tags:        []string{"monitoring"},
	}, s.handleAcknowledgeAlert)

	huma.Register(s.api, huma.Operation{
		OperationID: "configure-breaker",
		Method:      http.MethodPost,
		Path:        "/api/v1/providers/{name}/breaker",
		Summary:     "Configure a provider's circuit breaker",
		Tags:        []string{"providers"},
	}, s.handleConfigureBreaker)

	huma.Register(s.api, huma.Operation{
		OperationID: "fetch",
		Method:      http.MethodPost,
		Path:        "/api/v1/fetch",
		Summary:     "Run one fetch through the failover chain",
		Tags:        []string{"fetch"},
	}, s.handleFetch)
}

// apiError converts an error-code classification into the huma error
// model so handlers never hand-pick HTTP statuses.
func apiError(err error) huma.StatusError {
	return huma.NewError(fferr.HTTPStatus(err), err.Error())
}

// --- Request/Response types ---

type serviceHealthOutput struct {
	Body struct {
		Status         string `json:"status" example:"ok" doc:"Service liveness"`
		MonitorRunning bool   `json:"monitor_running" doc:"Whether the background monitor loop is active"`
		Providers      int    `json:"providers" doc:"Number of providers in the chain"`
	}
}

type providerHealthOutput struct {
	Body struct {
		Providers map[string]health.ProviderHealth `json:"providers" doc:"Health snapshot keyed by provider name"`
	}
}

type providerRankingsOutput struct {
	Body struct {
		Rankings []health.RankedProvider `json:"rankings" doc:"Providers in descending score order"`
	}
}

type metricsInput struct {
	WindowMinutes int `path:"window_minutes" doc:"Rolling window size in minutes"`
}
type metricsOutput struct {
	Body struct {
		WindowMinutes int                                  `json:"window_minutes"`
		Metrics       map[string]health.PerformanceWindow `json:"metrics" doc:"Per-provider aggregates for the window"`
	}
}

type alertsInput struct {
	IncludeAcknowledged bool `query:"include_acknowledged" doc:"Include acknowledged alerts"`
}
type alertsOutput struct {
	Body struct {
		Alerts []health.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
}

type acknowledgeAlertInput struct {
	ID string `path:"id" doc:"Alert identifier"`
}
type acknowledgeAlertOutput struct {
	Body struct {
		ID     string `json:"id"`
		Status string `json:"status" example:"acknowledged"`
	}
}

type configureBreakerInput struct {
	Name string `path:"name" doc:"Provider name"`
	Body struct {
		FailureThreshold       int `json:"failure_threshold,omitempty" doc:"Consecutive failures before the breaker opens (omit for 5)"`
		RecoveryTimeoutSeconds int `json:"recovery_timeout_seconds,omitempty" doc:"Seconds before an open breaker admits a probe (omit for 300)"`
	}
}
type configureBreakerOutput struct {
	Body health.ProviderHealth
}

type fetchInput struct {
	Body struct {
		Operation string   `json:"operation" minLength:"1" doc:"One of historical_data, real_time_data, asset_info, validate_symbols, search_assets"`
		Symbols   []string `json:"symbols,omitempty" doc:"Ticker symbols"`
		Start     string   `json:"start,omitempty" doc:"RFC 3339 range start for historical_data"`
		End       string   `json:"end,omitempty" doc:"RFC 3339 range end for historical_data"`
		Interval  string   `json:"interval,omitempty" doc:"Bar interval for historical_data"`
		Query     string   `json:"query,omitempty" doc:"Search query for search_assets"`
		Limit     int      `json:"limit,omitempty" doc:"Result cap for search_assets"`
	}
}
type fetchOutput struct {
	Body health.FetchResult
}

// --- Handlers ---

func (s *Server) handleServiceHealth(_ context.Context, _ *struct{}) (*serviceHealthOutput, error) {
	out := &serviceHealthOutput{}
	out.Body.Status = "ok"
	out.Body.MonitorRunning = s.services.Monitor().Running()
	out.Body.Providers = len(s.services.Monitor().Health())
	return out, nil
}

func (s *Server) handleProviderHealth(_ context.Context, _ *struct{}) (*providerHealthOutput, error) {
	out := &providerHealthOutput{}
	out.Body.Providers = s.services.Monitor().Health()
	return out, nil
}

func (s *Server) handleProviderRankings(_ context.Context, _ *struct{}) (*providerRankingsOutput, error) {
	out := &providerRankingsOutput{}
	out.Body.Rankings = s.services.Monitor().Rankings()
	return out, nil
}

func (s *Server) handleMetrics(_ context.Context, input *metricsInput) (*metricsOutput, error) {
	metrics, err := s.services.Monitor().Metrics(input.WindowMinutes)
	if err != nil {
		return nil, apiError(err)
	}
	out := &metricsOutput{}
	out.Body.WindowMinutes = input.WindowMinutes
	out.Body.Metrics = metrics
	return out, nil
}

func (s *Server) handleAlerts(_ context.Context, input *alertsInput) (*alertsOutput, error) {
	alerts := s.services.Monitor().Alerts(input.IncludeAcknowledged)
	out := &alertsOutput{}
	out.Body.Alerts = alerts
	out.Body.Count = len(alerts)
	return out, nil
}

func (s *Server) handleAcknowledgeAlert(_ context.Context, input *acknowledgeAlertInput) (*acknowledgeAlertOutput, error) {
	if err := s.services.Monitor().Acknowledge(input.ID); err != nil {
		return nil, apiError(err)
	}
	out := &acknowledgeAlertOutput{}
	out.Body.ID = input.ID
	out.Body.Status = "acknowledged"
	return out, nil
}

func (s *Server) handleConfigureBreaker(_ context.Context, input *configureBreakerInput) (*configureBreakerOutput, error) {
	breakers := s.services.Breakers()
	// Validate membership first: Configure would otherwise create a
	// record for an arbitrary name.
	if !slices.Contains(breakers.Providers(), input.Name) {
		return nil, apiError(fferr.Errorf(fferr.CodeProviderNotFound, "provider %q not found", input.Name))
	}

	threshold := input.Body.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	recoverySeconds := input.Body.RecoveryTimeoutSeconds
	if recoverySeconds == 0 {
		recoverySeconds = 300
	}

	if err := breakers.Configure(input.Name, threshold, time.Duration(recoverySeconds)*time.Second); err != nil {
		return nil, apiError(err)
	}

	s.logger.Info("breaker reconfigured",
		"provider", input.Name,
		"failure_threshold", threshold,
		"recovery_timeout_seconds", recoverySeconds)

	return &configureBreakerOutput{Body: breakers.Health(input.Name)}, nil
}

func (s *Server) handleFetch(ctx context.Context, input *fetchInput) (*fetchOutput, error) {
	op := provider.Operation(input.Body.Operation)
	params := provider.Params{
		Symbols:  input.Body.Symbols,
		Interval: provider.Interval(input.Body.Interval),
		Query:    input.Body.Query,
		Limit:    input.Body.Limit,
	}

	if input.Body.Start != "" {
		start, err := time.Parse(time.RFC3339, input.Body.Start)
		if err != nil {
			return nil, apiError(fferr.Wrapf(err, fferr.CodeFetchParamsInvalid, "parsing start %q", input.Body.Start))
		}
		params.Start = start
	}
	if input.Body.End != "" {
		end, err := time.Parse(time.RFC3339, input.Body.End)
		if err != nil {
			return nil, apiError(fferr.Wrapf(err, fferr.CodeFetchParamsInvalid, "parsing end %q", input.Body.End))
		}
		params.End = end
	}

	res, err := s.services.Fetcher().FetchWithFallback(ctx, op, params)
	if err != nil {
		return nil, apiError(err)
	}
	return &fetchOutput{Body: res.View()}, nil
}
