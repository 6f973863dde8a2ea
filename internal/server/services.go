// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package server

import (
	"context"
	"time"

	"github.com/feedfuse/feedfuse/internal/composite"
	"github.com/feedfuse/feedfuse/internal/provider"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/feedfuse/feedfuse/pkg/health"
)

// MonitorService exposes the health monitor to route handlers. The
// concrete monitor satisfies it directly; tests substitute fakes.
type MonitorService interface {
	Running() bool
	Health() map[string]health.ProviderHealth
	Metrics(windowMinutes int) (map[string]health.PerformanceWindow, error)
	Rankings() []health.RankedProvider
	Windows() []int
	Alerts(includeAcknowledged bool) []health.Alert
	Acknowledge(id string) error
}

// BreakerService exposes circuit breaker state and configuration.
type BreakerService interface {
	Providers() []string
	Health(name string) health.ProviderHealth
	Configure(name string, threshold int, recovery time.Duration) error
	Reset(name string)
}

// FetchService runs one fetch through the failover chain on behalf of an
// operator diagnostics request.
type FetchService interface {
	FetchWithFallback(ctx context.Context, op provider.Operation, params provider.Params) (*composite.Result, error)
}

var _ FetchService = (*composite.Orchestrator)(nil)

// Services holds the dependencies injected into route handlers. Use
// NewServices so a half-wired server fails at construction instead of at
// request time.
type Services struct {
	monitor  MonitorService
	breakers BreakerService
	fetcher  FetchService
}

// NewServices validates that every required service is present.
func NewServices(monitor MonitorService, breakers BreakerService, fetcher FetchService) (*Services, error) {
	if monitor == nil {
		return nil, fferr.New(fferr.CodeServerConfigInvalid, "monitor service is required")
	}
	if breakers == nil {
		return nil, fferr.New(fferr.CodeServerConfigInvalid, "breaker service is required")
	}
	if fetcher == nil {
		return nil, fferr.New(fferr.CodeServerConfigInvalid, "fetch service is required")
	}
	return &Services{monitor: monitor, breakers: breakers, fetcher: fetcher}, nil
}

// Monitor returns the health monitor service.
func (s *Services) Monitor() MonitorService { return s.monitor }

// Breakers returns the circuit breaker service.
func (s *Services) Breakers() BreakerService { return s.breakers }

// Fetcher returns the fetch service.
func (s *Services) Fetcher() FetchService { return s.fetcher }
