// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/feedfuse/feedfuse/internal/breaker"
	"github.com/feedfuse/feedfuse/internal/cache"
	"github.com/feedfuse/feedfuse/internal/composite"
	"github.com/feedfuse/feedfuse/internal/config"
	"github.com/feedfuse/feedfuse/internal/conflict"
	"github.com/feedfuse/feedfuse/internal/health"
	"github.com/feedfuse/feedfuse/internal/provider"
	"github.com/feedfuse/feedfuse/internal/provider/httpjson"
	"github.com/feedfuse/feedfuse/internal/provider/sim"
	"github.com/feedfuse/feedfuse/internal/quality"
	"github.com/feedfuse/feedfuse/internal/secrets"
	"github.com/feedfuse/feedfuse/internal/server"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

// The monitor and the orchestrator satisfy the server's service
// interfaces directly; keep that fact checked at compile time.
var (
	_ server.MonitorService = (*health.Monitor)(nil)
	_ server.BreakerService = (*breaker.Registry)(nil)
)

// Gateway holds the wired subsystems and manages their lifecycle.
type Gateway struct {
	Config       *config.Config
	Chain        *provider.Chain
	Breakers     *breaker.Registry
	Cache        cache.Store
	Orchestrator *composite.Orchestrator
	Monitor      *health.Monitor
	Server       *server.Server

	logger *slog.Logger
}

// providerFactory builds a provider.Provider from one config entry.
type providerFactory func(pc config.ProviderConfig) (provider.Provider, error)

// providerFactories maps provider types to their constructors. Declared as
// a variable so tests can inject failing factories.
var providerFactories = map[string]providerFactory{
	config.ProviderTypeSim: func(pc config.ProviderConfig) (provider.Provider, error) {
		return sim.New(sim.Config{
			Name:        pc.Name,
			FailureRate: pc.Sim.FailureRate,
			Latency:     time.Duration(pc.Sim.LatencyMS) * time.Millisecond,
		})
	},
	config.ProviderTypeHTTP: func(pc config.ProviderConfig) (provider.Provider, error) {
		return httpjson.New(httpjson.Config{
			Name:    pc.Name,
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
		})
	},
}

// buildChain constructs the priority-ordered provider chain from config.
// Unknown provider types are logged and skipped so one typo does not take
// the whole daemon down with it; an empty result is still fatal upstream.
func buildChain(cfg *config.Config, logger *slog.Logger) (*provider.Chain, error) {
	entries := make([]provider.Entry, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		factory, ok := providerFactories[pc.Type]
		if !ok {
			logger.Warn("unknown provider type, skipping", "provider", pc.Name, "type", pc.Type)
			continue
		}
		p, err := factory(pc)
		if err != nil {
			return nil, fferr.Wrapf(err, fferr.CodeCLISetupFailure, "building provider %q", pc.Name)
		}
		entries = append(entries, provider.Entry{Priority: pc.Priority, Provider: p})
		logger.Info("registered provider", "provider", pc.Name, "type", pc.Type, "priority", pc.Priority)
	}
	return provider.NewChain(entries)
}

// buildTrustTable loads the configured trust table file, or derives one
// from per-provider weights when no file is configured.
func buildTrustTable(cfg *config.Config) (quality.TrustTable, error) {
	if cfg.Quality.TrustTable != "" {
		return quality.LoadTrustTable(cfg.Quality.TrustTable)
	}

	table := make(quality.TrustTable, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		if pc.Weight <= 0 {
			continue
		}
		w := min(pc.Weight, 1.0)
		table[pc.Name] = quality.Trust{Accuracy: w, Consistency: w}
	}
	return table, nil
}

// buildCache constructs the configured cache backend.
func buildCache(cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemory(), nil
	case "redis":
		return cache.NewRedis(cfg.Cache.RedisURL)
	default:
		return nil, fferr.Errorf(fferr.CodeCacheBackendUnsupported,
			"unsupported cache backend %q", cfg.Cache.Backend)
	}
}

// WireGateway builds every subsystem from cfg: keyring secrets are
// resolved, the provider chain, breaker registry, cache, quality
// validator, and conflict strategy feed the orchestrator, and the monitor
// and ops server sit on top.
func WireGateway(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := secrets.NewStore().Resolve(cfg); err != nil {
		return nil, fferr.Wrap(err, fferr.CodeCLISetupFailure, "resolving keyring secrets")
	}

	chain, err := buildChain(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry, err := breaker.NewRegistry(cfg.Breaker.FailureThreshold, cfg.Breaker.RecoveryTimeout())
	if err != nil {
		return nil, err
	}
	// Pre-create one record per chain member so breaker state and the ops
	// breaker endpoint see every provider before the first fetch or probe.
	for _, name := range chain.Names() {
		if err := registry.Configure(name, cfg.Breaker.FailureThreshold, cfg.Breaker.RecoveryTimeout()); err != nil {
			return nil, err
		}
	}

	store, err := buildCache(cfg)
	if err != nil {
		return nil, err
	}

	table, err := buildTrustTable(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fferr.Wrap(err, fferr.CodeCLISetupFailure, "loading trust table")
	}

	conflictStrategy, err := conflict.ParseStrategy(cfg.Failover.ConflictResolution)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	fetchStrategy, err := composite.ParseStrategy(cfg.Failover.Strategy)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	orch, err := composite.New(composite.Options{
		Chain:            chain,
		Breaker:          registry,
		Cache:            store,
		Quality:          quality.NewValidator(table),
		Conflict:         conflictStrategy,
		Strategy:         fetchStrategy,
		Timeout:          cfg.Failover.Timeout(),
		CacheTTL:         cfg.Cache.TTL(),
		QualityThreshold: cfg.Quality.Threshold,
		Logger:           logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	monitor, err := health.New(health.Options{
		Chain:               chain,
		Registry:            registry,
		Interval:            cfg.Monitor.Interval(),
		ProbeTimeout:        cfg.Monitor.ProbeTimeout(),
		Retention:           cfg.Monitor.Retention(),
		Windows:             cfg.Monitor.Windows,
		MaxConcurrentProbes: cfg.Monitor.MaxConcurrentProbes,
		RestartBackoff:      cfg.Monitor.RestartBackoff(),
		Thresholds: health.Thresholds{
			WarningFailureRate:   cfg.Monitor.Alerts.WarningFailureRate,
			CriticalFailureRate:  cfg.Monitor.Alerts.CriticalFailureRate,
			WarningLatencyMS:     cfg.Monitor.Alerts.WarningLatencyMS,
			CriticalLatencyMS:    cfg.Monitor.Alerts.CriticalLatencyMS,
			CriticalConsecutive:  cfg.Monitor.Alerts.CriticalConsecutive,
			EmergencyConsecutive: cfg.Monitor.Alerts.EmergencyConsecutive,
		},
		Logger: logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	services, err := server.NewServices(monitor, registry, orch)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	srv, err := server.New(server.Config{
		ListenAddr:  net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		CORSOrigins: cfg.Server.AllowedOrigins,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimitRPS,
			Burst:             cfg.Server.RateLimitBurst,
		},
		Services: services,
		Logger:   logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Gateway{
		Config:       cfg,
		Chain:        chain,
		Breakers:     registry,
		Cache:        store,
		Orchestrator: orch,
		Monitor:      monitor,
		Server:       srv,
		logger:       logger,
	}, nil
}

// Run starts the monitor and the ops server and blocks until the context
// is cancelled or a signal arrives, then shuts everything down.
func (gw *Gateway) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.Monitor.Start(ctx); err != nil {
		return errors.Join(err, gw.Close())
	}

	serveErr := gw.Server.Start(ctx)

	stopErr := gw.Monitor.Stop()
	return errors.Join(serveErr, stopErr, gw.Close())
}

// Close releases resources held by the gateway.
func (gw *Gateway) Close() error {
	var errs []error
	if gw.Server != nil {
		errs = append(errs, gw.Server.Close())
	}
	if gw.Chain != nil {
		errs = append(errs, gw.Chain.Close())
	}
	if gw.Cache != nil {
		errs = append(errs, gw.Cache.Close())
	}
	return errors.Join(errs...)
}
