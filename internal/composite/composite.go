// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

// Package composite orchestrates fetches across the provider chain. It
// consults the cache first, walks providers strictly in priority order,
// honors circuit breakers, records every outcome into the shared registry,
// and attributes the returned data to its winning source.
package composite

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/feedfuse/feedfuse/internal/breaker"
	"github.com/feedfuse/feedfuse/internal/cache"
	"github.com/feedfuse/feedfuse/internal/conflict"
	"github.com/feedfuse/feedfuse/internal/provider"
	"github.com/feedfuse/feedfuse/internal/quality"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/feedfuse/feedfuse/pkg/health"
	"github.com/google/uuid"
)

// Strategy names a failover policy for the priority walk.
type Strategy string

const (
	// FastFail moves to the next provider after a single failed attempt.
	FastFail Strategy = "fast_fail"
	// RetryOnce retries each failing provider exactly once before moving on.
	RetryOnce Strategy = "retry_once"
	// Consensus queries every available provider and resolves one winner via
	// the configured conflict strategy.
	Consensus Strategy = "consensus"
)

// ParseStrategy validates a configured failover strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case FastFail, RetryOnce, Consensus:
		return Strategy(s), nil
	default:
		return "", fferr.Errorf(fferr.CodeConfigValidateInvalidValue, "unknown failover strategy %q", s)
	}
}

const (
	// DefaultTimeout bounds one provider call.
	DefaultTimeout = 30 * time.Second
	// DefaultCacheTTL is how long a successful result stays servable.
	DefaultCacheTTL = 300 * time.Second
	// DefaultQualityThreshold flags (never rejects) low-quality results.
	DefaultQualityThreshold = 0.8
)

// breakerOpenMessage is the error entry recorded when a provider is skipped
// without being called.
const breakerOpenMessage = "provider unavailable: circuit breaker open"

// Options configures an Orchestrator. Chain and Breaker are required; a nil
// Cache disables caching, a nil Quality scores with default trust.
type Options struct {
	Chain            *provider.Chain
	Breaker          *breaker.Registry
	Cache            cache.Store
	Quality          *quality.Validator
	Conflict         conflict.Strategy
	Strategy         Strategy
	Timeout          time.Duration
	CacheTTL         time.Duration
	QualityThreshold float64
	Logger           *slog.Logger
}

// Orchestrator coordinates one fetch across the provider chain. Instances
// are safe for concurrent use; all mutable state lives in the injected
// registries.
type Orchestrator struct {
	chain            *provider.Chain
	breaker          *breaker.Registry
	cache            cache.Store
	quality          *quality.Validator
	conflictStrategy conflict.Strategy
	strategy         Strategy
	timeout          time.Duration
	cacheTTL         time.Duration
	qualityThreshold float64
	logger           *slog.Logger
}

// New creates an Orchestrator, applying defaults for every zero option.
func New(opts Options) (*Orchestrator, error) {
	if opts.Chain == nil || opts.Chain.Len() == 0 {
		return nil, fferr.New(fferr.CodeProviderChainEmpty, "orchestrator requires a non-empty provider chain")
	}
	if opts.Breaker == nil {
		return nil, fferr.New(fferr.CodeConfigValidateInvalidValue, "orchestrator requires a breaker registry")
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = FastFail
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}

	conflictStrategy := opts.Conflict
	if conflictStrategy == "" {
		conflictStrategy = conflict.PrimaryWins
	}
	if _, err := conflict.ParseStrategy(string(conflictStrategy)); err != nil {
		return nil, err
	}

	validator := opts.Quality
	if validator == nil {
		validator = quality.NewValidator(nil)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	threshold := opts.QualityThreshold
	if threshold <= 0 {
		threshold = DefaultQualityThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		chain:            opts.Chain,
		breaker:          opts.Breaker,
		cache:            opts.Cache,
		quality:          validator,
		conflictStrategy: conflictStrategy,
		strategy:         strategy,
		timeout:          timeout,
		cacheTTL:         cacheTTL,
		qualityThreshold: threshold,
		logger:           logger,
	}, nil
}

// Result is one composed fetch outcome with full source attribution.
type Result struct {
	Data                any                 `json:"data"`
	PrimarySource       string              `json:"primary_source"`
	ContributingSources []string            `json:"contributing_sources"`
	Quality             quality.DataQuality `json:"quality"`
	ConflictsDetected   bool                `json:"conflicts_detected"`
	FailoverOccurred    bool                `json:"failover_occurred"`
	ResponseTimeMS      float64             `json:"response_time_ms"`
	Metadata            map[string]any      `json:"metadata,omitempty"`
}

// View converts the result into the shared DTO served to operators.
func (r *Result) View() health.FetchResult {
	return health.FetchResult{
		Data:                r.Data,
		PrimarySource:       r.PrimarySource,
		ContributingSources: r.ContributingSources,
		Quality: health.FetchQuality{
			Completeness: r.Quality.Completeness,
			Accuracy:     r.Quality.Accuracy,
			Freshness:    r.Quality.Freshness,
			Consistency:  r.Quality.Consistency,
			OverallScore: r.Quality.OverallScore,
		},
		ConflictsDetected: r.ConflictsDetected,
		FailoverOccurred:  r.FailoverOccurred,
		ResponseTimeMS:    r.ResponseTimeMS,
		Metadata:          r.Metadata,
	}
}

// FetchWithFallback executes op against the chain under the configured
// failover strategy. The cache answers first when it holds a live entry;
// otherwise providers are consulted strictly in ascending priority order,
// every outcome is recorded into the breaker registry, and only a
// successful result is cached. ResponseTimeMS always spans this call's
// wall clock, cache hit or not.
func (o *Orchestrator) FetchWithFallback(ctx context.Context, op provider.Operation, params provider.Params) (*Result, error) {
	started := time.Now()

	if err := params.Validate(op); err != nil {
		return nil, err
	}
	norm := params.Normalized()
	requestID := uuid.NewString()
	key := cache.Key(op, norm)

	if res, ok := o.cacheGet(ctx, key); ok {
		if res.Metadata == nil {
			res.Metadata = make(map[string]any)
		}
		res.Metadata["from_cache"] = true
		res.Metadata["request_id"] = requestID
		res.ResponseTimeMS = elapsedMS(started)
		o.logger.Debug("fetch served from cache",
			slog.String("operation", string(op)), slog.String("cache_key", key))
		return res, nil
	}

	var (
		res *Result
		err error
	)
	if o.strategy == Consensus {
		res, err = o.fetchConsensus(ctx, op, norm, requestID)
	} else {
		res, err = o.fetchSequential(ctx, op, norm, requestID)
	}
	if err != nil {
		return nil, err
	}

	res.ResponseTimeMS = elapsedMS(started)
	o.cachePut(ctx, key, res)
	return res, nil
}

// fetchSequential walks the chain in priority order, returning the first
// success. RetryOnce grants each failing provider one extra attempt before
// the walk moves on.
func (o *Orchestrator) fetchSequential(ctx context.Context, op provider.Operation, params provider.Params, requestID string) (*Result, error) {
	var (
		errs       []error
		errEntries []string
		attempted  []string
	)

	for _, prov := range o.chain.InOrder() {
		name := prov.Name()
		attempted = append(attempted, name)

		if !o.breaker.Available(name) {
			errs = append(errs, fferr.New(fferr.CodeProviderUnavailable, breakerOpenMessage, fferr.FieldProvider(name)))
			errEntries = append(errEntries, name+": "+breakerOpenMessage)
			o.logger.Warn("provider skipped",
				slog.String("provider", name),
				slog.String("operation", string(op)),
				slog.String("reason", breakerOpenMessage))
			continue
		}

		attempts := 1
		if o.strategy == RetryOnce {
			attempts = 2
		}

		for attempt := 1; attempt <= attempts; attempt++ {
			env, elapsed, err := o.call(ctx, prov, op, params)
			if err == nil {
				o.breaker.RecordSuccess(name, elapsed)
				return o.compose(env, name, op, params, requestID, attempted, errEntries), nil
			}

			o.breaker.RecordFailure(name, elapsed)
			errs = append(errs, err)
			errEntries = append(errEntries, name+": "+err.Error())
			o.logger.Warn("provider call failed",
				slog.String("provider", name),
				slog.String("operation", string(op)),
				slog.Int("attempt", attempt),
				slog.Float64("elapsed_ms", float64(elapsed.Milliseconds())),
				slog.String("code", string(fferr.CodeOf(err))),
				slog.Any("error", err))
		}
	}

	return nil, o.allFailed(op, attempted, errEntries, errs)
}

// fetchConsensus queries every available provider sequentially, then
// resolves one winner among the successes via the conflict strategy.
// conflicts_detected reports whether at least two contributors disagreed on
// payload content.
func (o *Orchestrator) fetchConsensus(ctx context.Context, op provider.Operation, params provider.Params, requestID string) (*Result, error) {
	var (
		errs         []error
		errEntries   []string
		attempted    []string
		contributors []string
	)
	samples := make(map[string]conflict.Sample)
	envelopes := make(map[string]*provider.Envelope[any])
	payloads := make(map[string]string)

	for _, prov := range o.chain.InOrder() {
		name := prov.Name()
		attempted = append(attempted, name)

		if !o.breaker.Available(name) {
			errs = append(errs, fferr.New(fferr.CodeProviderUnavailable, breakerOpenMessage, fferr.FieldProvider(name)))
			errEntries = append(errEntries, name+": "+breakerOpenMessage)
			o.logger.Warn("provider skipped",
				slog.String("provider", name),
				slog.String("operation", string(op)),
				slog.String("reason", breakerOpenMessage))
			continue
		}

		env, elapsed, err := o.call(ctx, prov, op, params)
		if err != nil {
			o.breaker.RecordFailure(name, elapsed)
			errs = append(errs, err)
			errEntries = append(errEntries, name+": "+err.Error())
			o.logger.Warn("provider call failed",
				slog.String("provider", name),
				slog.String("operation", string(op)),
				slog.Float64("elapsed_ms", float64(elapsed.Milliseconds())),
				slog.Any("error", err))
			continue
		}

		o.breaker.RecordSuccess(name, elapsed)
		contributors = append(contributors, name)
		envelopes[name] = env
		samples[name] = conflict.Sample{
			Payload:   env.Data,
			Timestamp: conflict.ExtractTimestamp(env.Data),
		}
		if raw, err := json.Marshal(env.Data); err == nil {
			payloads[name] = string(raw)
		}
	}

	if len(contributors) == 0 {
		return nil, o.allFailed(op, attempted, errEntries, errs)
	}

	winner, err := conflict.Resolve(samples, o.chain.Names(), o.conflictStrategy)
	if err != nil {
		return nil, err
	}

	res := o.compose(envelopes[winner], winner, op, params, requestID, attempted, errEntries)
	res.ContributingSources = contributors
	res.ConflictsDetected = payloadsDisagree(payloads)
	if res.ConflictsDetected {
		res.Metadata["conflict_strategy"] = string(o.conflictStrategy)
		o.logger.Info("conflicting payloads resolved",
			slog.String("operation", string(op)),
			slog.String("winner", winner),
			slog.String("strategy", string(o.conflictStrategy)))
	}
	return res, nil
}

// call invokes one provider under the per-call timeout, classifying a
// deadline hit as a provider timeout.
func (o *Orchestrator) call(ctx context.Context, prov provider.Provider, op provider.Operation, params provider.Params) (*provider.Envelope[any], time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := time.Now()
	env, err := provider.Invoke(callCtx, prov, op, params)
	elapsed := time.Since(started)

	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) && !fferr.IsTimeout(err) {
			err = fferr.Wrapf(err, fferr.CodeProviderTimeout,
				"provider %s timed out after %s", prov.Name(), o.timeout)
		}
		return nil, elapsed, err
	}
	return env, elapsed, nil
}

// compose builds the Result for one winning envelope.
func (o *Orchestrator) compose(env *provider.Envelope[any], source string, op provider.Operation, params provider.Params, requestID string, attempted []string, errEntries []string) *Result {
	q := o.quality.Score(env.Data, source, op, len(params.Symbols))

	res := &Result{
		Data:                env.Data,
		PrimarySource:       source,
		ContributingSources: []string{source},
		Quality:             q,
		FailoverOccurred:    source != o.chain.Primary().Name(),
		Metadata: map[string]any{
			"request_id":          requestID,
			"operation":           string(op),
			"from_cache":          false,
			"attempted_providers": attempted,
		},
	}
	if env.Message != "" {
		res.Metadata["provider_message"] = env.Message
	}
	if len(errEntries) > 0 {
		res.Metadata["errors"] = errEntries
	}
	if q.OverallScore < o.qualityThreshold {
		res.Metadata["quality_below_threshold"] = true
		o.logger.Warn("result quality below threshold",
			slog.String("provider", source),
			slog.String("operation", string(op)),
			slog.Float64("overall_score", q.OverallScore),
			slog.Float64("threshold", o.qualityThreshold))
	}
	return res
}

// allFailed builds the terminal aggregate error carrying every provider's
// failure.
func (o *Orchestrator) allFailed(op provider.Operation, attempted, errEntries []string, errs []error) error {
	o.logger.Error("all providers failed",
		slog.String("operation", string(op)),
		slog.Any("attempted_providers", attempted))

	return fferr.Wrap(stderrors.Join(errs...), fferr.CodeProviderAllFailed,
		"all providers failed for "+string(op),
		fferr.FieldOperation(string(op)),
		fferr.Field("attempted_providers", attempted),
		fferr.Field("errors", errEntries))
}

func (o *Orchestrator) cacheGet(ctx context.Context, key string) (*Result, bool) {
	if o.cache == nil {
		return nil, false
	}

	raw, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		o.logger.Warn("cache read failed, treating as miss",
			slog.String("cache_key", key), slog.Any("error", err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		o.logger.Warn("cached entry undecodable, treating as miss",
			slog.String("cache_key", key), slog.Any("error", err))
		return nil, false
	}
	return &res, true
}

func (o *Orchestrator) cachePut(ctx context.Context, key string, res *Result) {
	if o.cache == nil {
		return
	}

	raw, err := json.Marshal(res)
	if err != nil {
		o.logger.Warn("result not cacheable",
			slog.String("cache_key", key), slog.Any("error", err))
		return
	}
	if err := o.cache.Put(ctx, key, raw, o.cacheTTL); err != nil {
		o.logger.Warn("cache write failed",
			slog.String("cache_key", key), slog.Any("error", err))
	}
}

// payloadsDisagree reports whether the JSON-normalized payloads differ
// across contributors.
func payloadsDisagree(payloads map[string]string) bool {
	if len(payloads) < 2 {
		return false
	}

	var first string
	var started bool
	for _, raw := range payloads {
		if !started {
			first = raw
			started = true
			continue
		}
		if raw != first {
			return true
		}
	}
	return false
}

func elapsedMS(started time.Time) float64 {
	return float64(time.Since(started).Microseconds()) / 1000
}

// Historical fetches bars for symbols between start and end at interval.
func (o *Orchestrator) Historical(ctx context.Context, symbols []string, start, end time.Time, interval provider.Interval) (*Result, error) {
	return o.FetchWithFallback(ctx, provider.OpHistorical, provider.Params{
		Symbols:  symbols,
		Start:    start,
		End:      end,
		Interval: interval,
	})
}

// RealTime fetches current quotes for symbols.
func (o *Orchestrator) RealTime(ctx context.Context, symbols []string) (*Result, error) {
	return o.FetchWithFallback(ctx, provider.OpRealTime, provider.Params{Symbols: symbols})
}

// AssetInfo fetches listing metadata for symbols.
func (o *Orchestrator) AssetInfo(ctx context.Context, symbols []string) (*Result, error) {
	return o.FetchWithFallback(ctx, provider.OpAssetInfo, provider.Params{Symbols: symbols})
}

// ValidateSymbols checks symbols for well-formedness and tradability.
func (o *Orchestrator) ValidateSymbols(ctx context.Context, symbols []string) (*Result, error) {
	return o.FetchWithFallback(ctx, provider.OpValidateSymbols, provider.Params{Symbols: symbols})
}

// Search looks up assets matching query, capped at limit results.
func (o *Orchestrator) Search(ctx context.Context, query string, limit int) (*Result, error) {
	return o.FetchWithFallback(ctx, provider.OpSearch, provider.Params{Query: query, Limit: limit})
}
