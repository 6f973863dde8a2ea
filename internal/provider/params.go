// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package provider

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

// DefaultSearchLimit caps search_assets results when the caller passes 0.
const DefaultSearchLimit = 10

// Params is the union of arguments across adapter operations. Each
// operation reads only the fields it needs; Validate enforces the
// per-operation requirements.
type Params struct {
	Symbols  []string  `json:"symbols,omitempty"`
	Start    time.Time `json:"start,omitempty"`
	End      time.Time `json:"end,omitempty"`
	Interval Interval  `json:"interval,omitempty"`
	Query    string    `json:"query,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// Validate checks the fields required by op. It returns every problem it
// finds joined into one error so callers see the full picture at once.
func (p Params) Validate(op Operation) error {
	var errs []error

	switch op {
	case OpHistorical:
		if len(p.Symbols) == 0 {
			errs = append(errs, fferr.New(fferr.CodeFetchParamsInvalid, "historical_data requires at least one symbol"))
		}
		if p.Interval != "" && !p.Interval.Valid() {
			errs = append(errs, fferr.Errorf(fferr.CodeFetchParamsInvalid, "unsupported interval %q", p.Interval))
		}
		if !p.Start.IsZero() && !p.End.IsZero() && p.End.Before(p.Start) {
			errs = append(errs, fferr.Errorf(fferr.CodeFetchParamsInvalid, "end %s precedes start %s", p.End.Format(time.RFC3339), p.Start.Format(time.RFC3339)))
		}
	case OpRealTime, OpAssetInfo, OpValidateSymbols:
		if len(p.Symbols) == 0 {
			errs = append(errs, fferr.Errorf(fferr.CodeFetchParamsInvalid, "%s requires at least one symbol", op))
		}
	case OpSearch:
		if strings.TrimSpace(p.Query) == "" {
			errs = append(errs, fferr.New(fferr.CodeFetchParamsInvalid, "search_assets requires a query"))
		}
		if p.Limit < 0 {
			errs = append(errs, fferr.Errorf(fferr.CodeFetchParamsInvalid, "limit must be non-negative, got %d", p.Limit))
		}
	case OpHealthCheck:
		// No parameters.
	default:
		errs = append(errs, fferr.Errorf(fferr.CodeFetchOperationInvalid, "unknown operation %q", op))
	}

	if len(errs) == 1 {
		return errs[0]
	}
	if len(errs) > 0 {
		return fferr.Errorf(fferr.CodeFetchParamsInvalid, "invalid parameters for %s: %w", op, errors.Join(errs...))
	}
	return nil
}

// Normalized returns a canonical copy: symbols upper-cased, de-duplicated
// and sorted; interval defaulted to 1d; search limit defaulted. Identical
// logical requests normalize to identical Params regardless of argument
// ordering, which keeps cache keys and adapter calls deterministic.
func (p Params) Normalized() Params {
	out := p

	if len(p.Symbols) > 0 {
		seen := make(map[string]struct{}, len(p.Symbols))
		symbols := make([]string, 0, len(p.Symbols))
		for _, s := range p.Symbols {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			symbols = append(symbols, s)
		}
		slices.Sort(symbols)
		out.Symbols = symbols
	}

	if out.Interval == "" {
		out.Interval = Interval1Day
	}
	if out.Limit == 0 {
		out.Limit = DefaultSearchLimit
	}
	out.Query = strings.TrimSpace(p.Query)

	return out
}

// Invoke dispatches op against prov with the operation's typed method and
// erases the payload type for orchestration.
func Invoke(ctx context.Context, prov Provider, op Operation, params Params) (*Envelope[any], error) {
	switch op {
	case OpHistorical:
		env, err := prov.FetchHistorical(ctx, HistoricalRequest{
			Symbols:  params.Symbols,
			Start:    params.Start,
			End:      params.End,
			Interval: params.Interval,
		})
		return erase(env), err
	case OpRealTime:
		env, err := prov.FetchRealTime(ctx, params.Symbols)
		return erase(env), err
	case OpAssetInfo:
		env, err := prov.FetchAssetInfo(ctx, params.Symbols)
		return erase(env), err
	case OpValidateSymbols:
		env, err := prov.ValidateSymbols(ctx, params.Symbols)
		return erase(env), err
	case OpSearch:
		env, err := prov.SearchAssets(ctx, params.Query, params.Limit)
		return erase(env), err
	case OpHealthCheck:
		env, err := prov.HealthCheck(ctx)
		return erase(env), err
	default:
		return nil, fferr.Errorf(fferr.CodeFetchOperationInvalid, "unknown operation %q", op)
	}
}

func erase[T any](env *Envelope[T]) *Envelope[any] {
	if env == nil {
		return nil
	}
	return &Envelope[any]{Data: env.Data, Message: env.Message, Metadata: env.Metadata}
}
