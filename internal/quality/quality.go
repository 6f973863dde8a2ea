// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

// Package quality scores fetched payloads on completeness, accuracy,
// freshness, and consistency. Accuracy and consistency are policy inputs
// from a per-provider trust table; they are never computed from the
// payload itself.
package quality

import (
	"reflect"

	"github.com/feedfuse/feedfuse/internal/provider"
)

// DataQuality is a normalized [0,1] assessment of one fetched result.
// OverallScore is the arithmetic mean of the four dimensions.
type DataQuality struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Freshness    float64 `json:"freshness"`
	Consistency  float64 `json:"consistency"`
	OverallScore float64 `json:"overall_score"`
}

const (
	// historicalFreshness reflects that staleness is inherent to a
	// historical request, not a defect of the provider.
	historicalFreshness = 0.9
	liveFreshness       = 1.0
)

// Validator scores payloads against the configured trust table.
type Validator struct {
	table TrustTable
}

// NewValidator creates a Validator. A nil table scores every provider with
// the built-in default trust.
func NewValidator(table TrustTable) *Validator {
	return &Validator{table: table}
}

// Score assesses one payload fetched from source for op. requested is the
// number of symbols the caller asked for; map payloads are scored on the
// fraction of requested entries returned, list payloads on presence.
func (v *Validator) Score(payload any, source string, op provider.Operation, requested int) DataQuality {
	trust := v.table.Lookup(source)

	q := DataQuality{
		Completeness: completeness(payload, requested),
		Accuracy:     trust.Accuracy,
		Freshness:    freshness(op),
		Consistency:  trust.Consistency,
	}
	q.Completeness = clamp01(q.Completeness)
	q.Accuracy = clamp01(q.Accuracy)
	q.Freshness = clamp01(q.Freshness)
	q.Consistency = clamp01(q.Consistency)
	q.OverallScore = (q.Completeness + q.Accuracy + q.Freshness + q.Consistency) / 4
	return q
}

func freshness(op provider.Operation) float64 {
	if op == provider.OpHistorical {
		return historicalFreshness
	}
	return liveFreshness
}

// completeness measures how much of the requested data came back.
func completeness(payload any, requested int) float64 {
	if payload == nil {
		return 0
	}

	val := reflect.ValueOf(payload)
	switch val.Kind() {
	case reflect.Map:
		if requested <= 0 {
			if val.Len() > 0 {
				return 1
			}
			return 0
		}
		return float64(val.Len()) / float64(requested)
	case reflect.Slice, reflect.Array:
		if val.Len() > 0 {
			return 1
		}
		return 0
	case reflect.Pointer:
		if val.IsNil() {
			return 0
		}
		return completeness(val.Elem().Interface(), requested)
	default:
		// Structured single payloads (e.g. a health probe) count as present.
		return 1
	}
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
