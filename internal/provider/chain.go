// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package provider

import (
	"errors"
	"sort"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

// Entry pairs a constructed adapter with its configured priority.
// Lower priority values are consulted first.
type Entry struct {
	Priority int
	Provider Provider
}

// Chain is the priority-ordered list of providers consulted on every fetch.
// The order is fixed at construction; the orchestrator and the health
// monitor share one instance, so the chain itself is immutable.
type Chain struct {
	ordered []Provider
	byName  map[string]Provider
}

// NewChain builds a Chain from entries, sorting ascending by priority.
// Duplicate priorities and duplicate names are configuration errors; an
// empty entry list is rejected because a fetch would have nowhere to go.
func NewChain(entries []Entry) (*Chain, error) {
	if len(entries) == 0 {
		return nil, fferr.New(fferr.CodeProviderChainEmpty, "provider chain is empty: at least one provider required")
	}

	var errs []error
	byPriority := make(map[int]string, len(entries))
	byName := make(map[string]Provider, len(entries))
	for _, e := range entries {
		if e.Provider == nil {
			errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue, "nil provider at priority %d", e.Priority))
			continue
		}
		name := e.Provider.Name()
		if prev, dup := byPriority[e.Priority]; dup {
			errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
				"providers %q and %q share priority %d", prev, name, e.Priority))
		}
		if _, dup := byName[name]; dup {
			errs = append(errs, fferr.Errorf(fferr.CodeConfigValidateInvalidValue,
				"duplicate provider name %q", name))
		}
		byPriority[e.Priority] = name
		byName[name] = e.Provider
	}
	if len(errs) > 0 {
		return nil, fferr.Errorf(fferr.CodeConfigValidateInvalidValue, "invalid provider chain: %w", errors.Join(errs...))
	}

	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	ordered := make([]Provider, len(sorted))
	for i, e := range sorted {
		ordered[i] = e.Provider
	}

	return &Chain{ordered: ordered, byName: byName}, nil
}

// InOrder returns the providers in ascending priority order. The slice is a
// copy; callers may not mutate chain order.
func (c *Chain) InOrder() []Provider {
	return append([]Provider(nil), c.ordered...)
}

// Primary returns the chain's highest-priority provider.
func (c *Chain) Primary() Provider {
	return c.ordered[0]
}

// Names returns provider names in ascending priority order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.ordered))
	for i, p := range c.ordered {
		names[i] = p.Name()
	}
	return names
}

// Get retrieves a provider by name.
func (c *Chain) Get(name string) (Provider, error) {
	p, ok := c.byName[name]
	if !ok {
		return nil, fferr.New(
			fferr.CodeProviderNotFound,
			"provider not found: "+name,
			fferr.FieldProvider(name),
		)
	}
	return p, nil
}

// Len returns the number of providers in the chain.
func (c *Chain) Len() int {
	return len(c.ordered)
}

// Close shuts down every provider in the chain.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.ordered {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fferr.Join(errs...)
	}
	return nil
}
