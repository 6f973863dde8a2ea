// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

// Command openapi-gen writes the ops API's OpenAPI spec to disk so clients
// and docs can be generated without a running daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/feedfuse/feedfuse/internal/composite"
	"github.com/feedfuse/feedfuse/internal/provider"
	"github.com/feedfuse/feedfuse/internal/server"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/feedfuse/feedfuse/pkg/health"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec creates a server with all routes registered and extracts the
// OpenAPI spec that huma generates from the Go type annotations.
func generateSpec() ([]byte, error) {
	// No-op service stubs so all routes register for schema discovery.
	// Handlers are never invoked during spec generation.
	svc, err := server.NewServices(stubMonitor{}, stubBreakers{}, stubFetcher{})
	if err != nil {
		return nil, fferr.Wrap(err, fferr.CodeCLISetupFailure, "building stub services")
	}

	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
		Services:   svc,
	})
	if err != nil {
		return nil, fferr.Wrap(err, fferr.CodeCLISetupFailure, "creating server")
	}
	defer func() { _ = srv.Close() }()

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

type stubMonitor struct{}

func (stubMonitor) Running() bool                                            { return false }
func (stubMonitor) Health() map[string]health.ProviderHealth                 { return nil }
func (stubMonitor) Metrics(int) (map[string]health.PerformanceWindow, error) { return nil, nil }
func (stubMonitor) Rankings() []health.RankedProvider                        { return nil }
func (stubMonitor) Windows() []int                                           { return nil }
func (stubMonitor) Alerts(bool) []health.Alert                               { return nil }
func (stubMonitor) Acknowledge(string) error                                 { return nil }

type stubBreakers struct{}

func (stubBreakers) Providers() []string                        { return nil }
func (stubBreakers) Health(string) health.ProviderHealth        { return health.ProviderHealth{} }
func (stubBreakers) Configure(string, int, time.Duration) error { return nil }
func (stubBreakers) Reset(string)                               {}

type stubFetcher struct{}

func (stubFetcher) FetchWithFallback(context.Context, provider.Operation, provider.Params) (*composite.Result, error) {
	return nil, nil
}
