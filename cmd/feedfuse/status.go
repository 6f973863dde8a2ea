// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/feedfuse/feedfuse/pkg/health"
)

// defaultOpsAddr matches the server.host/server.port config defaults.
const defaultOpsAddr = "127.0.0.1:8710"

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and provider status",
		Long:  "Query the running daemon's ops API and display service and per-provider health.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", defaultOpsAddr, "ops API address to query")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	client := newOpsClient(addr)

	var svc struct {
		Status         string `json:"status"`
		MonitorRunning bool   `json:"monitor_running"`
		Providers      int    `json:"providers"`
	}
	if err := client.getJSON("/api/v1/health", &svc); err != nil {
		if fferr.HasCode(err, fferr.CodeCLIGatewayNotRunning) {
			_, _ = fmt.Fprintf(out, "Daemon at %s is not running (connection refused)\n", addr)
			return nil
		}
		return err
	}

	_, _ = fmt.Fprintf(out, "Daemon at %s: %s (monitor running: %t, providers: %d)\n",
		addr, svc.Status, svc.MonitorRunning, svc.Providers)

	var ph struct {
		Providers map[string]health.ProviderHealth `json:"providers"`
	}
	if err := client.getJSON("/api/v1/providers/health", &ph); err != nil {
		return err
	}
	if len(ph.Providers) == 0 {
		_, _ = fmt.Fprintln(out, "No providers registered.")
		return nil
	}

	names := make([]string, 0, len(ph.Providers))
	for name := range ph.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	_, _ = fmt.Fprintf(out, "\n%-20s %-10s %-10s %-12s %s\n",
		"PROVIDER", "HEALTHY", "BREAKER", "FAIL RATE", "AVG LATENCY")
	for _, name := range names {
		h := ph.Providers[name]
		_, _ = fmt.Fprintf(out, "%-20s %-10t %-10s %-12.2f %.1fms\n",
			name, h.IsHealthy, h.Breaker.State, h.FailureRate, h.AvgResponseTimeMS)
	}
	return nil
}
