// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/feedfuse/feedfuse/pkg/health"
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch market data through the running daemon",
		Long: "Send one fetch operation to the daemon's ops API and print the composed result,\n" +
			"including which provider served it and the quality score.",
		RunE: runFetch,
	}

	cmd.Flags().String("address", defaultOpsAddr, "ops API address to query")
	cmd.Flags().String("operation", "real_time_data", "operation: historical_data, real_time_data, asset_info, validate_symbols, search_assets")
	cmd.Flags().StringSlice("symbols", nil, "ticker symbols (comma separated)")
	cmd.Flags().String("start", "", "range start for historical_data (RFC 3339)")
	cmd.Flags().String("end", "", "range end for historical_data (RFC 3339)")
	cmd.Flags().String("interval", "", "bar interval for historical_data (1m, 5m, 15m, 1h, 1d)")
	cmd.Flags().String("query", "", "search query for search_assets")
	cmd.Flags().Int("limit", 0, "result cap for search_assets")

	return cmd
}

type fetchRequest struct {
	Operation string   `json:"operation"`
	Symbols   []string `json:"symbols,omitempty"`
	Start     string   `json:"start,omitempty"`
	End       string   `json:"end,omitempty"`
	Interval  string   `json:"interval,omitempty"`
	Query     string   `json:"query,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

func runFetch(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	req := fetchRequest{}
	req.Operation, _ = cmd.Flags().GetString("operation")
	req.Symbols, _ = cmd.Flags().GetStringSlice("symbols")
	req.Start, _ = cmd.Flags().GetString("start")
	req.End, _ = cmd.Flags().GetString("end")
	req.Interval, _ = cmd.Flags().GetString("interval")
	req.Query, _ = cmd.Flags().GetString("query")
	req.Limit, _ = cmd.Flags().GetInt("limit")

	client := newOpsClient(addr)
	var res health.FetchResult
	if err := client.postJSON("/api/v1/fetch", req, &res); err != nil {
		if fferr.HasCode(err, fferr.CodeCLIGatewayNotRunning) {
			_, _ = fmt.Fprintf(out, "Daemon at %s is not running (connection refused)\n", addr)
			return nil
		}
		return err
	}

	_, _ = fmt.Fprintf(out, "Operation:  %s\n", req.Operation)
	if len(req.Symbols) > 0 {
		_, _ = fmt.Fprintf(out, "Symbols:    %s\n", strings.Join(req.Symbols, ", "))
	}
	_, _ = fmt.Fprintf(out, "Source:     %s", res.PrimarySource)
	if len(res.ContributingSources) > 1 {
		_, _ = fmt.Fprintf(out, " (consensus of %s)", strings.Join(res.ContributingSources, ", "))
	}
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintf(out, "Quality:    %.2f\n", res.Quality.OverallScore)
	_, _ = fmt.Fprintf(out, "Latency:    %.1fms\n", res.ResponseTimeMS)
	if res.FailoverOccurred {
		_, _ = fmt.Fprintln(out, "Failover:   yes")
	}
	if res.ConflictsDetected {
		_, _ = fmt.Fprintln(out, "Conflicts:  detected (resolved)")
	}

	data, err := json.MarshalIndent(res.Data, "", "  ")
	if err != nil {
		return fferr.Wrap(err, fferr.CodeCLIResponseInvalid, "rendering response data")
	}
	_, _ = fmt.Fprintf(out, "\n%s\n", data)
	return nil
}
