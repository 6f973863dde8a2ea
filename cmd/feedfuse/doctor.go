// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/feedfuse/feedfuse/internal/cache"
	"github.com/feedfuse/feedfuse/internal/config"
	"github.com/feedfuse/feedfuse/internal/provider/sim"
	"github.com/feedfuse/feedfuse/internal/quality"
	"github.com/feedfuse/feedfuse/internal/secrets"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the binary, configuration, keyring, cache backend, provider plumbing, and disk space.",
		RunE:  runDoctor,
	}

	cmd.Flags().String("address", defaultOpsAddr, "ops API address to check")

	return cmd
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	addr, _ := cmd.Flags().GetString("address")

	cfg, cfgErr := config.Load(configPathFlag(cmd))

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", func() string { return checkConfig(cfg, cfgErr) }},
		{"Daemon", func() string { return checkDaemon(addr) }},
		{"Providers", func() string { return checkProviders(cfg) }},
		{"Sim Adapter", checkSimAdapter},
		{"Keyring", checkKeyring},
		{"Cache", func() string { return checkCache(cfg) }},
		{"Trust Table", func() string { return checkTrustTable(cfg) }},
		{"Disk Space", func() string { return checkDiskSpace(cfg) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("feedfuse %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig(cfg *config.Config, err error) string {
	if err != nil {
		return fmt.Sprintf("invalid: %s", err)
	}
	if cfg.Path != "" {
		return fmt.Sprintf("loaded from %s", cfg.Path)
	}
	return "using defaults (no config file found)"
}

func checkDaemon(addr string) string {
	client := newOpsClient(addr)
	var body struct {
		Status    string `json:"status"`
		Providers int    `json:"providers"`
	}
	if err := client.getJSON("/api/v1/health", &body); err != nil {
		if fferr.HasCode(err, fferr.CodeCLIGatewayNotRunning) {
			return fmt.Sprintf("not running at %s (run 'feedfuse start')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s (%d providers)", body.Status, addr, body.Providers)
}

func checkProviders(cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config invalid)"
	}
	known := 0
	var unknown []string
	for _, pc := range cfg.Providers {
		if _, ok := providerFactories[pc.Type]; ok {
			known++
		} else {
			unknown = append(unknown, fmt.Sprintf("%s(%s)", pc.Name, pc.Type))
		}
	}
	if len(unknown) > 0 {
		return fmt.Sprintf("%d usable, unknown types skipped: %v", known, unknown)
	}
	return fmt.Sprintf("%d configured", known)
}

// checkSimAdapter runs one in-process quote fetch to prove the adapter
// plumbing works without a daemon.
func checkSimAdapter() string {
	p, err := sim.New(sim.Config{Name: "doctor-probe"})
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	defer func() { _ = p.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	env, err := p.FetchRealTime(ctx, []string{"AAPL"})
	if err != nil {
		return fmt.Sprintf("fetch failed: %s", err)
	}
	if _, ok := env.Data["AAPL"]; !ok {
		return "fetch returned no quote for AAPL"
	}
	return "round-trip ok"
}

func checkKeyring() string {
	store := secrets.NewStore()
	const probe = "doctor-probe"
	if err := store.Set(probe, "ok"); err != nil {
		return fmt.Sprintf("unavailable: %s", err)
	}
	val, err := store.Get(probe)
	if err != nil || val != "ok" {
		return fmt.Sprintf("read-back failed: %v", err)
	}
	if err := store.Delete(probe); err != nil {
		return fmt.Sprintf("cleanup failed: %s", err)
	}
	return "read/write ok"
}

func checkCache(cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config invalid)"
	}
	if cfg.Cache.Backend != "redis" {
		return fmt.Sprintf("%s backend (nothing to probe)", cfg.Cache.Backend)
	}

	r, err := cache.NewRedis(cfg.Cache.RedisURL)
	if err != nil {
		return fmt.Sprintf("redis config invalid: %s", err)
	}
	defer func() { _ = r.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		return fmt.Sprintf("redis unreachable at %s: %s", cfg.Cache.RedisURL, err)
	}
	return fmt.Sprintf("redis ok at %s", cfg.Cache.RedisURL)
}

func checkTrustTable(cfg *config.Config) string {
	if cfg == nil {
		return "skipped (config invalid)"
	}
	if cfg.Quality.TrustTable == "" {
		return "not configured (weights derive trust)"
	}
	table, err := quality.LoadTrustTable(cfg.Quality.TrustTable)
	if err != nil {
		return fmt.Sprintf("invalid: %s", err)
	}
	return fmt.Sprintf("%d providers from %s", len(table), cfg.Quality.TrustTable)
}

func checkDiskSpace(cfg *config.Config) string {
	path := ""
	if cfg != nil && cfg.Path != "" {
		path = filepath.Dir(cfg.Path)
	}
	if path == "" {
		path, _ = os.UserHomeDir()
	}
	if path == "" {
		path = "/"
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
