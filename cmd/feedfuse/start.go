// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package main

import (
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/feedfuse/feedfuse/internal/config"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the feedfuse daemon",
		Long:  "Load configuration, wire the provider chain, cache, and monitor, and serve the ops API.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen host:port")

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfgPath := configPathFlag(cmd)
	if cfgPath == "" {
		// First run: seed ~/.config/feedfuse/feedfuse.yaml so the daemon
		// comes up on the sim providers without hand-written config.
		config.BootstrapConfig()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	config.WarnInsecurePermissions(cfg.Path)

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		if err := applyListenOverride(cfg, listen); err != nil {
			return err
		}
	}

	logger := buildLogger(cfg.Log)
	slog.SetDefault(logger)

	gw, err := WireGateway(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("feedfuse starting",
		"providers", len(gw.Chain.Names()),
		"cache", cfg.Cache.Backend,
		"strategy", cfg.Failover.Strategy,
	)

	return gw.Run(cmd.Context())
}

// applyListenOverride splits a host:port flag value into the server config.
func applyListenOverride(cfg *config.Config, listen string) error {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return fferr.Wrapf(err, fferr.CodeCLIInputInvalid, "parsing --listen %q", listen)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fferr.Errorf(fferr.CodeCLIInputInvalid, "parsing --listen %q: invalid port", listen)
	}
	if host != "" {
		cfg.Server.Host = host
	}
	cfg.Server.Port = port
	return nil
}

// buildLogger constructs the process logger from the log section.
func buildLogger(lc config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lc.SlogLevel()}
	var h slog.Handler
	if lc.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}
