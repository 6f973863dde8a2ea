// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package main

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedfuse/feedfuse/internal/config"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

func TestApplyListenOverride(t *testing.T) {
	tests := []struct {
		name     string
		listen   string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{name: "host and port", listen: "0.0.0.0:9000", wantHost: "0.0.0.0", wantPort: 9000},
		{name: "port only keeps host", listen: ":9100", wantHost: "127.0.0.1", wantPort: 9100},
		{name: "missing port", listen: "no-port-here", wantErr: true},
		{name: "port zero", listen: "127.0.0.1:0", wantErr: true},
		{name: "port out of range", listen: "127.0.0.1:99999", wantErr: true},
		{name: "non-numeric port", listen: "127.0.0.1:http", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()

			err := applyListenOverride(cfg, tt.listen)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, fferr.HasCode(err, fferr.CodeCLIInputInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, cfg.Server.Host)
			assert.Equal(t, tt.wantPort, cfg.Server.Port)
		})
	}
}

func TestStartCommand_FailsOnBusyPort(t *testing.T) {
	cfgPath := writeTestConfig(t)

	// Occupy a port so the daemon's listen deterministically fails after the
	// full flag-parse, config-load, and wiring path has run.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"start", "--config", cfgPath, "--listen", ln.Addr().String()})

	err = root.ExecuteContext(ctx)
	require.Error(t, err)
	assert.True(t, fferr.HasCode(err, fferr.CodeServerStartFailure), "got: %v", err)
}
