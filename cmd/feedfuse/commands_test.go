// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// TestMain swaps the OS keyring for an in-memory mock so secret and doctor
// tests never touch a real keychain.
func TestMain(m *testing.M) {
	keyring.MockInit()
	os.Exit(m.Run())
}

// writeTestConfig writes a minimal valid config file and returns its path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feedfuse.yaml")
	body := `log:
  level: error
providers:
  - name: sim-primary
    type: sim
    priority: 1
    weight: 1.0
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootCommand_Help(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"--help"})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "feedfuse")
	assert.Contains(t, buf.String(), "start")
	assert.Contains(t, buf.String(), "status")
	assert.Contains(t, buf.String(), "version")
}

func TestRootCommand_AllSubcommands(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"--help"})

	err := root.Execute()
	require.NoError(t, err)

	output := buf.String()
	for _, cmd := range []string{"start", "status", "fetch", "watch", "doctor", "secret", "version"} {
		assert.Contains(t, output, cmd, "root help should list %q subcommand", cmd)
	}
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"--help"})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "--config")
	assert.Contains(t, buf.String(), "--verbose")
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"version"})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "feedfuse")
	assert.Contains(t, buf.String(), "dev")
}

func TestStartCommand_RequiresValidConfig(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"start", "--config", "/nonexistent/path.yaml"})

	err := root.Execute()
	assert.Error(t, err)
}

func TestStartCommand_RejectsBadListenFlag(t *testing.T) {
	cfgPath := writeTestConfig(t)

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"start", "--config", cfgPath, "--listen", "no-port-here"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--listen")
}

func TestSubcommandHelp(t *testing.T) {
	for _, sub := range []string{"status", "fetch", "watch", "doctor", "secret"} {
		t.Run(sub, func(t *testing.T) {
			root := NewRootCmd()
			buf := new(bytes.Buffer)
			root.SetOut(buf)
			root.SetArgs([]string{sub, "--help"})

			err := root.Execute()
			require.NoError(t, err)
			assert.Contains(t, buf.String(), sub)
		})
	}
}
