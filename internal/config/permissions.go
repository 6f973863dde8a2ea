// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// readableByOthers matches the group-read and world-read permission bits.
const readableByOthers fs.FileMode = 0o044

// WarnInsecurePermissions logs a warning when the config file is readable
// by users other than the owner. The config may hold vendor API keys, so
// anything looser than 0600 leaks them to other accounts on the host. The
// check never fails startup.
func WarnInsecurePermissions(path string) {
	if path == "" {
		// Running on built-in defaults, no file to check.
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("could not stat config file for permission check", "path", path, "error", err)
		return
	}

	if info.Mode().Perm()&readableByOthers != 0 {
		slog.Warn(
			"config file is readable by other users, vendor API keys may be exposed",
			"path", path,
			"mode", info.Mode(),
			"recommended", "0600",
		)
	}
}
