// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package xdg resolves XDG Base Directory paths for auditctl.
// It falls back to the traditional ~/.config and ~/.local/state locations when
// the XDG environment variables are unset, and creates directories with
// private permissions since they may hold session-adjacent data.
package xdg

import (
	"os"
	"path/filepath"
)

// AppName is the directory name used under every XDG base directory.
const AppName = "auditctl"

// ConfigDir returns the XDG config directory for auditctl.
// The directory is created with private permissions (0700) if missing.
// It falls back to ~/.config/auditctl when XDG_CONFIG_HOME is unset.
func ConfigDir() (string, error) {
	return resolve("XDG_CONFIG_HOME", ".config")
}

// StateDir returns the XDG state directory for auditctl.
// It falls back to ~/.local/state/auditctl when XDG_STATE_HOME is unset.
// Log files default to this directory.
func StateDir() (string, error) {
	return resolve("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

func resolve(envKey, homeRel string) (string, error) {
	base := os.Getenv(envKey)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, homeRel)
	}
	dir := filepath.Join(base, AppName)
	if err := os.MkdirAll(dir, 0o700); err != nil { // private dir
		return "", err
	}
	return dir, nil
}
