// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package config loads and stores CLI configuration in the XDG config dir.
// Only non-secret settings are kept here; the bearer token goes to the OS keychain.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "auditctl/cli/internal/errors"
	"auditctl/cli/internal/xdg"
)

// Environment overrides. They take precedence over the config file.
const (
	EnvBaseURL  = "AUDITCTL_BASE_URL"
	EnvLogLevel = "AUDITCTL_LOG_LEVEL"
	EnvToken    = "AUDITCTL_TOKEN"
)

// Config holds non-sensitive CLI settings.
type Config struct {
	BaseURL        string       `json:"base_url"`
	LogLevel       string       `json:"log_level"`
	RequestTimeout Duration     `json:"request_timeout"`
	Import         ImportConfig `json:"import"`
	Endpoints      Endpoints    `json:"endpoints"`
}

// ImportConfig tunes the persons CSV import poller.
type ImportConfig struct {
	PollInterval Duration `json:"poll_interval"`
	MaxFailures  int      `json:"max_failures"`
}

// Endpoints contains REST API endpoint paths relative to BaseURL.
type Endpoints struct {
	Me           string `json:"me"`            // e.g., "/api/me"
	AuditLogs    string `json:"audit_logs"`    // e.g., "/api/audit-logs"
	AuditSummary string `json:"audit_summary"` // e.g., "/api/audit-logs/summary"
	ImportStart  string `json:"import_start"`  // e.g., "/api/persons/load-csv"
	ImportStatus string `json:"import_status"` // e.g., "/api/persons/load-csv/status"
}

// Duration is a time.Duration that marshals as a Go duration string ("1s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Accept bare numbers as seconds.
		var n float64
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return err
		}
		*d = Duration(time.Duration(n * float64(time.Second)))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaseURL:        "http://localhost:8000",
		LogLevel:       "warn",
		RequestTimeout: Duration(15 * time.Second),
		Import: ImportConfig{
			PollInterval: Duration(time.Second),
			MaxFailures:  5,
		},
		Endpoints: Endpoints{
			Me:           "/api/me",
			AuditLogs:    "/api/audit-logs",
			AuditSummary: "/api/audit-logs/summary",
			ImportStart:  "/api/persons/load-csv",
			ImportStatus: "/api/persons/load-csv/status",
		},
	}
}

// Path returns the path to the config file.
func Path() (string, error) {
	dir, err := xdg.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads configuration from the XDG config dir and applies env overrides.
// A missing file yields defaults.
func Load() (Config, error) {
	p, err := Path()
	if err != nil {
		return Config{}, err
	}
	return LoadFrom(p)
}

// LoadFrom reads configuration from p. Values present in the file override
// defaults; absent values keep them.
func LoadFrom(p string) (Config, error) {
	c, err := ReadFile(p)
	if err != nil {
		return c, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// ReadFile returns defaults overlaid with the file at p, without env
// overrides or validation. It is what `config set` edits.
func ReadFile(p string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, apperrors.Wrap(apperrors.ConfigInvalid, "cannot parse "+p, err)
	}
	return c, nil
}

// Save writes configuration with 0600 permissions.
func Save(c Config) error {
	p, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(p, c)
}

// SaveTo writes c to p with 0600 permissions.
func SaveTo(p string, c Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p, append(b, '\n'), 0o600)
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		c.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return apperrors.New(apperrors.ConfigInvalid, fmt.Sprintf("base_url %q must be an absolute http(s) URL", c.BaseURL))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperrors.New(apperrors.ConfigInvalid, fmt.Sprintf("base_url scheme %q is not supported", u.Scheme))
	}
	if c.Import.PollInterval.Std() <= 0 {
		return apperrors.New(apperrors.ConfigInvalid, "import.poll_interval must be positive")
	}
	if c.Import.MaxFailures <= 0 {
		return apperrors.New(apperrors.ConfigInvalid, "import.max_failures must be at least 1")
	}
	if c.RequestTimeout.Std() <= 0 {
		return apperrors.New(apperrors.ConfigInvalid, "request_timeout must be positive")
	}
	return nil
}

// setters maps user-facing keys to mutators for `auditctl config set`.
var setters = map[string]func(c *Config, v string) error{
	"base_url":  func(c *Config, v string) error { c.BaseURL = strings.TrimRight(v, "/"); return nil },
	"log_level": func(c *Config, v string) error { c.LogLevel = v; return nil },
	"request_timeout": func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		c.RequestTimeout = Duration(d)
		return err
	},
	"import.poll_interval": func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		c.Import.PollInterval = Duration(d)
		return err
	},
	"import.max_failures": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		c.Import.MaxFailures = n
		return err
	},
	"endpoints.me":            func(c *Config, v string) error { c.Endpoints.Me = v; return nil },
	"endpoints.audit_logs":    func(c *Config, v string) error { c.Endpoints.AuditLogs = v; return nil },
	"endpoints.audit_summary": func(c *Config, v string) error { c.Endpoints.AuditSummary = v; return nil },
	"endpoints.import_start":  func(c *Config, v string) error { c.Endpoints.ImportStart = v; return nil },
	"endpoints.import_status": func(c *Config, v string) error { c.Endpoints.ImportStatus = v; return nil },
}

// Keys lists the settable keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set updates a single key and validates the result.
func (c *Config) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return apperrors.New(apperrors.ConfigInvalid, fmt.Sprintf("unknown key %q (known: %s)", key, strings.Join(Keys(), ", ")))
	}
	next := *c
	if err := set(&next, value); err != nil {
		return apperrors.Wrap(apperrors.ConfigInvalid, fmt.Sprintf("invalid value for %s", key), err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}
