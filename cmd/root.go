// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package cmd provides the command-line interface for auditctl.
// It implements subcommands for authentication, audit log browsing, the
// persons CSV import and configuration using the Cobra CLI framework.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"auditctl/cli/internal/auth"
	"auditctl/cli/internal/backend"
	"auditctl/cli/internal/config"
	apperrors "auditctl/cli/internal/errors"
	"auditctl/cli/internal/httperrors"
	"auditctl/cli/internal/keychain"
	"auditctl/cli/internal/logging"
	"auditctl/cli/internal/session"
	"auditctl/cli/internal/xdg"

	"github.com/99designs/keyring"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagVerbose  bool
	flagLogLevel string
	flagLogFile  string
	flagBaseURL  string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:           "auditctl",
	Short:         "Admin client for the audit and persons backend",
	Long:          `auditctl browses audit logs and runs the persons CSV import against the admin backend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI application.
func Execute() {
	err := rootCmd.Execute()
	if current != nil {
		current.close()
	}
	if err != nil {
		var r reported
		switch {
		case errors.As(err, &r):
		case apperrors.KindOf(err) != "":
			httperrors.Present(err, "running auditctl", "")
		default:
			pterm.Error.Println(logging.PresentError("", err))
		}
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error, disabled")
	pf.StringVar(&flagLogFile, "log-file", "", "Write logs to this file instead of stderr (bare flag: state dir)")
	pf.Lookup("log-file").NoOptDefVal = defaultLogFile
	pf.StringVar(&flagBaseURL, "base-url", "", "Backend base URL (overrides config and "+config.EnvBaseURL+")")
}

// reported marks an error that was already shown to the user.
type reported struct{ err error }

func (r reported) Error() string { return r.err.Error() }
func (r reported) Unwrap() error { return r.err }

// app is the per-invocation wiring shared by commands.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	closeLog func()

	km       *keychain.Manager
	session  *session.State
	notifier *session.Notifier
	admin    *backend.Admin
	auth     *auth.Service
	notified atomic.Bool
}

var current *app

// defaultLogFile selects auditctl.log in the XDG state dir.
const defaultLogFile = "auto"

func logFilePath() (string, error) {
	if flagLogFile != defaultLogFile {
		return flagLogFile, nil
	}
	dir, err := xdg.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "auditctl.log"), nil
}

// loadApp reads config and builds the logger. It does not touch the keychain.
func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagBaseURL != "" {
		if err := cfg.Set("base_url", flagBaseURL); err != nil {
			return nil, err
		}
	}
	level := cfg.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	if flagVerbose {
		level = "debug"
		pterm.EnableDebugMessages()
	}
	file, err := logFilePath()
	if err != nil {
		return nil, err
	}
	log, closeLog, err := logging.New(level, file, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ConfigInvalid, "cannot set up logging", err)
	}
	current = &app{cfg: cfg, log: log, closeLog: closeLog}
	return current, nil
}

// connectApp loads config and wires the keychain, session and backend client.
func connectApp() (*app, error) {
	a, err := loadApp()
	if err != nil {
		return nil, err
	}

	a.km, err = keychain.GetManager()
	if err != nil {
		a.log.Warn().Err(err).Msg("keychain unavailable; credentials will not persist")
		a.km = keychain.NewManagerWithRing(keyring.NewArrayKeyring(nil))
		keychain.SetManager(a.km)
	}

	a.session = session.NewState(session.WithStore(a.km), session.WithLogger(a.log))
	a.notifier = session.NewNotifier()
	a.notifier.Register(a.promptRelogin)

	client := backend.NewClient(a.cfg.BaseURL, a.session,
		backend.WithTimeout(a.cfg.RequestTimeout.Std()),
		backend.WithNotifier(a.notifier),
		backend.WithLogger(a.log),
		backend.WithUserAgent("auditctl-cli/"+Version),
	)
	a.admin = backend.NewAdmin(client, a.cfg.Endpoints)
	a.auth = auth.NewService(a.admin, a.km, a.log)
	a.auth.Restore()
	return a, nil
}

// promptRelogin is the session notifier: one re-login prompt per invalidation.
func (a *app) promptRelogin(msg string) {
	a.notified.Store(true)
	pterm.Warning.Println(msg)
	pterm.Println("  Run 'auditctl login' to sign in again.")
}

// fail shows err to the user and marks it reported. Session errors already
// announced by the notifier are not repeated.
func (a *app) fail(action string, err error) error {
	if err == nil {
		return nil
	}
	if !(apperrors.Is(err, apperrors.SessionExpired) && a.notified.Load()) {
		httperrors.Present(err, action, a.cfg.BaseURL)
	}
	a.log.Debug().Err(err).Str("action", action).Msg("command failed")
	return reported{err}
}

func (a *app) close() {
	if a.closeLog != nil {
		a.closeLog()
	}
}

// requireLogin fails early when no token was restored.
func (a *app) requireLogin() error {
	if a.session.Valid() {
		return nil
	}
	return a.fail("checking credentials", apperrors.New(apperrors.NotLoggedIn, fmt.Sprintf("no token found in the keychain or %s", config.EnvToken)))
}
