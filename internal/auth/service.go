// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package auth provides authentication services for auditctl.
// The bearer token is kept in the OS keychain and loaded into the shared
// session at startup. A small auth state record next to it is used to answer
// whoami while the backend is unreachable.
package auth

import (
	"context"
	"os"
	"strings"
	"time"

	"auditctl/cli/internal/backend"
	"auditctl/cli/internal/config"
	apperrors "auditctl/cli/internal/errors"
	"auditctl/cli/internal/keychain"

	"github.com/rs/zerolog"
)

// Source names where the session token came from.
type Source string

const (
	SourceNone     Source = ""
	SourceEnv      Source = "env"
	SourceKeychain Source = "keychain"
)

// Identity is the answer to whoami.
type Identity struct {
	User backend.User
	// Cached is true when the backend could not be reached and the
	// identity comes from the last successful login.
	Cached bool
}

// Service centralizes authentication-related operations against the backend
// and local secure storage.
type Service struct {
	admin *backend.Admin
	km    *keychain.Manager
	log   zerolog.Logger
	now   func() time.Time
}

// NewService constructs an auth Service.
func NewService(admin *backend.Admin, km *keychain.Manager, log zerolog.Logger) *Service {
	return &Service{admin: admin, km: km, log: log, now: time.Now}
}

// Restore installs a stored token into the session. The AUDITCTL_TOKEN
// environment variable takes precedence over the keychain.
func (s *Service) Restore() Source {
	sess := s.admin.Client().Session()
	if tok := strings.TrimSpace(os.Getenv(config.EnvToken)); tok != "" {
		sess.Set(tok)
		s.log.Debug().Str("source", string(SourceEnv)).Msg("session restored")
		return SourceEnv
	}
	tok, err := s.km.LoadToken()
	if err != nil {
		s.log.Debug().Err(err).Msg("no stored token")
		return SourceNone
	}
	sess.Set(tok)
	s.log.Debug().Str("source", string(SourceKeychain)).Msg("session restored")
	return SourceKeychain
}

// Login verifies token against the backend, then stores it.
// A token the backend rejects leaves the current login untouched.
func (s *Service) Login(ctx context.Context, token string) (backend.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return backend.User{}, apperrors.New(apperrors.ConfigInvalid, "token must not be empty")
	}

	u, err := s.admin.MeWithToken(ctx, token)
	if err != nil {
		return backend.User{}, err
	}
	s.admin.Client().Session().Set(token)

	if err := s.km.SaveToken(token); err != nil {
		return backend.User{}, apperrors.Wrap(apperrors.ConfigInvalid, "could not store the token in the OS keychain", err)
	}
	st := State{LoggedIn: true, Account: u.Display(), Role: u.Role, LoggedInAt: s.now().UTC()}
	if err := SaveState(s.km, st); err != nil {
		s.log.Warn().Err(err).Msg("failed to save auth state")
	}
	s.log.Info().Str("account", st.Account).Msg("logged in")
	return u, nil
}

// WhoAmI returns the account behind the current session.
func (s *Service) WhoAmI(ctx context.Context) (Identity, error) {
	if !s.admin.Client().Session().Valid() {
		return Identity{}, apperrors.New(apperrors.NotLoggedIn, "you are not logged in")
	}

	u, err := s.admin.Me(ctx)
	if err == nil {
		return Identity{User: u}, nil
	}
	if !apperrors.Is(err, apperrors.ConnectionError) {
		return Identity{}, err
	}

	// Offline: fall back to the last successful login.
	st, stErr := LoadState(s.km)
	if stErr != nil || !st.LoggedIn || st.Account == "" {
		return Identity{}, err
	}
	return Identity{User: backend.User{Email: st.Account, Role: st.Role}, Cached: true}, nil
}

// Logout clears the session and every stored credential.
func (s *Service) Logout() error {
	s.admin.Client().Session().Invalidate()
	if err := s.km.ClearAuth(); err != nil {
		return err
	}
	s.log.Info().Msg("logged out")
	return nil
}
