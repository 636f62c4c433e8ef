// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package session holds the process-wide authentication state shared by every
// backend request, and the single-slot notifier that is told when that state
// is invalidated by a session error.
package session

import (
	"sync"

	"github.com/rs/zerolog"
)

// TokenStore persists the token outside the process. The keychain manager satisfies it.
type TokenStore interface {
	ClearToken() error
}

// State is the current bearer token plus its validity flag.
// A State is safe for concurrent use. Invalidation is compare-and-clear: only
// the first caller that observes a valid session clears it.
type State struct {
	mu    sync.Mutex
	token string
	valid bool

	store TokenStore
	log   zerolog.Logger
}

// Option configures a State.
type Option func(*State)

// WithStore makes Invalidate also remove the persisted token.
func WithStore(store TokenStore) Option {
	return func(s *State) { s.store = store }
}

// WithLogger sets the logger used for store failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *State) { s.log = l }
}

// NewState returns an empty, invalid session.
func NewState(opts ...Option) *State {
	s := &State{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set installs a token after login. An empty token leaves the session invalid.
func (s *State) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.valid = token != ""
}

// Token returns the current token and whether the session is valid.
// A cleared session never hands out its old token.
func (s *State) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return "", false
	}
	return s.token, true
}

// Valid reports whether a usable token is installed.
func (s *State) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// Invalidate clears the session. It returns true only for the call that moved
// the session from valid to invalid; every later call is a no-op returning false.
func (s *State) Invalidate() bool {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return false
	}
	return s.clearLocked()
}

// InvalidateIf clears the session only while token is still the installed one.
// A late rejection of a request sent with an older token leaves a newer
// session untouched and returns false.
func (s *State) InvalidateIf(token string) bool {
	s.mu.Lock()
	if !s.valid || token == "" || s.token != token {
		s.mu.Unlock()
		return false
	}
	return s.clearLocked()
}

// clearLocked is called with mu held and releases it.
func (s *State) clearLocked() bool {
	s.valid = false
	s.token = ""
	store := s.store
	s.mu.Unlock()

	if store != nil {
		if err := store.ClearToken(); err != nil {
			s.log.Warn().Err(err).Msg("failed to clear persisted token")
		}
	}
	s.log.Debug().Msg("session invalidated")
	return true
}
