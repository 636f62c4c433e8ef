// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package auth

import (
	"encoding/json"
	"time"

	"auditctl/cli/internal/keychain"
)

// State represents persisted authentication state for the current user.
// It lets whoami answer when the backend is unreachable.
type State struct {
	LoggedIn   bool      `json:"logged_in"`
	Account    string    `json:"account"`
	Role       string    `json:"role,omitempty"`
	LoggedInAt time.Time `json:"logged_in_at,omitempty"`
}

// LoadState reads the auth state from the keychain. Missing state yields zero value.
func LoadState(km *keychain.Manager) (State, error) {
	var s State
	data, err := km.LoadAuthState()
	if err != nil {
		return s, err
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, err
	}
	return s, nil
}

// SaveState writes the auth state to the keychain.
func SaveState(km *keychain.Manager, s State) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return km.SaveAuthState(b)
}
