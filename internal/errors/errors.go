// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package errors defines typed errors with categories for user-friendly reporting.
// Every failure produced by the backend client carries a machine-readable Kind
// so callers can decide how to react (retry, re-login, show a permission hint)
// without inspecting error strings.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// ConnectionError indicates the backend could not be reached at all.
	ConnectionError Kind = "connection_error"
	// SessionExpired indicates the bearer token is invalid or expired.
	SessionExpired Kind = "session_expired"
	// PermissionDenied indicates the token is valid but lacks the required role.
	PermissionDenied Kind = "permission_denied"
	// ServerError covers every other unsuccessful HTTP status.
	ServerError Kind = "server_error"
	// MalformedResponse indicates a body that did not match the expected shape.
	MalformedResponse Kind = "malformed_response"
	// NotLoggedIn indicates no stored credentials were found.
	NotLoggedIn Kind = "not_logged_in"
	// ConfigInvalid indicates an unusable configuration value.
	ConfigInvalid Kind = "config_invalid"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	// Status is the HTTP status code when the error came from a response, 0 otherwise.
	Status int
	Err    error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// WithStatus returns a copy of e annotated with an HTTP status code.
func (e *E) WithStatus(status int) *E {
	c := *e
	c.Status = status
	return &c
}

// KindOf returns the Kind of the first *E in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *E
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the human-friendly message of err, falling back to err.Error().
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *E
	if stderrors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
