// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package backend

import (
	"net/http"
	"strings"

	apperrors "auditctl/cli/internal/errors"
)

// Messages handed to the session notifier and attached to failed results.
const (
	MsgTokenInvalid     = "Your token is invalid or has expired. Please log in again."
	MsgSessionExpired   = "Your session has expired. Please log in again."
	MsgPermissionDenied = "You do not have permission to perform this action."
)

// tokenVocabulary marks a 403 body as a session problem rather than a role problem.
// Matching is case-insensitive on the raw body.
var tokenVocabulary = []string{
	"token",
	"expired",
	"invalid",
	"unauthorized",
	"unauthenticated",
	// Spanish equivalents used by the backend's localized messages.
	"expirado",
	"expirada",
	"inválido",
	"invalido",
	"inválida",
	"invalida",
	"no autorizado",
	"sesión",
	"sesion",
}

// classification is the outcome of inspecting one HTTP response.
type classification struct {
	ok      bool
	kind    apperrors.Kind
	message string
	session bool
}

// classify maps a status code and raw body onto the error taxonomy.
// 2xx and 3xx are success; 401 is always a session error; 403 is a session
// error only when the body speaks about tokens.
func classify(status int, body []byte) classification {
	switch {
	case status >= 200 && status < 400:
		return classification{ok: true}
	case status == http.StatusUnauthorized:
		return classification{kind: apperrors.SessionExpired, message: MsgTokenInvalid, session: true}
	case status == http.StatusForbidden:
		if mentionsToken(body) {
			return classification{kind: apperrors.SessionExpired, message: MsgSessionExpired, session: true}
		}
		return classification{kind: apperrors.PermissionDenied, message: MsgPermissionDenied}
	default:
		return classification{kind: apperrors.ServerError}
	}
}

func mentionsToken(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, word := range tokenVocabulary {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
