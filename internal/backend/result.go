// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "auditctl/cli/internal/errors"
)

// Result is the outcome of one backend call. It is built once per call and
// never mutated afterwards. Kind and Message are only set when OK is false.
type Result struct {
	OK     bool
	Status int
	// Payload is the decoded JSON body, or an empty object when the body was
	// empty or unparsable.
	Payload any
	// Raw is the undecoded body, kept so typed callers can Decode into structs.
	Raw []byte
	// Malformed reports that a non-empty body was not valid JSON.
	Malformed bool

	Kind    apperrors.Kind
	Message string
	// Cause is the transport error behind a ConnectionError.
	Cause error
}

// Object returns the payload as a JSON object, or an empty map for any other shape.
func (r Result) Object() map[string]any {
	if m, ok := r.Payload.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Err returns nil for a successful result and an *errors.E otherwise.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &apperrors.E{Kind: r.Kind, Message: r.Message, Status: r.Status, Err: r.Cause}
}

// Decode unmarshals the raw body into v. Failed results return their error;
// bodies that do not fit v return a MalformedResponse error.
func (r Result) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if r.Malformed || len(bytes.TrimSpace(r.Raw)) == 0 {
		return apperrors.New(apperrors.MalformedResponse, "backend returned an empty or non-JSON body").WithStatus(r.Status)
	}
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return apperrors.Wrap(apperrors.MalformedResponse, "unexpected response shape", err).WithStatus(r.Status)
	}
	return nil
}

// parsePayload decodes body leniently. An empty body is a valid empty object.
func parsePayload(body []byte) (payload any, malformed bool) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, false
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil || v == nil {
		return map[string]any{}, err != nil
	}
	return v, false
}

// serverMessage picks a human-readable reason from common error body fields.
func serverMessage(payload any, status int) string {
	if m, ok := payload.(map[string]any); ok {
		for _, key := range []string{"message", "detail", "error", "msg"} {
			if s, ok := m[key].(string); ok && s != "" {
				return s
			}
		}
	}
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("backend returned %d %s", status, text)
	}
	return fmt.Sprintf("backend returned status %d", status)
}
