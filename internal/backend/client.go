// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package backend provides the session-guarded HTTP client used for every
// call to the audit/persons backend, and the typed admin API built on it.
//
// The client never returns a Go error: each call yields a Result tagged with
// an error Kind. After every response it checks for session errors (401, or
// 403 that mentions tokens). When it finds one it clears the shared session
// state once and tells the registered notifier.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "auditctl/cli/internal/errors"
	"auditctl/cli/internal/logging"
	"auditctl/cli/internal/session"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 8 << 20

// DefaultUserAgent is sent when no other agent is configured.
const DefaultUserAgent = "auditctl-cli/1.0"

// Client implements GET/POST/PATCH/DELETE calls against a base URL.
type Client struct {
	// baseURL is the base URL for all HTTP requests (e.g., "https://admin.example.com")
	baseURL string
	// http is the underlying HTTP client with configured timeout
	http *http.Client
	// session owns the bearer token and its validity
	session *session.State
	// notifier is told once per session invalidation
	notifier  *session.Notifier
	userAgent string
	log       zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// WithNotifier sets the notifier informed about session invalidation.
func WithNotifier(n *session.Notifier) ClientOption {
	return func(c *Client) { c.notifier = n }
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a client for baseURL sharing the given session state.
// A nil state gets a fresh, empty session.
func NewClient(baseURL string, state *session.State, opts ...ClientOption) *Client {
	if state == nil {
		state = session.NewState()
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 15 * time.Second},
		session:   state,
		userAgent: DefaultUserAgent,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the session state shared by this client.
func (c *Client) Session() *session.State { return c.session }

// RequestOption customizes a single call.
type RequestOption func(*request)

type request struct {
	body    any
	headers http.Header
	query   url.Values
}

// WithBody sets the request body. []byte and io.Reader are sent as-is;
// anything else is JSON-encoded.
func WithBody(v any) RequestOption {
	return func(r *request) { r.body = v }
}

// WithHeader overrides a header. An empty value removes it, including Authorization.
func WithHeader(key, value string) RequestOption {
	return func(r *request) { r.headers.Set(key, value) }
}

// WithQuery appends query parameters.
func WithQuery(q url.Values) RequestOption {
	return func(r *request) {
		for k, vs := range q {
			for _, v := range vs {
				r.query.Add(k, v)
			}
		}
	}
}

// Get issues a GET request. See Do.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) Result {
	return c.Do(ctx, http.MethodGet, path, opts...)
}

// Post issues a POST request. See Do.
func (c *Client) Post(ctx context.Context, path string, opts ...RequestOption) Result {
	return c.Do(ctx, http.MethodPost, path, opts...)
}

// Patch issues a PATCH request. See Do.
func (c *Client) Patch(ctx context.Context, path string, opts ...RequestOption) Result {
	return c.Do(ctx, http.MethodPatch, path, opts...)
}

// Delete issues a DELETE request. See Do.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) Result {
	return c.Do(ctx, http.MethodDelete, path, opts...)
}

// Do issues one request and classifies the response. It never panics past
// this boundary on network failures and never returns a nil-equivalent Result.
func (c *Client) Do(ctx context.Context, method, path string, opts ...RequestOption) Result {
	r := request{headers: http.Header{}, query: url.Values{}}
	for _, opt := range opts {
		opt(&r)
	}

	body, contentType, err := encodeBody(r.body)
	if err != nil {
		return Result{
			Payload: map[string]any{},
			Kind:    apperrors.MalformedResponse,
			Message: "cannot encode request body",
			Cause:   err,
		}
	}

	target := c.baseURL + path
	if len(r.query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.query.Encode()
	}

	requestID := uuid.NewString()
	logger := c.log.With().
		Str("method", method).
		Str("url", logging.Mask(target)).
		Str("request_id", requestID).
		Logger()

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		logger.Debug().Err(err).Msg("cannot build request")
		return connectionFailure(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	sent, ok := c.session.Token()
	if ok {
		req.Header.Set("Authorization", "Bearer "+sent)
	}
	for k, vs := range r.headers {
		if len(vs) == 0 || vs[0] == "" {
			req.Header.Del(k)
			continue
		}
		req.Header[k] = vs
	}
	if req.Header.Get("Authorization") != "Bearer "+sent {
		sent = ""
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Debug().Err(err).Dur("elapsed", time.Since(started)).Msg("backend unreachable")
		return connectionFailure(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		logger.Warn().Err(err).Int("status", resp.StatusCode).Msg("failed to read response body")
		raw = nil
	}

	payload, malformed := parsePayload(raw)
	cls := classify(resp.StatusCode, raw)
	res := Result{
		OK:        cls.ok,
		Status:    resp.StatusCode,
		Payload:   payload,
		Raw:       raw,
		Malformed: malformed,
	}
	if !cls.ok {
		res.Kind = cls.kind
		res.Message = cls.message
		if res.Message == "" {
			res.Message = serverMessage(payload, resp.StatusCode)
		}
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Bool("ok", res.OK).
		Str("kind", string(res.Kind)).
		Bool("malformed", malformed).
		Dur("elapsed", time.Since(started)).
		Msg("backend request")

	if cls.session && c.session.InvalidateIf(sent) {
		logger.Info().Int("status", resp.StatusCode).Msg("session invalidated by backend")
		c.notifier.Notify(cls.message)
	}
	return res
}

func connectionFailure(err error) Result {
	return Result{
		Payload: map[string]any{},
		Kind:    apperrors.ConnectionError,
		Message: "cannot reach the backend",
		Cause:   err,
	}
}

func encodeBody(v any) (io.Reader, string, error) {
	switch b := v.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), "application/json", nil
	case io.Reader:
		return b, "application/octet-stream", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}
