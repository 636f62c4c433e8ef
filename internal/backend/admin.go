// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"auditctl/cli/internal/config"
)

// Server-declared statuses of the persons CSV import.
const (
	ImportStarted   = "started"
	ImportLoading   = "loading"
	ImportSkipped   = "skipped"
	ImportCompleted = "completed"
	ImportFailed    = "failed"
)

// ID accepts both JSON strings and numbers, since backends disagree on key types.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// User is the account behind the current token.
type User struct {
	ID       ID     `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Display returns the most readable identifier available.
func (u User) Display() string {
	switch {
	case u.Email != "":
		return u.Email
	case u.Username != "":
		return u.Username
	case u.ID != "":
		return string(u.ID)
	}
	return "user"
}

// AuditLog is one audit trail entry.
type AuditLog struct {
	ID        ID        `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Detail    string    `json:"detail"`
}

// AuditLogPage is one page of audit logs.
type AuditLogPage struct {
	Items    []AuditLog `json:"items"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int        `json:"total"`
}

// TotalPages returns the number of pages implied by Total and PageSize.
func (p AuditLogPage) TotalPages() int {
	if p.PageSize <= 0 || p.Total <= 0 {
		return 1
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}

// AuditFilter narrows an audit log listing. Zero values are omitted.
type AuditFilter struct {
	Page     int
	PageSize int
	User     string
	Action   string
	From     time.Time
	To       time.Time
}

// Query encodes the filter as URL parameters.
func (f AuditFilter) Query() url.Values {
	q := url.Values{}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(f.PageSize))
	}
	if f.User != "" {
		q.Set("user", f.User)
	}
	if f.Action != "" {
		q.Set("action", f.Action)
	}
	if !f.From.IsZero() {
		q.Set("from", f.From.Format("2006-01-02"))
	}
	if !f.To.IsZero() {
		q.Set("to", f.To.Format("2006-01-02"))
	}
	return q
}

// AuditSummary is the aggregate shown by the summary widget.
type AuditSummary struct {
	Total    int            `json:"total"`
	ByAction map[string]int `json:"by_action"`
	ByUser   map[string]int `json:"by_user"`
}

// ImportStart is the start endpoint reply.
type ImportStart struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ImportStatus is the status endpoint reply.
type ImportStatus struct {
	IsLoading bool   `json:"is_loading"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Progress  int    `json:"progress"`
	Total     int    `json:"total"`
}

// Admin exposes the typed admin endpoints on top of a guarded Client.
type Admin struct {
	c  *Client
	ep config.Endpoints
}

// NewAdmin binds endpoint paths to a client.
func NewAdmin(c *Client, ep config.Endpoints) *Admin {
	return &Admin{c: c, ep: ep}
}

// Client returns the underlying guarded client.
func (a *Admin) Client() *Client { return a.c }

// Me calls GET me and returns the account behind the current token.
func (a *Admin) Me(ctx context.Context) (User, error) {
	var u User
	err := a.c.Get(ctx, a.ep.Me).Decode(&u)
	return u, err
}

// MeWithToken calls GET me with token instead of the session token. A
// rejection does not invalidate the session, so a candidate token can be
// checked without losing the current login.
func (a *Admin) MeWithToken(ctx context.Context, token string) (User, error) {
	var u User
	err := a.c.Get(ctx, a.ep.Me, WithHeader("Authorization", "Bearer "+token)).Decode(&u)
	return u, err
}

// ListAuditLogs calls GET audit_logs with the filter's query.
// A bare JSON array is accepted as a single unpaginated page.
func (a *Admin) ListAuditLogs(ctx context.Context, f AuditFilter) (AuditLogPage, error) {
	res := a.c.Get(ctx, a.ep.AuditLogs, WithQuery(f.Query()))
	var page AuditLogPage
	if err := res.Err(); err != nil {
		return page, err
	}
	if bytes.HasPrefix(bytes.TrimSpace(res.Raw), []byte("[")) {
		if err := res.Decode(&page.Items); err != nil {
			return page, err
		}
		page.Page, page.PageSize, page.Total = 1, len(page.Items), len(page.Items)
		return page, nil
	}
	if err := res.Decode(&page); err != nil {
		return page, err
	}
	if page.Page == 0 {
		page.Page = max(f.Page, 1)
	}
	return page, nil
}

// AuditSummary calls GET audit_summary.
func (a *Admin) AuditSummary(ctx context.Context) (AuditSummary, error) {
	var s AuditSummary
	err := a.c.Get(ctx, a.ep.AuditSummary).Decode(&s)
	return s, err
}

// StartPersonsImport calls POST import_start to launch the CSV import job.
func (a *Admin) StartPersonsImport(ctx context.Context) (ImportStart, error) {
	var s ImportStart
	err := a.c.Post(ctx, a.ep.ImportStart).Decode(&s)
	return s, err
}

// PersonsImportStatus calls GET import_status.
func (a *Admin) PersonsImportStatus(ctx context.Context) (ImportStatus, error) {
	var s ImportStatus
	err := a.c.Get(ctx, a.ep.ImportStatus).Decode(&s)
	return s, err
}
