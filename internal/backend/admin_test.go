// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package backend

import (
	"context"
	"net/http"
	"testing"
	"time"

	"auditctl/cli/internal/config"
	apperrors "auditctl/cli/internal/errors"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdminFixture(t *testing.T, router *mux.Router) (*Admin, *fixture) {
	t.Helper()
	f := newFixture(t, router)
	return NewAdmin(f.client, config.Default().Endpoints), f
}

func TestAdmin_Me(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/me", statusHandler(http.StatusOK, `{"id":7,"email":"ana@example.com","role":"admin"}`)).Methods(http.MethodGet)
	a, _ := newAdminFixture(t, router)

	u, err := a.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ID("7"), u.ID)
	assert.Equal(t, "ana@example.com", u.Display())
	assert.Equal(t, "admin", u.Role)
}

func TestAdmin_MeWithToken(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer candidate" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":9,"email":"luis@example.com","role":"viewer"}`))
	}).Methods(http.MethodGet)
	a, f := newAdminFixture(t, router)

	u, err := a.MeWithToken(context.Background(), "candidate")
	require.NoError(t, err)
	assert.Equal(t, "luis@example.com", u.Display())

	_, err = a.MeWithToken(context.Background(), "wrong")
	assert.True(t, apperrors.Is(err, apperrors.SessionExpired))
	tok, ok := f.state.Token()
	assert.True(t, ok)
	assert.Equal(t, "tok-abc", tok)
}

func TestAdmin_ListAuditLogs(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/audit-logs", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "25", q.Get("page_size"))
		assert.Equal(t, "ana", q.Get("user"))
		assert.Equal(t, "2025-03-01", q.Get("from"))
		assert.Empty(t, q.Get("action"))
		statusHandler(http.StatusOK, `{
			"items":[{"id":"a1","timestamp":"2025-03-02T10:00:00Z","user":"ana","action":"login","resource":"session","detail":"ok"}],
			"page":2,"page_size":25,"total":51}`)(w, r)
	}).Methods(http.MethodGet)
	a, _ := newAdminFixture(t, router)

	page, err := a.ListAuditLogs(context.Background(), AuditFilter{
		Page:     2,
		PageSize: 25,
		User:     "ana",
		From:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "login", page.Items[0].Action)
	assert.Equal(t, 3, page.TotalPages())
}

func TestAdmin_ListAuditLogsBareArray(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/audit-logs", statusHandler(http.StatusOK, `[{"id":1,"action":"create"},{"id":2,"action":"delete"}]`))
	a, _ := newAdminFixture(t, router)

	page, err := a.ListAuditLogs(context.Background(), AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 1, page.TotalPages())
}

func TestAdmin_ListAuditLogsPermissionDenied(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/audit-logs", statusHandler(http.StatusForbidden, `{"detail":"Forbidden: insufficient role"}`))
	a, f := newAdminFixture(t, router)

	_, err := a.ListAuditLogs(context.Background(), AuditFilter{})
	assert.True(t, apperrors.Is(err, apperrors.PermissionDenied))
	assert.True(t, f.state.Valid())
}

func TestAdmin_Summary(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/audit-logs/summary", statusHandler(http.StatusOK, `{"total":9,"by_action":{"login":6,"delete":3},"by_user":{"ana":9}}`))
	a, _ := newAdminFixture(t, router)

	s, err := a.AuditSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, s.Total)
	assert.Equal(t, 6, s.ByAction["login"])
}

func TestAdmin_ImportEndpoints(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/persons/load-csv", statusHandler(http.StatusAccepted, `{"status":"started","message":"Import launched"}`)).Methods(http.MethodPost)
	router.HandleFunc("/api/persons/load-csv/status", statusHandler(http.StatusOK, `{"is_loading":true,"status":"loading","message":"working","progress":3,"total":10}`)).Methods(http.MethodGet)
	a, _ := newAdminFixture(t, router)

	start, err := a.StartPersonsImport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ImportStarted, start.Status)

	st, err := a.PersonsImportStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, st.IsLoading)
	assert.Equal(t, 3, st.Progress)
	assert.Equal(t, 10, st.Total)
}

func TestAdmin_MalformedStatus(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/persons/load-csv/status", statusHandler(http.StatusOK, `{"is_loading":"maybe"}`))
	a, _ := newAdminFixture(t, router)

	_, err := a.PersonsImportStatus(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.MalformedResponse))
}
