package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	apperrors "forwardbot/internal/errors"
	"forwardbot/internal/metrics"
	"forwardbot/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "admin-secret"

type fakeAccounts struct {
	mu         sync.Mutex
	registered []*models.Account
	removed    []int64
	contacts   map[int64][]models.AllowListEntry
	removedCt  [][2]int64
	err        error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{contacts: make(map[int64][]models.AllowListEntry)}
}

func (f *fakeAccounts) RegisterAccount(_ context.Context, account *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if account.SourceToken == "" {
		return apperrors.NewValidationError("source_token", "source_token is required")
	}
	f.registered = append(f.registered, account)
	return nil
}

func (f *fakeAccounts) RemoveAccount(_ context.Context, accountID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, accountID)
	return f.err
}

func (f *fakeAccounts) Contacts(_ context.Context, accountID int64) ([]models.AllowListEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contacts[accountID], f.err
}

func (f *fakeAccounts) AddContact(_ context.Context, entry *models.AllowListEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.AccountID == 404 {
		return apperrors.NewNotFoundError("account", "404")
	}
	f.contacts[entry.AccountID] = append(f.contacts[entry.AccountID], *entry)
	return f.err
}

func (f *fakeAccounts) RemoveContact(_ context.Context, accountID, contactID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedCt = append(f.removedCt, [2]int64{accountID, contactID})
	return f.err
}

type fakeScheduler struct {
	mu        sync.Mutex
	refreshes int
	active    []int64
}

func (f *fakeScheduler) Refresh() {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
}

func (f *fakeScheduler) ActiveAccounts() []int64 {
	return f.active
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testServer struct {
	*Server
	accounts  *fakeAccounts
	scheduler *fakeScheduler
}

func newTestServer(t *testing.T, db Pinger) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	accounts := newFakeAccounts()
	scheduler := &fakeScheduler{active: []int64{1, 2}}
	alerts := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	cfg := models.ServerConfig{Port: 0, AdminToken: testAdminToken}

	s := NewServer(cfg, accounts, scheduler, db, alerts, metrics.NewRegistry(), logger)
	return &testServer{Server: s, accounts: accounts, scheduler: scheduler}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestServer_RequiresAdminToken(t *testing.T) {
	ts := newTestServer(t, fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ts := newTestServer(t, fakePinger{})
		rec := ts.do(t, http.MethodGet, "/health", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var resp healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, 2, resp.Workers)
	})

	t.Run("database down", func(t *testing.T) {
		ts := newTestServer(t, fakePinger{err: errors.New("disk I/O error")})
		rec := ts.do(t, http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "unreachable")
	})
}

func TestServer_RegisterAccount(t *testing.T) {
	ts := newTestServer(t, fakePinger{})

	rec := ts.do(t, http.MethodPost, "/api/accounts",
		`{"account_id": 42, "source_user_id": 1001, "source_token": "vk-token", "max_exception_count": 3}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, ts.accounts.registered, 1)
	got := ts.accounts.registered[0]
	assert.Equal(t, int64(42), got.AccountID)
	assert.Equal(t, int64(1001), got.SourceUserID)
	assert.Equal(t, "vk-token", got.SourceToken)
	assert.Equal(t, 3, got.MaxExceptionCount)
	assert.Equal(t, 1, ts.scheduler.refreshes)
	assert.NotContains(t, rec.Body.String(), "vk-token")
}

func TestServer_RegisterAccountErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "malformed json", body: `{"account_id":`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"account_id": 1, "token": "x"}`, want: http.StatusBadRequest},
		{name: "validation failure", body: `{"account_id": 1, "source_user_id": 2}`, want: http.StatusBadRequest},
		{name: "storage failure", body: `{"account_id": 1, "source_user_id": 2, "source_token": "t"}`,
			err: apperrors.NewDatabaseError("save account", errors.New("locked")), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, fakePinger{})
			ts.accounts.err = tt.err

			rec := ts.do(t, http.MethodPost, "/api/accounts", tt.body)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, 0, ts.scheduler.refreshes)
			assert.NotContains(t, rec.Body.String(), "locked")
		})
	}
}

func TestServer_RemoveAccount(t *testing.T) {
	ts := newTestServer(t, fakePinger{})

	rec := ts.do(t, http.MethodDelete, "/api/accounts/42", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []int64{42}, ts.accounts.removed)
	assert.Equal(t, 1, ts.scheduler.refreshes)
}

func TestServer_RejectsNonNumericIDs(t *testing.T) {
	ts := newTestServer(t, fakePinger{})

	rec := ts.do(t, http.MethodDelete, "/api/accounts/abc", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, ts.accounts.removed)
}

func TestServer_Contacts(t *testing.T) {
	ts := newTestServer(t, fakePinger{})

	rec := ts.do(t, http.MethodGet, "/api/accounts/42/contacts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/accounts/42/contacts", `{"contact_id": 7, "display_name": "Alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/accounts/42/contacts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.AllowListEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].SourceContactID)
	assert.Equal(t, "Alice", entries[0].DisplayName)

	rec = ts.do(t, http.MethodDelete, "/api/accounts/42/contacts/7", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, [][2]int64{{42, 7}}, ts.accounts.removedCt)
}

func TestServer_AddContactUnknownAccount(t *testing.T) {
	ts := newTestServer(t, fakePinger{})

	rec := ts.do(t, http.MethodPost, "/api/accounts/404/contacts", `{"contact_id": 7}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), string(apperrors.ErrCodeNotFound))
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, fakePinger{})
	ts.do(t, http.MethodGet, "/health", "")

	rec := ts.do(t, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_AlertStreamRoute(t *testing.T) {
	ts := newTestServer(t, fakePinger{})

	rec := ts.do(t, http.MethodGet, "/ws/alerts", "")

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	ts := newTestServer(t, fakePinger{})
	assert.NoError(t, ts.Shutdown(context.Background()))
}
