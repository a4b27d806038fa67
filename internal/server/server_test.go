package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Far3/financial-advisor-ai/internal/assistant"
	"github.com/Far3/financial-advisor-ai/internal/mailsync"
	"github.com/Far3/financial-advisor-ai/internal/memory"
	"github.com/Far3/financial-advisor-ai/internal/monitor"
	"github.com/Far3/financial-advisor-ai/internal/scheduler"
	"github.com/Far3/financial-advisor-ai/internal/task"
)

type fakeChat struct {
	gotMessage string
	gotHistory []task.Message
	err        error
}

func (f *fakeChat) Chat(_ context.Context, owner *task.Owner, message string, history []task.Message) (assistant.Reply, error) {
	f.gotMessage, f.gotHistory = message, history
	if f.err != nil {
		return assistant.Reply{}, f.err
	}
	return assistant.Reply{Response: "hello " + owner.Email, EmailsFound: 1}, nil
}

type fakeScan struct {
	calls int
}

func (f *fakeScan) RunScan(context.Context) (monitor.ScanResult, error) {
	f.calls++
	return monitor.ScanResult{ProcessedCount: 2, Owners: 1}, nil
}

type fakeSync struct {
	owners []string
	err    error
}

func (f *fakeSync) Sync(_ context.Context, owner *task.Owner) (mailsync.SyncResult, error) {
	f.owners = append(f.owners, owner.ID)
	if f.err != nil {
		return mailsync.SyncResult{}, f.err
	}
	return mailsync.SyncResult{Fetched: 3, Saved: 2, Skipped: 1}, nil
}

type fakeFailer struct {
	store *memory.SQLiteStore
}

func (f *fakeFailer) Fail(id, reason string) (*task.Task, error) {
	return f.store.UpdateTask(id, task.Update{
		Status:   task.StatusPtr(task.StatusFailed),
		Metadata: map[string]any{"error": reason},
	})
}

type fixture struct {
	store   *memory.SQLiteStore
	owner   *task.Owner
	chat    *fakeChat
	scan    *fakeScan
	gmail   *fakeSync
	hubspot *fakeSync
	srv     *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := memory.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	owner, err := store.CreateOwner(task.Owner{Email: "advisor@example.com", Google: task.Credential{AccessToken: "g"}})
	require.NoError(t, err)

	f := &fixture{
		store:   store,
		owner:   owner,
		chat:    &fakeChat{},
		scan:    &fakeScan{},
		gmail:   &fakeSync{},
		hubspot: &fakeSync{},
	}
	f.srv = New(0, Deps{
		Store:      store,
		Assistant:  f.chat,
		Monitor:    f.scan,
		Gmail:      f.gmail,
		HubSpot:    f.hubspot,
		Engine:     &fakeFailer{store: store},
		CronSecret: "s3cret",
		Origins:    []string{"http://localhost:3000"},
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) asOwner() map[string]string {
	return map[string]string{OwnerHeader: f.owner.ID}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Empty(t, health.Jobs)
}

type fakeJobs []scheduler.JobStatus

func (f fakeJobs) Snapshot() []scheduler.JobStatus { return f }

func TestHealth_ReportsJobs(t *testing.T) {
	f := newFixture(t)
	f.srv = New(0, Deps{Store: f.store, Jobs: fakeJobs{
		{Name: "contact-sync", Runs: 1},
		{Name: "reply-scan", Runs: 3, LastError: "gmail down"},
	}})

	rec := f.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	require.Len(t, health.Jobs, 2)
	assert.Equal(t, "reply-scan", health.Jobs[1].Name)
	assert.Equal(t, int64(3), health.Jobs[1].Runs)
	assert.Equal(t, "gmail down", health.Jobs[1].LastError)
}

func TestChat(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/chat",
		`{"message":"who emailed me?","history":[{"role":"user","content":"hi"}]}`, f.asOwner())

	require.Equal(t, http.StatusOK, rec.Code)
	reply := decode[assistant.Reply](t, rec)
	assert.Equal(t, "hello advisor@example.com", reply.Response)
	assert.Equal(t, 1, reply.EmailsFound)
	assert.Equal(t, "who emailed me?", f.chat.gotMessage)
	require.Len(t, f.chat.gotHistory, 1)
	assert.Equal(t, task.RoleUser, f.chat.gotHistory[0].Role)
}

func TestChat_OwnerFromCookie(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req.AddCookie(&http.Cookie{Name: OwnerCookie, Value: f.owner.ID})
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChat_Unauthenticated(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chat", `{"message":"hi"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chat", `{"message":"hi"}`, map[string]string{OwnerHeader: "nobody"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChat_Errors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chat", `{`, f.asOwner())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.chat.err = fmt.Errorf("%w: message is empty", task.ErrValidation)
	rec = f.do(t, http.MethodPost, "/api/chat", `{"message":""}`, f.asOwner())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, task.KindValidation, decode[ErrorResponse](t, rec).Kind)

	f.chat.err = fmt.Errorf("%w: model down", task.ErrExternalService)
	rec = f.do(t, http.MethodPost, "/api/chat", `{"message":"hi"}`, f.asOwner())
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMonitor(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/monitor", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 2, body["processed_count"])
}

func TestCron(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.CreateOwner(task.Owner{Email: "offline@example.com"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/cron", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/cron", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, f.scan.calls)

	rec = f.do(t, http.MethodGet, "/api/cron", "", map[string]string{"Authorization": "Bearer s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CronResponse](t, rec)
	assert.Equal(t, 1, resp.Synced)
	assert.Equal(t, 2, resp.Scan.ProcessedCount)
	assert.Equal(t, []string{f.owner.ID}, f.gmail.owners)
	assert.Equal(t, 1, f.scan.calls)
}

func TestCron_SyncFailureStillScans(t *testing.T) {
	f := newFixture(t)
	f.gmail.err = fmt.Errorf("%w: gmail 500", task.ErrExternalService)

	rec := f.do(t, http.MethodPost, "/api/cron", "", map[string]string{"Authorization": "Bearer s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CronResponse](t, rec)
	assert.Equal(t, 1, resp.SyncErrors)
	assert.Equal(t, 1, f.scan.calls)
}

func TestCron_DisabledWithoutSecret(t *testing.T) {
	f := newFixture(t)
	f.srv.cronSecret = ""
	rec := f.do(t, http.MethodGet, "/api/cron", "", map[string]string{"Authorization": "Bearer "})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSync(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/sync/gmail", "", f.asOwner())
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SyncResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Saved)

	f.hubspot.err = task.ErrNotConnected
	rec = f.do(t, http.MethodPost, "/api/sync/hubspot", "", f.asOwner())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "not connected")

	f.hubspot.err = fmt.Errorf("%w: token revoked", task.ErrAuthExpired)
	rec = f.do(t, http.MethodPost, "/api/sync/hubspot", "", f.asOwner())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "reconnect")
}

func TestTasks_ListGetFail(t *testing.T) {
	f := newFixture(t)
	other, err := f.store.CreateOwner(task.Owner{Email: "other@example.com"})
	require.NoError(t, err)

	mine, err := f.store.CreateTask(f.owner.ID, task.TypeScheduleMeeting, json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	theirs, err := f.store.CreateTask(other.ID, task.TypeScheduleMeeting, json.RawMessage(`{}`), nil)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/tasks", "", f.asOwner())
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]task.Task](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	rec = f.do(t, http.MethodGet, "/api/tasks?status=completed", "", f.asOwner())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/tasks?status=bogus", "", f.asOwner())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/tasks/"+mine.ID, "", f.asOwner())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mine.ID, decode[task.Task](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/api/tasks/"+theirs.ID, "", f.asOwner())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/tasks/missing", "", f.asOwner())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/tasks/"+mine.ID+"/fail", `{"reason":"client cancelled"}`, f.asOwner())
	require.Equal(t, http.StatusOK, rec.Code)
	failed := decode[task.Task](t, rec)
	assert.Equal(t, task.StatusFailed, failed.Status)
	assert.Equal(t, "client cancelled", failed.Metadata["error"])

	rec = f.do(t, http.MethodPost, "/api/tasks/"+theirs.ID+"/fail", "", f.asOwner())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodOptions, "/api/chat", "", map[string]string{"Origin": "http://localhost:3000"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), OwnerHeader)

	rec = f.do(t, http.MethodOptions, "/api/chat", "", map[string]string{"Origin": "http://evil.test"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/health", "", map[string]string{"Origin": "http://evil.test"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{task.ErrNotFound, http.StatusNotFound},
		{task.ErrInvalidTransition, http.StatusBadRequest},
		{task.ErrAuthExpired, http.StatusUnauthorized},
		{task.ErrTimeout, http.StatusBadGateway},
		{task.ErrStorage, http.StatusInternalServerError},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
