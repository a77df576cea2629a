package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpulse/leadpulse/internal/engine"
	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/orchestrator"
	"github.com/leadpulse/leadpulse/internal/scheduler"
	"github.com/leadpulse/leadpulse/internal/sms"
	"github.com/leadpulse/leadpulse/internal/store"
	"github.com/leadpulse/leadpulse/internal/webhook"
)

type stubGenerator struct {
	reply string
	err   error
}

func (g *stubGenerator) GenerateReply(ctx context.Context, tr *engine.Transcript) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *stubGenerator) BookingLink() string {
	return "https://calendly.com/example/sales-call"
}

type testEnv struct {
	server  *Server
	store   *store.InMemoryStore
	sender  *sms.MockSender
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithGenerator(t, &stubGenerator{reply: "Thanks for getting back to us!"})
}

func newTestEnvWithGenerator(t *testing.T, gen orchestrator.Generator) *testEnv {
	t.Helper()
	st := store.NewInMemoryStore()
	sender := sms.NewMockSender()
	orch := orchestrator.New(st, gen, sender, engine.DefaultConfig())
	reconciler := webhook.NewReconciler(orch, st)
	sched := scheduler.New(st, orch, 72*time.Hour)
	t.Cleanup(sched.Stop)
	server := NewServer(st, orch, reconciler, sched)
	return &testEnv{server: server, store: st, sender: sender, handler: server.Routes()}
}

func (e *testEnv) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRootEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, string(models.APIStatusOK), resp.Status)
}

func TestCreateLead(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/leads", `{"name":"Jordan Fields","phone_number":"+1 (555) 000-1234","email":"jordan@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	lead, err := env.store.FindLeadByPhone(context.Background(), "+15550001234")
	require.NoError(t, err)
	assert.Equal(t, "Jordan Fields", lead.Name)
}

func TestCreateLeadValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/leads", `{"name":"","phone_number":"+15550001234"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/leads", `{"name":"Jordan","phone_number":"12"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/leads", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateLeadDuplicatePhone(t *testing.T) {
	env := newTestEnv(t)

	body := `{"name":"Jordan Fields","phone_number":"+15550001234"}`
	rec := env.do(t, http.MethodPost, "/leads", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/leads", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetAndUpdateLead(t *testing.T) {
	env := newTestEnv(t)
	lead := &models.Lead{Name: "Jordan Fields", PhoneNumber: "+15550001234"}
	require.NoError(t, env.store.CreateLead(context.Background(), lead))

	rec := env.do(t, http.MethodGet, "/leads/"+lead.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/leads/missing-id", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/leads/"+lead.ID, `{"email":"new@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated, err := env.store.FindLeadByID(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", updated.Email)
	assert.Equal(t, "+15550001234", updated.PhoneNumber)
}

func TestListLeads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.CreateLead(ctx, &models.Lead{Name: "A", PhoneNumber: "+15550000001"}))
	require.NoError(t, env.store.CreateLead(ctx, &models.Lead{Name: "B", PhoneNumber: "+15550000002"}))

	rec := env.do(t, http.MethodGet, "/leads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 2, result["total"])

	rec = env.do(t, http.MethodGet, "/leads?state=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchedulerEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/scheduler/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/scheduler/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestImportAndExportLeads(t *testing.T) {
	env := newTestEnv(t)

	csvBody := "name,phone_number,email\nJordan Fields,+15550001234,jordan@example.com\nSam Okafor,+15550005678,\n"
	rec := env.do(t, http.MethodPost, "/import-leads", csvBody)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/export-leads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "+15550001234")
	assert.Contains(t, rec.Body.String(), "Sam Okafor")
}

func TestImportLeadsMultipart(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "leads.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("name,phone_number\nJordan Fields,+15550001234\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/import-leads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = env.store.FindLeadByPhone(context.Background(), "+15550001234")
	assert.NoError(t, err)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
