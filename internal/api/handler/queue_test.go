package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/dialq/internal/api/middleware"
	"github.com/kiranshivaraju/dialq/internal/queue"
	"github.com/kiranshivaraju/dialq/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock Queue ---

type mockQueue struct {
	enqueue func(ownerID uuid.UUID, leads []models.Lead) (*models.QueueJob, error)
	jobs    map[uuid.UUID]*models.QueueJob
	listErr error
	cancel  func(ownerID, jobID uuid.UUID) (*models.QueueJob, error)

	lastFilter queue.ListFilter
}

func newMockQueue() *mockQueue {
	return &mockQueue{jobs: map[uuid.UUID]*models.QueueJob{}}
}

func (m *mockQueue) Enqueue(_ context.Context, ownerID uuid.UUID, leads []models.Lead) (*models.QueueJob, error) {
	return m.enqueue(ownerID, leads)
}

func (m *mockQueue) GetStatus(_ context.Context, ownerID, jobID uuid.UUID) (*models.QueueJob, error) {
	job, ok := m.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return nil, queue.ErrNotFound
	}
	return job, nil
}

func (m *mockQueue) ListJobs(_ context.Context, ownerID uuid.UUID, filter queue.ListFilter) ([]*models.QueueJob, int, error) {
	m.lastFilter = filter
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var out []*models.QueueJob
	for _, j := range m.jobs {
		if j.OwnerID == ownerID {
			out = append(out, j)
		}
	}
	return out, len(out), nil
}

func (m *mockQueue) Cancel(_ context.Context, ownerID, jobID uuid.UUID) (*models.QueueJob, error) {
	return m.cancel(ownerID, jobID)
}

// --- helpers ---

func queueRouter(q Queue) http.Handler {
	r := chi.NewRouter()
	r.Post("/queue", NewEnqueueHandler(q))
	r.Get("/queue", NewListJobsHandler(q))
	r.Get("/queue/{job_id}", NewGetJobHandler(q))
	r.Post("/queue/{job_id}/cancel", NewCancelJobHandler(q))
	return r
}

func asUser(r *http.Request, id uuid.UUID) *http.Request {
	return r.WithContext(mw.SetUser(r.Context(), mw.CurrentUser{ID: id, Email: "agent@example.com"}))
}

func do(t *testing.T, h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := decode(t, rec)["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return errObj["code"].(string)
}

func runningJob(owner uuid.UUID) *models.QueueJob {
	return &models.QueueJob{
		ID:                    uuid.New(),
		OwnerID:               owner,
		Status:                models.JobStatusRunning,
		Leads:                 []models.Lead{{FirstName: "Ana", Phone: "+15551230001"}},
		TotalLeads:            1,
		Initiated:             1,
		CurrentConversationID: "conv-1",
		Results:               []models.LeadResult{},
	}
}

// ========================================
// POST /queue
// ========================================

func TestEnqueue_Success(t *testing.T) {
	owner := uuid.New()
	q := newMockQueue()
	var gotOwner uuid.UUID
	var gotLeads []models.Lead
	q.enqueue = func(ownerID uuid.UUID, leads []models.Lead) (*models.QueueJob, error) {
		gotOwner, gotLeads = ownerID, leads
		return runningJob(ownerID), nil
	}

	req := httptest.NewRequest(http.MethodPost, "/queue", jsonBody(t, map[string]any{
		"leads": []map[string]string{{"first_name": "Ana", "last_name": "Lima", "phone": "+1 555 123 0001"}},
	}))
	rec := do(t, queueRouter(q), asUser(req, owner))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)
	job := data["job"].(map[string]any)
	assert.Equal(t, job["id"], data["job_id"])
	assert.Equal(t, "running", job["status"])
	assert.Equal(t, "conv-1", job["current_conversation_id"])

	assert.Equal(t, owner, gotOwner)
	require.Len(t, gotLeads, 1)
	assert.Equal(t, "Lima", gotLeads[0].LastName)
}

func TestEnqueue_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid input", fmt.Errorf("%w: at least one lead is required", queue.ErrInvalidInput), http.StatusBadRequest, "INVALID_INPUT"},
		{"provider not configured", queue.ErrProviderNotConfigured, http.StatusPreconditionFailed, "PROVIDER_NOT_CONFIGURED"},
		{"unauthorized", queue.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"store down", errors.New("creating job: connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newMockQueue()
			q.enqueue = func(uuid.UUID, []models.Lead) (*models.QueueJob, error) { return nil, tt.err }

			req := httptest.NewRequest(http.MethodPost, "/queue", jsonBody(t, map[string]any{"leads": []any{}}))
			rec := do(t, queueRouter(q), asUser(req, uuid.New()))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestEnqueue_EchoesValidationMessage(t *testing.T) {
	q := newMockQueue()
	q.enqueue = func(uuid.UUID, []models.Lead) (*models.QueueJob, error) {
		return nil, fmt.Errorf("%w: lead 2: phone is required", queue.ErrInvalidInput)
	}

	req := httptest.NewRequest(http.MethodPost, "/queue", jsonBody(t, map[string]any{"leads": []any{}}))
	rec := do(t, queueRouter(q), asUser(req, uuid.New()))

	errObj := decode(t, rec)["error"].(map[string]any)
	assert.Contains(t, errObj["message"], "lead 2: phone is required")
}

func TestEnqueue_InvalidJSON(t *testing.T) {
	q := newMockQueue()
	req := httptest.NewRequest(http.MethodPost, "/queue", bytes.NewReader([]byte("{not json")))
	rec := do(t, queueRouter(q), asUser(req, uuid.New()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
}

func TestEnqueue_NoUser(t *testing.T) {
	q := newMockQueue()
	req := httptest.NewRequest(http.MethodPost, "/queue", jsonBody(t, map[string]any{"leads": []any{}}))
	rec := do(t, queueRouter(q), req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

// ========================================
// GET /queue/{job_id}
// ========================================

func TestGetJob_Owner(t *testing.T) {
	owner := uuid.New()
	q := newMockQueue()
	job := runningJob(owner)
	q.jobs[job.ID] = job

	req := httptest.NewRequest(http.MethodGet, "/queue/"+job.ID.String(), nil)
	rec := do(t, queueRouter(q), asUser(req, owner))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, job.ID.String(), data["id"])
	assert.Equal(t, float64(1), data["total_leads"])
	assert.Equal(t, float64(1), data["initiated"])
}

func TestGetJob_MissingAndForeignLookAlike(t *testing.T) {
	owner := uuid.New()
	q := newMockQueue()
	foreign := runningJob(uuid.New())
	q.jobs[foreign.ID] = foreign

	h := queueRouter(q)
	missing := do(t, h, asUser(httptest.NewRequest(http.MethodGet, "/queue/"+uuid.NewString(), nil), owner))
	other := do(t, h, asUser(httptest.NewRequest(http.MethodGet, "/queue/"+foreign.ID.String(), nil), owner))
	malformed := do(t, h, asUser(httptest.NewRequest(http.MethodGet, "/queue/not-a-uuid", nil), owner))

	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, missing.Code, other.Code)
	assert.Equal(t, missing.Code, malformed.Code)
	assert.JSONEq(t, missing.Body.String(), other.Body.String())
	assert.JSONEq(t, missing.Body.String(), malformed.Body.String())
}

// ========================================
// GET /queue
// ========================================

func TestListJobs_Pagination(t *testing.T) {
	owner := uuid.New()
	q := newMockQueue()
	for i := 0; i < 3; i++ {
		j := runningJob(owner)
		q.jobs[j.ID] = j
	}
	other := runningJob(uuid.New())
	q.jobs[other.ID] = other

	req := httptest.NewRequest(http.MethodGet, "/queue?page=1&limit=2&status=running", nil)
	rec := do(t, queueRouter(q), asUser(req, owner))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["data"].([]any), 3)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(1), meta["page"])
	assert.Equal(t, float64(2), meta["limit"])
	assert.Equal(t, float64(3), meta["total"])
	assert.Equal(t, true, meta["has_next"])
	assert.Equal(t, models.JobStatusRunning, q.lastFilter.Status)
}

func TestListJobs_EmptyIsArray(t *testing.T) {
	q := newMockQueue()
	rec := do(t, queueRouter(q), asUser(httptest.NewRequest(http.MethodGet, "/queue", nil), uuid.New()))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["data"])
	assert.Equal(t, 1, q.lastFilter.Page)
	assert.Equal(t, 20, q.lastFilter.Limit)
}

func TestListJobs_BadParams(t *testing.T) {
	q := newMockQueue()
	h := queueRouter(q)

	rec := do(t, h, asUser(httptest.NewRequest(http.MethodGet, "/queue?page=abc", nil), uuid.New()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	q.listErr = fmt.Errorf("%w: unknown status %q", queue.ErrInvalidInput, "paused")
	rec = do(t, h, asUser(httptest.NewRequest(http.MethodGet, "/queue?status=paused", nil), uuid.New()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
}

// ========================================
// POST /queue/{job_id}/cancel
// ========================================

func TestCancelJob(t *testing.T) {
	owner := uuid.New()
	jobID := uuid.New()

	tests := []struct {
		name   string
		result func(ownerID, id uuid.UUID) (*models.QueueJob, error)
		status int
		code   string
	}{
		{
			name: "cancelled",
			result: func(ownerID, id uuid.UUID) (*models.QueueJob, error) {
				return &models.QueueJob{ID: id, OwnerID: ownerID, Status: models.JobStatusCancelled, Abandoned: 2}, nil
			},
			status: http.StatusOK,
		},
		{
			name: "already terminal",
			result: func(uuid.UUID, uuid.UUID) (*models.QueueJob, error) {
				return nil, fmt.Errorf("%w: job is already completed", queue.ErrInvalidTransition)
			},
			status: http.StatusConflict,
			code:   "INVALID_TRANSITION",
		},
		{
			name:   "not found",
			result: func(uuid.UUID, uuid.UUID) (*models.QueueJob, error) { return nil, queue.ErrNotFound },
			status: http.StatusNotFound,
			code:   "NOT_FOUND",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newMockQueue()
			q.cancel = tt.result

			req := httptest.NewRequest(http.MethodPost, "/queue/"+jobID.String()+"/cancel", nil)
			rec := do(t, queueRouter(q), asUser(req, owner))

			assert.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, rec))
				return
			}
			data := decode(t, rec)["data"].(map[string]any)
			assert.Equal(t, "cancelled", data["status"])
			assert.Equal(t, float64(2), data["abandoned"])
		})
	}
}
