package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/dialq/internal/api/middleware"
	"github.com/kiranshivaraju/dialq/internal/api/response"
	"github.com/kiranshivaraju/dialq/internal/queue"
	"github.com/kiranshivaraju/dialq/internal/store"
	"github.com/kiranshivaraju/dialq/pkg/models"
)

const maxEnqueueBody = 1 << 20

// Queue defines the runner operations the queue handlers depend on.
type Queue interface {
	Enqueue(ctx context.Context, ownerID uuid.UUID, leads []models.Lead) (*models.QueueJob, error)
	GetStatus(ctx context.Context, ownerID, jobID uuid.UUID) (*models.QueueJob, error)
	ListJobs(ctx context.Context, ownerID uuid.UUID, filter queue.ListFilter) ([]*models.QueueJob, int, error)
	Cancel(ctx context.Context, ownerID, jobID uuid.UUID) (*models.QueueJob, error)
}

type enqueueResponse struct {
	JobID uuid.UUID        `json:"job_id"`
	Job   *models.QueueJob `json:"job"`
}

// NewEnqueueHandler returns an http.HandlerFunc for POST /queue.
func NewEnqueueHandler(q Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to start a call queue", nil)
			return
		}

		var req struct {
			Leads []models.Lead `json:"leads"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnqueueBody)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid JSON body", nil)
			return
		}

		job, err := q.Enqueue(r.Context(), userID, req.Leads)
		if err != nil {
			writeQueueError(w, err)
			return
		}

		response.JSON(w, enqueueResponse{JobID: job.ID, Job: job})
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /queue.
func NewListJobsHandler(q Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to view call queues", nil)
			return
		}

		query := r.URL.Query()
		page, err := intParam(query.Get("page"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "page must be an integer", nil)
			return
		}
		limit, err := intParam(query.Get("limit"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be an integer", nil)
			return
		}
		page, limit = store.NormalizePage(page, limit)

		jobs, total, err := q.ListJobs(r.Context(), userID, queue.ListFilter{
			Status: models.JobStatus(query.Get("status")),
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			writeQueueError(w, err)
			return
		}
		if jobs == nil {
			jobs = []*models.QueueJob{}
		}

		response.Collection(w, jobs, response.Meta(page, limit, total))
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /queue/{job_id}.
func NewGetJobHandler(q Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to view call queues", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		job, err := q.GetStatus(r.Context(), userID, jobID)
		if err != nil {
			writeQueueError(w, err)
			return
		}

		response.JSON(w, job)
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for POST /queue/{job_id}/cancel.
func NewCancelJobHandler(q Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to cancel call queues", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		job, err := q.Cancel(r.Context(), userID, jobID)
		if err != nil {
			writeQueueError(w, err)
			return
		}

		response.JSON(w, job)
	}
}

// writeQueueError maps runner errors onto the error envelope. Invalid input
// messages are safe to echo; everything else gets a fixed message.
func writeQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
	case errors.Is(err, queue.ErrUnauthorized):
		response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to manage call queues", nil)
	case errors.Is(err, queue.ErrProviderNotConfigured):
		response.Error(w, http.StatusPreconditionFailed, "PROVIDER_NOT_CONFIGURED",
			"Complete voice agent setup before starting a call queue", nil)
	case errors.Is(err, queue.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
	case errors.Is(err, queue.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	default:
		slog.Error("queue request failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
