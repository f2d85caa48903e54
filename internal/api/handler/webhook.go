package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/dialq/internal/api/response"
	"github.com/kiranshivaraju/dialq/internal/queue"
	"github.com/kiranshivaraju/dialq/internal/webhook"
)

const maxWebhookBody = 64 << 10

// SignatureVerifier checks a signature header against the raw body.
type SignatureVerifier interface {
	Verify(header string, body []byte) error
}

// CompletionHandler applies a verified completion to its job.
type CompletionHandler interface {
	HandleCompletion(ctx context.Context, c queue.Completion) (queue.CompletionResult, error)
}

type webhookResponse struct {
	Result queue.CompletionResult `json:"result"`
}

// NewWebhookHandler returns an http.HandlerFunc for POST /queue/webhook.
// The body is verified before it is parsed; an unverified request never
// touches job state.
func NewWebhookHandler(v SignatureVerifier, completions CompletionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "Unreadable request body", nil)
			return
		}

		if err := v.Verify(webhook.Header(r), body); err != nil {
			slog.Warn("webhook signature rejected", "error", err, "remote_addr", r.RemoteAddr)
			response.Error(w, http.StatusUnauthorized, "SIGNATURE_INVALID", "Invalid webhook signature", nil)
			return
		}

		event, err := webhook.ParseEvent(body)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
			return
		}
		outcome, err := event.Result()
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
			return
		}

		result, err := completions.HandleCompletion(r.Context(), queue.Completion{
			ConversationID: event.ConversationID,
			Outcome:        outcome,
			Detail:         event.Detail(),
		})
		switch {
		case errors.Is(err, queue.ErrInvalidInput):
			response.Error(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
			return
		case err != nil:
			slog.Error("handling completion", "conversation_id", event.ConversationID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Raw(w, http.StatusOK, webhookResponse{Result: result})
	}
}
