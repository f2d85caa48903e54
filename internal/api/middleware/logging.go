package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const requestInfoKey contextKey = "request_info"

// requestInfo is filled in by inner middleware for the request log line.
type requestInfo struct {
	userID uuid.UUID
}

func annotateUser(ctx context.Context, id uuid.UUID) {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		info.userID = id
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		info := &requestInfo{}

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestInfoKey, info)))

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		if id := chimw.GetReqID(r.Context()); id != "" {
			attrs = append(attrs, "request_id", id)
		}
		if info.userID != uuid.Nil {
			attrs = append(attrs, "user_id", info.userID)
		}
		slog.Info("request", attrs...)
	})
}
