package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	userKey    contextKey = "user"
	subjectKey contextKey = "rate_limit_subject"
)

// CurrentUser is the authenticated caller.
type CurrentUser struct {
	ID    uuid.UUID
	Email string
}

func SetUser(ctx context.Context, u CurrentUser) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// GetUser returns the caller set by Auth.Authenticate.
func GetUser(r *http.Request) (CurrentUser, bool) {
	u, ok := r.Context().Value(userKey).(CurrentUser)
	return u, ok && u.ID != uuid.Nil
}

// GetUserID is GetUser for handlers that only need the id.
func GetUserID(r *http.Request) (uuid.UUID, bool) {
	u, ok := GetUser(r)
	return u.ID, ok
}

// SetSubject sets the key requests are rate limited under.
func SetSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

func getSubject(r *http.Request) (string, bool) {
	s, ok := r.Context().Value(subjectKey).(string)
	return s, ok && s != ""
}
