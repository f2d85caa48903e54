package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/dialq/internal/api/response"
	"github.com/kiranshivaraju/dialq/internal/store"
	"github.com/kiranshivaraju/dialq/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix marks a bearer token as an API key rather than a session.
	APIKeyPrefix = "dk_"
	keyPrefixLen = 8
)

// Identities is the part of the store authentication reads.
type Identities interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// Auth resolves the caller from a session token or an API key.
type Auth struct {
	store      Identities
	secret     []byte
	cookieName string
}

// NewAuth creates a new Auth middleware. Session tokens are HS256 JWTs
// signed with secret, read from the cookieName cookie or a Bearer header.
func NewAuth(s Identities, secret, cookieName string) *Auth {
	return &Auth{store: s, secret: []byte(secret), cookieName: cookieName}
}

// Authenticate sets the current user in the request context or responds
// 401.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" && a.cookieName != "" {
			if c, err := r.Cookie(a.cookieName); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Missing session or API key", nil)
			return
		}

		var (
			user    CurrentUser
			subject string
			err     error
		)
		if strings.HasPrefix(token, APIKeyPrefix) {
			user, subject, err = a.fromAPIKey(r.Context(), token)
		} else {
			user, subject, err = a.fromSession(r.Context(), token)
		}
		if errors.Is(err, errBadCredentials) {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Invalid session or API key", nil)
			return
		}
		if err != nil {
			slog.Error("authenticating request", "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate credentials", nil)
			return
		}

		annotateUser(r.Context(), user.ID)
		ctx := SetUser(r.Context(), user)
		ctx = SetSubject(ctx, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var errBadCredentials = errors.New("bad credentials")

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (a *Auth) fromSession(ctx context.Context, raw string) (CurrentUser, string, error) {
	if len(a.secret) == 0 {
		return CurrentUser{}, "", errBadCredentials
	}

	var claims sessionClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return CurrentUser{}, "", errBadCredentials
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return CurrentUser{}, "", errBadCredentials
	}

	u, err := a.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return CurrentUser{}, "", errBadCredentials
	}
	if err != nil {
		return CurrentUser{}, "", err
	}

	email := claims.Email
	if email == "" {
		email = u.Email
	}
	return CurrentUser{ID: u.ID, Email: email}, "user:" + u.ID.String(), nil
}

func (a *Auth) fromAPIKey(ctx context.Context, raw string) (CurrentUser, string, error) {
	if len(raw) < keyPrefixLen {
		return CurrentUser{}, "", errBadCredentials
	}
	prefix := raw[:keyPrefixLen]

	keys, err := a.store.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return CurrentUser{}, "", err
	}

	for _, key := range keys {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)) != nil {
			continue
		}
		u, err := a.store.GetUser(ctx, key.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return CurrentUser{}, "", errBadCredentials
		}
		if err != nil {
			return CurrentUser{}, "", err
		}

		// Update last_used_at async
		go a.store.UpdateAPIKeyLastUsed(context.Background(), key.ID)

		return CurrentUser{ID: u.ID, Email: u.Email}, "key:" + prefix, nil
	}
	return CurrentUser{}, "", errBadCredentials
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
