package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"examhall/internal/app/apiresp"
	"examhall/internal/i18n"
)

type contextKey string

const userContextKey contextKey = "auth_user"

const SessionCookieName = "examhall_session"

type authService interface {
	Register(ctx context.Context, in RegisterInput) (*User, error)
	Authenticate(ctx context.Context, email, password string) (*User, error)
	CreateSession(ctx context.Context, userID int64) (string, time.Time, error)
	GetSessionUser(ctx context.Context, token string) (*User, error)
	RevokeSession(ctx context.Context, token string) error
}

type Handler struct {
	svc authService
}

type registerRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse carries the token for API clients that cannot hold cookies.
type sessionResponse struct {
	User      *User     `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewHandler(svc authService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteErrorID(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}

	user, err := h.svc.Register(r.Context(), RegisterInput{
		FullName: req.FullName,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteErrorID(w, r, http.StatusBadRequest, "FieldsRequired")
		case errors.Is(err, ErrInvalidEmail):
			apiresp.WriteErrorID(w, r, http.StatusBadRequest, "InvalidEmail")
		case errors.Is(err, ErrPasswordTooShort):
			apiresp.WriteError(w, r, http.StatusBadRequest, i18n.Td(r.Context(), "PasswordTooShort", map[string]any{"Min": MinPasswordLength}))
		case errors.Is(err, ErrDuplicateEmail):
			apiresp.WriteErrorID(w, r, http.StatusConflict, "DuplicateEmail")
		default:
			slog.Error("register failed", "error", err)
			apiresp.WriteErrorID(w, r, http.StatusInternalServerError, "InternalError")
		}
		return
	}

	h.respondWithSession(w, r, http.StatusCreated, user)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteErrorID(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}

	user, err := h.svc.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			apiresp.WriteErrorID(w, r, http.StatusUnauthorized, "InvalidCredentials")
			return
		}
		slog.Error("login failed", "error", err)
		apiresp.WriteErrorID(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	h.respondWithSession(w, r, http.StatusOK, user)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RevokeSession(r.Context(), readSessionToken(r)); err != nil {
		slog.Warn("revoke session", "error", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})

	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErrorID(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, user)
}

func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.svc.GetSessionUser(r.Context(), readSessionToken(r))
		if err != nil {
			if !errors.Is(err, ErrUnauthorized) {
				slog.Error("session lookup failed", "error", err)
			}
			apiresp.WriteErrorID(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func (h *Handler) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				apiresp.WriteErrorID(w, r, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if _, exists := allowed[user.Role]; !exists {
				apiresp.WriteErrorID(w, r, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CurrentUser(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userContextKey).(*User)
	return u, ok && u != nil
}

// ContextWithUser injects an authenticated user into context.
// Useful for tests and internal handlers.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func (h *Handler) respondWithSession(w http.ResponseWriter, r *http.Request, status int, user *User) {
	token, expiresAt, err := h.svc.CreateSession(r.Context(), user.ID)
	if err != nil {
		slog.Error("create session failed", "user_id", user.ID, "error", err)
		apiresp.WriteErrorID(w, r, http.StatusInternalServerError, "InternalError")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	apiresp.WriteOK(w, r, status, sessionResponse{User: user, Token: token, ExpiresAt: expiresAt})
}

// readSessionToken prefers the bearer header over the cookie.
func readSessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
