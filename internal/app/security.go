package app

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"examhall/internal/app/apiresp"
)

const (
	csrfCookieName = "examhall_csrf"
	csrfHeaderName = "X-CSRF-Token"
)

type window struct {
	hits int
	ends time.Time
}

// IPRateLimiter counts hits per key in fixed windows. Expired windows are
// dropped once the map grows past pruneAt entries.
type IPRateLimiter struct {
	mu      sync.Mutex
	limit   int
	length  time.Duration
	windows map[string]window
	pruneAt int
	now     func() time.Time
}

func NewIPRateLimiter(limit int, length time.Duration) *IPRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if length <= 0 {
		length = time.Minute
	}
	return &IPRateLimiter{
		limit:   limit,
		length:  length,
		windows: make(map[string]window),
		pruneAt: 4096,
		now:     time.Now,
	}
}

func (l *IPRateLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.windows) >= l.pruneAt {
		for k, w := range l.windows {
			if now.After(w.ends) {
				delete(l.windows, k)
			}
		}
	}

	w, ok := l.windows[key]
	if !ok || now.After(w.ends) {
		w = window{ends: now.Add(l.length)}
	}
	if w.hits >= l.limit {
		return false
	}
	w.hits++
	l.windows[key] = w
	return true
}

// RateLimitMiddleware keys on client address, method and path.
func RateLimitMiddleware(l *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r) + "|" + r.Method + "|" + r.URL.Path
			if !l.Allow(key) {
				slog.Warn("rate limit exceeded", "remote_ip", clientIP(r), "path", r.URL.Path)
				apiresp.WriteErrorID(w, r, http.StatusTooManyRequests, "RateLimited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP drops the port so a client keeps one bucket across connections.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// CSRFMiddleware compares the examhall_csrf cookie with the X-CSRF-Token
// header on unsafe methods. Requests authenticated by bearer token carry no
// ambient credentials and are let through.
func CSRFMiddleware(enforced bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enforced {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}

			c, err := r.Cookie(csrfCookieName)
			if err != nil || strings.TrimSpace(c.Value) == "" {
				apiresp.WriteErrorID(w, r, http.StatusForbidden, "CSRFMissing")
				return
			}
			token := strings.TrimSpace(r.Header.Get(csrfHeaderName))
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(c.Value)) != 1 {
				apiresp.WriteErrorID(w, r, http.StatusForbidden, "CSRFInvalid")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IssueCSRFToken sets a fresh examhall_csrf cookie and echoes the value so
// browser clients can copy it into the X-CSRF-Token header.
func IssueCSRFToken(w http.ResponseWriter, r *http.Request) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		slog.Error("generate csrf token", "error", err)
		apiresp.WriteErrorID(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"csrf_token": token})
}
