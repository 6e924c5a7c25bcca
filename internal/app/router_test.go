package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"examhall/internal/auth"
	internaldb "examhall/internal/db"
)

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *sql.DB) {
	t.Helper()
	conn, err := internaldb.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	cfg.BcryptCost = bcrypt.MinCost
	srv := httptest.NewServer(NewRouter(cfg, conn, slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(srv.Close)
	return srv, conn
}

type apiReply struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func call(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, apiReply) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var reply apiReply
	if resp.Header.Get("Content-Type") == "application/json" {
		_ = json.NewDecoder(resp.Body).Decode(&reply)
	}
	return resp.StatusCode, reply
}

func login(t *testing.T, srv *httptest.Server, email, password string) string {
	t.Helper()
	status, reply := call(t, srv, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": email, "password": password})
	if status != http.StatusOK {
		t.Fatalf("login %s: status %d", email, status)
	}
	var sess struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(reply.Data, &sess)
	return sess.Token
}

func TestRouterPublicAndProtectedRoutes(t *testing.T) {
	srv, _ := newTestServer(t, DefaultConfig())

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
	}{
		{name: "healthz", method: http.MethodGet, path: "/healthz", wantStatus: http.StatusOK},
		{name: "metrics", method: http.MethodGet, path: "/metrics", wantStatus: http.StatusOK},
		{name: "onboarding options", method: http.MethodGet, path: "/api/v1/onboarding/options", wantStatus: http.StatusOK},
		{name: "csrf token", method: http.MethodGet, path: "/api/v1/auth/csrf", wantStatus: http.StatusOK},
		{name: "me unauthorized", method: http.MethodGet, path: "/api/v1/auth/me", wantStatus: http.StatusUnauthorized},
		{name: "exams unauthorized", method: http.MethodGet, path: "/api/v1/exams", wantStatus: http.StatusUnauthorized},
		{name: "admin unauthorized", method: http.MethodGet, path: "/api/v1/admin/stats", wantStatus: http.StatusUnauthorized},
		{name: "login bad body", method: http.MethodPost, path: "/api/v1/auth/login", body: map[string]int{"nope": 1}, wantStatus: http.StatusBadRequest},
		{name: "login wrong password", method: http.MethodPost, path: "/api/v1/auth/login", body: map[string]string{"email": "x@y.io", "password": "secret1"}, wantStatus: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := call(t, srv, tc.method, tc.path, "", tc.body)
			if status != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, status)
			}
		})
	}
}

func TestRouterStudentCannotReachAdmin(t *testing.T) {
	srv, _ := newTestServer(t, DefaultConfig())
	status, reply := call(t, srv, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"full_name": "Mona", "email": "mona@example.com", "password": "secret1",
	})
	if status != http.StatusCreated {
		t.Fatalf("register: %d", status)
	}
	var sess struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(reply.Data, &sess)

	if status, _ := call(t, srv, http.MethodGet, "/api/v1/admin/stats", sess.Token, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
	if status, _ := call(t, srv, http.MethodGet, "/api/v1/student/attempts", sess.Token, nil); status != http.StatusOK {
		t.Fatalf("expected history 200, got %d", status)
	}
}

func TestRouterAdminPublishesAndStudentSubmits(t *testing.T) {
	srv, conn := newTestServer(t, DefaultConfig())
	ctx := context.Background()
	authSvc := auth.NewService(conn, auth.ServiceConfig{BcryptCost: bcrypt.MinCost})
	if _, err := authSvc.EnsureAdmin(ctx, "admin@example.com", "adminpass", "Admin"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	adminToken := login(t, srv, "admin@example.com", "adminpass")

	status, reply := call(t, srv, http.MethodPost, "/api/v1/admin/exams", adminToken, map[string]any{
		"title":           "Arithmetic",
		"durationMinutes": 5,
		"publish":         false,
		"questions": []map[string]any{
			{"text": "1+1", "options": []map[string]any{{"text": "2", "isCorrect": true}, {"text": "3"}}},
			{"text": "2+2", "options": []map[string]any{{"text": "5"}, {"text": "4", "isCorrect": true}}},
		},
	})
	if status != http.StatusCreated {
		t.Fatalf("create exam: %d %+v", status, reply.Error)
	}
	var created struct {
		ID int64 `json:"id"`
	}
	_ = json.Unmarshal(reply.Data, &created)
	examPath := "/api/v1/exams/" + jsonInt(created.ID)

	status, _ = call(t, srv, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"full_name": "Omar", "email": "omar@example.com", "password": "secret1",
	})
	if status != http.StatusCreated {
		t.Fatalf("register student: %d", status)
	}
	student := login(t, srv, "omar@example.com", "secret1")

	if status, _ := call(t, srv, http.MethodGet, examPath, student, nil); status != http.StatusNotFound {
		t.Fatalf("unpublished exam must be hidden, got %d", status)
	}
	if status, _ := call(t, srv, http.MethodPost, "/api/v1/admin/exams/"+jsonInt(created.ID)+"/publish", adminToken, map[string]bool{"isPublished": true}); status != http.StatusOK {
		t.Fatalf("publish: %d", status)
	}

	status, reply = call(t, srv, http.MethodGet, examPath, student, nil)
	if status != http.StatusOK {
		t.Fatalf("paper: %d", status)
	}
	if strings.Contains(string(reply.Data), "is_correct") || strings.Contains(string(reply.Data), "isCorrect") {
		t.Fatalf("paper leaks the answer key: %s", reply.Data)
	}
	var paper struct {
		Questions []struct {
			ID      int64 `json:"id"`
			Options []struct {
				ID int64 `json:"id"`
			} `json:"options"`
		} `json:"questions"`
	}
	_ = json.Unmarshal(reply.Data, &paper)

	answers := map[string]int64{
		jsonInt(paper.Questions[0].ID): paper.Questions[0].Options[0].ID,
		jsonInt(paper.Questions[1].ID): paper.Questions[1].Options[0].ID,
	}
	status, reply = call(t, srv, http.MethodPost, examPath+"/submit", student, map[string]any{"answers": answers})
	if status != http.StatusOK && status != http.StatusCreated {
		t.Fatalf("submit: %d %+v", status, reply.Error)
	}
	var sub struct {
		AttemptID  int64 `json:"attempt_id"`
		Score      int   `json:"score"`
		Total      int   `json:"total"`
		Percentage int   `json:"percentage"`
	}
	_ = json.Unmarshal(reply.Data, &sub)
	if sub.Score != 1 || sub.Total != 2 || sub.Percentage != 50 {
		t.Fatalf("unexpected submission: %+v", sub)
	}

	if status, _ := call(t, srv, http.MethodGet, "/api/v1/results/"+jsonInt(sub.AttemptID), adminToken, nil); status != http.StatusOK {
		t.Fatalf("admin result view: %d", status)
	}
	status, reply = call(t, srv, http.MethodGet, "/api/v1/admin/stats", adminToken, nil)
	if status != http.StatusOK || !strings.Contains(string(reply.Data), `"total_attempts":1`) {
		t.Fatalf("stats: %d %s", status, reply.Data)
	}
}

func TestRouterRateLimitsLogin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuthRateLimitPerMin = 2
	srv, _ := newTestServer(t, cfg)

	body := map[string]string{"email": "a@b.io", "password": "wrongpw"}
	for i := 0; i < 2; i++ {
		if status, _ := call(t, srv, http.MethodPost, "/api/v1/auth/login", "", body); status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, status)
		}
	}
	status, reply := call(t, srv, http.MethodPost, "/api/v1/auth/login", "", body)
	if status != http.StatusTooManyRequests || reply.Error == nil {
		t.Fatalf("expected 429 envelope, got %d", status)
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
