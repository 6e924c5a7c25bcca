package apiresp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body=%s)", err, rr.Body.String())
	}
	return env
}

func TestWriteOK(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteOK(rr, req, http.StatusCreated, map[string]int{"id": 4})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if !env.OK || env.Error != nil {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestWriteErrorCodes(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusBadRequest, "invalid_request"},
		{http.StatusUnauthorized, "unauthorized"},
		{http.StatusNotFound, "not_found"},
		{http.StatusConflict, "conflict"},
		{http.StatusTooManyRequests, "rate_limited"},
		{http.StatusTeapot, "error"},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			rr := httptest.NewRecorder()
			WriteError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tc.status, "")
			env := decodeEnvelope(t, rr)
			if env.OK || env.Error == nil {
				t.Fatalf("expected error envelope, got %+v", env)
			}
			if env.Error.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, env.Error.Code)
			}
			if env.Error.Message != http.StatusText(tc.status) {
				t.Fatalf("expected default message, got %q", env.Error.Message)
			}
		})
	}
}

func TestWriteErrorIDLocalizes(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteErrorID(rr, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusNotFound, "ExamNotFound")
	env := decodeEnvelope(t, rr)
	if env.Error == nil || env.Error.Message != "Exam not found" {
		t.Fatalf("expected localized message, got %+v", env.Error)
	}
}

func TestWriteErrorDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteErrorDetails(rr, httptest.NewRequest(http.MethodPost, "/", nil), http.StatusUnprocessableEntity, "bad rows", []string{"row 2"})
	if !strings.Contains(rr.Body.String(), `"details":["row 2"]`) {
		t.Fatalf("expected details in body, got %s", rr.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"a"}`, false},
		{"unknown field", `{"name":"a","x":1}`, true},
		{"trailing data", `{"name":"a"}{"name":"b"}`, true},
		{"malformed", `{`, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			err := DecodeJSON(req, &dst)
			if (err != nil) != tc.wantErr {
				t.Fatalf("DecodeJSON err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}
