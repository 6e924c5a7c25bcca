package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"examhall/internal/exam"
)

var ErrUnauthorized = errors.New("session token rejected")

// APIError is a non-2xx reply from the exam API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
}

// HTTPBackend talks to /api/v1 with an opaque bearer token.
type HTTPBackend struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPBackend(baseURL, token string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *HTTPBackend) GetPaper(ctx context.Context, examID int64) (*exam.Paper, error) {
	var p exam.Paper
	if err := b.do(ctx, http.MethodGet, "/api/v1/exams/"+strconv.FormatInt(examID, 10), nil, &p); err != nil {
		return nil, notFoundAs(err, exam.ErrExamNotFound)
	}
	return &p, nil
}

func (b *HTTPBackend) StartAttempt(ctx context.Context, examID int64) (*exam.StartedAttempt, error) {
	var s exam.StartedAttempt
	path := "/api/v1/exams/" + strconv.FormatInt(examID, 10) + "/attempts"
	if err := b.do(ctx, http.MethodPost, path, struct{}{}, &s); err != nil {
		return nil, notFoundAs(err, exam.ErrExamNotFound)
	}
	return &s, nil
}

func (b *HTTPBackend) SubmitAttempt(ctx context.Context, attemptID int64, answers map[int64]int64) (*exam.Submission, error) {
	var s exam.Submission
	path := "/api/v1/attempts/" + strconv.FormatInt(attemptID, 10) + "/submit"
	body := struct {
		Answers map[int64]int64 `json:"answers"`
	}{Answers: answers}
	if err := b.do(ctx, http.MethodPost, path, body, &s); err != nil {
		return nil, notFoundAs(err, exam.ErrAttemptNotFound)
	}
	return &s, nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response (status %d): %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode/100 != 2 || !env.OK {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %v", ErrUnauthorized, apiErr)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", method, path, err)
	}
	return nil
}

func notFoundAs(err error, target error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", target, apiErr.Message)
	}
	return err
}
