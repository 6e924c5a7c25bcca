package exam

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"examhall/internal/app/apiresp"
	"examhall/internal/attempt"
	"examhall/internal/auth"
	"examhall/internal/question"
)

type examService interface {
	ListExams(ctx context.Context, studentID int64) ([]question.ExamSummary, error)
	GetPaper(ctx context.Context, examID int64) (*Paper, error)
	StartAttempt(ctx context.Context, studentID, examID int64) (*StartedAttempt, error)
	SubmitAttempt(ctx context.Context, studentID, attemptID int64, answers map[int64]int64) (*Submission, error)
	SubmitExam(ctx context.Context, studentID, examID int64, answers map[int64]int64) (*Submission, error)
	GetResult(ctx context.Context, userID int64, isAdmin bool, attemptID int64) (*AttemptResult, error)
	History(ctx context.Context, studentID int64) (*History, error)
}

type Handler struct {
	svc examService
}

type submitRequest struct {
	Answers map[int64]int64 `json:"answers"`
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListExams(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) Paper(w http.ResponseWriter, r *http.Request) {
	examID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	paper, err := h.svc.GetPaper(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, paper)
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	examID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	started, err := h.svc.StartAttempt(r.Context(), user.ID, examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, started)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	attemptID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req submitRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteErrorID(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}

	sub, err := h.svc.SubmitAttempt(r.Context(), user.ID, attemptID, req.Answers)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, sub)
}

func (h *Handler) SubmitExam(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	examID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req submitRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteErrorID(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}

	sub, err := h.svc.SubmitExam(r.Context(), user.ID, examID, req.Answers)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, sub)
}

func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	attemptID, ok := parseID(w, r, "attemptID")
	if !ok {
		return
	}
	res, err := h.svc.GetResult(r.Context(), user.ID, user.IsAdmin(), attemptID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	hist, err := h.svc.History(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, hist)
}

func requireUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErrorID(w, r, http.StatusUnauthorized, "Unauthorized")
	}
	return user, ok
}

func parseID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteErrorID(w, r, http.StatusBadRequest, "InvalidID")
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrExamNotFound):
		apiresp.WriteErrorID(w, r, http.StatusNotFound, "ExamNotFound")
	case errors.Is(err, ErrResultNotFound):
		apiresp.WriteErrorID(w, r, http.StatusNotFound, "ResultNotFound")
	case errors.Is(err, ErrAttemptNotFound):
		apiresp.WriteErrorID(w, r, http.StatusNotFound, "AttemptNotFound")
	case errors.Is(err, ErrAttemptForbidden):
		apiresp.WriteErrorID(w, r, http.StatusForbidden, "AttemptForbidden")
	case errors.Is(err, ErrQuestionNotInExam):
		apiresp.WriteErrorID(w, r, http.StatusUnprocessableEntity, "QuestionNotInExam")
	case errors.Is(err, ErrOptionNotInQuestion):
		apiresp.WriteErrorID(w, r, http.StatusUnprocessableEntity, "OptionNotInQuestion")
	case errors.Is(err, attempt.ErrAttemptCompleted), errors.Is(err, attempt.ErrDuplicateAnswer):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	default:
		slog.Error("exam request failed", "path", r.URL.Path, "error", err)
		apiresp.WriteErrorID(w, r, http.StatusInternalServerError, "InternalError")
	}
}
