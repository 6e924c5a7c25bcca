package question

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"examhall/internal/app/apiresp"
	"examhall/internal/i18n"
)

type examStore interface {
	ListExams(ctx context.Context) ([]Exam, error)
	CreateExam(ctx context.Context, d ExamDraft) (*Exam, error)
}

type Handler struct {
	store examStore
}

// createExamRequest defaults publish to true when the field is omitted.
type createExamRequest struct {
	ExamDraft
	Publish *bool `json:"publish"`
}

func NewHandler(store examStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListExams(r.Context())
	if err != nil {
		slog.Error("list exams failed", "error", err)
		apiresp.WriteErrorID(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createExamRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteErrorID(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}
	d := req.ExamDraft
	d.Publish = req.Publish == nil || *req.Publish

	e, err := h.store.CreateExam(r.Context(), d)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			apiresp.WriteErrorDetails(w, r, http.StatusUnprocessableEntity, i18n.T(r.Context(), "InvalidExam"), verr.Problems)
			return
		}
		slog.Error("create exam failed", "error", err)
		apiresp.WriteErrorID(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, e)
}
