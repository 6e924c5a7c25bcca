package publication

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"examhall/internal/app/apiresp"
	"examhall/internal/question"
)

type publisher interface {
	SetPublished(ctx context.Context, examID int64, published bool) (*question.Exam, error)
}

type Handler struct {
	svc publisher
}

type publishRequest struct {
	IsPublished *bool `json:"isPublished"`
}

func NewHandler(svc publisher) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || examID <= 0 {
		apiresp.WriteErrorID(w, r, http.StatusBadRequest, "InvalidID")
		return
	}
	var req publishRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil || req.IsPublished == nil {
		apiresp.WriteErrorID(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}

	e, err := h.svc.SetPublished(r.Context(), examID, *req.IsPublished)
	if err != nil {
		switch {
		case errors.Is(err, question.ErrExamNotFound):
			apiresp.WriteErrorID(w, r, http.StatusNotFound, "ExamNotFound")
		case errors.Is(err, ErrQuestionCountMismatch):
			apiresp.WriteErrorID(w, r, http.StatusConflict, "QuestionCountMismatch")
		default:
			slog.Error("publish failed", "exam_id", examID, "error", err)
			apiresp.WriteErrorID(w, r, http.StatusInternalServerError, "InternalError")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, e)
}
