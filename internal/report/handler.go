package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"examhall/internal/app/apiresp"
	"examhall/internal/question"
)

type reportService interface {
	Stats(ctx context.Context) (*Stats, error)
	SummaryByExam(ctx context.Context, examID int64) (*ExamSummary, error)
	ExportResults(ctx context.Context, examID int64) ([]byte, error)
}

type Handler struct {
	svc reportService
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, st)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	examID, ok := parseExamID(w, r)
	if !ok {
		return
	}
	sum, err := h.svc.SummaryByExam(r.Context(), examID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, sum)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	examID, ok := parseExamID(w, r)
	if !ok {
		return
	}
	data, err := h.svc.ExportResults(r.Context(), examID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="exam-%d-results.xlsx"`, examID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseExamID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteErrorID(w, r, http.StatusBadRequest, "InvalidID")
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, question.ErrExamNotFound) {
		apiresp.WriteErrorID(w, r, http.StatusNotFound, "ExamNotFound")
		return
	}
	slog.Error("report failed", "error", err)
	apiresp.WriteErrorID(w, r, http.StatusInternalServerError, "InternalError")
}
