package importer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"examhall/internal/app/apiresp"
	"examhall/internal/i18n"
	"examhall/internal/question"
)

const maxUploadBytes = 10 << 20

type importService interface {
	Import(ctx context.Context, in Input) (*question.Exam, error)
}

type Handler struct {
	svc importService
}

func NewHandler(svc importService) *Handler {
	return &Handler{svc: svc}
}

// Import accepts multipart/form-data with a "file" part and the exam fields
// title, description, durationMinutes, publish, grade and subject.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		apiresp.WriteErrorID(w, r, http.StatusBadRequest, "ImportFileRequired")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteErrorID(w, r, http.StatusBadRequest, "ImportFileRequired")
		return
	}
	defer file.Close()

	in := Input{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Grade:       r.FormValue("grade"),
		Subject:     r.FormValue("subject"),
		Workbook:    file,
	}
	if raw := strings.TrimSpace(r.FormValue("durationMinutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apiresp.WriteErrorDetails(w, r, http.StatusBadRequest, i18n.T(r.Context(), "InvalidExam"),
				[]question.Problem{{Field: "durationMinutes", Message: "must be a positive whole number"}})
			return
		}
		in.DurationMinutes = n
	}
	if raw := strings.TrimSpace(r.FormValue("publish")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			apiresp.WriteErrorID(w, r, http.StatusBadRequest, "InvalidRequestBody")
			return
		}
		in.Publish = v
	}

	e, err := h.svc.Import(r.Context(), in)
	if err != nil {
		writeImportError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, e)
}

func (h *Handler) Template(w http.ResponseWriter, r *http.Request) {
	data, err := TemplateWorkbook()
	if err != nil {
		slog.Error("build import template", "error", err)
		apiresp.WriteErrorID(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="exam-template.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeImportError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ierr *ImportError
		verr *question.ValidationError
	)
	switch {
	case errors.As(err, &ierr):
		apiresp.WriteErrorDetails(w, r, http.StatusUnprocessableEntity, i18n.T(r.Context(), "ImportInvalid"), ierr.Problems)
	case errors.As(err, &verr):
		apiresp.WriteErrorDetails(w, r, http.StatusUnprocessableEntity, i18n.T(r.Context(), "InvalidExam"), verr.Problems)
	case errors.Is(err, ErrEmptyWorkbook):
		apiresp.WriteErrorID(w, r, http.StatusUnprocessableEntity, "ImportEmpty")
	case errors.Is(err, ErrInvalidFile):
		apiresp.WriteErrorID(w, r, http.StatusBadRequest, "ImportFileRequired")
	default:
		slog.Error("import failed", "error", err)
		apiresp.WriteErrorID(w, r, http.StatusInternalServerError, "InternalError")
	}
}
