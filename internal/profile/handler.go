package profile

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"examhall/internal/app/apiresp"
	"examhall/internal/auth"
)

type profileService interface {
	Catalog() Catalog
	GetProfile(ctx context.Context, userID int64) (*Profile, error)
	CreateProfile(ctx context.Context, userID int64, in Input) (*Profile, error)
}

type Handler struct {
	svc profileService
}

type onboardingRequest struct {
	Grade    string `json:"grade"`
	Semester string `json:"semester"`
	Subject  string `json:"subject"`
	Gender   string `json:"gender"`
}

func NewHandler(svc profileService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Options(w http.ResponseWriter, r *http.Request) {
	apiresp.WriteOK(w, r, http.StatusOK, h.svc.Catalog())
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErrorID(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}
	p, err := h.svc.GetProfile(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			apiresp.WriteErrorID(w, r, http.StatusNotFound, "ProfileNotFound")
			return
		}
		slog.Error("get profile failed", "user_id", user.ID, "error", err)
		apiresp.WriteErrorID(w, r, http.StatusInternalServerError, "InternalError")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, p)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErrorID(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req onboardingRequest
	if err := apiresp.DecodeJSON(r, &req); err != nil {
		apiresp.WriteErrorID(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}
	if req.Grade == "" || req.Semester == "" || req.Subject == "" || req.Gender == "" {
		apiresp.WriteErrorID(w, r, http.StatusBadRequest, "FieldsRequired")
		return
	}

	p, err := h.svc.CreateProfile(r.Context(), user.ID, Input{
		Grade:    req.Grade,
		Semester: req.Semester,
		Subject:  req.Subject,
		Gender:   req.Gender,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidProfile):
			apiresp.WriteErrorID(w, r, http.StatusBadRequest, "ProfileInvalid")
		case errors.Is(err, ErrProfileExists):
			apiresp.WriteErrorID(w, r, http.StatusConflict, "ProfileExists")
		default:
			slog.Error("create profile failed", "user_id", user.ID, "error", err)
			apiresp.WriteErrorID(w, r, http.StatusInternalServerError, "InternalError")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, p)
}
