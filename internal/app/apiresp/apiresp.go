package apiresp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"examhall/internal/i18n"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type Meta struct {
	RequestID string `json:"request_id,omitempty"`
}

type Envelope struct {
	OK    bool          `json:"ok"`
	Data  any           `json:"data,omitempty"`
	Error *ErrorPayload `json:"error,omitempty"`
	Meta  Meta          `json:"meta"`
}

func WriteOK(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, r, status, Envelope{OK: true, Data: data})
}

// WriteError writes msg verbatim. Prefer WriteErrorID for user-facing text.
func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	WriteErrorDetails(w, r, status, msg, nil)
}

// WriteErrorID localizes msgID with the request's localizer.
func WriteErrorID(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	WriteErrorDetails(w, r, status, i18n.T(r.Context(), msgID), nil)
}

// WriteErrorDetails attaches a machine-readable payload, e.g. a list of
// row problems from an import.
func WriteErrorDetails(w http.ResponseWriter, r *http.Request, status int, msg string, details any) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	write(w, r, status, Envelope{
		Error: &ErrorPayload{
			Code:    codeFromStatus(status),
			Message: msg,
			Details: details,
		},
	})
}

// DecodeJSON rejects unknown fields and trailing data.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}

type decodeError string

func (e decodeError) Error() string { return string(e) }

const errTrailingData = decodeError("unexpected data after JSON body")

func write(w http.ResponseWriter, r *http.Request, status int, res Envelope) {
	res.Meta = Meta{RequestID: middleware.GetReqID(r.Context())}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

func codeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		if status >= 200 && status < 300 {
			return ""
		}
		return "error"
	}
}
