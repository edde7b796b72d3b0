package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/bher20/ebillmanager/internal/auth"
	"github.com/bher20/ebillmanager/internal/billing"
	"github.com/bher20/ebillmanager/internal/logging"
	"github.com/bher20/ebillmanager/internal/storage"
	"github.com/bher20/ebillmanager/internal/tariffs"
)

// errorBody is the payload of every error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// badRequest marks errors caused by a malformed request.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to an HTTP status and a short code.
func statusFor(err error) (int, string) {
	var br badRequest
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, billing.ErrInvalidInput),
		errors.Is(err, billing.ErrInvalidPeriod),
		errors.Is(err, billing.ErrInvalidTariff):
		return http.StatusBadRequest, billing.ErrorKind(err)
	case errors.Is(err, tariffs.ErrAmbiguousPercent):
		return http.StatusBadRequest, "ambiguous_percent"
	case errors.Is(err, tariffs.ErrIncompleteNotice):
		return http.StatusBadRequest, "incomplete_notice"
	case errors.Is(err, auth.ErrUnknownRole):
		return http.StatusBadRequest, "unknown_role"
	case errors.As(err, &br):
		return http.StatusBadRequest, "bad_request"
	case billing.IsDataQuality(err):
		return http.StatusUnprocessableEntity, billing.ErrorKind(err)
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	body := errorBody{Code: code, Message: err.Error()}
	var ae *billing.AbonentError
	if errors.As(err, &ae) {
		body.Stage = string(ae.Stage)
	}
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
		body.Message = "internal error"
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}
