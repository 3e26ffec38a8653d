package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps the scheduling error taxonomy onto HTTP statuses.
// Storage and unexpected failures are logged; their details stay server side.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	resp := ErrorResponse{Details: err.Error()}
	var fe *appointment.FieldError
	if errors.As(err, &fe) {
		resp.Field = fe.Field
	}

	var status int
	switch {
	case errors.Is(err, appointment.ErrMissingField):
		status, resp.Error = http.StatusBadRequest, "missing_field"
	case errors.Is(err, appointment.ErrInvalidFormat):
		status, resp.Error = http.StatusUnprocessableEntity, "invalid_format"
	case errors.Is(err, appointment.ErrConflict):
		status, resp.Error = http.StatusConflict, "conflict"
	case errors.Is(err, appointment.ErrNotFound):
		status, resp.Error = http.StatusNotFound, "not_found"
	case errors.Is(err, appointment.ErrStorageUnavailable):
		status, resp.Error = http.StatusServiceUnavailable, "storage_unavailable"
		resp.Details = "storage is temporarily unavailable, please retry"
		logger.Error("storage unavailable",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	default:
		status, resp.Error = http.StatusInternalServerError, "internal_error"
		resp.Details = ""
		logger.Error("unhandled error",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	writeJSON(w, status, resp)
}
