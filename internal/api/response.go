package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bauki/assistant-backend/internal/apperr"
	"github.com/bauki/assistant-backend/internal/logger"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    apperr.Kind `json:"code"`
	Message string      `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as the JSON error envelope. Errors without a kind
// are logged and reported as internal.
func writeError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Internal(err)
	}
	status := statusFor(appErr)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "method", r.Method, "path", r.URL.Path,
			"status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: appErr.Kind, Message: appErr.Message}})
}

func statusFor(e *apperr.Error) int {
	switch e.Kind {
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindValidation, apperr.KindExpired:
		return http.StatusBadRequest
	case apperr.KindUpstreamUnavailable:
		if e.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case apperr.KindUpstreamError:
		return http.StatusBadGateway
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
