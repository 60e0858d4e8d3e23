package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"aside/apps/funding/internal/apperr"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
	roleAdmin      = "admin"
)

// responder is shared by the handlers for writing bodies.
type responder struct {
	logger *zap.Logger
}

// writeJSONResponse writes a JSON response with the specified status code
func (h responder) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h responder) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// writeError maps a service error onto a status code. Anything that is not an
// *apperr.Error is logged and reported as internal.
func (h responder) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		h.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "Something went wrong, try again later")
		return
	}
	if appErr.Kind == apperr.KindUnavailable {
		h.logger.Warn("Dependency unavailable", zap.String("code", appErr.Code), zap.Error(appErr.Err))
	}
	h.writeErrorResponse(w, statusFor(appErr.Kind), appErr.Code, appErr.Message)
}

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden, apperr.KindBlocked:
		return http.StatusForbidden
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h responder) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return false
	}
	return true
}

// pathID parses the {name} route variable as a uuid.
func (h responder) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_"+name, "Malformed "+name)
		return uuid.Nil, false
	}
	return id, true
}

// userID reads the caller identity forwarded by the gateway.
func (h responder) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(headerUserID))
	if err != nil {
		h.writeErrorResponse(w, http.StatusUnauthorized, "unauthenticated", "Missing or malformed user identity")
		return uuid.Nil, false
	}
	return id, true
}
