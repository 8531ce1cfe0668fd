package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ruralpay/walletcore/internal/apperr"
)

const maxBodyBytes = 1_048_576

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Kind    apperr.Kind       `json:"kind,omitempty"`    // Machine readable error kind
	Details map[string]string `json:"details,omitempty"` // Validation details
	Meta    map[string]any    `json:"meta,omitempty"`
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:         http.StatusBadRequest,
	apperr.KindNotFound:           http.StatusNotFound,
	apperr.KindUserNotFound:       http.StatusNotFound,
	apperr.KindAlreadyExists:      http.StatusConflict,
	apperr.KindStateConflict:      http.StatusConflict,
	apperr.KindDuplicate:          http.StatusConflict,
	apperr.KindHasTransactions:    http.StatusConflict,
	apperr.KindInsufficientFunds:  http.StatusUnprocessableEntity,
	apperr.KindInactiveWallet:     http.StatusUnprocessableEntity,
	apperr.KindRuleNotFound:       http.StatusUnprocessableEntity,
	apperr.KindRuleInactive:       http.StatusUnprocessableEntity,
	apperr.KindRuleInvalidConfig:  http.StatusInternalServerError,
	apperr.KindForbidden:          http.StatusForbidden,
	apperr.KindExternalDependency: http.StatusServiceUnavailable,
	apperr.KindIDCollision:        http.StatusServiceUnavailable,
	apperr.KindInternal:           http.StatusInternalServerError,
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, details map[string]string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message, Details: details})
}

// sendError renders err. Internal failures are logged and hidden behind a generic message.
func (h *Handler) sendError(w http.ResponseWriter, r *http.Request, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) || e.Kind == apperr.KindInternal {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "internal error",
			Kind:  apperr.KindInternal,
		})
		return
	}

	resp := ErrorResponse{Error: e.Message, Kind: e.Kind}
	for k, v := range e.Meta {
		if fields, ok := v.(map[string]string); ok && k == "fields" {
			resp.Details = fields
			continue
		}
		if resp.Meta == nil {
			resp.Meta = make(map[string]any)
		}
		resp.Meta[k] = v
	}
	writeJSON(w, StatusFor(e.Kind), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decode reads exactly one JSON object into dst.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}
