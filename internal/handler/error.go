package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/orderflow/internal/domain"
	"github.com/dukerupert/orderflow/internal/middleware"
	"github.com/dukerupert/orderflow/internal/telemetry"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.EINVALIDSTATUS, domain.ECONCURRENCY:
		return http.StatusConflict // 409
	case domain.EINVALIDAMOUNT, domain.EINVALIDCURRENCY:
		return http.StatusUnprocessableEntity // 422
	default:
		return http.StatusInternalServerError // 500
	}
}

// ErrorResponse logs err and writes it to the client. Internal errors are
// reported to Sentry and shown with a generic message.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)
	body := ErrorBody{
		Code:      code,
		Message:   domain.ErrorMessage(err),
		Retryable: domain.IsRetryable(err),
		Fields:    domain.GetValidationFields(err),
		RequestID: middleware.GetRequestID(r.Context()),
	}

	logger := middleware.GetLogger(r.Context())
	attrs := []any{
		"error", err.Error(),
		"code", code,
		"op", domain.ErrorOp(err),
		"status", status,
	}
	if status >= 500 {
		logger.Error("request failed", attrs...)
		telemetry.CaptureError(err, map[string]interface{}{
			"path":       r.URL.Path,
			"method":     r.Method,
			"request_id": body.RequestID,
		})
	} else {
		logger.Info("request rejected", attrs...)
	}

	if !acceptsJSON(r) {
		http.Error(w, body.Message, status)
		return
	}
	writeJSON(w, status, map[string]ErrorBody{"error": body})
}

// BadRequestResponse reports a malformed request.
func BadRequestResponse(w http.ResponseWriter, r *http.Request, message string) {
	ErrorResponse(w, r, domain.Invalid("", message))
}

// NotFoundResponse reports an unknown route or resource.
func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, &domain.Error{Code: domain.ENOTFOUND, Message: "The requested resource was not found"})
}

// InternalErrorResponse hides err behind a generic 500.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(w, r, domain.Internal(err, "", "An unexpected error occurred"))
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

// acceptsJSON checks if the client prefers JSON responses. The API answers
// JSON unless the client explicitly asks for something else.
func acceptsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	contentType := r.Header.Get("Content-Type")

	if strings.Contains(accept, "application/json") {
		return true
	}
	if strings.Contains(contentType, "application/json") {
		return true
	}
	if strings.HasSuffix(r.URL.Path, ".json") {
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return accept == "" || strings.Contains(accept, "*/*")
	}
	return false
}
