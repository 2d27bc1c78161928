// Package response writes the JSON bodies shared by every HTTP endpoint.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iKora128/medical-wiki/internal/auth"
)

// Codes that do not originate in the auth core.
const (
	CodeNotFound    = "NOT_FOUND"
	CodeConflict    = "CONFLICT"
	CodeRateLimited = "RATE_LIMITED"
)

// Envelope is the success wrapper.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorBody is the failure wrapper. It never carries internal detail.
type ErrorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes TotalPages for total items at limit per page.
func NewPagination(total, page, limit int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Total: total, Page: page, Limit: limit, TotalPages: pages}
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Success writes {"success":true,"message":...,"data":...}.
func Success(w http.ResponseWriter, status int, message string, data any) {
	JSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// Err writes {"success":false,"message":...,"code":...}.
func Err(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorBody{Success: false, Message: message, Code: code})
}

// BadRequest writes a 400 with message.
func BadRequest(w http.ResponseWriter, message string) {
	Err(w, http.StatusBadRequest, auth.CodeBadRequest, message)
}

// FromError maps an auth core error onto status, code and a generic message.
// Server-side failures are logged with the request path.
func FromError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := auth.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		if logger == nil {
			logger = slog.Default()
		}
		attrs := []any{"path", r.URL.Path, "method", r.Method, "error", err}
		if errors.Is(err, auth.ErrStoreUnavailable) {
			logger.Error("request denied: role store unavailable", attrs...)
		} else {
			logger.Error("request failed", attrs...)
		}
	}
	Err(w, status, auth.ErrorCode(err), auth.PublicMessage(err))
}
