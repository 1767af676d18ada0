package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/resqzone/server/internal/apperror"
)

// APIResponse is the standard response wrapper
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// APIError represents an error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta contains pagination and other metadata
type Meta struct {
	Page       int `json:"page,omitempty"`
	PerPage    int `json:"per_page,omitempty"`
	Total      int `json:"total,omitempty"`
	TotalPages int `json:"total_pages,omitempty"`
}

// NewMeta computes page counts for a paginated listing
func NewMeta(page, perPage, total int) *Meta {
	return &Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: (total + perPage - 1) / perPage,
	}
}

// JSON sends a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, status, APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// JSONWithMeta sends a JSON response with pagination metadata
func JSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *Meta) {
	write(w, status, APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

// Error sends an error JSON response
func Error(w http.ResponseWriter, status int, code, message string) {
	write(w, status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// FromError maps an error kind to its HTTP status. Store and unclassified
// errors become a generic 500 so driver messages never reach clients.
func FromError(w http.ResponseWriter, err error, fallback string) {
	switch apperror.Kind(err) {
	case apperror.ErrInvalidCoordinate:
		Error(w, http.StatusBadRequest, "INVALID_COORDINATE", err.Error())
	case apperror.ErrInvalidInput:
		BadRequest(w, err.Error())
	case apperror.ErrForbidden:
		Forbidden(w, err.Error())
	case apperror.ErrInvalidOperation:
		Conflict(w, err.Error())
	case apperror.ErrNotFound:
		NotFound(w, err.Error())
	default:
		InternalError(w, fallback)
	}
}

// Partial sends a degraded success: the data was committed but some
// recipients could not be recorded.
func Partial(w http.ResponseWriter, status int, data interface{}, err error) {
	var pf *apperror.PartialFailure
	if !errors.As(err, &pf) {
		JSON(w, status, data)
		return
	}
	write(w, status, APIResponse{
		Success: true,
		Data:    data,
		Error: &APIError{
			Code:    "PARTIAL_FAILURE",
			Message: pf.Error(),
		},
	})
}

func write(w http.ResponseWriter, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Common error responses
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, "NOT_FOUND", message)
}

func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

func Forbidden(w http.ResponseWriter, message string) {
	Error(w, http.StatusForbidden, "FORBIDDEN", message)
}

func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, "CONFLICT", message)
}
