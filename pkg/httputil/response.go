package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/warden/pkg/access"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error  string        `json:"error"`
	Field  string        `json:"field,omitempty"`
	Reason access.Reason `json:"reason,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

// StatusFor maps an error to its HTTP status
func StatusFor(err error) int {
	switch {
	case access.IsValidation(err):
		return http.StatusBadRequest
	case access.IsDenied(err):
		if access.ReasonOf(err) == access.ReasonQuotaExceeded {
			return http.StatusTooManyRequests
		}
		return http.StatusForbidden
	case access.IsNotFound(err):
		return http.StatusNotFound
	case access.IsConflict(err):
		return http.StatusConflict
	case access.IsUnavailable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WriteError writes err with the status StatusFor assigns it. Store and
// internal failures are reported without their cause.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := ErrorResponse{Error: err.Error()}

	var validation *access.ValidationError
	switch {
	case errors.As(err, &validation):
		body.Field = validation.Field
	case access.IsDenied(err):
		body.Reason = access.ReasonOf(err)
	case status == http.StatusServiceUnavailable:
		body.Error = "store unavailable"
	case status == http.StatusInternalServerError:
		body.Error = "internal server error"
	}
	_ = WriteJSON(w, status, body)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
