package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	StatusCode    int    `json:"statusCode"`
	Timestamp     string `json:"timestamp"`
	Path          string `json:"path"`
	CorrelationID string `json:"correlationId"`
	Error         string `json:"error"`
	Message       string `json:"message"`
	Field         string `json:"field,omitempty"`
}

func newErrorResponse(r *http.Request, status int, errorType, message string) ErrorResponse {
	return ErrorResponse{
		StatusCode:    status,
		Timestamp:     time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Path:          r.URL.Path,
		CorrelationID: CorrelationID(r.Context()),
		Error:         errorType,
		Message:       message,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, errorType, message string) {
	writeJSON(w, status, newErrorResponse(r, status, errorType, message))
}

func writeValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	resp := newErrorResponse(r, http.StatusBadRequest, "ValidationError", message)
	resp.Field = field
	writeJSON(w, http.StatusBadRequest, resp)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "NotFound", "The requested URL was not found on the server.")
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed", "The method is not allowed for the requested URL.")
}
