package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Ranjithdurai451/spark-code/internal/application"
)

// errorResponse is the standard error body: a stable machine-readable code
// plus a human-readable message. Internal error detail never leaves the
// server.
type errorResponse struct {
	Code      string `json:"code"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// writeJSON marshals v to JSON and writes it with the given status code.
// If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"internal","error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Error: message})
}

// writeGateError maps a gate rejection to its response. Non-gate errors
// (which should not reach here) fall back to a generic 500.
func writeGateError(w http.ResponseWriter, err error) {
	var ge *application.GateError
	if !errors.As(err, &ge) {
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	writeJSON(w, ge.Status, errorResponse{
		Code:      string(ge.Code),
		Error:     ge.Message,
		Retryable: ge.Retryable,
	})
}
