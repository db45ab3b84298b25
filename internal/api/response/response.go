// Package response writes the JSON envelopes shared by every API endpoint.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// requestIDHeader mirrors middleware.RequestIDHeader; middleware imports this
// package, so the constant cannot be shared.
const requestIDHeader = "X-Request-ID"

// CollectionMeta describes a newest-first list page.
type CollectionMeta struct {
	Limit int `json:"limit,omitempty"`
	Count int `json:"count"`
}

// Problem is the body of every error response. RequestID echoes the
// X-Request-ID response header so a caller can quote it when reporting.
type Problem struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// JSON writes data with 200.
func JSON(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, struct {
		Data any `json:"data"`
	}{data})
}

// Accepted writes data with 202 for requests acted on asynchronously.
func Accepted(w http.ResponseWriter, data any) {
	write(w, http.StatusAccepted, struct {
		Data any `json:"data"`
	}{data})
}

// Collection writes a list with its paging metadata.
func Collection(w http.ResponseWriter, data any, meta CollectionMeta) {
	write(w, http.StatusOK, struct {
		Data any            `json:"data"`
		Meta CollectionMeta `json:"meta"`
	}{data, meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	write(w, status, struct {
		Error Problem `json:"error"`
	}{Problem{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: w.Header().Get(requestIDHeader),
	}})
}

func write(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "status", status, "error", err)
	}
}
