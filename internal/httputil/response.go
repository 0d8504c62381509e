package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code and data.
// If encoding fails, it logs the error.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", slog.Any("error", err))
	}
}

// WriteError writes a JSON error response with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{
		"error": message,
	})
}

// WriteErrorDetails writes a JSON error response carrying per-field
// detail messages alongside the summary.
func WriteErrorDetails(w http.ResponseWriter, status int, message string, details []string) {
	WriteJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": message,
		"details": details,
	})
}
