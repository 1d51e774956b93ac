package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/capitalize-ai/conversation-actors/internal/actor"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps a service error to a response status.
func statusFor(err error) int {
	if errors.Is(err, actor.ErrHostClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
