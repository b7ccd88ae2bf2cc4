package httpx

import (
	"context"
	"encoding/json"
	"net/http"
)

// Envelope is the canonical success wrapper returned by the API.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes data inside the success envelope with the given status.
func WriteJSON(_ context.Context, w http.ResponseWriter, status int, data any) {
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: true, Data: data})
}

// WriteMessage writes a data-free success envelope carrying a human message.
func WriteMessage(_ context.Context, w http.ResponseWriter, status int, message string) {
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: true, Message: sanitize(message, 512)})
}

// WriteNoContent responds 204 without a body.
func WriteNoContent(_ context.Context, w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
