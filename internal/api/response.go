package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

type statusResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message,omitempty"`
}

func setResponse(response interface{}, w http.ResponseWriter) error {
	return writeJSON(http.StatusOK, response, w)
}

func setErrorResponse(statusCode int, message string, w http.ResponseWriter) {
	if err := writeJSON(statusCode, statusResponse{Status: false, Message: message}, w); err != nil {
		slog.Warn("Failed to write error response", slog.Any("error", err))
	}
}

// methodNotAllowed mirrors the message format existing clients match on
func methodNotAllowed(allowed string, w http.ResponseWriter) {
	w.Header().Set("Allow", allowed)
	setErrorResponse(http.StatusMethodNotAllowed, fmt.Sprintf("Method Not Allowed! ['%s'] Only", allowed), w)
}

func writeJSON(statusCode int, response interface{}, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		return fmt.Errorf("writeJSON: encode: %w", err)
	}
	return nil
}
