package httpx

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrorResponse is the JSON body of every error response. Kind names the
// error class so clients can branch without parsing the message.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// WriteError writes {"error": err.Error()}.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorKind(w, status, "", err.Error())
}

// WriteErrorMessage writes {"error": message}.
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteErrorKind(w, status, "", message)
}

// WriteErrorKind writes {"error": message, "kind": kind}.
func WriteErrorKind(w http.ResponseWriter, status int, kind, message string) {
	if err := WriteJSON(w, status, ErrorResponse{Error: message, Kind: kind}); err != nil {
		slog.Error("failed to write error response", "error", err, "message", message)
	}
}

// WriteAttachment sends data as a file download.
func WriteAttachment(w http.ResponseWriter, name, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("failed to write attachment", "name", name, "error", err)
	}
}

// HealthHandlerWithCheck responds 200 OK, or 503 with the error when check
// fails.
func HealthHandlerWithCheck(check func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := check(); err != nil {
			WriteErrorKind(w, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	}
}
