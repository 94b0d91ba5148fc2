package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// errEmptyBody signals that the request carried no body at all. Intent
// endpoints whose parameters are all optional treat it as an empty request.
var errEmptyBody = errors.New("empty request body")

// writeJSON sends a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write JSON response", "error", err)
	}
}

// writeError sends a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into the given destination. A missing
// body is reported as errEmptyBody so callers can treat it as "no options".
func readJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return err
}
