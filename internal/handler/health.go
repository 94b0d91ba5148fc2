package handler

import (
	"encoding/json"
	"net/http"
)

// HandleHealthz responds with a 200 OK and a JSON body indicating the
// session engine is up. Unauthenticated by design, for load balancers.
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "focus-session"})
}
