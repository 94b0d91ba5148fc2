package handler

import (
	"net/http"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/event"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/service"
)

// RegisterRoutes sets up all HTTP routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, sessions *service.SessionService, bus *event.Bus, verifier *TokenVerifier) {
	mux.HandleFunc("GET /healthz", HandleHealthz)

	sessionHandler := NewSessionHandler(sessions)
	watchHandler := NewWatchHandler(sessions, bus)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/session/start", sessionHandler.HandleStart)
	api.HandleFunc("POST /api/session/pause", sessionHandler.HandlePause)
	api.HandleFunc("POST /api/session/resume", sessionHandler.HandleResume)
	api.HandleFunc("POST /api/session/end", sessionHandler.HandleEnd)
	api.HandleFunc("POST /api/session/complete", sessionHandler.HandleComplete)
	api.HandleFunc("POST /api/session/switch", sessionHandler.HandleSwitch)
	api.HandleFunc("POST /api/session/retry-completion", sessionHandler.HandleRetryCompletion)
	api.HandleFunc("GET /api/session/current", sessionHandler.HandleCurrent)
	api.HandleFunc("GET /api/session/history", sessionHandler.HandleHistory)
	api.HandleFunc("GET /api/session/watch", watchHandler.HandleWatch)

	mux.Handle("/api/", RequireAuth(verifier, api))
}
