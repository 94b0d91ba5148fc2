package handler

import (
	"log/slog"
	"net/http"

	"github.com/starfederation/datastar-go/datastar"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/event"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/service"
)

// WatchHandler streams the caller's authoritative session state over SSE.
// Clients running optimistic UI subscribe here and replace local state with
// each pushed snapshot; a second device can observe a session started
// elsewhere the same way. Read-only — mutation still goes through the intent
// endpoints.
type WatchHandler struct {
	sessions *service.SessionService
	bus      *event.Bus
}

// NewWatchHandler creates a new WatchHandler.
func NewWatchHandler(sessions *service.SessionService, bus *event.Bus) *WatchHandler {
	return &WatchHandler{sessions: sessions, bus: bus}
}

// HandleWatch pushes the current session immediately, then again on every
// lifecycle event for this user until the client disconnects.
// GET /api/session/watch
func (h *WatchHandler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	events, cancel := h.bus.Subscribe(userID, 16)
	defer cancel()

	sse := datastar.NewSSE(w, r)

	if err := h.pushSnapshot(r, sse, ""); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := h.pushSnapshot(r, sse, string(e.Kind)); err != nil {
				return
			}
		}
	}
}

// pushSnapshot re-reads the authoritative state and patches it into the
// client's signals. Re-reading (rather than forwarding the event payload)
// guarantees the client never sees data staler than the last committed write.
func (h *WatchHandler) pushSnapshot(r *http.Request, sse *datastar.ServerSentEventGenerator, kind string) error {
	userID := UserIDFromContext(r.Context())

	session, err := h.sessions.Current(r.Context(), userID)
	if err != nil {
		slog.Error("watch snapshot", "error", err)
		return err
	}

	signals := map[string]any{"lastEvent": kind}
	if session != nil {
		signals["session"] = toSessionDTO(session)
	} else {
		signals["session"] = nil
	}

	return sse.MarshalAndPatchSignals(signals)
}
