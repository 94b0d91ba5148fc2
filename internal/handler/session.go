package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/domain"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/service"
)

// SessionHandler translates client intents into lifecycle calls. Handlers are
// stateless: each resolves the caller, delegates, and returns the full
// authoritative session so the client can replace its optimistic state
// wholesale instead of merging field by field.
type SessionHandler struct {
	sessions *service.SessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// HandleStart starts a new session.
// POST /api/session/start
// Request:  {"taskId": 5}  (taskId optional)
// Response: SessionDTO
func (h *SessionHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req struct {
		TaskID *int64 `json:"taskId"`
	}
	if err := readJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	session, err := h.sessions.Start(r.Context(), userID, req.TaskID)
	if err != nil {
		writeSessionError(w, err, "start session")
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(session))
}

// HandlePause pauses the current session. Safe to retry.
// POST /api/session/pause
func (h *SessionHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	session, err := h.sessions.Pause(r.Context(), userID)
	if err != nil {
		writeSessionError(w, err, "pause session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

// HandleResume resumes the current session. Safe to retry.
// POST /api/session/resume
func (h *SessionHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	session, err := h.sessions.Resume(r.Context(), userID)
	if err != nil {
		writeSessionError(w, err, "resume session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

// HandleEnd finalizes the current session without a task update.
// POST /api/session/end
func (h *SessionHandler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	session, err := h.sessions.End(r.Context(), userID)
	if err != nil {
		writeSessionError(w, err, "end session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

// HandleComplete finalizes the current session and applies its task update.
// POST /api/session/complete
// Request: {"rating": 4, "notes": "...", "progressAfter": 80, "taskCompleted": false}
func (h *SessionHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req struct {
		Rating        *int   `json:"rating"`
		Notes         string `json:"notes"`
		ProgressAfter *int   `json:"progressAfter"`
		TaskCompleted bool   `json:"taskCompleted"`
	}
	if err := readJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	session, err := h.sessions.Complete(r.Context(), userID, service.CompleteParams{
		QualityRating: req.Rating,
		Notes:         req.Notes,
		ProgressAfter: req.ProgressAfter,
		TaskCompleted: req.TaskCompleted,
	})
	if err != nil {
		if errors.Is(err, domain.ErrLinkageFailed) && session != nil {
			// The session is parked in the error state; tell the client how
			// to get out of it.
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":     "Task update failed; session parked for retry.",
				"retryable": true,
				"session":   toSessionDTO(session),
			})
			return
		}
		writeSessionError(w, err, "complete session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

// HandleSwitch completes the current session and starts a new one for another
// task, atomically.
// POST /api/session/switch
// Request: {"taskId": 7}
func (h *SessionHandler) HandleSwitch(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req struct {
		TaskID *int64 `json:"taskId"`
	}
	if err := readJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	session, err := h.sessions.Switch(r.Context(), userID, req.TaskID)
	if err != nil {
		writeSessionError(w, err, "switch session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

// HandleRetryCompletion re-runs a failed task linkage.
// POST /api/session/retry-completion
func (h *SessionHandler) HandleRetryCompletion(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	session, err := h.sessions.RetryCompletion(r.Context(), userID)
	if err != nil {
		writeSessionError(w, err, "retry completion")
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

// HandleCurrent returns the caller's active session, or a JSON null when
// there is none — an expected state, not an error.
// GET /api/session/current
func (h *SessionHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	session, err := h.sessions.Current(r.Context(), userID)
	if err != nil {
		writeSessionError(w, err, "get current session")
		return
	}
	if session == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(session))
}

// HandleHistory lists the caller's completed sessions, newest first.
// GET /api/session/history?limit=20&offset=0
func (h *SessionHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	limit := queryInt(r, "limit", 20, 100)
	offset := queryInt(r, "offset", 0, 1<<30)

	sessions, err := h.sessions.History(r.Context(), userID, limit, offset)
	if err != nil {
		writeSessionError(w, err, "list session history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": toSessionDTOs(sessions)})
}

func queryInt(r *http.Request, key string, def, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// writeSessionError maps the error taxonomy onto HTTP statuses. Conflicts are
// surfaced for the client to re-read and decide; validation errors carry
// their message; everything unexpected is a 500 with the detail kept
// server-side.
func writeSessionError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusNotFound, "Not found.")
	case errors.Is(err, domain.ErrLinkageFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Store temporarily unavailable; retry.")
	default:
		slog.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred. Please try again.")
	}
}
