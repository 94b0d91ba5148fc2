package handler

import (
	"time"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/domain"
)

// SessionDTO is the JSON representation of a session. Clients reconcile
// optimistic local state by replacing it wholesale with this object, so every
// field the client could speculate about is present.
type SessionDTO struct {
	ID                 string  `json:"id"`
	UserID             int64   `json:"userId"`
	TaskID             *int64  `json:"taskId"`
	State              string  `json:"state"`
	StartedAt          string  `json:"startedAt"`
	AccumulatedSeconds int64   `json:"accumulatedDurationSeconds"`
	LastResumedAt      *string `json:"lastResumedAt"`
	QualityRating      *int    `json:"qualityRating"`
	CompletionNotes    string  `json:"completionNotes,omitempty"`
	TaskProgressBefore *int    `json:"taskProgressBefore"`
	TaskProgressAfter  *int    `json:"taskProgressAfter"`
	TaskCompleted      bool    `json:"taskCompleted"`
	ErrorReason        string  `json:"errorReason,omitempty"`
	PendingLinkage     bool    `json:"pendingLinkage,omitempty"`
	Version            int64   `json:"version"`
	UpdatedAt          string  `json:"updatedAt"`
}

func toSessionDTO(s *domain.Session) SessionDTO {
	dto := SessionDTO{
		ID:                 s.ID,
		UserID:             s.UserID,
		TaskID:             s.TaskID,
		State:              string(s.State),
		StartedAt:          s.StartedAt.Format(time.RFC3339),
		AccumulatedSeconds: s.AccumulatedSeconds,
		QualityRating:      s.QualityRating,
		CompletionNotes:    s.CompletionNotes,
		TaskProgressBefore: s.TaskProgressBefore,
		TaskProgressAfter:  s.TaskProgressAfter,
		TaskCompleted:      s.TaskCompleted,
		ErrorReason:        s.ErrorReason,
		PendingLinkage:     s.PendingLinkage,
		Version:            s.Version,
		UpdatedAt:          s.UpdatedAt.Format(time.RFC3339),
	}
	if s.LastResumedAt != nil {
		t := s.LastResumedAt.Format(time.RFC3339)
		dto.LastResumedAt = &t
	}
	return dto
}

func toSessionDTOs(sessions []domain.Session) []SessionDTO {
	dtos := make([]SessionDTO, len(sessions))
	for i := range sessions {
		dtos[i] = toSessionDTO(&sessions[i])
	}
	return dtos
}
