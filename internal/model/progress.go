package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptProgress is the persisted position of an attempt. A controller
// created after a restart resumes from it instead of starting over.
type AttemptProgress struct {
	StartedAt      time.Time            `json:"started_at"`
	SubjectIndex   int                  `json:"subject_index"`
	PhaseStartedAt time.Time            `json:"phase_started_at,omitempty"`
	Violations     int                  `json:"violations"`
	Answers        map[uuid.UUID]string `json:"answers,omitempty"`
	Bookmarks      []uuid.UUID          `json:"bookmarks,omitempty"`
}

// Resumed reports whether the attempt was already running somewhere.
func (p *AttemptProgress) Resumed() bool {
	if p == nil {
		return false
	}
	return !p.PhaseStartedAt.IsZero() || p.SubjectIndex > 0 || p.Violations > 0 ||
		len(p.Answers) > 0 || len(p.Bookmarks) > 0
}

// PhaseProgress is written every time the active subject or phase changes.
type PhaseProgress struct {
	SubjectIndex   int       `json:"subject_index"`
	PhaseStartedAt time.Time `json:"phase_started_at"`
}
