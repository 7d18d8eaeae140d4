package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the state of a live proctored session.
type SessionState string

const (
	StateInitializing SessionState = "INITIALIZING"
	StateActive       SessionState = "ACTIVE"
	StateWarning      SessionState = "WARNING"
	StateLocked       SessionState = "LOCKED"
	StateSubmitting   SessionState = "SUBMITTING"
	StateCompleted    SessionState = "COMPLETED"
	// StateAborted is terminal and never entered the exam (preflight failure or host abort).
	StateAborted SessionState = "ABORTED"
)

// AcceptsInput reports whether candidate answers and navigation are allowed.
func (s SessionState) AcceptsInput() bool {
	return s == StateActive
}

// Terminal reports whether no further transitions can happen.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// ExamSession is one in-memory attempt. ActiveSubjectIndex never decreases.
type ExamSession struct {
	SessionID          uuid.UUID    `json:"session_id"`
	ExamID             uuid.UUID    `json:"exam_id"`
	StudentID          int          `json:"student_id"`
	ResultID           *uuid.UUID   `json:"result_id,omitempty"`
	Subjects           []Subject    `json:"subjects"`
	ActiveSubjectIndex int          `json:"active_subject_index"`
	PhaseDeadline      time.Time    `json:"phase_deadline"`
	State              SessionState `json:"state"`
	ViolationCount     int          `json:"violation_count"`
	Locked             bool         `json:"locked"`
}

// SessionStatus enumerates persisted exam session row states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// SessionRecord is the persisted exam_sessions row. Its ID is the result
// identifier handed to the candidate for later result lookup.
type SessionRecord struct {
	ID             uuid.UUID     `json:"id"`
	ExamID         uuid.UUID     `json:"exam_id"`
	StudentID      int           `json:"student_id"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	Status         SessionStatus `json:"status"`
	FinalScore     *float64      `json:"final_score,omitempty"`
	ViolationCount int           `json:"violation_count"`
	Locked         bool          `json:"locked"`
}

// JoinExamRequest is the payload for a student joining an exam.
type JoinExamRequest struct {
	EntryToken string `json:"entry_token" binding:"required,entrytoken"`
}

// PreflightReport describes the candidate's device and browser environment.
type PreflightReport struct {
	DeviceClass         string `json:"device_class" binding:"required"`
	FullscreenSupported bool   `json:"fullscreen_supported"`
	ViewportWidth       int    `json:"viewport_width" binding:"min=0"`
	ViewportHeight      int    `json:"viewport_height" binding:"min=0"`
	UserAgent           string `json:"user_agent,omitempty"`
}
