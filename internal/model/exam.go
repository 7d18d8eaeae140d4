package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft      ExamStatus = "DRAFT"
	ExamStatusPublished  ExamStatus = "PUBLISHED"
	ExamStatusInProgress ExamStatus = "IN_PROGRESS"
	ExamStatusCompleted  ExamStatus = "COMPLETED"
	ExamStatusArchived   ExamStatus = "ARCHIVED"
)

// Exam represents an exam entity.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	EntryToken      string     `json:"entry_token,omitempty"`
	Status          ExamStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Subject is a named exam section. Adjacent subjects with the same Phase
// share one time budget: the budget of the first subject in the group.
// An empty Phase makes the subject its own phase.
type Subject struct {
	Name          string      `json:"name"`
	Position      int         `json:"position"`
	Phase         string      `json:"phase,omitempty"`
	BudgetSeconds int         `json:"budget_seconds"`
	QuestionIDs   []uuid.UUID `json:"question_ids,omitempty"`
}

// ExamOutline is what the session status fetch returns: the subject
// sequence plus the server-assigned result identifier, if one exists yet.
// Progress is set when the attempt already ran on an earlier controller.
type ExamOutline struct {
	ExamID   uuid.UUID        `json:"exam_id"`
	Title    string           `json:"title"`
	Subjects []Subject        `json:"subjects"`
	ResultID *uuid.UUID       `json:"result_id,omitempty"`
	Progress *AttemptProgress `json:"progress,omitempty"`
}

// SubjectPayload is the Redis-cached question list of one subject (no correct answers).
type SubjectPayload struct {
	ExamID    uuid.UUID            `json:"exam_id"`
	Subject   string               `json:"subject"`
	Questions []QuestionForStudent `json:"questions"`
}
