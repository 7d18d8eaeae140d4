package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationEvent is one detected full-screen exit.
type ViolationEvent struct {
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Reported  bool      `json:"reported"`
}

// ViolationRecord is the payload of the best-effort violation log call.
type ViolationRecord struct {
	ExamID     uuid.UUID `json:"exam_id"`
	SessionID  uuid.UUID `json:"session_id"`
	StudentID  int       `json:"student_id"`
	Count      int       `json:"count"`
	Locked     bool      `json:"locked"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ReviewRequest asks a proctor to review a locked session manually.
type ReviewRequest struct {
	ExamID      uuid.UUID `json:"exam_id"`
	SessionID   uuid.UUID `json:"session_id"`
	StudentID   int       `json:"student_id"`
	Note        string    `json:"note,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// ReviewStatus enumerates proctor review states.
type ReviewStatus string

const (
	ReviewStatusPending   ReviewStatus = "PENDING"
	ReviewStatusReviewed  ReviewStatus = "REVIEWED"
	ReviewStatusDismissed ReviewStatus = "DISMISSED"
)

// ProctorReview is a persisted review request.
type ProctorReview struct {
	ID          int64        `json:"id"`
	ExamID      uuid.UUID    `json:"exam_id"`
	SessionID   uuid.UUID    `json:"session_id"`
	StudentID   int          `json:"student_id"`
	Note        string       `json:"note,omitempty"`
	Status      ReviewStatus `json:"status"`
	RequestedAt time.Time    `json:"requested_at"`
}
