package model

import (
	"fmt"

	"github.com/google/uuid"
)

// SyncState tracks remote durability of a buffered response.
type SyncState string

const (
	SyncPending SyncState = "PENDING"
	SyncSynced  SyncState = "SYNCED"
	SyncFailed  SyncState = "FAILED"
)

// ResponseKey addresses a question by its position in the subject sequence.
type ResponseKey struct {
	Subject  int `json:"subject"`
	Question int `json:"question"`
}

func (k ResponseKey) String() string {
	return fmt.Sprintf("%d:%d", k.Subject, k.Question)
}

// Response is the candidate's recorded interaction with one question.
// A nil Answer on an existing Response means the answer was explicitly cleared.
type Response struct {
	QuestionID uuid.UUID `json:"question_id"`
	Answer     *string   `json:"answer"`
	Bookmarked bool      `json:"bookmarked"`
	SyncState  SyncState `json:"sync_state"`
	Version    uint64    `json:"version"`
}

// ResponsePatch is a partial update merged into a Response.
type ResponsePatch struct {
	Answer      *string
	ClearAnswer bool
	Bookmarked  *bool
}

// ResponseRecord is the payload of one response persistence call.
type ResponseRecord struct {
	ExamID     uuid.UUID `json:"exam_id"`
	StudentID  int       `json:"student_id"`
	QuestionID uuid.UUID `json:"q_id"`
	Answer     *string   `json:"answer"`
	Bookmarked bool      `json:"bookmarked"`
}

// FlushReport summarises one flush pass. Superseded keys were persisted but
// edited again while the call was in flight, so they remain pending.
type FlushReport struct {
	Attempted  int           `json:"attempted"`
	Synced     []ResponseKey `json:"synced"`
	Failed     []ResponseKey `json:"failed"`
	Superseded []ResponseKey `json:"superseded,omitempty"`
}

// Complete reports whether every attempted response is now synced.
func (r FlushReport) Complete() bool {
	return len(r.Failed) == 0 && len(r.Superseded) == 0
}
