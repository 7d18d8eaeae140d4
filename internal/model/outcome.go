package model

import "github.com/google/uuid"

// SubmitReason names what triggered the terminal submission.
type SubmitReason string

const (
	ReasonTimeout     SubmitReason = "TIMEOUT"
	ReasonViolation   SubmitReason = "VIOLATION"
	ReasonUserExit    SubmitReason = "USER_EXIT"
	ReasonUserConfirm SubmitReason = "USER_CONFIRM"
)

// OutcomeKind classifies a submission outcome.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "SUCCESS"
	OutcomePartialFailure OutcomeKind = "PARTIAL_FAILURE"
	OutcomeHardFailure    OutcomeKind = "HARD_FAILURE"
)

// SubmissionOutcome is produced once per session and handed to the host.
type SubmissionOutcome struct {
	Kind     OutcomeKind  `json:"kind"`
	Reason   SubmitReason `json:"reason"`
	Score    *int         `json:"score,omitempty"`
	Total    *int         `json:"total,omitempty"`
	ResultID *uuid.UUID   `json:"result_id,omitempty"`
}

// FinalizeResult is what the finalize submission endpoint returns.
type FinalizeResult struct {
	Score          int       `json:"score"`
	TotalQuestions int       `json:"total_questions"`
	ResultID       uuid.UUID `json:"result_id"`
}
