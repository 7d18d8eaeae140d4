// Package proctor runs a timed, proctored exam session: it enforces the
// full-screen environment, escalates integrity violations, buffers answers
// against a remote store and drives the final submission.
package proctor

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Domain errors.
var (
	ErrPreflightFailed   = errors.New("preflight check failed")
	ErrAlreadyStarted    = errors.New("session already started")
	ErrNotActive         = errors.New("session does not accept input")
	ErrInputBlocked      = errors.New("input blocked until the warning is acknowledged")
	ErrNotWarning        = errors.New("no warning to acknowledge")
	ErrSubjectOutOfRange = errors.New("question index out of range for the active subject")
	ErrInvalidOption     = errors.New("answer is not one of the question's options")
	ErrNotLocked         = errors.New("proctor review is only available for a locked session")
	ErrNoRetry           = errors.New("no failed submission to retry")
	ErrNoSubjects        = errors.New("exam has no subjects")
	ErrInvalidReason     = errors.New("reason cannot be requested by the candidate")
	ErrSessionClosed     = errors.New("session closed")
	ErrQuestionsNotReady = errors.New("questions for the active subject are not loaded")
	ErrAttemptLocked     = errors.New("attempt is locked after repeated full-screen exits")
	ErrSubjectMoved      = errors.New("active subject changed before the advance was confirmed")
)

// StatusFetcher returns the subject sequence and any known result identifier.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamOutline, error)
}

// QuestionFetcher returns the ordered questions of one subject.
type QuestionFetcher interface {
	FetchQuestions(ctx context.Context, examID uuid.UUID, subject string) ([]model.Question, error)
}

// ResponsePersister stores one response. Repeat calls for the same question overwrite.
type ResponsePersister interface {
	PersistResponse(ctx context.Context, rec model.ResponseRecord) error
}

// ViolationLogger records one escalation event. Callers never retry it.
type ViolationLogger interface {
	LogViolation(ctx context.Context, rec model.ViolationRecord) error
}

// Finalizer converts the buffered responses into a graded result.
type Finalizer interface {
	Finalize(ctx context.Context, examID uuid.UUID, studentID int) (*model.FinalizeResult, error)
}

// ReviewRequester records a manual proctor review request.
type ReviewRequester interface {
	RequestReview(ctx context.Context, req model.ReviewRequest) error
}

// ProgressRecorder stores the active subject and the start of its phase.
type ProgressRecorder interface {
	RecordProgress(ctx context.Context, examID uuid.UUID, studentID int, p model.PhaseProgress) error
}

// Gateway bundles every remote endpoint a session talks to.
type Gateway interface {
	StatusFetcher
	QuestionFetcher
	ResponsePersister
	ViolationLogger
	Finalizer
	ReviewRequester
	ProgressRecorder
}

// FullscreenMonitor is the platform full-screen control. OnChange returns
// the function that removes the subscription.
type FullscreenMonitor interface {
	OnChange(fn func(inFullscreen bool)) (unsubscribe func())
	Enter() error
	Exit() error
}
