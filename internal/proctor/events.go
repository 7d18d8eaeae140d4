package proctor

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// EventKind names a host notification.
type EventKind string

const (
	EventWarning         EventKind = "WARNING"
	EventWarningCleared  EventKind = "WARNING_CLEARED"
	EventLocked          EventKind = "LOCKED"
	EventSubmitting      EventKind = "SUBMITTING"
	EventCompleted       EventKind = "COMPLETED"
	EventQuestionsLoaded EventKind = "QUESTIONS_LOADED"
	EventSubjectAdvanced EventKind = "SUBJECT_ADVANCED"
	EventPhaseStarted    EventKind = "PHASE_STARTED"
)

// Event is delivered to the EventSink after the controller lock is released.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind                  `json:"kind"`
	State     model.SessionState         `json:"state"`
	Count     int                        `json:"count,omitempty"`
	Remaining int                        `json:"remaining,omitempty"`
	Subject   int                        `json:"subject"`
	Deadline  *time.Time                 `json:"deadline,omitempty"`
	Advance   *AdvanceResult             `json:"advance,omitempty"`
	Questions []model.QuestionForStudent `json:"questions,omitempty"`
	Outcome   *model.SubmissionOutcome   `json:"outcome,omitempty"`
	Reason    model.SubmitReason         `json:"reason,omitempty"`
}

// EventSink receives controller notifications in order.
type EventSink interface {
	Emit(ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev Event)

// Emit calls f(ev).
func (f EventSinkFunc) Emit(ev Event) { f(ev) }

func dispatch(sink EventSink, events []Event) {
	if sink == nil {
		return
	}
	for _, ev := range events {
		sink.Emit(ev)
	}
}
