package websocket

import (
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPreflight      Action = "preflight"
	ActionLoadQuestions  Action = "load_questions"
	ActionAnswer         Action = "answer"
	ActionClear          Action = "clear"
	ActionBookmark       Action = "bookmark"
	ActionNavigate       Action = "navigate"
	ActionAdvanceSubject Action = "advance_subject"
	ActionFullscreen     Action = "fullscreen"
	ActionAcknowledge    Action = "acknowledge"
	ActionSubmit         Action = "submit"
	ActionRetrySubmit    Action = "retry_submit"
	ActionRequestReview  Action = "request_review"
	ActionState          Action = "state"
	ActionPing           Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// PreflightRequest starts the session after the environment checks.
type PreflightRequest struct {
	Action Action                `json:"action"`
	Report model.PreflightReport `json:"report"`
}

// AnswerRequest selects an option for a question of the active subject.
type AnswerRequest struct {
	Action Action `json:"action"`
	Index  *int   `json:"index" binding:"required,min=0"`
	Option string `json:"option" binding:"required,option"`
}

// ClearRequest removes the answer of a question.
type ClearRequest struct {
	Action Action `json:"action"`
	Index  *int   `json:"index" binding:"required,min=0"`
}

// BookmarkRequest flags or unflags a question for review.
type BookmarkRequest struct {
	Action     Action `json:"action"`
	Index      *int   `json:"index" binding:"required,min=0"`
	Bookmarked bool   `json:"bookmarked"`
}

// Navigation directions.
const (
	DirectionNext     = "next"
	DirectionPrevious = "prev"
	DirectionGoto     = "goto"
)

// NavigateRequest moves within the active subject. Index is required for goto.
type NavigateRequest struct {
	Action    Action `json:"action"`
	Direction string `json:"direction" binding:"required,oneof=next prev goto"`
	Index     *int   `json:"index" binding:"omitempty,min=0"`
}

// AdvanceSubjectRequest moves to the next subject. The first call without
// confirmation only reports whether confirmation is needed. From names the
// subject the client is leaving; the move is refused when the session has
// already left it.
type AdvanceSubjectRequest struct {
	Action    Action `json:"action"`
	Confirmed bool   `json:"confirmed"`
	From      *int   `json:"from" binding:"omitempty,min=0"`
}

// FullscreenRequest reports the browser's full-screen state.
type FullscreenRequest struct {
	Action Action `json:"action"`
	Active *bool  `json:"active" binding:"required"`
}

// SubmitRequest is sent by the client to finish the exam.
type SubmitRequest struct {
	Action Action             `json:"action"`
	Reason model.SubmitReason `json:"reason" binding:"required,oneof=USER_EXIT USER_CONFIRM"`
}

// ReviewRequest asks for a proctor review of a locked session.
type ReviewRequest struct {
	Action Action `json:"action"`
	Note   string `json:"note" binding:"max=500"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError             Event = "error"
	EventState             Event = "state"
	EventQuestions         Event = "questions"
	EventSaved             Event = "saved"
	EventNavigated         Event = "navigated"
	EventAdvance           Event = "advance"
	EventOutcome           Event = "outcome"
	EventReviewRequested   Event = "review_requested"
	EventFullscreenRequest Event = "fullscreen_request"
	EventFullscreenExit    Event = "fullscreen_exit"
	EventAcknowledged      Event = "acknowledged"
	EventPong              Event = "pong"

	// Session lifecycle notifications.
	EventWarning         Event = "warning"
	EventWarningCleared  Event = "warning_cleared"
	EventLocked          Event = "locked"
	EventSubmitting      Event = "submitting"
	EventCompleted       Event = "completed"
	EventQuestionsLoaded Event = "questions_loaded"
	EventSubjectAdvanced Event = "subject_advanced"
	EventPhaseStarted    Event = "phase_started"
)

// SessionEvents maps controller notifications to socket events.
var SessionEvents = map[proctor.EventKind]Event{
	proctor.EventWarning:         EventWarning,
	proctor.EventWarningCleared:  EventWarningCleared,
	proctor.EventLocked:          EventLocked,
	proctor.EventSubmitting:      EventSubmitting,
	proctor.EventCompleted:       EventCompleted,
	proctor.EventQuestionsLoaded: EventQuestionsLoaded,
	proctor.EventSubjectAdvanced: EventSubjectAdvanced,
	proctor.EventPhaseStarted:    EventPhaseStarted,
}

type SessionEventResponse struct {
	Event Event         `json:"event"`
	Data  proctor.Event `json:"data"`
}

type StateResponse struct {
	Event Event            `json:"event"`
	Data  proctor.Snapshot `json:"data"`
}

type QuestionsResponse struct {
	Event     Event                      `json:"event"`
	Subject   int                        `json:"subject"`
	Questions []model.QuestionForStudent `json:"questions"`
}

type SavedResponse struct {
	Event    Event          `json:"event"`
	Index    int            `json:"index"`
	Response model.Response `json:"response"`
}

type NavigatedResponse struct {
	Event Event `json:"event"`
	Index int   `json:"index"`
}

type AdvanceResponse struct {
	Event  Event                 `json:"event"`
	Result proctor.AdvanceResult `json:"result"`
}

type OutcomeResponse struct {
	Event   Event                   `json:"event"`
	Outcome model.SubmissionOutcome `json:"outcome"`
}

type AckResponse struct {
	Event Event `json:"event"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code,omitempty"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
