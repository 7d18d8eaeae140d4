package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

var sessionErrors = []struct {
	err    error
	status int
	code   response.ErrCode
}{
	{proctor.ErrPreflightFailed, http.StatusUnprocessableEntity, response.ErrPreflightFailed},
	{proctor.ErrAlreadyStarted, http.StatusConflict, response.ErrAlreadyStarted},
	{proctor.ErrNotActive, http.StatusConflict, response.ErrSessionNotActive},
	{proctor.ErrInputBlocked, http.StatusConflict, response.ErrInputBlocked},
	{proctor.ErrNotWarning, http.StatusConflict, response.ErrNoWarning},
	{proctor.ErrSubjectOutOfRange, http.StatusBadRequest, response.ErrQuestionOutOfRange},
	{proctor.ErrInvalidOption, http.StatusBadRequest, response.ErrInvalidOption},
	{proctor.ErrNotLocked, http.StatusConflict, response.ErrNotLocked},
	{proctor.ErrNoRetry, http.StatusConflict, response.ErrNoRetry},
	{proctor.ErrNoSubjects, http.StatusUnprocessableEntity, response.ErrNoQuestions},
	{proctor.ErrInvalidReason, http.StatusBadRequest, response.ErrInvalidReason},
	{proctor.ErrSessionClosed, http.StatusGone, response.ErrSessionClosed},
	{proctor.ErrQuestionsNotReady, http.StatusConflict, response.ErrQuestionsNotReady},
	{proctor.ErrAttemptLocked, http.StatusConflict, response.ErrSessionLocked},
	{proctor.ErrSubjectMoved, http.StatusConflict, response.ErrSubjectMoved},
	{service.ErrNoSession, http.StatusNotFound, response.ErrNoSession},
	{service.ErrSessionCompleted, http.StatusConflict, response.ErrSessionCompleted},
	{service.ErrNoLiveSession, http.StatusNotFound, response.ErrNoLiveSession},
	{service.ErrExamNotAvailable, http.StatusForbidden, response.ErrExamNotAvailable},
	{service.ErrInvalidEntryToken, http.StatusForbidden, response.ErrInvalidEntryToken},
	{service.ErrExamNotPublished, http.StatusForbidden, response.ErrExamNotPublished},
	{service.ErrExamNotDraft, http.StatusBadRequest, response.ErrExamNotDraft},
	{service.ErrNoQuestions, http.StatusBadRequest, response.ErrNoQuestions},
	{service.ErrNoSubjects, http.StatusBadRequest, response.ErrNoQuestions},
	{service.ErrReviewNotFound, http.StatusNotFound, response.ErrNotFound},
	{pgx.ErrNoRows, http.StatusNotFound, response.ErrNotFound},
}

// sessionErrorCode maps a session or service error to an HTTP status and
// error code. Unknown errors are reported as upstream failures.
func sessionErrorCode(err error) (int, response.ErrCode) {
	for _, e := range sessionErrors {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusBadGateway, response.ErrUpstream
}

// failWith writes the mapped error response. Unmapped errors are internal.
func failWith(c *gin.Context, err error) {
	status, code := sessionErrorCode(err)
	if code == response.ErrUpstream {
		status, code = http.StatusInternalServerError, response.ErrInternal
	}
	response.Fail(c, status, code)
}
