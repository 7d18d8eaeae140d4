package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// StudentPortalHandler handles student-facing endpoints outside the socket.
type StudentPortalHandler struct {
	sessionService *service.ExamSessionService
	examService    *service.ExamService
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(
	sessionService *service.ExamSessionService,
	examService *service.ExamService,
) *StudentPortalHandler {
	return &StudentPortalHandler{
		sessionService: sessionService,
		examService:    examService,
	}
}

// JoinExam godoc
// POST /api/v1/student/exams/:exam_id/join
// Validates entry token and creates a session (idempotent).
func (h *StudentPortalHandler) JoinExam(c *gin.Context) {
	claims, examID, ok := examRequest(c)
	if !ok {
		return
	}

	var req model.JoinExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.sessionService.JoinExam(c.Request.Context(), examID, claims.UserID, req.EntryToken)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// GetExamOutline godoc
// GET /api/v1/student/exams/:exam_id/outline
// Returns the subject sequence and time budgets from Redis.
// SECURITY: Requires a joined session for this exam to prevent IDOR.
func (h *StudentPortalHandler) GetExamOutline(c *gin.Context) {
	claims, examID, ok := examRequest(c)
	if !ok {
		return
	}

	if err := h.sessionService.VerifyActiveSession(c.Request.Context(), examID, claims.UserID); err != nil {
		failWith(c, err)
		return
	}

	outline, err := h.examService.GetOutline(c.Request.Context(), examID)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, outline)
}

// GetExamState godoc
// GET /api/v1/student/exams/:exam_id/state
// Returns the live session view so a reloaded page can resume: state,
// position, remaining time and the submission outcome once known.
func (h *StudentPortalHandler) GetExamState(c *gin.Context) {
	claims, examID, ok := examRequest(c)
	if !ok {
		return
	}

	state, err := h.sessionService.GetExamState(examID, claims.UserID)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}
