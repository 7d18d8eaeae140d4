package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// ExamHandler handles proctor-side exam administration.
type ExamHandler struct {
	examService    *service.ExamService
	monitorService *service.MonitorService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService, monitorService *service.MonitorService) *ExamHandler {
	return &ExamHandler{
		examService:    examService,
		monitorService: monitorService,
	}
}

// PublishExam godoc
// POST /api/v1/proctor/exams/:exam_id/publish
// Publishes an exam: caches outline, subject papers and answer key to Redis.
func (h *ExamHandler) PublishExam(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.examService.Publish(c.Request.Context(), examID); err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "exam published successfully"})
}

// RefreshExamCache godoc
// POST /api/v1/proctor/exams/:exam_id/refresh-cache
// Rebuilds the Redis cache of a published exam after question edits.
func (h *ExamHandler) RefreshExamCache(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.examService.RefreshCache(c.Request.Context(), examID); err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "exam cache refreshed"})
}

// GetExamResults godoc
// GET /api/v1/proctor/exams/:exam_id/results
// Lists every candidate's score, violation count and lock state.
func (h *ExamHandler) GetExamResults(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	results, err := h.monitorService.GetExamResults(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if results == nil {
		results = []repository.ExamResult{}
	}

	response.Success(c, http.StatusOK, gin.H{"results": results})
}
