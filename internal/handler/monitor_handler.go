package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

type MonitorHandler struct {
	rdb            *redis.Client
	examService    *service.ExamService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(
	rdb *redis.Client,
	examService *service.ExamService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		examService:    examService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// monitorStudent is one row of the proctor dashboard.
type monitorStudent struct {
	StudentID      int                 `json:"student_id"`
	Name           string              `json:"name"`
	NISN           string              `json:"nisn"`
	Status         model.SessionStatus `json:"status"`
	Score          *float64            `json:"score,omitempty"`
	StartedAt      time.Time           `json:"started_at"`
	AnsweredCount  int64               `json:"answered_count"`
	ViolationCount int64               `json:"violation_count"`
	Locked         bool                `json:"locked"`
}

// MonitorExamSSE godoc
// GET /api/v1/proctor/exams/:exam_id/monitor
// Streams join, violation, submission and review events of one exam.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.examService.GetByID(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendInitialSnapshot(c, reqCtx, exam)

	channelName := config.CacheKey.ExamMonitorChannel(examID.String())
	pubsub := h.rdb.Subscribe(reqCtx, channelName)
	defer pubsub.Close()

	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refreshes until some student event proves there is something to show.
	hasStudents := false

	h.log.Info().Str("exam_id", examID.String()).Msg("Proctor attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Events are published as JSON already; forward them untouched.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			hasStudents = true

		case <-refreshTicker.C:
			if !hasStudents {
				continue
			}
			h.sendRefresh(c, reqCtx, examID)

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendInitialSnapshot gathers data and writes the first SSE event.
func (h *MonitorHandler) sendInitialSnapshot(c *gin.Context, ctx context.Context, exam *model.Exam) {
	fetchCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	results, err := h.monitorService.GetExamResults(fetchCtx, exam.ID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch exam results for snapshot")
	}

	var totalInProgress, totalCompleted int
	students := make([]monitorStudent, 0, len(results))
	for _, res := range results {
		switch res.Status {
		case model.SessionStatusInProgress:
			totalInProgress++
		case model.SessionStatusCompleted:
			totalCompleted++
		}
		students = append(students, monitorStudent{
			StudentID:      res.StudentID,
			Name:           res.Name,
			NISN:           res.NISN,
			Status:         res.Status,
			Score:          res.FinalScore,
			StartedAt:      res.StartedAt,
			ViolationCount: int64(res.ViolationCount),
			Locked:         res.Locked,
		})
	}

	var totalViolations int64
	if progress, err := h.monitorService.GetStudentProgress(fetchCtx, exam.ID); err == nil {
		totalViolations = progress.TotalViolations
		for i, s := range students {
			if n, ok := progress.AnsweredCounts[s.StudentID]; ok {
				students[i].AnsweredCount = n
			}
			if n, ok := progress.ViolationCounts[s.StudentID]; ok && n > students[i].ViolationCount {
				students[i].ViolationCount = n
			}
		}
	}

	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"exam": gin.H{
				"id":       exam.ID.String(),
				"title":    exam.Title,
				"duration": exam.DurationMinutes,
			},
			"stats": gin.H{
				"total_joined":      len(results),
				"total_in_progress": totalInProgress,
				"total_completed":   totalCompleted,
				"total_violations":  totalViolations,
			},
			"students": students,
		},
	})
	c.Writer.Flush()
}

// sendRefresh polls DB+Redis for current progress and sends a compact refresh event.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, examID uuid.UUID) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetStudentProgress(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch student progress for refresh")
		return
	}

	rows := make([]gin.H, 0, len(progress.Students))
	for _, st := range progress.Students {
		rows = append(rows, gin.H{
			"student_id":      st.StudentID,
			"answered_count":  progress.AnsweredCounts[st.StudentID],
			"violation_count": progress.ViolationCounts[st.StudentID],
			"locked":          st.Locked,
		})
	}

	c.SSEvent("message", gin.H{
		"type":             "refresh",
		"total_violations": progress.TotalViolations,
		"students":         rows,
	})
	c.Writer.Flush()
}

// ListReviews godoc
// GET /api/v1/proctor/exams/:exam_id/reviews?status=PENDING
func (h *MonitorHandler) ListReviews(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	status := model.ReviewStatus(c.DefaultQuery("status", string(model.ReviewStatusPending)))
	switch status {
	case model.ReviewStatusPending, model.ReviewStatusReviewed, model.ReviewStatusDismissed:
	default:
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"status": "status must be one of [PENDING REVIEWED DISMISSED]",
		})
		return
	}

	reviews, err := h.monitorService.ListReviews(c.Request.Context(), examID, status)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"reviews": reviews})
}

// ResolveReviewRequest closes a pending review.
type ResolveReviewRequest struct {
	Status model.ReviewStatus `json:"status" binding:"required,oneof=REVIEWED DISMISSED"`
}

// ResolveReview godoc
// PATCH /api/v1/proctor/exams/:exam_id/reviews/:review_id
func (h *MonitorHandler) ResolveReview(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	reviewID, err := strconv.ParseInt(c.Param("review_id"), 10, 64)
	if err != nil || reviewID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req ResolveReviewRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.monitorService.ResolveReview(c.Request.Context(), examID, reviewID, req.Status); err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "review resolved"})
}
