package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

var ErrReviewNotFound = errors.New("review request not found")

// MonitorEventType names a live monitor message.
type MonitorEventType string

const (
	MonitorEventJoined          MonitorEventType = "joined"
	MonitorEventViolation       MonitorEventType = "violation"
	MonitorEventSubmitted       MonitorEventType = "submitted"
	MonitorEventReviewRequested MonitorEventType = "review_requested"
)

// MonitorEvent is published on the exam monitor channel and forwarded
// verbatim to every proctor SSE stream.
type MonitorEvent struct {
	Type      MonitorEventType `json:"type"`
	StudentID int              `json:"student_id"`
	Count     int              `json:"count,omitempty"`
	Locked    bool             `json:"locked,omitempty"`
	Score     *float64         `json:"score,omitempty"`
	Note      string           `json:"note,omitempty"`
}

func publishMonitorEvent(ctx context.Context, rdb *redis.Client, examID uuid.UUID, ev MonitorEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), data).Err()
}

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
	sessionRepo *repository.ExamSessionRepository
	reviewRepo  *repository.ReviewRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(
	monitorRepo *repository.MonitorRepository,
	sessionRepo *repository.ExamSessionRepository,
	reviewRepo *repository.ReviewRepository,
) *MonitorService {
	return &MonitorService{
		monitorRepo: monitorRepo,
		sessionRepo: sessionRepo,
		reviewRepo:  reviewRepo,
	}
}

// StudentProgressSnapshot holds the answered and violation counts of every
// in-progress student.
type StudentProgressSnapshot struct {
	Students        []repository.MonitorStudent
	AnsweredCounts  map[int]int64 // student_id → answered_count
	ViolationCounts map[int]int64 // student_id → violation_count
	TotalViolations int64
}

// GetStudentProgress returns live counts for the in-progress students.
// Persisted violation counts are fetched in parallel and fill in students
// whose Redis counter is gone.
func (s *MonitorService) GetStudentProgress(ctx context.Context, examID uuid.UUID) (*StudentProgressSnapshot, error) {
	students, err := s.monitorRepo.GetInProgressStudents(ctx, examID)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(students))
	for i, st := range students {
		ids[i] = st.StudentID
	}

	var (
		answered, live, persisted map[int]int64
		liveErr, persistedErr     error
		wg                        sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		answered, live, liveErr = s.monitorRepo.GetLiveCounts(ctx, examID, ids)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		persisted, persistedErr = s.monitorRepo.GetViolationCounts(ctx, examID)
	}()

	wg.Wait()

	// Live counts are critical; persisted counts are best-effort
	if liveErr != nil {
		return nil, liveErr
	}

	snapshot := &StudentProgressSnapshot{
		Students:        students,
		AnsweredCounts:  answered,
		ViolationCounts: live,
	}
	if persistedErr == nil {
		for sid, n := range persisted {
			if n > snapshot.ViolationCounts[sid] {
				snapshot.ViolationCounts[sid] = n
			}
		}
	}
	for _, n := range snapshot.ViolationCounts {
		snapshot.TotalViolations += n
	}
	return snapshot, nil
}

// GetExamResults lists every candidate's session outcome for an exam.
func (s *MonitorService) GetExamResults(ctx context.Context, examID uuid.UUID) ([]repository.ExamResult, error) {
	return s.sessionRepo.ListByExam(ctx, examID)
}

// ListReviews returns the review requests of an exam with the given status.
func (s *MonitorService) ListReviews(ctx context.Context, examID uuid.UUID, status model.ReviewStatus) ([]model.ProctorReview, error) {
	reviews, err := s.reviewRepo.ListByExam(ctx, examID, status)
	if err != nil {
		return nil, err
	}
	if reviews == nil {
		reviews = []model.ProctorReview{}
	}
	return reviews, nil
}

// ResolveReview marks a review request as reviewed or dismissed.
func (s *MonitorService) ResolveReview(ctx context.Context, examID uuid.UUID, id int64, status model.ReviewStatus) error {
	ok, err := s.reviewRepo.UpdateStatus(ctx, examID, id, status)
	if err != nil {
		return err
	}
	if !ok {
		return ErrReviewNotFound
	}
	return nil
}
