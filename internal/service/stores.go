package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamStore is the exam data the services read from PostgreSQL.
// Implemented by repository.ExamRepository.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListPublished(ctx context.Context) ([]model.Exam, error)
	ListSubjects(ctx context.Context, examID uuid.UUID) ([]model.Subject, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error
}

// QuestionStore is implemented by repository.QuestionRepository.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	ListBySubject(ctx context.Context, examID uuid.UUID, subject string) ([]model.Question, error)
}

// SessionStore is implemented by repository.ExamSessionRepository.
type SessionStore interface {
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.SessionRecord, error)
	Upsert(ctx context.Context, examID uuid.UUID, studentID int) (*model.SessionRecord, error)
}
