package model

import (
	"github.com/google/uuid"
)

// Question represents a single exam question. Options holds the ordered
// option labels.
type Question struct {
	ID            uuid.UUID `json:"id"`
	ExamID        uuid.UUID `json:"exam_id"`
	Subject       string    `json:"subject"`
	QuestionText  string    `json:"question_text"`
	Options       []string  `json:"options"`
	CorrectOption string    `json:"correct_option,omitempty"`
	OrderNum      int       `json:"order_num"`
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID           uuid.UUID `json:"id"`
	QuestionText string    `json:"question_text"`
	Options      []string  `json:"options"`
	OrderNum     int       `json:"order_num"`
}

// ForStudent strips the answer key from q.
func (q Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:           q.ID,
		QuestionText: q.QuestionText,
		Options:      q.Options,
		OrderNum:     q.OrderNum,
	}
}

// HasOption reports whether label is one of the question's options.
// A question without options (essay) accepts any label.
func (q Question) HasOption(label string) bool {
	if len(q.Options) == 0 {
		return true
	}
	for _, o := range q.Options {
		if o == label {
			return true
		}
	}
	return false
}
