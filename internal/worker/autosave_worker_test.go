package worker

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/service"
)

func strPtr(s string) *string { return &s }

func TestLatestAnswersKeepsLastWritePerQuestion(t *testing.T) {
	exam := uuid.New().String()
	q1, q2 := uuid.New().String(), uuid.New().String()

	keys, latest, err := latestAnswers([]service.AnswerJob{
		{StudentID: 7, ExamID: exam, QID: q1, Answer: strPtr("A")},
		{StudentID: 7, ExamID: exam, QID: q2, Answer: strPtr("C")},
		{StudentID: 7, ExamID: exam, QID: q1, Answer: nil, Bookmarked: true},
	})
	require.NoError(t, err)
	require.Len(t, keys, 2)

	first := latest[keys[0]]
	assert.Equal(t, q1, first.QID)
	assert.Nil(t, first.Answer)
	assert.True(t, first.Bookmarked)
	assert.Equal(t, "C", *latest[keys[1]].Answer)
}

func TestLatestAnswersRejectsBadIDs(t *testing.T) {
	_, _, err := latestAnswers([]service.AnswerJob{{StudentID: 1, ExamID: "nope", QID: uuid.New().String()}})
	assert.True(t, errors.Is(err, errMalformed))
}
