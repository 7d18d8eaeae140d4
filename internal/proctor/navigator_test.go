package proctor

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestNavigatorSubjectIndexNeverDecreases(t *testing.T) {
	nav := NewSubjectNavigator([]model.Subject{
		subject("tps", "", 60, 4),
		subject("literasi", "", 60, 3),
		subject("matematika", "", 60, 5),
	})
	rng := rand.New(rand.NewSource(7))

	last := nav.SubjectIndex()
	for i := 0; i < 500; i++ {
		switch rng.Intn(5) {
		case 0:
			nav.Next()
		case 1:
			nav.Previous()
		case 2:
			_ = nav.Goto(rng.Intn(8) - 2)
		case 3:
			nav.AdvanceSubject(rng.Intn(2) == 0)
		case 4:
			nav.ForceAdvance(rng.Intn(4) - 1)
		}
		require.GreaterOrEqual(t, nav.SubjectIndex(), last)
		require.True(t, nav.InRange(nav.QuestionIndex()))
		last = nav.SubjectIndex()
	}
}

func TestNavigatorAdvanceRequiresConfirmation(t *testing.T) {
	nav := NewSubjectNavigator([]model.Subject{
		subject("tps", "", 60, 2),
		subject("literasi", "", 60, 2),
	})
	nav.Next()

	res := nav.AdvanceSubject(false)
	assert.Equal(t, AdvanceRequiresConfirmation, res.Kind)
	assert.Equal(t, 0, nav.SubjectIndex())
	assert.Equal(t, 1, nav.QuestionIndex())

	res = nav.AdvanceSubject(true)
	assert.Equal(t, AdvanceAdvanced, res.Kind)
	assert.Equal(t, 0, res.From)
	assert.Equal(t, 1, res.To)
	assert.True(t, res.PhaseEnded)
	assert.Equal(t, 0, nav.QuestionIndex())

	res = nav.AdvanceSubject(true)
	assert.Equal(t, AdvanceNoMoreSubjects, res.Kind)
	assert.Equal(t, 1, nav.SubjectIndex())
}

func TestNavigatorSharedPhase(t *testing.T) {
	nav := NewSubjectNavigator([]model.Subject{
		subject("penalaran umum", "tps", 1800, 2),
		subject("pengetahuan kuantitatif", "tps", 0, 2),
		subject("literasi indonesia", "literasi", 1200, 2),
	})

	assert.Equal(t, 30*time.Minute, nav.PhaseBudget(0))
	assert.Equal(t, 30*time.Minute, nav.PhaseBudget(1))
	assert.Equal(t, 20*time.Minute, nav.PhaseBudget(2))
	assert.Equal(t, []int{0, 0, 2}, []int{nav.PhaseStart(0), nav.PhaseStart(1), nav.PhaseStart(2)})

	next, ok := nav.NextPhaseStart()
	require.True(t, ok)
	assert.Equal(t, 2, next)

	res := nav.AdvanceSubject(true)
	assert.False(t, res.PhaseEnded, "subject inside a shared phase does not end it")

	res = nav.AdvanceSubject(true)
	assert.True(t, res.PhaseEnded)

	_, ok = nav.NextPhaseStart()
	assert.False(t, ok)
}

func TestNavigatorQuestionBounds(t *testing.T) {
	nav := NewSubjectNavigator([]model.Subject{subject("tps", "", 60, 2)})

	assert.False(t, nav.Previous())
	assert.True(t, nav.Next())
	assert.False(t, nav.Next())
	assert.Equal(t, 1, nav.QuestionIndex())

	assert.ErrorIs(t, nav.Goto(2), ErrSubjectOutOfRange)
	assert.ErrorIs(t, nav.Goto(-1), ErrSubjectOutOfRange)
	require.NoError(t, nav.Goto(0))

	nav.SetQuestionCount(0, 5)
	require.NoError(t, nav.Goto(4))
	nav.SetQuestionCount(0, 3)
	assert.Equal(t, 2, nav.QuestionIndex())
}

func TestNavigatorForceAdvanceRefusesBackwards(t *testing.T) {
	nav := NewSubjectNavigator([]model.Subject{
		subject("a", "", 60, 1),
		subject("b", "", 60, 1),
		subject("c", "", 60, 1),
	})

	_, ok := nav.ForceAdvance(2)
	require.True(t, ok)
	_, ok = nav.ForceAdvance(1)
	assert.False(t, ok)
	assert.Equal(t, 2, nav.SubjectIndex())
}

func TestNavigatorResumeAtOnlyMovesForward(t *testing.T) {
	nav := NewSubjectNavigator([]model.Subject{
		subject("tps", "", 60, 2),
		subject("literasi", "", 60, 2),
		subject("matematika", "", 60, 2),
	})

	assert.False(t, nav.ResumeAt(0))
	assert.False(t, nav.ResumeAt(3))
	require.True(t, nav.ResumeAt(2))
	assert.Equal(t, 2, nav.SubjectIndex())
	assert.Equal(t, 0, nav.QuestionIndex())
	assert.False(t, nav.ResumeAt(1))
}
