package proctor

import (
	"strconv"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// AdvanceKind is the result of a subject advance request.
type AdvanceKind string

const (
	AdvanceRequiresConfirmation AdvanceKind = "REQUIRES_CONFIRMATION"
	AdvanceAdvanced             AdvanceKind = "ADVANCED"
	AdvanceNoMoreSubjects       AdvanceKind = "NO_MORE_SUBJECTS"
)

// AdvanceResult describes a subject advance. PhaseEnded is set when the
// subject left behind was the last one of its phase group.
type AdvanceResult struct {
	Kind       AdvanceKind `json:"kind"`
	From       int         `json:"from"`
	To         int         `json:"to"`
	PhaseEnded bool        `json:"phase_ended"`
}

// SubjectNavigator keeps the subject index monotonic and the question index
// inside the active subject. It is not safe for concurrent use; the
// controller owns it under its lock.
type SubjectNavigator struct {
	subjects []model.Subject
	counts   []int
	subject  int
	question int
}

// NewSubjectNavigator positions the navigator on the first question of the
// first subject. Question counts start at len(QuestionIDs).
func NewSubjectNavigator(subjects []model.Subject) *SubjectNavigator {
	counts := make([]int, len(subjects))
	for i, s := range subjects {
		counts[i] = len(s.QuestionIDs)
	}
	return &SubjectNavigator{subjects: subjects, counts: counts}
}

// SubjectIndex is the active subject.
func (n *SubjectNavigator) SubjectIndex() int { return n.subject }

// QuestionIndex is the current question within the active subject.
func (n *SubjectNavigator) QuestionIndex() int { return n.question }

// SubjectCount is the length of the subject sequence.
func (n *SubjectNavigator) SubjectCount() int { return len(n.subjects) }

// QuestionCount returns the number of questions known for subject i.
func (n *SubjectNavigator) QuestionCount(i int) int {
	if i < 0 || i >= len(n.counts) {
		return 0
	}
	return n.counts[i]
}

// SetQuestionCount records how many questions subject i has, once loaded.
func (n *SubjectNavigator) SetQuestionCount(i, count int) {
	if i < 0 || i >= len(n.counts) || count < 0 {
		return
	}
	n.counts[i] = count
	if i == n.subject && n.question >= count && count > 0 {
		n.question = count - 1
	}
}

// Next moves to the following question. It reports false at the end.
func (n *SubjectNavigator) Next() bool {
	if n.question+1 >= n.counts[n.subject] {
		return false
	}
	n.question++
	return true
}

// Previous moves to the preceding question. It reports false at the start.
func (n *SubjectNavigator) Previous() bool {
	if n.question == 0 {
		return false
	}
	n.question--
	return true
}

// Goto jumps to question i of the active subject.
func (n *SubjectNavigator) Goto(i int) error {
	if !n.InRange(i) {
		return ErrSubjectOutOfRange
	}
	n.question = i
	return nil
}

// InRange reports whether i addresses a question of the active subject.
func (n *SubjectNavigator) InRange(i int) bool {
	return i >= 0 && i < n.counts[n.subject]
}

// IsLastSubject reports whether the active subject is the final one.
func (n *SubjectNavigator) IsLastSubject() bool {
	return n.subject >= len(n.subjects)-1
}

// AdvanceSubject moves to the next subject. Without confirmation it only
// reports that confirmation is needed, because the move is irreversible.
func (n *SubjectNavigator) AdvanceSubject(confirmed bool) AdvanceResult {
	if n.IsLastSubject() {
		return AdvanceResult{Kind: AdvanceNoMoreSubjects, From: n.subject, To: n.subject}
	}
	if !confirmed {
		return AdvanceResult{Kind: AdvanceRequiresConfirmation, From: n.subject, To: n.subject + 1}
	}
	return n.advanceTo(n.subject + 1)
}

// NextPhaseStart returns the index of the first subject after the active
// phase group.
func (n *SubjectNavigator) NextPhaseStart() (int, bool) {
	key := n.phaseKey(n.subject)
	for i := n.subject + 1; i < len(n.subjects); i++ {
		if n.phaseKey(i) != key {
			return i, true
		}
	}
	return 0, false
}

// ForceAdvance jumps to subject i without confirmation. Used when a phase
// budget runs out. Targets at or before the active subject are refused.
func (n *SubjectNavigator) ForceAdvance(i int) (AdvanceResult, bool) {
	if i <= n.subject || i >= len(n.subjects) {
		return AdvanceResult{}, false
	}
	return n.advanceTo(i), true
}

func (n *SubjectNavigator) advanceTo(i int) AdvanceResult {
	from := n.subject
	ended := n.phaseKey(from) != n.phaseKey(i)
	n.subject = i
	n.question = 0
	return AdvanceResult{Kind: AdvanceAdvanced, From: from, To: i, PhaseEnded: ended}
}

// ResumeAt moves forward to subject i, for an attempt restored from its
// persisted position. Targets at or before the active subject are refused.
func (n *SubjectNavigator) ResumeAt(i int) bool {
	if i <= n.subject || i >= len(n.subjects) {
		return false
	}
	n.subject = i
	n.question = 0
	return true
}

// PhaseStart is the index of the first subject in the phase group
// containing subject i. It identifies the phase.
func (n *SubjectNavigator) PhaseStart(i int) int {
	key := n.phaseKey(i)
	for i > 0 && n.phaseKey(i-1) == key {
		i--
	}
	return i
}

// PhaseBudget is the time budget of the phase group containing subject i.
func (n *SubjectNavigator) PhaseBudget(i int) time.Duration {
	return time.Duration(n.subjects[n.PhaseStart(i)].BudgetSeconds) * time.Second
}

func (n *SubjectNavigator) phaseKey(i int) string {
	if p := n.subjects[i].Phase; p != "" {
		return p
	}
	return "#" + strconv.Itoa(i)
}
