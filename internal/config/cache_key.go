package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey holds the JTI of the student's single valid token
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("student:%d:session", studentID)
}

// StudentExamSessionStartKey returns the cache key for a student's exam session start
func (r *CacheKeyStruct) StudentExamSessionStartKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:session_start", studentID, examID)
}

// StudentAnswersKey returns the hash of question ID to answer label
func (r *CacheKeyStruct) StudentAnswersKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:answers", studentID, examID)
}

// StudentBookmarksKey returns the set of bookmarked question IDs
func (r *CacheKeyStruct) StudentBookmarksKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:bookmarks", studentID, examID)
}

// StudentViolationsKey returns the counter of recorded full-screen exits
func (r *CacheKeyStruct) StudentViolationsKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:violations", studentID, examID)
}

// StudentProgressKey returns the hash holding the active subject and the start of its phase
func (r *CacheKeyStruct) StudentProgressKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:progress", studentID, examID)
}

// StudentFinalizedKey marks a finalized attempt so a repeated finalize returns the stored result
func (r *CacheKeyStruct) StudentFinalizedKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:finalized", studentID, examID)
}

// ExamOutlineKey returns the cache key for an exam's subject sequence
func (r *CacheKeyStruct) ExamOutlineKey(examID string) string {
	return fmt.Sprintf("exam:%s:outline", examID)
}

// SubjectPayloadKey returns the cache key for one subject's questions
func (r *CacheKeyStruct) SubjectPayloadKey(examID, subject string) string {
	return fmt.Sprintf("exam:%s:subject:%s:payload", examID, subject)
}

// ExamAnswerKey returns the cache key for an exam's answer
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// StudentActiveExamKey returns the cache key for a student's currently active exam
func (r *CacheKeyStruct) StudentActiveExamKey(studentID int) string {
	return fmt.Sprintf("student:%d:active_exam", studentID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// RateLimitKey returns the request counter of one limiter window
func (r *CacheKeyStruct) RateLimitKey(scope, subject string, window int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", scope, subject, window)
}

var CacheKey = NewCacheKeyStruct()
