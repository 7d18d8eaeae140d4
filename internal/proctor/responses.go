package proctor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/observability"
)

// ResponseStore buffers the candidate's responses in memory and syncs them
// to the remote store on demand. Local writes never wait on the network, and
// a failed sync only delays durability: nothing is dropped.
type ResponseStore struct {
	persister ResponsePersister
	examID    uuid.UUID
	studentID int
	timeout   time.Duration
	log       zerolog.Logger

	mu    sync.Mutex
	items map[model.ResponseKey]*model.Response

	// flushMu serializes flushes so a second caller only retries what the
	// first one left unsynced.
	flushMu sync.Mutex
}

// NewResponseStore creates an empty store. timeout bounds each persist call.
func NewResponseStore(persister ResponsePersister, examID uuid.UUID, studentID int, timeout time.Duration, log zerolog.Logger) *ResponseStore {
	return &ResponseStore{
		persister: persister,
		examID:    examID,
		studentID: studentID,
		timeout:   timeout,
		log:       log.With().Str("component", "response_store").Logger(),
		items:     make(map[model.ResponseKey]*model.Response),
	}
}

// Set merges patch into the response at key, creating it on first touch.
func (s *ResponseStore) Set(key model.ResponseKey, questionID uuid.UUID, patch model.ResponsePatch) model.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.items[key]
	if !ok {
		r = &model.Response{QuestionID: questionID}
		s.items[key] = r
	}

	if patch.ClearAnswer {
		r.Answer = nil
	} else if patch.Answer != nil {
		answer := *patch.Answer
		r.Answer = &answer
	}
	if patch.Bookmarked != nil {
		r.Bookmarked = *patch.Bookmarked
	}

	r.Version++
	r.SyncState = model.SyncPending
	return copyResponse(r)
}

// Restore loads a response that is already durable remotely. A local
// response at key wins.
func (s *ResponseStore) Restore(key model.ResponseKey, r model.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return
	}
	restored := r
	restored.Answer = copyAnswer(r.Answer)
	restored.SyncState = model.SyncSynced
	s.items[key] = &restored
}

// Get returns the response at key, if the candidate touched that question.
func (s *ResponseStore) Get(key model.ResponseKey) (model.Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[key]
	if !ok {
		return model.Response{}, false
	}
	return copyResponse(r), true
}

// Snapshot returns a copy of every response.
func (s *ResponseStore) Snapshot() map[model.ResponseKey]model.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.ResponseKey]model.Response, len(s.items))
	for k, r := range s.items {
		out[k] = copyResponse(r)
	}
	return out
}

// Answered counts responses holding an answer.
func (s *ResponseStore) Answered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.items {
		if r.Answer != nil {
			n++
		}
	}
	return n
}

// Unsynced counts responses not yet durable remotely.
func (s *ResponseStore) Unsynced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.items {
		if r.SyncState != model.SyncSynced {
			n++
		}
	}
	return n
}

type pendingItem struct {
	key     model.ResponseKey
	version uint64
	record  model.ResponseRecord
}

// FlushAll persists every response that is not synced, one call each. It
// never stops early: every pending item is attempted and the report lists
// the result per key. Safe to call concurrently and repeatedly.
func (s *ResponseStore) FlushAll(ctx context.Context) model.FlushReport {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	pending := s.collectPending()
	report := model.FlushReport{Attempted: len(pending)}

	for _, item := range pending {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.persister.PersistResponse(callCtx, item.record)
		cancel()

		s.mu.Lock()
		r := s.items[item.key]
		switch {
		case r.Version != item.version:
			// Edited while in flight; the newer version still needs a sync.
			report.Superseded = append(report.Superseded, item.key)
		case err != nil:
			r.SyncState = model.SyncFailed
			report.Failed = append(report.Failed, item.key)
		default:
			r.SyncState = model.SyncSynced
			report.Synced = append(report.Synced, item.key)
		}
		s.mu.Unlock()

		if err != nil {
			observability.FlushedResponses().WithLabelValues("failed").Inc()
			s.log.Debug().Err(err).Str("key", item.key.String()).Msg("Response persist failed")
		} else {
			observability.FlushedResponses().WithLabelValues("synced").Inc()
		}
	}

	if len(report.Failed) > 0 {
		s.log.Warn().
			Int("attempted", report.Attempted).
			Int("failed", len(report.Failed)).
			Msg("Flush incomplete, failed responses kept for retry")
	}
	return report
}

func (s *ResponseStore) collectPending() []pendingItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]pendingItem, 0, len(s.items))
	for k, r := range s.items {
		if r.SyncState == model.SyncSynced {
			continue
		}
		pending = append(pending, pendingItem{
			key:     k,
			version: r.Version,
			record: model.ResponseRecord{
				ExamID:     s.examID,
				StudentID:  s.studentID,
				QuestionID: r.QuestionID,
				Answer:     copyAnswer(r.Answer),
				Bookmarked: r.Bookmarked,
			},
		})
	}

	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i].key, pending[j].key
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		return a.Question < b.Question
	})
	return pending
}

func copyResponse(r *model.Response) model.Response {
	out := *r
	out.Answer = copyAnswer(r.Answer)
	return out
}

func copyAnswer(a *string) *string {
	if a == nil {
		return nil
	}
	v := *a
	return &v
}
