package proctor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func strPtr(s string) *string { return &s }

func newTestStore(g *fakeGateway) *ResponseStore {
	return NewResponseStore(g, uuid.New(), 7, time.Second, nopLogger())
}

func TestResponseStoreMergesPatches(t *testing.T) {
	store := newTestStore(newFakeGateway())
	key := model.ResponseKey{Subject: 0, Question: 1}
	qid := uuid.New()

	on := true
	store.Set(key, qid, model.ResponsePatch{Bookmarked: &on})
	r := store.Set(key, qid, model.ResponsePatch{Answer: strPtr("B")})

	assert.Equal(t, "B", *r.Answer)
	assert.True(t, r.Bookmarked)
	assert.Equal(t, model.SyncPending, r.SyncState)
	assert.Equal(t, uint64(2), r.Version)

	r = store.Set(key, qid, model.ResponsePatch{ClearAnswer: true})
	assert.Nil(t, r.Answer)
	assert.True(t, r.Bookmarked)

	got, ok := store.Get(key)
	require.True(t, ok)
	assert.Nil(t, got.Answer, "explicitly blanked answer stays present")
	_, ok = store.Get(model.ResponseKey{Subject: 0, Question: 0})
	assert.False(t, ok)
	assert.Equal(t, 0, store.Answered())
}

func TestFlushKeepsFailedResponsesForRetry(t *testing.T) {
	g := newFakeGateway()
	store := newTestStore(g)

	failing := uuid.New()
	g.set(func(g *fakeGateway) {
		g.persistErr = func(rec model.ResponseRecord) error {
			if rec.QuestionID == failing {
				return errOffline
			}
			return nil
		}
	})

	store.Set(model.ResponseKey{Subject: 0, Question: 0}, uuid.New(), model.ResponsePatch{Answer: strPtr("A")})
	store.Set(model.ResponseKey{Subject: 0, Question: 1}, failing, model.ResponsePatch{Answer: strPtr("C")})
	store.Set(model.ResponseKey{Subject: 0, Question: 2}, uuid.New(), model.ResponsePatch{Answer: strPtr("D")})

	report := store.FlushAll(context.Background())
	assert.Equal(t, 3, report.Attempted)
	assert.Len(t, report.Synced, 2)
	assert.Equal(t, []model.ResponseKey{{Subject: 0, Question: 1}}, report.Failed)
	assert.False(t, report.Complete())

	r, ok := store.Get(model.ResponseKey{Subject: 0, Question: 1})
	require.True(t, ok)
	assert.Equal(t, model.SyncFailed, r.SyncState)
	assert.Equal(t, "C", *r.Answer)
	assert.Equal(t, 1, store.Unsynced())

	g.set(func(g *fakeGateway) { g.persistErr = nil })
	report = store.FlushAll(context.Background())
	assert.Equal(t, 1, report.Attempted, "synced responses are not sent again")
	assert.True(t, report.Complete())
	assert.Equal(t, 0, store.Unsynced())

	_, persist := g.counts()
	assert.Equal(t, 4, persist)
}

func TestFlushEditDuringCallStaysPending(t *testing.T) {
	g := newFakeGateway()
	store := newTestStore(g)
	key := model.ResponseKey{Subject: 1, Question: 0}
	qid := uuid.New()
	store.Set(key, qid, model.ResponsePatch{Answer: strPtr("A")})

	edited := false
	g.set(func(g *fakeGateway) {
		g.onPersist = func() {
			if !edited {
				edited = true
				store.Set(key, qid, model.ResponsePatch{Answer: strPtr("B")})
			}
		}
	})

	report := store.FlushAll(context.Background())
	assert.Equal(t, []model.ResponseKey{key}, report.Superseded)
	r, _ := store.Get(key)
	assert.Equal(t, model.SyncPending, r.SyncState)

	report = store.FlushAll(context.Background())
	assert.Equal(t, []model.ResponseKey{key}, report.Synced)

	g.mu.Lock()
	last := g.persisted[len(g.persisted)-1]
	g.mu.Unlock()
	assert.Equal(t, "B", *last.Answer)
}

func TestFlushAttemptsEveryItemWhenOffline(t *testing.T) {
	g := newFakeGateway()
	g.persistErr = func(model.ResponseRecord) error { return errOffline }
	store := newTestStore(g)

	for i := 0; i < 4; i++ {
		store.Set(model.ResponseKey{Subject: 0, Question: i}, uuid.New(), model.ResponsePatch{Answer: strPtr("A")})
	}

	report := store.FlushAll(context.Background())
	assert.Equal(t, 4, report.Attempted)
	assert.Len(t, report.Failed, 4)
	assert.Equal(t, 4, store.Answered())
	assert.Len(t, store.Snapshot(), 4)
}

func TestResponseStoreRestoreIsSyncedAndYieldsToLocalEdits(t *testing.T) {
	g := newFakeGateway()
	store := newTestStore(g)
	restoredKey := model.ResponseKey{Subject: 1, Question: 0}
	editedKey := model.ResponseKey{Subject: 1, Question: 1}
	qid := uuid.New()

	store.Set(editedKey, qid, model.ResponsePatch{Answer: strPtr("C")})
	store.Restore(restoredKey, model.Response{QuestionID: uuid.New(), Answer: strPtr("A")})
	store.Restore(editedKey, model.Response{QuestionID: qid, Answer: strPtr("D")})

	got, ok := store.Get(restoredKey)
	require.True(t, ok)
	assert.Equal(t, "A", *got.Answer)
	assert.Equal(t, model.SyncSynced, got.SyncState)

	got, _ = store.Get(editedKey)
	assert.Equal(t, "C", *got.Answer)
	assert.Equal(t, 1, store.Unsynced())

	report := store.FlushAll(context.Background())
	assert.Equal(t, 1, report.Attempted)
}
