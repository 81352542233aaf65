package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/cgast/exemplar/pkg/sink"
	"github.com/cgast/exemplar/pkg/store"
	"github.com/cgast/exemplar/pkg/trial"
)

var _ sink.Sink = (*store.Store)(nil)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func record(session, trialID string, index int) trial.Record {
	return trial.Record{
		SessionID:     session,
		ParticipantID: "p-" + session,
		StudyID:       "study",
		TrialID:       trialID,
		Index:         index,
		Description:   "digits",
		Pattern:       `\d+`,
		Kind:          trial.KindElicitation,
		Examples:      []trial.RecordedExample{{Text: "42", Valid: true}},
		ElapsedMs:     1200,
		StartedAt:     base.Add(time.Duration(index) * time.Minute),
		CompletedAt:   base.Add(time.Duration(index)*time.Minute + 1200*time.Millisecond),
	}
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t)
	want := record("s1", "t1", 0)

	gt.NoError(t, s.Put(want))
	got, err := s.Get("s1", "t1")
	gt.NoError(t, err)
	gt.Equal(t, got.Pattern, want.Pattern)
	gt.Equal(t, got.Examples, want.Examples)
	gt.True(t, got.CompletedAt.Equal(want.CompletedAt))
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	gt.NoError(t, s.Put(record("s1", "t1", 0)))

	_, err := s.Get("s1", "missing")
	gt.True(t, errors.Is(err, store.ErrNotFound))

	_, err = s.Get("nope", "t1")
	gt.True(t, errors.Is(err, store.ErrNotFound))

	_, err = s.List("nope")
	gt.True(t, errors.Is(err, store.ErrNotFound))
}

func TestPutRequiresIDs(t *testing.T) {
	s := newTestStore(t)
	gt.Error(t, s.Put(record("", "t1", 0)))
	gt.Error(t, s.Put(record("s1", "", 0)))
}

func TestListOrderedByIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	gt.NoError(t, s.Emit(ctx, record("s1", "c", 2)))
	gt.NoError(t, s.Emit(ctx, record("s1", "a", 0)))
	gt.NoError(t, s.Emit(ctx, record("s1", "b", 1)))
	gt.NoError(t, s.Emit(ctx, record("s2", "x", 0)))

	got, err := s.List("s1")
	gt.NoError(t, err)
	gt.A(t, got).Length(3)
	gt.Equal(t, got[0].TrialID, "a")
	gt.Equal(t, got[1].TrialID, "b")
	gt.Equal(t, got[2].TrialID, "c")
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)

	gt.NoError(t, s.Put(record("s1", "a", 0)))
	gt.NoError(t, s.Put(record("s1", "b", 3)))
	gt.NoError(t, s.Put(record("s1", "b", 3)))
	gt.NoError(t, s.Put(record("s2", "a", 5)))

	sessions, err := s.Sessions()
	gt.NoError(t, err)
	gt.A(t, sessions).Length(2)

	// s2's only record completed last.
	gt.Equal(t, sessions[0].ID, "s2")
	gt.Equal(t, sessions[1].ID, "s1")
	gt.Equal(t, sessions[1].Records, 2)
	gt.Equal(t, sessions[1].ParticipantID, "p-s1")
	gt.True(t, sessions[1].FirstSeen.Equal(record("s1", "a", 0).CompletedAt))
	gt.True(t, sessions[1].LastSeen.Equal(record("s1", "b", 3).CompletedAt))
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	gt.NoError(t, s.Put(record("s1", "a", 0)))

	gt.NoError(t, s.Delete("s1"))
	_, err := s.List("s1")
	gt.True(t, errors.Is(err, store.ErrNotFound))

	sessions, err := s.Sessions()
	gt.NoError(t, err)
	gt.A(t, sessions).Length(0)

	gt.True(t, errors.Is(s.Delete("s1"), store.ErrNotFound))
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")

	s, err := store.Open(path)
	gt.NoError(t, err)
	gt.NoError(t, s.Put(record("s1", "a", 0)))
	gt.NoError(t, s.Close())

	s, err = store.Open(path)
	gt.NoError(t, err)
	defer s.Close()

	got, err := s.List("s1")
	gt.NoError(t, err)
	gt.A(t, got).Length(1)
}
