// Package store persists trial records in a bbolt database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/cgast/exemplar/pkg/trial"
)

const (
	bucketRecords  = "records"  // one nested bucket per session, keyed by trial ID
	bucketSessions = "sessions" // session ID -> Session
)

// ErrNotFound is returned when a session or record does not exist.
var ErrNotFound = errors.New("not found")

// Session summarizes the records stored for one session.
type Session struct {
	ID            string    `json:"session_id"`
	ParticipantID string    `json:"participant_id,omitempty"`
	StudyID       string    `json:"study_id,omitempty"`
	Records       int       `json:"records"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// Store is a bbolt-backed record store. It satisfies sink.Sink.
type Store struct {
	db *bolt.DB
	mu sync.RWMutex
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open record store", goerr.V("path", path))
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketRecords, bucketSessions} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return goerr.Wrap(err, "failed to create bucket", goerr.V("bucket", name))
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Emit stores rec.
func (s *Store) Emit(_ context.Context, rec trial.Record) error {
	return s.Put(rec)
}

// Put stores rec under its session and trial ID. Storing the same trial
// again overwrites it without counting it twice.
func (s *Store) Put(rec trial.Record) error {
	if rec.SessionID == "" {
		return goerr.New("record has no session ID", goerr.V("trial_id", rec.TrialID))
	}
	if rec.TrialID == "" {
		return goerr.New("record has no trial ID", goerr.V("session_id", rec.SessionID))
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal record", goerr.V("trial_id", rec.TrialID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket([]byte(bucketRecords)).CreateBucketIfNotExists([]byte(rec.SessionID))
		if err != nil {
			return goerr.Wrap(err, "failed to create session bucket", goerr.V("session_id", rec.SessionID))
		}
		existed := b.Get([]byte(rec.TrialID)) != nil
		if err := b.Put([]byte(rec.TrialID), data); err != nil {
			return goerr.Wrap(err, "failed to put record", goerr.V("trial_id", rec.TrialID))
		}
		return touchSession(tx, rec, existed)
	})
}

func touchSession(tx *bolt.Tx, rec trial.Record, existed bool) error {
	b := tx.Bucket([]byte(bucketSessions))

	var sess Session
	if raw := b.Get([]byte(rec.SessionID)); raw != nil {
		if err := json.Unmarshal(raw, &sess); err != nil {
			return goerr.Wrap(err, "failed to unmarshal session", goerr.V("session_id", rec.SessionID))
		}
	} else {
		sess = Session{
			ID:            rec.SessionID,
			ParticipantID: rec.ParticipantID,
			StudyID:       rec.StudyID,
			FirstSeen:     rec.CompletedAt,
		}
	}
	if !existed {
		sess.Records++
	}
	if rec.CompletedAt.After(sess.LastSeen) {
		sess.LastSeen = rec.CompletedAt
	}
	if rec.CompletedAt.Before(sess.FirstSeen) {
		sess.FirstSeen = rec.CompletedAt
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal session", goerr.V("session_id", rec.SessionID))
	}
	return b.Put([]byte(rec.SessionID), data)
}

// Get returns one record.
func (s *Store) Get(sessionID, trialID string) (trial.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec trial.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRecords)).Bucket([]byte(sessionID))
		if b == nil {
			return goerr.Wrap(ErrNotFound, "session not found", goerr.V("session_id", sessionID))
		}
		data := b.Get([]byte(trialID))
		if data == nil {
			return goerr.Wrap(ErrNotFound, "record not found",
				goerr.V("session_id", sessionID),
				goerr.V("trial_id", trialID),
			)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return trial.Record{}, err
	}
	return rec, nil
}

// List returns a session's records ordered by trial index.
func (s *Store) List(sessionID string) ([]trial.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []trial.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRecords)).Bucket([]byte(sessionID))
		if b == nil {
			return goerr.Wrap(ErrNotFound, "session not found", goerr.V("session_id", sessionID))
		}
		return b.ForEach(func(k, v []byte) error {
			var rec trial.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return goerr.Wrap(err, "failed to unmarshal record", goerr.V("trial_id", string(k)))
			}
			result = append(result, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(result, func(a, b trial.Record) int {
		if a.Index != b.Index {
			return a.Index - b.Index
		}
		return a.CompletedAt.Compare(b.CompletedAt)
	})
	return result, nil
}

// Sessions returns every stored session, most recent first.
func (s *Store) Sessions() ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Session
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSessions)).ForEach(func(k, v []byte) error {
			var sess Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return goerr.Wrap(err, "failed to unmarshal session", goerr.V("session_id", string(k)))
			}
			result = append(result, sess)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(result, func(a, b Session) int {
		return b.LastSeen.Compare(a.LastSeen)
	})
	return result, nil
}

// Delete removes a session and all of its records.
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket([]byte(bucketRecords))
		if records.Bucket([]byte(sessionID)) == nil {
			return goerr.Wrap(ErrNotFound, "session not found", goerr.V("session_id", sessionID))
		}
		if err := records.DeleteBucket([]byte(sessionID)); err != nil {
			return goerr.Wrap(err, "failed to delete session records", goerr.V("session_id", sessionID))
		}
		return tx.Bucket([]byte(bucketSessions)).Delete([]byte(sessionID))
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
