// Package memory holds the in-process session history used by the daemon and
// tests. Nothing is persisted across restarts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/wubwatch/internal/store"
)

// SessionStore keeps session records in a map guarded by a RWMutex.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]store.SessionRecord
	// limit bounds the number of terminal records retained; 0 keeps all.
	limit int
}

// NewSessionStore constructs a SessionStore retaining at most limit finished
// records.
func NewSessionStore(limit int) *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]store.SessionRecord),
		limit:    limit,
	}
}

// StartSession implements store.SessionRepository.
func (s *SessionStore) StartSession(_ context.Context, id uuid.UUID, jobID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		rec = store.SessionRecord{ID: id, JobID: jobID, StartedAt: startedAt.UTC()}
	}
	rec.Status = store.SessionRunning
	rec.UpdatedAt = startedAt.UTC()
	s.sessions[id] = rec
	return nil
}

// UpdateSession implements store.SessionRepository.
func (s *SessionStore) UpdateSession(_ context.Context, id uuid.UUID, u store.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Status.Terminal() && !afterDone(rec.Status, u.Status) {
		return nil
	}
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.Percent != nil {
		rec.Percent = *u.Percent
	}
	if u.Text != nil {
		rec.Text = *u.Text
	}
	rec.Connects += u.Connects
	rec.Dropped += u.Dropped
	if u.Note != "" {
		rec.Note = u.Note
	}
	if u.FinishedAt != nil && rec.FinishedAt == nil {
		ts := u.FinishedAt.UTC()
		rec.FinishedAt = &ts
	}
	if u.At.After(rec.UpdatedAt) {
		rec.UpdatedAt = u.At.UTC()
	}
	s.sessions[id] = rec
	s.evictLocked()
	return nil
}

// GetSession implements store.SessionRepository.
func (s *SessionStore) GetSession(_ context.Context, id uuid.UUID) (store.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return store.SessionRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// ListSessions implements store.SessionRepository.
func (s *SessionStore) ListSessions(
	_ context.Context,
	status *store.SessionStatus,
	limit, offset int,
) ([]store.SessionRecord, error) {
	s.mu.RLock()
	out := make([]store.SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		if status != nil && rec.Status != *status {
			continue
		}
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	if offset >= len(out) {
		return []store.SessionRecord{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *SessionStore) evictLocked() {
	if s.limit <= 0 {
		return
	}
	var finished []store.SessionRecord
	for _, rec := range s.sessions {
		if rec.Status.Terminal() {
			finished = append(finished, rec)
		}
	}
	if len(finished) <= s.limit {
		return
	}
	sortNewestFirst(finished)
	for _, rec := range finished[s.limit:] {
		delete(s.sessions, rec.ID)
	}
}

// afterDone allows a completed session to later expire.
func afterDone(current store.SessionStatus, next *store.SessionStatus) bool {
	return current == store.SessionDone && next != nil && *next == store.SessionExpired
}

func sortNewestFirst(recs []store.SessionRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].ID.String() < recs[j].ID.String()
		}
		return recs[i].StartedAt.After(recs[j].StartedAt)
	})
}
