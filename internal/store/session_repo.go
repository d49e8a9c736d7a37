package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("session record not found")

// SessionStatus is the coarse lifecycle state of a recorded session.
type SessionStatus string

// Recorded session statuses.
const (
	SessionRunning SessionStatus = "running"
	SessionDone    SessionStatus = "done"
	SessionFailed  SessionStatus = "failed"
	SessionExpired SessionStatus = "expired"
	SessionStopped SessionStatus = "stopped"
)

// Terminal reports whether no further updates are expected for the status.
func (s SessionStatus) Terminal() bool {
	return s != SessionRunning
}

// SessionRecord summarizes one watch session.
type SessionRecord struct {
	// ID is the session's own identifier.
	ID uuid.UUID `json:"id"`
	// JobID is the remix job being watched.
	JobID string `json:"job_id"`
	// Status is running/done/failed/expired/stopped.
	Status SessionStatus `json:"status"`
	// Percent is the last progress reported by the server.
	Percent float64 `json:"percent"`
	// Text is the last status text reported by the server.
	Text string `json:"text,omitempty"`
	// Connects counts channel connections, including the first.
	Connects int `json:"connects"`
	// Dropped counts malformed messages that were skipped.
	Dropped int `json:"dropped"`
	// StartedAt captures when the session began.
	StartedAt time.Time `json:"started_at"`
	// UpdatedAt is the timestamp of the latest event applied.
	UpdatedAt time.Time `json:"updated_at"`
	// FinishedAt is nil until the session ends.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// Note optionally stores the failure or stop reason.
	Note string `json:"note,omitempty"`
}

// SessionUpdate is a partial change applied to a record. Nil fields are left
// untouched.
type SessionUpdate struct {
	Status     *SessionStatus
	Percent    *float64
	Text       *string
	Connects   int
	Dropped    int
	At         time.Time
	Note       string
	FinishedAt *time.Time
}

// SessionRepository persists watch-session summaries.
type SessionRepository interface {
	// StartSession inserts (or idempotently refreshes) a running record.
	StartSession(ctx context.Context, id uuid.UUID, jobID string, startedAt time.Time) error
	// UpdateSession applies u to the record. Counters in u are deltas.
	UpdateSession(ctx context.Context, id uuid.UUID, u SessionUpdate) error
	// GetSession loads one record or returns ErrNotFound.
	GetSession(ctx context.Context, id uuid.UUID) (SessionRecord, error)
	// ListSessions returns records filtered by optional status plus limit/offset,
	// newest first.
	ListSessions(ctx context.Context, status *SessionStatus, limit, offset int) ([]SessionRecord, error)
}
