package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageSessionStart     Stage = "SESSION_START"
	StageSessionStop      Stage = "SESSION_STOP"
	StageChannelOpen      Stage = "CHANNEL_OPEN"
	StageChannelClosed    Stage = "CHANNEL_CLOSED"
	StageWatchProgress    Stage = "WATCH_PROGRESS"
	StageWatchDone        Stage = "WATCH_DONE"
	StageWatchFailed      Stage = "WATCH_FAILED"
	StageCountdownExpired Stage = "COUNTDOWN_EXPIRED"
	StageMessageDropped   Stage = "MESSAGE_DROPPED"
)

// Terminal reports whether the stage ends a job from the viewer's perspective.
func (s Stage) Terminal() bool {
	return s == StageWatchDone || s == StageWatchFailed
}

// Event captures a single step of a watch session.
type Event struct {
	// SessionID identifies the watch session using the 16-byte UUID form.
	SessionID [16]byte
	// JobID is the server-side remix job the session follows.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Percent is the rounded job progress for WATCH_PROGRESS and WATCH_DONE.
	Percent float64
	// Text is the server's status text, if any.
	Text string
	// Attempt is the channel connection count for CHANNEL_* stages.
	Attempt int
	// Dur is the session age when the event was recorded.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == [16]byte{} {
		return errors.New("session id is required")
	}
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSessionStart, StageSessionStop, StageWatchDone, StageWatchFailed,
		StageCountdownExpired, StageMessageDropped:
	case StageChannelOpen, StageChannelClosed:
		if e.Attempt <= 0 {
			return errors.New("channel events require attempt")
		}
	case StageWatchProgress:
		if e.Percent < 0 || e.Percent > 100 {
			return fmt.Errorf("percent %v out of range", e.Percent)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// SessionUUID converts the binary session ID to uuid.UUID for repositories.
func (e Event) SessionUUID() uuid.UUID {
	return uuid.UUID(e.SessionID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
