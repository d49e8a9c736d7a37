package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/wubwatch/internal/progress"
	"github.com/JakeFAU/wubwatch/internal/store"
)

// RegistrySink records session summaries via a store.SessionRepository.
// Progress updates within a batch are collapsed per session so only the
// latest percentage is written.
type RegistrySink struct {
	repo   store.SessionRepository
	logger *zap.Logger
}

// NewRegistrySink constructs a RegistrySink for the provided repository.
func NewRegistrySink(repo store.SessionRepository, logger *zap.Logger) *RegistrySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrySink{repo: repo, logger: logger}
}

// Consume applies the batch in order. It respects ctx deadlines and returns
// repository errors wrapped with the failing stage.
func (s *RegistrySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]progress.Event)
	flush := func(id uuid.UUID) error {
		evt, ok := pending[id]
		if !ok {
			return nil
		}
		delete(pending, id)
		return s.apply(ctx, evt)
	}

	for _, evt := range batch {
		id := evt.SessionUUID()
		if evt.Stage == progress.StageWatchProgress {
			pending[id] = evt
			continue
		}
		if err := flush(id); err != nil {
			return err
		}
		if err := s.apply(ctx, evt); err != nil {
			return err
		}
	}
	for id := range pending {
		if err := flush(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *RegistrySink) apply(ctx context.Context, evt progress.Event) error {
	id := evt.SessionUUID()
	if evt.Stage == progress.StageSessionStart {
		if err := s.repo.StartSession(ctx, id, evt.JobID, evt.TS); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		return nil
	}
	update, ok := updateFor(evt)
	if !ok {
		return nil
	}
	err := s.repo.UpdateSession(ctx, id, update)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// The start event may have been dropped under backpressure.
		s.logger.Debug("registry update for unknown session",
			zap.String("session_id", id.String()), zap.String("stage", string(evt.Stage)))
		return nil
	case err != nil:
		return fmt.Errorf("update session %s: %w", evt.Stage, err)
	}
	return nil
}

func updateFor(evt progress.Event) (store.SessionUpdate, bool) {
	u := store.SessionUpdate{At: evt.TS}
	switch evt.Stage {
	case progress.StageChannelOpen:
		u.Connects = 1
	case progress.StageMessageDropped:
		u.Dropped = 1
	case progress.StageWatchProgress:
		u.Percent = &evt.Percent
		u.Text = &evt.Text
	case progress.StageWatchDone:
		u.Status = statusRef(store.SessionDone)
		u.Percent = &evt.Percent
		u.FinishedAt = &evt.TS
	case progress.StageWatchFailed:
		u.Status = statusRef(store.SessionFailed)
		u.Text = &evt.Text
		u.Note = evt.Note
		u.FinishedAt = &evt.TS
	case progress.StageCountdownExpired:
		u.Status = statusRef(store.SessionExpired)
	case progress.StageSessionStop:
		u.Status = statusRef(store.SessionStopped)
		u.Note = evt.Note
		u.FinishedAt = &evt.TS
	default:
		return store.SessionUpdate{}, false
	}
	return u, true
}

func statusRef(s store.SessionStatus) *store.SessionStatus {
	return &s
}

// Close implements the Sink interface; it performs no action.
func (s *RegistrySink) Close(context.Context) error {
	return nil
}
