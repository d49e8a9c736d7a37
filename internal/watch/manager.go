package watch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/wubwatch/internal/logging"
	"github.com/JakeFAU/wubwatch/internal/render"
)

var (
	// ErrSessionExists is returned when a job already has a running session.
	ErrSessionExists = errors.New("session already exists for job")
	// ErrNotFound is returned for jobs without a session.
	ErrNotFound = errors.New("session not found")
	// ErrCapacity is returned when the manager runs its maximum of sessions.
	ErrCapacity = errors.New("too many running sessions")
	// ErrShutdown is returned by Start after Shutdown.
	ErrShutdown = errors.New("manager shut down")
)

// ManagerConfig configures a Manager.
//   - Opener: connects sessions to their progress channels.
//   - Session: template options for every session; Renderer, ID and Logger are
//     replaced per session.
//   - MaxSessions: cap on concurrently running sessions (0 = unlimited).
type ManagerConfig struct {
	Opener      Opener
	Session     Options
	MaxSessions int
	Logger      *zap.Logger
}

// Entry pairs a session with the view it renders into.
type Entry struct {
	Session *Session
	View    *render.View
}

// Manager runs many independent sessions, keyed by job id. Finished sessions
// stay queryable until a new session replaces them.
type Manager struct {
	cfg    ManagerConfig
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]Entry
	closed   bool
}

// NewManager builds a Manager whose sessions live no longer than ctx.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if cfg.Opener == nil {
		return nil, errors.New("opener is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runCtx, cancel := context.WithCancel(ctx)
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		ctx:      runCtx,
		cancel:   cancel,
		sessions: make(map[string]Entry),
	}, nil
}

// Start begins watching jobID in the background.
func (m *Manager) Start(jobID string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Entry{}, ErrShutdown
	}
	if prev, ok := m.sessions[jobID]; ok && prev.Session.Info().Running {
		return Entry{}, fmt.Errorf("%w: %s", ErrSessionExists, jobID)
	}
	if m.cfg.MaxSessions > 0 && m.runningLocked() >= m.cfg.MaxSessions {
		return Entry{}, ErrCapacity
	}

	opts := m.cfg.Session
	opts.ID = uuid.New()
	sessionLogger := logging.ForSession(m.logger, opts.ID.String(), jobID)
	opts.Logger = sessionLogger
	view := render.NewView()
	opts.Renderer = render.Multi{view, render.NewLogRenderer(sessionLogger)}

	s, err := NewSession(jobID, m.cfg.Opener, opts)
	if err != nil {
		return Entry{}, fmt.Errorf("new session: %w", err)
	}
	entry := Entry{Session: s, View: view}
	m.sessions[jobID] = entry

	// Reflect Running before Start returns so a racing Start sees it.
	s.update(func(i *Info) { i.Running = true })
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := s.Run(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
			sessionLogger.Warn("session ended with error", zap.Error(err))
		}
	}()
	return entry, nil
}

// Get returns the entry for jobID.
func (m *Manager) Get(jobID string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sessions[jobID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return entry, nil
}

// List returns summaries of all known sessions ordered by start time.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, entry := range m.sessions {
		out = append(out, entry.Session.Info())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Stop tears down the session for jobID and forgets it.
func (m *Manager) Stop(jobID string) error {
	m.mu.Lock()
	entry, ok := m.sessions[jobID]
	if ok {
		delete(m.sessions, jobID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	entry.Session.Stop()
	<-entry.Session.Done()
	return nil
}

// Running counts sessions whose Run has not returned.
func (m *Manager) Running() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runningLocked()
}

func (m *Manager) runningLocked() int {
	n := 0
	for _, entry := range m.sessions {
		if entry.Session.Info().Running {
			n++
		}
	}
	return n
}

// Shutdown stops every session and waits for them to exit or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, entry := range m.sessions {
		entry.Session.Stop()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		return fmt.Errorf("watch manager shutdown: %w", ctx.Err())
	}
}
