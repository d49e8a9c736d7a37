package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/wubwatch/internal/channel"
	"github.com/JakeFAU/wubwatch/internal/clock"
	"github.com/JakeFAU/wubwatch/internal/clock/system"
	"github.com/JakeFAU/wubwatch/internal/countdown"
	"github.com/JakeFAU/wubwatch/internal/progress"
	"github.com/JakeFAU/wubwatch/internal/render"
	"github.com/JakeFAU/wubwatch/internal/status"
)

var (
	// ErrJobFailed is returned by Session.Run when the server reports an error.
	ErrJobFailed = errors.New("remix job failed")
	// ErrAlreadyRunning is returned when Run is called twice on one session.
	ErrAlreadyRunning = errors.New("session already running")
)

// LostConnectionText replaces the progress text when the channel cannot be
// recovered.
const LostConnectionText = "Lost connection to the remix server. Please reload to try again."

// Titles set on the document while a job is watched.
const (
	TitleWaiting = "Waiting..."
	TitleError   = "Error!"
	TitleDone    = "Done!"
)

// Stream is the part of a channel handle a session consumes.
type Stream interface {
	Events() <-chan channel.Event
	Close() error
}

// Opener connects to a job's progress channel.
type Opener interface {
	OpenJob(ctx context.Context, jobID string) (Stream, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, jobID string) (Stream, error)

// OpenJob implements Opener.
func (f OpenerFunc) OpenJob(ctx context.Context, jobID string) (Stream, error) {
	return f(ctx, jobID)
}

// ChannelOpener opens job streams through a channel.Adapter.
func ChannelOpener(a *channel.Adapter) Opener {
	return OpenerFunc(func(ctx context.Context, jobID string) (Stream, error) {
		h, err := a.OpenJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("open job channel: %w", err)
		}
		return h, nil
	})
}

// Hook runs once after a job completes, before the countdown starts. Hooks run
// on the session goroutine and must not block for long.
type Hook func(ctx context.Context, jobID string)

// Options configures a Session. Zero values select sensible defaults.
type Options struct {
	// ID identifies the session; a random UUID is used when zero.
	ID uuid.UUID
	// Renderer receives every UI command; a fresh render.View when nil.
	Renderer  render.Renderer
	Clock     clock.Clock
	Countdown countdown.Config
	Hooks     []Hook
	Emitter   progress.Emitter
	// Tracer defaults to the global OpenTelemetry tracer.
	Tracer trace.Tracer
	Logger *zap.Logger
}

// Info is a point-in-time summary of a session, safe to read concurrently.
type Info struct {
	ID        uuid.UUID `json:"id"`
	JobID     string    `json:"job_id"`
	State     State     `json:"state"`
	Running   bool      `json:"running"`
	Connected bool      `json:"connected"`
	Percent   int       `json:"percent"`
	Text      string    `json:"text,omitempty"`
	// Download is the artifact path once the job is done.
	Download string `json:"download,omitempty"`
	// FilenameHint is the remixed track title, when the server supplied one.
	FilenameHint string `json:"filename_hint,omitempty"`
	// RemainingSeconds is the countdown time left while it runs.
	RemainingSeconds int       `json:"remaining_seconds,omitempty"`
	Expired          bool      `json:"expired,omitempty"`
	Connects         int       `json:"connects"`
	Dropped          int       `json:"dropped"`
	StartedAt        time.Time `json:"started_at"`
	Error            string    `json:"error,omitempty"`
}

// Session follows one job. All transitions and renderer calls happen on the
// goroutine that calls Run.
type Session struct {
	id        uuid.UUID
	jobID     string
	opener    Opener
	renderer  render.Renderer
	clock     clock.Clock
	machine   *Machine
	countdown *countdown.Controller
	hooks     []Hook
	emitter   progress.Emitter
	tracer    trace.Tracer
	logger    *zap.Logger
	startedAt time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	mu   sync.RWMutex
	info Info
	err  error

	// Owned by the Run goroutine.
	stream    Stream
	events    <-chan channel.Event
	span      trace.Span
	lastClose error
}

// NewSession prepares a session for jobID. Nothing connects until Run.
func NewSession(jobID string, opener Opener, opts Options) (*Session, error) {
	if jobID == "" {
		return nil, errors.New("job id is required")
	}
	if opener == nil {
		return nil, errors.New("opener is required")
	}
	if opts.ID == uuid.Nil {
		opts.ID = uuid.New()
	}
	if opts.Renderer == nil {
		opts.Renderer = render.NewView()
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.Emitter == nil {
		opts.Emitter = progress.Discard
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/JakeFAU/wubwatch/internal/watch")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	now := opts.Clock.Now()
	s := &Session{
		id:        opts.ID,
		jobID:     jobID,
		opener:    opener,
		renderer:  opts.Renderer,
		clock:     opts.Clock,
		machine:   NewMachine(jobID),
		countdown: countdown.New(opts.Countdown, opts.Clock),
		hooks:     append([]Hook(nil), opts.Hooks...),
		emitter:   opts.Emitter,
		tracer:    opts.Tracer,
		logger:    opts.Logger,
		startedAt: now,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.info = Info{ID: s.id, JobID: jobID, State: Waiting, StartedAt: now}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// JobID returns the watched job.
func (s *Session) JobID() string {
	return s.jobID
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns Run's result after Done is closed.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Stop tears the session down early: the channel is closed and the countdown
// cancelled, so no further commands reach the renderer. It is safe to call
// repeatedly, concurrently, and before Run.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run connects and processes events until the job fails, the countdown of a
// finished job expires, Stop is called, or ctx ends. A failed job yields an
// error wrapping ErrJobFailed; expiry and Stop yield nil.
func (s *Session) Run(ctx context.Context) (err error) {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	ctx, s.span = s.tracer.Start(ctx, "watch.session", trace.WithAttributes(
		attribute.String("job_id", s.jobID),
		attribute.String("session_id", s.id.String()),
	))
	s.update(func(i *Info) { i.Running = true })
	s.emit(progress.StageSessionStart, nil)
	defer func() { s.teardown(err) }()

	if s.stopped() {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	stream, err := s.opener.OpenJob(ctx, s.jobID)
	if err != nil {
		if s.stopped() {
			return nil
		}
		return fmt.Errorf("watch job %s: %w", s.jobID, err)
	}
	s.stream = stream
	s.events = stream.Events()
	s.logger.Info("watching job")

	for {
		select {
		case <-ctx.Done():
			if s.stopped() {
				s.logger.Info("session stopped")
				return nil
			}
			return fmt.Errorf("watch job %s: %w", s.jobID, ctx.Err())
		case evt, ok := <-s.events:
			if !ok {
				return s.channelLost(ctx)
			}
			s.handleEvent(ctx, evt)
			if s.machine.State() == Failed {
				last, _ := s.machine.Last()
				return fmt.Errorf("job %s: %w: %s", s.jobID, ErrJobFailed, last.Text)
			}
		case <-s.countdown.C():
			if s.handleTick(ctx) {
				return nil
			}
		}
	}
}

func (s *Session) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Session) handleEvent(ctx context.Context, evt channel.Event) {
	switch evt.Kind {
	case channel.Opened:
		s.logger.Info("progress channel opened", zap.Int("attempt", evt.Attempt))
		s.span.AddEvent("channel.opened", trace.WithAttributes(attribute.Int("attempt", evt.Attempt)))
		s.update(func(i *Info) {
			i.Connected = true
			i.Connects++
		})
		s.emit(progress.StageChannelOpen, func(e *progress.Event) { e.Attempt = evt.Attempt })
	case channel.Closed:
		s.lastClose = evt.Err
		s.logger.Warn("progress channel closed", zap.Int("attempt", evt.Attempt), zap.Error(evt.Err))
		s.span.AddEvent("channel.closed", trace.WithAttributes(attribute.Int("attempt", evt.Attempt)))
		s.update(func(i *Info) { i.Connected = false })
		s.emit(progress.StageChannelClosed, func(e *progress.Event) {
			e.Attempt = max(evt.Attempt, 1)
			if evt.Err != nil {
				e.Note = evt.Err.Error()
			}
		})
	case channel.Message:
		msg, err := status.Decode(evt.Payload)
		if err != nil {
			s.logger.Warn("dropping malformed status message", zap.Error(err), zap.ByteString("payload", evt.Payload))
			s.update(func(i *Info) { i.Dropped++ })
			s.emit(progress.StageMessageDropped, func(e *progress.Event) { e.Note = err.Error() })
			return
		}
		s.applyAll(ctx, s.machine.Apply(msg))
	}
}

// handleTick reports whether the countdown expired.
func (s *Session) handleTick(ctx context.Context) bool {
	evt, ok := s.countdown.Tick()
	if !ok {
		return false
	}
	switch evt.Kind {
	case countdown.Remaining:
		s.update(func(i *Info) { i.RemainingSeconds = int(evt.Left / time.Second) })
		s.apply(ctx, ShowTimeRemaining{Minutes: evt.Minutes})
		return false
	default:
		s.apply(ctx, Expire{Regions: []render.Region{render.RegionDownload, render.RegionShare, render.RegionLink}})
		return true
	}
}

func (s *Session) channelLost(ctx context.Context) error {
	s.events = nil
	cause := s.lastClose
	if cause == nil {
		cause = channel.ErrClosed
	}
	s.apply(ctx, ShowFailure{Text: LostConnectionText, Detail: cause.Error()})
	s.update(func(i *Info) { i.State = Failed })
	return fmt.Errorf("progress channel for job %s lost: %w", s.jobID, cause)
}

func (s *Session) applyAll(ctx context.Context, cmds []Command) {
	for _, cmd := range cmds {
		s.apply(ctx, cmd)
	}
	last, ok := s.machine.Last()
	s.update(func(i *Info) {
		i.State = s.machine.State()
		if ok {
			i.Text = last.Text
			if last.Status == status.Progressing {
				i.Percent = last.Percent()
			}
		}
	})
}

// apply executes one command against the renderer and session resources.
func (s *Session) apply(ctx context.Context, cmd Command) {
	r := s.renderer
	switch c := cmd.(type) {
	case ShowWaiting:
		r.SetText(c.Text)
		r.SetTitle(TitleWaiting)
	case ShowProgress:
		r.SetProgress(c.Fraction * 100)
		r.SetText(c.Text)
		r.SetTitle(fmt.Sprintf("%d%% - %s", c.Percent, c.Text))
		s.emit(progress.StageWatchProgress, func(e *progress.Event) {
			e.Percent = float64(c.Percent)
			e.Text = c.Text
		})
		return
	case RevealPreContent:
		markup, err := render.PreContentMarkup(c.Title, c.Artist)
		if err != nil {
			s.logger.Warn("skipping pre-content", zap.Error(err))
			return
		}
		r.Reveal(render.RegionPreContent, markup)
	case ShowFailure:
		r.SetProgress(0)
		s.logger.Error("job failed", zap.String("detail", c.Detail))
		r.SetTitle(TitleError)
		r.SetText(c.Text)
		s.span.SetStatus(codes.Error, c.Text)
		s.emit(progress.StageWatchFailed, func(e *progress.Event) {
			e.Text = c.Text
			e.Note = c.Detail
		})
	case CloseChannel:
		s.closeStream()
	case ShowComplete:
		r.SetProgress(100)
		r.SetText(c.Text)
		r.SetTitle(TitleDone)
		s.emit(progress.StageWatchDone, func(e *progress.Event) {
			e.Percent = 100
			e.Text = c.Text
		})
	case InsertArtifact:
		r.InsertBefore(c.Before, render.RegionPlayer, c.Markup)
	case RunHooks:
		for _, hook := range s.hooks {
			hook(ctx, s.jobID)
		}
	case RevealRegion:
		r.Reveal(c.Region, "")
	case DismissRegions:
		for _, region := range c.Regions {
			r.Hide(region)
			r.Remove(region)
		}
	case StartCountdown:
		if s.countdown.Start() {
			s.update(func(i *Info) { i.RemainingSeconds = int(s.countdown.Remaining() / time.Second) })
		}
	case SwapToArtifact:
		r.Hide(render.RegionProgress)
		r.Reveal(render.RegionPlayer, "")
	case BindDownload:
		r.SetHref(render.RegionDownload, c.Path)
		last, _ := s.machine.Last()
		s.update(func(i *Info) {
			i.Download = c.Path
			i.FilenameHint = last.Tag.DisplayTitle()
		})
	case SetTitle:
		r.SetTitle(c.Title)
	case ShowTimeRemaining:
		r.Reveal(render.RegionLinkNote, render.TimeRemainingText(c.Minutes))
		return
	case Expire:
		for _, region := range c.Regions {
			r.Hide(region)
		}
		s.logger.Info("download window expired")
		s.update(func(i *Info) {
			i.Expired = true
			i.RemainingSeconds = 0
		})
		s.emit(progress.StageCountdownExpired, nil)
	default:
		s.logger.Warn("unknown command", zap.String("command", cmd.Name()))
		return
	}
	s.span.AddEvent(cmd.Name())
}

func (s *Session) closeStream() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Close(); err != nil {
		s.logger.Debug("progress channel close", zap.Error(err))
	}
	s.stream = nil
	s.events = nil
	s.update(func(i *Info) { i.Connected = false })
}

func (s *Session) teardown(err error) {
	s.countdown.Stop()
	s.closeStream()

	note := "stopped"
	if err != nil {
		note = err.Error()
		if !errors.Is(err, context.Canceled) {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
		}
	}
	s.emit(progress.StageSessionStop, func(e *progress.Event) { e.Note = note })
	s.span.End()

	s.mu.Lock()
	s.err = err
	s.info.Running = false
	s.info.Connected = false
	if err != nil {
		s.info.Error = err.Error()
	}
	s.mu.Unlock()
	s.logger.Info("session finished", zap.Error(err))
}

func (s *Session) update(fn func(*Info)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.info)
}

func (s *Session) emit(stage progress.Stage, fill func(*progress.Event)) {
	now := s.clock.Now().UTC()
	evt := progress.Event{
		SessionID: progress.UUIDToBytes(s.id),
		JobID:     s.jobID,
		TS:        now,
		Stage:     stage,
		Dur:       max(now.Sub(s.startedAt), 0),
	}
	if fill != nil {
		fill(&evt)
	}
	s.emitter.Emit(evt)
}
