// Package channel adapts a reconnecting push connection into a stream of
// events for a single resource. It reports connection open/close transitions
// and raw payloads but never interprets them.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/wubwatch/internal/metrics"
)

var (
	// ErrClosed is returned when operating on a handle that was closed.
	ErrClosed = errors.New("channel closed")
	// ErrGaveUp is reported when reconnection attempts are exhausted.
	ErrGaveUp = errors.New("channel reconnect attempts exhausted")
)

const (
	defaultReconnectInterval = time.Second
	defaultReconnectBurst    = 1
	defaultEventBuffer       = 64
)

// Kind classifies channel events.
type Kind int

// Event kinds.
const (
	Opened Kind = iota
	Closed
	Message
)

func (k Kind) String() string {
	switch k {
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	case Message:
		return "message"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one notification from the channel.
type Event struct {
	Kind    Kind
	Payload []byte
	// Err is the transport error behind a Closed event, if any.
	Err error
	// Attempt counts connections made for this handle, starting at 1.
	Attempt int
}

// Conn is one live transport connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// Config controls addressing and reconnection.
//   - BaseURL: scheme and host of the push server, e.g. ws://localhost:8889.
//   - ProgressResource: resource prefix the server keys job channels under.
//   - Separator: joins ProgressResource and the job id.
//   - ReconnectInterval/ReconnectBurst: token bucket for redials.
//   - MaxReconnects: redials allowed per handle; 0 means unlimited.
//   - EventBuffer: size of the handle's event channel.
type Config struct {
	BaseURL           string
	ProgressResource  string
	Separator         string
	ReconnectInterval time.Duration
	ReconnectBurst    int
	MaxReconnects     int
	EventBuffer       int
}

// ResourcePath joins the progress resource, the separator and a job id. The
// server keys job channels by exactly this string.
func ResourcePath(base, sep, jobID string) string {
	return base + sep + jobID
}

// Adapter opens handles against one push server.
type Adapter struct {
	cfg    Config
	dialer Dialer
	logger *zap.Logger
}

// New builds an Adapter. A nil logger is replaced by a no-op logger.
func New(cfg Config, dialer Dialer, logger *zap.Logger) *Adapter {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.ReconnectBurst <= 0 {
		cfg.ReconnectBurst = defaultReconnectBurst
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, dialer: dialer, logger: logger}
}

// ProgressPath returns the resource for a job's progress channel.
func (a *Adapter) ProgressPath(jobID string) string {
	return ResourcePath(a.cfg.ProgressResource, a.cfg.Separator, jobID)
}

// URL returns the absolute URL for a resource.
func (a *Adapter) URL(resource string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + "/" + strings.TrimLeft(resource, "/")
}

// OpenJob connects to the progress channel for jobID.
func (a *Adapter) OpenJob(ctx context.Context, jobID string) (*Handle, error) {
	if jobID == "" {
		return nil, errors.New("job id is required")
	}
	return a.Open(ctx, a.ProgressPath(jobID))
}

// Open dials resource and returns a handle whose events start with Opened.
// The first dial is synchronous so an unreachable server fails fast; later
// redials happen in the background.
func (a *Adapter) Open(ctx context.Context, resource string) (*Handle, error) {
	target := a.URL(resource)
	conn, err := a.dialer.Dial(ctx, target)
	if err != nil {
		metrics.ObserveDialFailure(target)
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{
		url:     target,
		adapter: a,
		events:  make(chan Event, a.cfg.EventBuffer),
		done:    make(chan struct{}),
		ctx:     runCtx,
		cancel:  cancel,
		conn:    conn,
		limiter: rate.NewLimiter(rate.Every(a.cfg.ReconnectInterval), a.cfg.ReconnectBurst),
		logger:  a.logger.With(zap.String("url", target)),
	}
	go h.run(ctx)
	return h, nil
}

// Handle is one logical channel that survives transport reconnects.
type Handle struct {
	url     string
	adapter *Adapter
	events  chan Event
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	limiter *rate.Limiter
	logger  *zap.Logger
	// attempts is owned by the run goroutine.
	attempts int

	mu     sync.Mutex
	conn   Conn
	closed bool
}

// URL returns the address the handle is connected to.
func (h *Handle) URL() string {
	return h.url
}

// Events delivers notifications in arrival order. The channel is closed once
// the handle stops, either through Close or after reconnection gives up.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Done is closed when the handle's background work has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Close tears the connection down and waits for the background reader to
// exit. Events still buffered are discarded. Closing an already-closed handle
// is a no-op; Close never fails and returns an error only to satisfy io.Closer.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conn := h.conn
	h.mu.Unlock()

	h.cancel()
	if conn != nil {
		// The reader may already have closed a dropped connection.
		if err := conn.Close(); err != nil {
			h.logger.Debug("connection close", zap.Error(err))
		}
	}
	<-h.done
	for range h.events {
	}
	h.logger.Info("channel closed by client")
	return nil
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) run(parent context.Context) {
	defer close(h.done)
	defer close(h.events)

	// The caller's context still bounds the handle's lifetime.
	stop := context.AfterFunc(parent, h.abort)
	defer stop()

	conn := h.currentConn()
	for {
		h.attempts++
		h.logger.Info("channel opened", zap.Int("attempt", h.attempts))
		if !h.emit(Event{Kind: Opened, Attempt: h.attempts}) {
			_ = conn.Close()
			return
		}
		readErr := h.readLoop(conn)
		_ = conn.Close()
		if h.ctx.Err() != nil {
			return
		}
		h.logger.Warn("channel disconnected", zap.Error(readErr))
		if !h.emit(Event{Kind: Closed, Err: readErr, Attempt: h.attempts}) {
			return
		}
		next, err := h.redial()
		if err != nil {
			if h.ctx.Err() == nil {
				h.logger.Error("channel lost", zap.Error(err))
				h.emit(Event{Kind: Closed, Err: err, Attempt: h.attempts})
			}
			return
		}
		if !h.swapConn(next) {
			_ = next.Close()
			return
		}
		conn = next
	}
}

func (h *Handle) readLoop(conn Conn) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if !h.emit(Event{Kind: Message, Payload: data, Attempt: h.attempts}) {
			return ErrClosed
		}
	}
}

func (h *Handle) redial() (Conn, error) {
	cfg := h.adapter.cfg
	for retries := 1; ; retries++ {
		if cfg.MaxReconnects > 0 && retries > cfg.MaxReconnects {
			return nil, ErrGaveUp
		}
		if err := h.limiter.Wait(h.ctx); err != nil {
			return nil, fmt.Errorf("reconnect wait: %w", err)
		}
		conn, err := h.adapter.dialer.Dial(h.ctx, h.url)
		if err == nil {
			return conn, nil
		}
		metrics.ObserveDialFailure(h.url)
		h.logger.Warn("channel reconnect failed", zap.Int("retry", retries), zap.Error(err))
	}
}

// abort stops the handle without marking it closed by the client, unblocking
// a reader stuck in ReadMessage.
func (h *Handle) abort() {
	h.cancel()
	if conn := h.currentConn(); conn != nil {
		_ = conn.Close()
	}
}

func (h *Handle) currentConn() Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

// swapConn installs a fresh connection unless Close won the race.
func (h *Handle) swapConn(conn Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conn = conn
	return true
}

func (h *Handle) emit(evt Event) bool {
	select {
	case <-h.ctx.Done():
		return false
	case h.events <- evt:
		return true
	}
}
