package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/wubwatch/internal/channel"
	"github.com/JakeFAU/wubwatch/internal/config"
	"github.com/JakeFAU/wubwatch/internal/store"
	"github.com/JakeFAU/wubwatch/internal/watch"
)

type pipeConn struct {
	frames chan []byte
	once   sync.Once
	closed chan struct{}
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.New("closed")
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type pipeDialer struct {
	mu    sync.Mutex
	conns map[string]*pipeConn
}

func (d *pipeDialer) Dial(_ context.Context, rawURL string) (channel.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &pipeConn{frames: make(chan []byte, 8), closed: make(chan struct{})}
	d.conns[rawURL] = c
	return c, nil
}

func (d *pipeDialer) conn(t *testing.T, rawURL string) *pipeConn {
	t.Helper()
	var c *pipeConn
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		c = d.conns[rawURL]
		return c != nil
	}, 5*time.Second, time.Millisecond)
	return c
}

func testConfig(t *testing.T, monitorURL string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Monitor.BaseURL = monitorURL
	cfg.Monitor.FeedResource = ""
	cfg.Progress.Batch.MaxWaitMs = 10
	cfg.Progress.LogEnabled = true
	return &cfg
}

func TestBuildWiresSessionsIntoHistory(t *testing.T) {
	t.Parallel()

	monitorSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer monitorSrv.Close()

	dialer := &pipeDialer{conns: make(map[string]*pipeConn)}
	cfg := testConfig(t, monitorSrv.URL)
	app, err := BuildWith(context.Background(), cfg, Deps{
		Logger:     zaptest.NewLogger(t),
		Dialer:     dialer,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Close(ctx)
	})

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions/abc", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	conn := dialer.conn(t, "ws://localhost:8889/progress/abc")
	conn.frames <- []byte(`{"status":1,"progress":0.25,"text":"Analyzing"}`)

	require.Eventually(t, func() bool {
		entry, err := app.Manager().Get("abc")
		return err == nil && entry.Session.Info().Percent == 25
	}, 5*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
		var body struct {
			Sessions []store.SessionRecord `json:"sessions"`
		}
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &body) != nil {
			return false
		}
		return len(body.Sessions) == 1 && body.Sessions[0].JobID == "abc"
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Close(ctx))
	_, err = app.Manager().Start("def")
	require.ErrorIs(t, err, watch.ErrShutdown)
	require.NoError(t, app.Close(ctx))
}

func TestBuildRejectsDuplicateCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	cfg := testConfig(t, "http://localhost:1/")
	first, err := BuildWith(context.Background(), cfg, Deps{Logger: zaptest.NewLogger(t), Registerer: reg})
	require.NoError(t, err)
	defer func() { _ = first.Close(context.Background()) }()

	_, err = BuildWith(context.Background(), cfg, Deps{Logger: zaptest.NewLogger(t), Registerer: reg})
	require.ErrorContains(t, err, "progress metrics init failed")
}

func TestNewChannelAdapterAddressing(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://localhost:1/")
	cfg.Channel.BaseURL = "wss://wub.example/"
	cfg.Channel.Separator = ":"
	a := NewChannelAdapter(cfg.Channel, nil, nil)
	require.Equal(t, "progress:abc", a.ProgressPath("abc"))
	require.Equal(t, "wss://wub.example/progress:abc", a.URL(a.ProgressPath("abc")))
}

func TestSiteURL(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://localhost:1/")
	u, err := SiteURL(cfg)
	require.NoError(t, err)
	require.Equal(t, "localhost:8888", u.Host)
}
