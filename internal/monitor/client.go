package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 20

// StatusError reports a non-2xx monitor response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("monitor request %s: unexpected status %d", e.URL, e.Code)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Retry defaults to NewRetryPolicy.
	Retry *RetryPolicy
}

// Client talks to the monitoring endpoints of the remix server.
type Client struct {
	base   *url.URL
	http   *http.Client
	retry  *RetryPolicy
	logger *zap.Logger
}

// NewClient validates cfg. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse monitor base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("monitor base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Retry == nil {
		cfg.Retry = NewRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: base, http: httpClient, retry: cfg.Retry, logger: logger}, nil
}

// Graph fetches the activity series.
func (c *Client) Graph(ctx context.Context) (Graph, error) {
	body, err := c.get(ctx, "graph", nil)
	if err != nil {
		return Graph{}, err
	}
	var raw map[string][]Point
	if err := json.Unmarshal(body, &raw); err != nil {
		return Graph{}, fmt.Errorf("decode monitor graph: %w", err)
	}
	return BuildGraph(raw, time.Now().UTC()), nil
}

// Timespan fetches the track markup for a selected range. An empty result
// means nothing to show and callers should leave the focus panel alone.
func (c *Client) Timespan(ctx context.Context, start, end time.Time) (string, error) {
	if end.Before(start) {
		return "", fmt.Errorf("timespan end %s before start %s", end, start)
	}
	q := url.Values{}
	q.Set("start", epochSeconds(start))
	q.Set("end", epochSeconds(end))
	body, err := c.get(ctx, "timespan", q)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func epochSeconds(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMilli())/1000, 'f', -1, 64)
}

func (c *Client) endpoint(name string, q url.Values) string {
	u := c.base.JoinPath("monitor", name)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) get(ctx context.Context, name string, q url.Values) ([]byte, error) {
	target := c.endpoint(name, q)
	for attempt := 1; ; attempt++ {
		body, err := c.do(ctx, target)
		if err == nil {
			return body, nil
		}
		if !c.retry.ShouldRetry(err, attempt) {
			return nil, err
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Debug("retrying monitor request",
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("monitor request %s: %w", target, err)
		}
	}
}

func (c *Client) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build monitor request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("monitor request %s: %w", target, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && !errors.Is(cerr, context.Canceled) {
			c.logger.Debug("closing monitor response", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{Code: resp.StatusCode, URL: target}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read monitor response: %w", err)
	}
	return body, nil
}
