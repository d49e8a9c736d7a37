package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"websocket", "ws://Example.com:8889/progress/abc", "example.com"},
		{"secure websocket", "wss://wub.example/progress", "wub.example"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || channelDialFailuresTotal == nil ||
		monitorPollsTotal == nil || monitorFeedUpdatesTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	before := testutil.ToFloat64(channelDialFailuresTotal.WithLabelValues("dial.test"))
	ObserveDialFailure("ws://dial.test:8889/progress/abc")
	if val := testutil.ToFloat64(channelDialFailuresTotal.WithLabelValues("dial.test")); val != before+1 {
		t.Errorf("Expected dial failures to be %f, got %f", before+1, val)
	}

	ObserveMonitorPoll("ok")
	ObserveFeedUpdate("prepend")
	if val := testutil.ToFloat64(monitorFeedUpdatesTotal.WithLabelValues("prepend")); val < 1 {
		t.Errorf("Expected feed updates to be recorded, got %f", val)
	}
}

// Fuzz test for SanitizeHost.
func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"http://example.com", "ws://localhost:8889", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeHost(orig)
		if sanitized == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
