package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://API.github.com/users/alice/events/public", "api.github.com"},
		{"no scheme", "api.github.com/users", "api.github.com"},
		{"host with port", "localhost:8080", "localhost"},
		{"ip address", "127.0.0.1", "127.0.0.1"},
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

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := activityEmitsTotal
	Init()
	if activityEmitsTotal != first {
		t.Fatal("Init() replaced collectors on second call")
	}
}

func TestObserveFetchLabelsStatus(t *testing.T) {
	Init()
	before := testutil.ToFloat64(activityFetchesTotal.WithLabelValues("events", "304"))
	ObserveFetch("events", 304, 10*time.Millisecond)
	if got := testutil.ToFloat64(activityFetchesTotal.WithLabelValues("events", "304")); got != before+1 {
		t.Errorf("expected 304 counter to grow by 1, got %f -> %f", before, got)
	}

	beforeErr := testutil.ToFloat64(activityFetchesTotal.WithLabelValues("commit", "error"))
	ObserveFetch("commit", 0, time.Millisecond)
	if got := testutil.ToFloat64(activityFetchesTotal.WithLabelValues("commit", "error")); got != beforeErr+1 {
		t.Errorf("expected error counter to grow by 1, got %f -> %f", beforeErr, got)
	}
}

func TestGauges(t *testing.T) {
	Init()
	SetQueueDepth(7)
	if got := testutil.ToFloat64(activityQueueDepth); got != 7 {
		t.Errorf("queue depth = %f; want 7", got)
	}
	SetPendingPushes(2)
	if got := testutil.ToFloat64(activityPendingPushes); got != 2 {
		t.Errorf("pending pushes = %f; want 2", got)
	}
}

// Fuzz test for SanitizeHost.
func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"https://api.github.com", "http://localhost:9000", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
