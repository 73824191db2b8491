package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Www.Legifrance.gouv.fr/liste/code", "www.legifrance.gouv.fr"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveCounters(t *testing.T) {
	before := testutil.ToFloat64(retrievalAttemptsTotal.WithLabelValues("metrics_test"))
	ObserveAttempt("metrics_test")
	if got := testutil.ToFloat64(retrievalAttemptsTotal.WithLabelValues("metrics_test")); got != before+1 {
		t.Errorf("expected attempts to grow by one, got %f -> %f", before, got)
	}

	beforeCache := testutil.ToFloat64(cacheEventsTotal.WithLabelValues("metrics_test"))
	ObserveCache("metrics_test")
	if got := testutil.ToFloat64(cacheEventsTotal.WithLabelValues("metrics_test")); got != beforeCache+1 {
		t.Errorf("expected cache events to grow by one, got %f -> %f", beforeCache, got)
	}

	beforeAcks := testutil.ToFloat64(operatorAcksTotal)
	ObserveOperatorAck()
	if got := testutil.ToFloat64(operatorAcksTotal); got != beforeAcks+1 {
		t.Errorf("expected operator acks to grow by one, got %f -> %f", beforeAcks, got)
	}

	ObserveFetchDuration("metrics_test", 20*time.Millisecond)
	ObserveRateLimitDelay("example.com", time.Second)
	ObserveDaemonProbe("alive")
	if n := testutil.CollectAndCount(fetchDurationSeconds); n == 0 {
		t.Error("expected fetch duration to be collected")
	}
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://www.legifrance.gouv.fr", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
