package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderTracksRefreshes(t *testing.T) {
	rec := newRecorder(prometheus.NewRegistry())
	rec.RecordRefresh(100*time.Millisecond, nil)
	rec.RecordRefresh(4*time.Second, errors.New("refresh failed"))
	rec.RecordRefresh(200*time.Millisecond, nil)

	if got := testutil.ToFloat64(rec.refreshes.WithLabelValues("success")); got != 2 {
		t.Fatalf("expected 2 successful refreshes, got %v", got)
	}
	if got := testutil.ToFloat64(rec.refreshes.WithLabelValues("failure")); got != 1 {
		t.Fatalf("expected 1 failed refresh, got %v", got)
	}

	snap := rec.Snapshot()
	if snap.Refreshes != 3 || snap.Failures != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.LastRefreshTook != 200*time.Millisecond {
		t.Fatalf("expected last duration 200ms, got %s", snap.LastRefreshTook)
	}
}

func TestRecorderTracksCompletionsAndHistory(t *testing.T) {
	rec := newRecorder(prometheus.NewRegistry())
	rec.RecordCompletions(2)
	rec.RecordCompletions(0)
	rec.RecordCompletions(1)
	rec.RecordHistorySize(7)

	if got := testutil.ToFloat64(rec.completions); got != 3 {
		t.Fatalf("expected 3 completions, got %v", got)
	}
	if got := testutil.ToFloat64(rec.history); got != 7 {
		t.Fatalf("expected history gauge 7, got %v", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.RecordRefresh(time.Second, nil)
	rec.RecordCompletions(1)
	rec.RecordHistorySize(1)
	if snap := rec.Snapshot(); snap != (Snapshot{}) {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	rec := NewRecorder()
	rec.RecordRefresh(time.Second, nil)
	rec.RecordCompletions(1)

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{
		"nzbwatch_refresh_total",
		"nzbwatch_download_complete_events_total",
		"nzbwatch_refresh_duration_seconds",
		"nzbwatch_history_items",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected %s in exposition output", name)
		}
	}
}
