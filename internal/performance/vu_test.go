package performance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/bookload/internal/performance/book"
	"github.com/wesleyorama2/bookload/internal/performance/metrics"
)

// createTestServer creates a stub book API that answers 200 to everything
// except the given methods, which get failStatus.
func createTestServer(failStatus int, failMethods ...string) (*httptest.Server, *atomic.Int64) {
	var requests atomic.Int64
	fail := make(map[string]bool)
	for _, m := range failMethods {
		fail[m] = true
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if fail[r.Method] {
			w.WriteHeader(failStatus)
			_, _ = w.Write([]byte(`{"detail":"Book not found"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	return server, &requests
}

// recordingRecorder keeps every result for inspection.
type recordingRecorder struct {
	mu      sync.Mutex
	results []metrics.CheckResult
	err     error
}

func (r *recordingRecorder) Record(result metrics.CheckResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.results = append(r.results, result)
	return nil
}

func (r *recordingRecorder) snapshot() []metrics.CheckResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]metrics.CheckResult, len(r.results))
	copy(out, r.results)
	return out
}

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state VUState
		want  string
	}{
		{VUStateIdle, "idle"},
		{VUStateRunning, "running"},
		{VUStateStopping, "stopping"},
		{VUStateStopped, "stopped"},
		{VUState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("VUState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestVirtualUser_RunIteration_AllPass(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.RequestURI())
		mu.Unlock()
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				w.WriteHeader(http.StatusUnsupportedMediaType)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rec := &recordingRecorder{}
	vu := NewVirtualUser(3, server.URL, server.Client(), rec, 0, nil)

	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}

	results := rec.snapshot()
	if len(results) != 4 {
		t.Fatalf("recorded %d results, want 4", len(results))
	}
	for i, label := range book.Labels() {
		if results[i].Name != label {
			t.Errorf("result %d name = %q, want %q", i, results[i].Name, label)
		}
		if !results[i].Passed {
			t.Errorf("result %d (%s) failed: %s", i, label, results[i].Error)
		}
		if results[i].StatusCode != http.StatusOK {
			t.Errorf("result %d status = %d", i, results[i].StatusCode)
		}
	}

	want := []string{
		"POST /books/?book_id=3",
		"GET /books/3",
		"PUT /books/3",
		"DELETE /books/3",
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Errorf("requests = %v, want %v", seen, want)
	}
	if vu.GetIteration() != 1 {
		t.Errorf("GetIteration() = %d, want 1", vu.GetIteration())
	}
}

func TestVirtualUser_RunIteration_StatusFailureKeepsGoing(t *testing.T) {
	server, requests := createTestServer(http.StatusNotFound, http.MethodGet)
	defer server.Close()

	rec := &recordingRecorder{}
	vu := NewVirtualUser(1, server.URL, server.Client(), rec, 0, nil)

	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}

	if requests.Load() != 4 {
		t.Errorf("server saw %d requests, want 4", requests.Load())
	}

	results := rec.snapshot()
	if len(results) != 4 {
		t.Fatalf("recorded %d results, want 4", len(results))
	}
	read := results[1]
	if read.Passed {
		t.Error("read check should fail on 404")
	}
	if read.Error != "status 404: Book not found" {
		t.Errorf("read error = %q", read.Error)
	}
	if read.Transport {
		t.Error("a 404 is not a transport error")
	}
	for _, i := range []int{0, 2, 3} {
		if !results[i].Passed {
			t.Errorf("result %d (%s) should pass", i, results[i].Name)
		}
	}
}

func TestVirtualUser_RunIteration_NetworkFailureRecorded(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close() // connection refused from here on

	rec := &recordingRecorder{}
	vu := NewVirtualUser(1, url, &http.Client{Timeout: time.Second}, rec, 0, nil)

	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration() error = %v, want nil", err)
	}

	results := rec.snapshot()
	if len(results) != 4 {
		t.Fatalf("recorded %d results, want 4", len(results))
	}
	for _, r := range results {
		if r.Passed {
			t.Errorf("%s passed against a closed server", r.Name)
		}
		if !r.Transport {
			t.Errorf("%s should be a transport failure", r.Name)
		}
		if r.Error == "" {
			t.Errorf("%s has no error detail", r.Name)
		}
	}
}

func TestVirtualUser_RunIteration_RecorderFault(t *testing.T) {
	server, _ := createTestServer(0)
	defer server.Close()

	rec := &recordingRecorder{err: metrics.ErrInvalidCheck}
	vu := NewVirtualUser(1, server.URL, server.Client(), rec, 0, nil)

	err := vu.RunIteration(context.Background())
	if !errors.Is(err, metrics.ErrInvalidCheck) {
		t.Errorf("RunIteration() error = %v, want ErrInvalidCheck", err)
	}
}

func TestVirtualUser_Run_StopsBetweenIterations(t *testing.T) {
	release := make(chan struct{})
	var inFlight atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			inFlight.Store(1)
			<-release
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rec := &recordingRecorder{}
	vu := NewVirtualUser(1, server.URL, server.Client(), rec, time.Hour, nil)

	done := make(chan error, 1)
	go func() { done <- vu.Run(context.Background()) }()

	// Wait until the VU is blocked on the read step.
	deadline := time.Now().Add(5 * time.Second)
	for inFlight.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("VU never reached the read step")
		}
		time.Sleep(5 * time.Millisecond)
	}

	vu.RequestStop()
	if vu.GetState() != VUStateStopping {
		t.Errorf("state after RequestStop = %v, want stopping", vu.GetState())
	}
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("VU did not stop")
	}

	// The iteration in progress must have completed all four steps.
	if got := len(rec.snapshot()); got != 4 {
		t.Errorf("recorded %d results, want 4 (full iteration)", got)
	}
	if vu.GetState() != VUStateStopped {
		t.Errorf("final state = %v, want stopped", vu.GetState())
	}
}

func TestVirtualUser_Run_StopWakesPacing(t *testing.T) {
	server, _ := createTestServer(0)
	defer server.Close()

	rec := &recordingRecorder{}
	vu := NewVirtualUser(1, server.URL, server.Client(), rec, time.Hour, nil)

	done := make(chan struct{})
	go func() {
		_ = vu.Run(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(rec.snapshot()) < 4 {
		if time.Now().After(deadline) {
			t.Fatal("first iteration never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	vu.RequestStop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not interrupt the pacing sleep")
	}
}

func TestVirtualUser_Run_ContextCancelAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	defer server.Close()

	rec := &recordingRecorder{}
	vu := NewVirtualUser(1, server.URL, server.Client(), rec, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- vu.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	// Aborted requests are not counted as target failures.
	if got := len(rec.snapshot()); got != 0 {
		t.Errorf("recorded %d results after hard abort, want 0", got)
	}
}

func TestVirtualUser_RequestStopIdempotent(t *testing.T) {
	vu := NewVirtualUser(1, "http://localhost", http.DefaultClient, &recordingRecorder{}, 0, nil)

	vu.RequestStop()
	vu.RequestStop() // must not panic on double close

	vu.markStopped()
	vu.markStopped()
	vu.RequestStop()

	if vu.GetState() != VUStateStopped {
		t.Errorf("state = %v, want stopped", vu.GetState())
	}
}
