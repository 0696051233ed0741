package performance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/bookload/internal/performance/metrics"
)

func newTestScheduler(t *testing.T, baseURL string, recorder Recorder) *VUScheduler {
	t.Helper()
	s := NewVUScheduler(SchedulerConfig{
		BaseURL: baseURL,
		Pacing:  10 * time.Millisecond,
		HTTP:    DefaultHTTPClientConfig(),
	}, recorder, nil)
	t.Cleanup(func() {
		s.StopAll()
		s.Wait(5 * time.Second)
		s.Close()
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDefaultHTTPClientConfig(t *testing.T) {
	config := DefaultHTTPClientConfig()

	if config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", config.Timeout)
	}
	if config.MaxIdleConns != 1000 {
		t.Errorf("MaxIdleConns = %d, want 1000", config.MaxIdleConns)
	}
	if config.MaxIdleConnsPerHost != 100 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 100", config.MaxIdleConnsPerHost)
	}
	if config.IdleConnTimeout != 90*time.Second {
		t.Errorf("IdleConnTimeout = %v, want 90s", config.IdleConnTimeout)
	}
	if config.DisableKeepAlives {
		t.Error("DisableKeepAlives should be false by default")
	}
}

func TestNewHTTPClient(t *testing.T) {
	cfg := DefaultHTTPClientConfig()
	cfg.Timeout = 5 * time.Second
	cfg.InsecureSkipVerify = true

	client := NewHTTPClient(cfg)
	if client.Timeout != 5*time.Second {
		t.Errorf("client.Timeout = %v, want 5s", client.Timeout)
	}
}

func TestNewVUScheduler_DefaultsHTTPConfig(t *testing.T) {
	s := NewVUScheduler(SchedulerConfig{BaseURL: "http://localhost"}, &recordingRecorder{}, nil)
	defer s.Close()

	if s.Client().Timeout != 30*time.Second {
		t.Errorf("default client timeout = %v, want 30s", s.Client().Timeout)
	}
	if s.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", s.ActiveCount())
	}
}

func TestVUScheduler_SpawnAssignsLowestFreeID(t *testing.T) {
	server, _ := createTestServer(0)
	defer server.Close()

	s := newTestScheduler(t, server.URL, &recordingRecorder{})
	ctx := context.Background()

	vu1 := s.SpawnVU(ctx)
	vu2 := s.SpawnVU(ctx)
	vu3 := s.SpawnVU(ctx)
	if vu1.ID != 1 || vu2.ID != 2 || vu3.ID != 3 {
		t.Fatalf("ids = %d,%d,%d, want 1,2,3", vu1.ID, vu2.ID, vu3.ID)
	}

	vu2.RequestStop()
	waitFor(t, "vu 2 release", func() bool { return !hasVU(s, 2) })
	if vu2.GetState() != VUStateStopped {
		t.Errorf("vu 2 state = %v, want stopped", vu2.GetState())
	}

	vu4 := s.SpawnVU(ctx)
	if vu4.ID != 2 {
		t.Errorf("reused id = %d, want 2", vu4.ID)
	}
	if s.Spawned() != 4 {
		t.Errorf("Spawned() = %d, want 4", s.Spawned())
	}
}

func TestVUScheduler_IDNotReusedWhileStopping(t *testing.T) {
	release := make(chan struct{})
	var blocked atomic.Bool
	server, _ := createTestServer(0)
	defer server.Close()

	rec := &blockingRecorder{release: release, blocked: &blocked}
	s := newTestScheduler(t, server.URL, rec)
	ctx := context.Background()

	vu1 := s.SpawnVU(ctx)
	waitFor(t, "vu 1 mid-iteration", blocked.Load)

	// vu 1 is still finishing its iteration, so its id stays reserved.
	vu1.RequestStop()
	vu2 := s.SpawnVU(ctx)
	if vu2.ID == vu1.ID {
		t.Errorf("id %d reused while the previous owner is still running", vu2.ID)
	}
	close(release)
}

// hasVU reports whether id is held by a live VU.
func hasVU(s *VUScheduler, id int) bool {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()
	_, ok := s.vus[id]
	return ok
}

// blockingRecorder blocks every Record call until release is closed.
type blockingRecorder struct {
	release <-chan struct{}
	blocked *atomic.Bool
}

func (b *blockingRecorder) Record(metrics.CheckResult) error {
	b.blocked.Store(true)
	<-b.release
	return nil
}

func TestVUScheduler_Scale(t *testing.T) {
	server, _ := createTestServer(0)
	defer server.Close()

	s := newTestScheduler(t, server.URL, metrics.NewAggregator())
	ctx := context.Background()

	if got := s.Scale(ctx, 5); got != 5 {
		t.Errorf("Scale(5) = %d, want 5", got)
	}
	if s.RunningCount() != 5 {
		t.Errorf("RunningCount() = %d, want 5", s.RunningCount())
	}

	s.Scale(ctx, 2)
	if s.RunningCount() != 2 {
		t.Errorf("RunningCount() after scale down = %d, want 2", s.RunningCount())
	}
	waitFor(t, "excess VUs to exit", func() bool { return s.ActiveCount() == 2 })

	// Survivors are the lowest ids.
	if !hasVU(s, 1) || !hasVU(s, 2) {
		t.Error("scale down should keep the lowest ids")
	}

	s.Scale(ctx, -1)
	waitFor(t, "all VUs to exit", func() bool { return s.ActiveCount() == 0 })
}

func TestVUScheduler_StopAllAndWait(t *testing.T) {
	server, _ := createTestServer(0)
	defer server.Close()

	agg := metrics.NewAggregator()
	s := newTestScheduler(t, server.URL, agg)
	s.Scale(context.Background(), 3)

	waitFor(t, "some checks", func() bool { return agg.Snapshot().TotalChecks >= 12 })

	s.StopAll()
	if !s.Wait(5 * time.Second) {
		t.Fatal("Wait() = false, VUs did not stop")
	}
	if s.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d after Wait, want 0", s.ActiveCount())
	}

	// Every VU finished whole iterations: checks are a multiple of four.
	if total := agg.Snapshot().TotalChecks; total%4 != 0 {
		t.Errorf("TotalChecks = %d, want a multiple of 4", total)
	}
}

func TestVUScheduler_FaultReported(t *testing.T) {
	server, _ := createTestServer(0)
	defer server.Close()

	rec := &recordingRecorder{err: metrics.ErrInvalidCheck}
	s := newTestScheduler(t, server.URL, rec)

	if s.Fault() != nil {
		t.Fatal("Fault() should be nil before any VU runs")
	}

	s.SpawnVU(context.Background())

	select {
	case <-s.Faulted():
	case <-time.After(5 * time.Second):
		t.Fatal("fault was not reported")
	}
	if !errors.Is(s.Fault(), metrics.ErrInvalidCheck) {
		t.Errorf("Fault() = %v, want ErrInvalidCheck", s.Fault())
	}
	waitFor(t, "faulted VU to exit", func() bool { return s.ActiveCount() == 0 })
}
