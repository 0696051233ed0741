package performance

import (
	"context"
	"crypto/tls"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// VUScheduler manages the lifecycle of Virtual Users.
//
// It provides:
// - VU pool management (spawning/stopping VUs, id allocation)
// - Shared HTTP client configuration
// - Graceful shutdown coordination
//
// Executors decide how many VUs should exist; the scheduler makes it so.
type VUScheduler struct {
	config   SchedulerConfig
	recorder Recorder
	logger   *zap.Logger

	client *http.Client

	// Live VUs by id. A VU stays here until its goroutine exits, which keeps
	// its id reserved.
	vus   map[int]*VirtualUser
	vusMu sync.Mutex

	wg sync.WaitGroup

	spawned atomic.Int64

	faultOnce sync.Once
	fault     error
	faultCh   chan struct{}
}

// SchedulerConfig configures the VUs a scheduler spawns.
type SchedulerConfig struct {
	// BaseURL of the book API
	BaseURL string

	// Pacing between iterations of each VU
	Pacing time.Duration

	// HTTP client configuration
	HTTP HTTPClientConfig
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0, // Unlimited
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient builds the client shared by all VUs. Only HTTP/1.1 is used.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// NewVUScheduler creates a new VU scheduler.
func NewVUScheduler(config SchedulerConfig, recorder Recorder, logger *zap.Logger) *VUScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HTTP.Timeout == 0 {
		config.HTTP = DefaultHTTPClientConfig()
	}

	return &VUScheduler{
		config:   config,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "vu-scheduler")),
		client:   NewHTTPClient(config.HTTP),
		vus:      make(map[int]*VirtualUser),
		faultCh:  make(chan struct{}),
	}
}

// Client returns the shared HTTP client.
func (s *VUScheduler) Client() *http.Client {
	return s.client
}

// SpawnVU creates a VU with the lowest free id and starts it.
//
// ctx bounds the VU's requests; cancelling it aborts in-flight requests.
// Use RequestStop or StopAll for a graceful stop.
func (s *VUScheduler) SpawnVU(ctx context.Context) *VirtualUser {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()
	return s.spawnLocked(ctx)
}

func (s *VUScheduler) spawnLocked(ctx context.Context) *VirtualUser {
	id := 1
	for {
		if _, taken := s.vus[id]; !taken {
			break
		}
		id++
	}

	vu := NewVirtualUser(id, s.config.BaseURL, s.client, s.recorder, s.config.Pacing, s.logger)
	s.vus[id] = vu
	s.spawned.Add(1)

	s.wg.Add(1)
	go s.run(ctx, vu)

	s.logger.Debug("vu started", zap.Int("vu", id))
	return vu
}

// run drives a VU and releases its id once it exits.
func (s *VUScheduler) run(ctx context.Context, vu *VirtualUser) {
	defer s.wg.Done()

	if err := vu.Run(ctx); err != nil {
		s.reportFault(err)
	}

	s.vusMu.Lock()
	delete(s.vus, vu.ID)
	s.vusMu.Unlock()

	s.logger.Debug("vu exited", zap.Int("vu", vu.ID), zap.Int64("iterations", vu.GetIteration()))
}

// Scale spawns or stops VUs until target VUs are running.
//
// VUs already asked to stop do not count towards the target. Excess VUs are
// stopped highest id first. Returns the number of running VUs.
func (s *VUScheduler) Scale(ctx context.Context, target int) int {
	if target < 0 {
		target = 0
	}

	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	running := s.runningLocked()

	switch {
	case target > len(running):
		for i := len(running); i < target; i++ {
			s.spawnLocked(ctx)
		}
	case target < len(running):
		for _, vu := range running[target:] {
			vu.RequestStop()
			s.logger.Debug("vu stop requested", zap.Int("vu", vu.ID))
		}
	}

	return target
}

// runningLocked returns VUs not asked to stop, ordered by id.
func (s *VUScheduler) runningLocked() []*VirtualUser {
	running := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		state := vu.GetState()
		if state == VUStateIdle || state == VUStateRunning {
			running = append(running, vu)
		}
	}
	sort.Slice(running, func(i, j int) bool { return running[i].ID < running[j].ID })
	return running
}

// ActiveCount returns the number of VU goroutines still alive, including
// those finishing their last iteration.
func (s *VUScheduler) ActiveCount() int {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()
	return len(s.vus)
}

// RunningCount returns the number of VUs not asked to stop.
func (s *VUScheduler) RunningCount() int {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()
	return len(s.runningLocked())
}

// Spawned returns how many VUs were started over the scheduler's lifetime.
func (s *VUScheduler) Spawned() int64 {
	return s.spawned.Load()
}

// StopAll requests every VU to stop after its current iteration.
func (s *VUScheduler) StopAll() {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// Wait blocks until every VU has exited or the timeout expires.
// Returns true if all VUs exited.
func (s *VUScheduler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Close releases idle connections of the shared client.
func (s *VUScheduler) Close() {
	s.client.CloseIdleConnections()
}

func (s *VUScheduler) reportFault(err error) {
	s.faultOnce.Do(func() {
		s.fault = err
		close(s.faultCh)
		s.logger.Error("vu fault", zap.Error(err))
	})
}

// Faulted is closed when a VU could not record its results.
func (s *VUScheduler) Faulted() <-chan struct{} {
	return s.faultCh
}

// Fault returns the first recording fault, if any.
func (s *VUScheduler) Fault() error {
	select {
	case <-s.faultCh:
		return s.fault
	default:
		return nil
	}
}
