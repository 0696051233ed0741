// Package engine runs a complete book load test.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/bookload/internal/performance"
	"github.com/wesleyorama2/bookload/internal/performance/book"
	"github.com/wesleyorama2/bookload/internal/performance/config"
	"github.com/wesleyorama2/bookload/internal/performance/executor"
	"github.com/wesleyorama2/bookload/internal/performance/metrics"
)

// Process exit codes.
const (
	ExitPassed       = 0
	ExitChecksFailed = 1
	ExitHarnessError = 2
)

var (
	// ErrTargetUnreachable means the book API could not be reached at all.
	ErrTargetUnreachable = errors.New("target unreachable")

	// ErrAborted means the run was cancelled before any VU started.
	ErrAborted = errors.New("aborted before the test started")
)

// Runner is the orchestrator for a load test.
//
// It coordinates:
//   - Configuration validation (before any VU exists)
//   - A reachability check against the book collection
//   - The stage ramp and the VUs it drives
//   - The final summary
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("load.yaml")
//	runner, _ := engine.NewRunner(cfg)
//	result, err := runner.Run(context.Background())
//	os.Exit(engine.ExitCode(result, err))
type Runner struct {
	config *config.TestConfig
	stages []executor.Stage
	logger *zap.Logger

	httpConfig    performance.HTTPClientConfig
	tick          time.Duration
	skipPreflight bool

	progressInterval time.Duration
	onProgress       func(*Progress)

	mu         sync.RWMutex
	running    bool
	aggregator *metrics.Aggregator
	executor   *executor.RampingVUs
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTick sets how often the VU count is adjusted.
func WithTick(tick time.Duration) Option {
	return func(r *Runner) { r.tick = tick }
}

// WithSkipPreflight disables the reachability check.
func WithSkipPreflight(skip bool) Option {
	return func(r *Runner) { r.skipPreflight = skip }
}

// WithProgress calls fn every interval while the test runs.
func WithProgress(interval time.Duration, fn func(*Progress)) Option {
	return func(r *Runner) {
		r.progressInterval = interval
		r.onProgress = fn
	}
}

// Progress is a live view of a running test.
type Progress struct {
	// Fraction of the total stage duration elapsed (0.0 to 1.0)
	Fraction float64

	Stats   *executor.Stats
	Summary *metrics.RunSummary
}

// TestResult contains the complete test results.
type TestResult struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	BaseURL   string        `json:"baseUrl"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	Stages []config.StageConfig `json:"stages"`
	Pacing time.Duration        `json:"pacing"`

	VUsSpawned int64 `json:"vusSpawned"`
	MaxVUs     int   `json:"maxVUs"`

	Summary *metrics.RunSummary `json:"summary"`

	// Passed is true when every check passed and the harness did not fail
	Passed bool `json:"passed"`

	// Aborted is set when the run was cancelled before the last stage ended
	Aborted bool `json:"aborted,omitempty"`

	// Error describes a harness failure, if any
	Error string `json:"error,omitempty"`
}

// NewRunner validates cfg and creates a runner for it.
//
// Defaults are applied to cfg first. Invalid configuration is returned as
// an error wrapping *config.ValidationErrors.
func NewRunner(cfg *config.TestConfig, opts ...Option) (*Runner, error) {
	config.ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	stages, err := cfg.ExecutorStages()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	httpConfig := performance.DefaultHTTPClientConfig()
	httpConfig.Timeout = cfg.Timeout.GetDuration(config.DefaultTimeout)
	httpConfig.MaxConnsPerHost = cfg.MaxConnectionsPerHost
	httpConfig.InsecureSkipVerify = cfg.InsecureSkipVerify
	httpConfig.DisableKeepAlives = cfg.DisableKeepAlives

	r := &Runner{
		config:     cfg,
		stages:     stages,
		logger:     zap.NewNop(),
		httpConfig: httpConfig,
		tick:       executor.DefaultTick,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "runner"))

	return r, nil
}

// Run executes the test and returns its results.
//
// Cancelling ctx stops the ramp; VUs finish their iteration within the
// graceful stop period and the partial results are returned. A harness
// failure returns an error, together with a result when one exists.
func (r *Runner) Run(ctx context.Context) (*TestResult, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, fmt.Errorf("runner is already running")
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	agg := metrics.NewAggregator()
	agg.Register(book.Labels()...)
	agg.SetPhase(metrics.PhaseInit)

	scheduler := performance.NewVUScheduler(performance.SchedulerConfig{
		BaseURL: r.config.BaseURL,
		Pacing:  r.config.PacingDuration(),
		HTTP:    r.httpConfig,
	}, agg, r.logger)
	defer scheduler.Close()

	// A ramp that never spawns a VU sends no traffic at all.
	if !r.skipPreflight && r.config.MaxVUs() > 0 {
		if err := r.preflight(ctx, scheduler.Client()); err != nil {
			return nil, err
		}
	}

	exec := executor.NewRampingVUs(r.logger)
	if err := exec.Init(&executor.Config{
		Stages:       r.stages,
		GracefulStop: r.config.GracefulStop.GetDuration(config.DefaultGracefulStop),
		Tick:         r.tick,
	}); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	r.mu.Lock()
	r.aggregator = agg
	r.executor = exec
	r.mu.Unlock()

	r.logger.Info("load test started",
		zap.String("name", r.config.Name),
		zap.String("baseUrl", r.config.BaseURL),
		zap.Duration("duration", r.config.TotalDuration()),
		zap.Int("maxVUs", r.config.MaxVUs()))

	start := time.Now()
	done := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		return exec.Run(gctx, scheduler, agg)
	})
	if r.onProgress != nil && r.progressInterval > 0 {
		g.Go(func() error {
			r.reportProgress(done)
			return nil
		})
	}
	runErr := g.Wait()
	end := time.Now()

	summary := agg.Snapshot()
	result := &TestResult{
		ID:         uuid.NewString(),
		Name:       r.config.Name,
		BaseURL:    r.config.BaseURL,
		StartTime:  start,
		EndTime:    end,
		Duration:   end.Sub(start),
		Stages:     r.config.Stages,
		Pacing:     r.config.PacingDuration(),
		VUsSpawned: scheduler.Spawned(),
		MaxVUs:     r.config.MaxVUs(),
		Summary:    summary,
		Passed:     !summary.HasFailures(),
		Aborted:    exec.GetStats().Aborted,
	}

	switch {
	case runErr != nil:
		err := fmt.Errorf("run failed: %w", runErr)
		result.Passed = false
		result.Error = err.Error()
		return result, err
	case summary.TotalChecks > 0 && summary.TransportErrors == summary.TotalChecks:
		err := fmt.Errorf("%w: all %d requests failed at the transport level", ErrTargetUnreachable, summary.TotalChecks)
		result.Passed = false
		result.Error = err.Error()
		return result, err
	}

	r.logger.Info("load test finished",
		zap.Int64("checks", summary.TotalChecks),
		zap.Int64("failed", summary.FailedChecks),
		zap.Bool("aborted", result.Aborted))

	return result, nil
}

// preflight issues one GET against the book collection. Any HTTP response
// counts as reachable.
func (r *Runner) preflight(ctx context.Context, client *http.Client) error {
	if ctx.Err() != nil {
		return ErrAborted
	}
	target := book.CollectionURL(r.config.BaseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTargetUnreachable, target, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ErrAborted
		}
		return fmt.Errorf("%w: %s: %v", ErrTargetUnreachable, target, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	r.logger.Debug("preflight ok", zap.String("url", target), zap.Int("status", resp.StatusCode))
	return nil
}

func (r *Runner) reportProgress(done <-chan struct{}) {
	ticker := time.NewTicker(r.progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if p := r.Progress(); p != nil {
				r.onProgress(p)
			}
		}
	}
}

// Progress returns a live view of the running test, or nil before Run.
func (r *Runner) Progress() *Progress {
	r.mu.RLock()
	agg, exec := r.aggregator, r.executor
	r.mu.RUnlock()

	if agg == nil || exec == nil {
		return nil
	}
	return &Progress{
		Fraction: exec.GetProgress(),
		Stats:    exec.GetStats(),
		Summary:  agg.Snapshot(),
	}
}

// IsRunning returns true while Run is in progress.
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Config returns the validated configuration.
func (r *Runner) Config() *config.TestConfig {
	return r.config
}

// ExitCode maps the outcome of Run to a process exit code: 0 when every
// check passed, 1 when any check failed, 2 on a harness error.
func ExitCode(result *TestResult, err error) int {
	if err != nil || result == nil {
		return ExitHarnessError
	}
	if result.Summary != nil && result.Summary.HasFailures() {
		return ExitChecksFailed
	}
	return ExitPassed
}
