package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/bookload/internal/performance"
	"github.com/wesleyorama2/bookload/internal/performance/metrics"
)

const (
	// DefaultTick is how often the VU count is adjusted.
	DefaultTick = 100 * time.Millisecond

	// DefaultGracefulStop is how long VUs get to finish their iteration.
	DefaultGracefulStop = 30 * time.Second

	// hardStopWait bounds the wait after in-flight requests are cancelled.
	hardStopWait = 5 * time.Second
)

// Config contains configuration for the ramping executor.
type Config struct {
	// Stages of the ramp, in order
	Stages []Stage `json:"stages" yaml:"stages"`

	// GracefulStop is how long VUs may take to finish their last iteration
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Tick is the VU adjustment interval
	Tick time.Duration `json:"tick,omitempty" yaml:"tick,omitempty"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if err := ValidateStages(c.Stages); err != nil {
		return err
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	if c.Tick < 0 {
		return &ValidationError{Field: "tick", Message: "tick must be >= 0"}
	}
	return nil
}

// TotalDuration calculates the total duration of the ramp.
func (c *Config) TotalDuration() time.Duration {
	return TotalDuration(c.Stages)
}

// StatusSink receives the phase and VU count as the ramp progresses.
// *metrics.Aggregator implements it.
type StatusSink interface {
	SetPhase(phase metrics.Phase)
	SetActiveVUs(count int)
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`

	Aborted bool `json:"aborted"`
}

// RampingVUs ramps VU count up and down according to stages.
//
// Every tick it interpolates the target VU count for the elapsed time and
// asks the scheduler to spawn or stop VUs to match. Stopped VUs finish their
// current iteration first.
//
// Example stages:
//
//	stages:
//	  - duration: 1m
//	    target: 5      # Ramp from 0 to 5 VUs over 1m
//	  - duration: 2m
//	    target: 10     # Ramp to 10 VUs over 2m
//	  - duration: 1m
//	    target: 10     # Stay at 10 VUs for 1m
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
type RampingVUs struct {
	config *Config
	logger *zap.Logger

	scheduler *performance.VUScheduler

	startTime    time.Time
	startMu      sync.RWMutex
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool
	aborted      atomic.Bool
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs(logger *zap.Logger) *RampingVUs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RampingVUs{
		logger: logger.With(zap.String("component", "ramping-vus")),
	}
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	cfg := *config
	if cfg.GracefulStop == 0 {
		cfg.GracefulStop = DefaultGracefulStop
	}
	if cfg.Tick == 0 {
		cfg.Tick = DefaultTick
	}
	e.config = &cfg
	return nil
}

// Run drives the scheduler through all stages and blocks until every VU has
// exited.
//
// Cancelling ctx ends the ramp early; VUs still get the graceful stop period
// before their requests are cancelled. Run only returns an error when a VU
// could not record its results.
func (e *RampingVUs) Run(ctx context.Context, scheduler *performance.VUScheduler, sink StatusSink) error {
	if e.config == nil {
		return fmt.Errorf("ramping-vus: Init must be called before Run")
	}

	e.scheduler = scheduler
	e.running.Store(true)
	defer e.running.Store(false)

	start := time.Now()
	e.startMu.Lock()
	e.startTime = start
	e.startMu.Unlock()

	// VU requests outlive ctx so a stop can be graceful; vuCancel is the
	// hard stop.
	vuCtx, vuCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer vuCancel()

	total := e.config.TotalDuration()
	e.logger.Info("ramp started",
		zap.Int("stages", len(e.config.Stages)),
		zap.Duration("duration", total),
		zap.Int("maxVUs", MaxTarget(e.config.Stages)))

	e.adjust(vuCtx, sink, time.Since(start))

	ticker := time.NewTicker(e.config.Tick)
	defer ticker.Stop()
	end := time.NewTimer(total)
	defer end.Stop()

controlLoop:
	for {
		select {
		case <-ctx.Done():
			e.aborted.Store(true)
			e.logger.Warn("ramp aborted", zap.Error(context.Cause(ctx)))
			break controlLoop
		case <-scheduler.Faulted():
			e.aborted.Store(true)
			break controlLoop
		case <-end.C:
			break controlLoop
		case <-ticker.C:
			e.adjust(vuCtx, sink, time.Since(start))
		}
	}

	e.targetVUs.Store(0)
	e.currentStage.Store(int32(len(e.config.Stages)))
	e.shutdown(vuCancel, sink)

	if err := scheduler.Fault(); err != nil {
		return fmt.Errorf("ramping-vus: %w", err)
	}
	return nil
}

// adjust brings the VU count in line with the ramp at elapsed.
func (e *RampingVUs) adjust(ctx context.Context, sink StatusSink, elapsed time.Duration) {
	total := e.config.TotalDuration()
	if elapsed >= total {
		return
	}

	target := DesiredVUs(e.config.Stages, elapsed)
	stage := StageIndex(e.config.Stages, elapsed)

	if prev := int(e.targetVUs.Swap(int32(target))); prev != target {
		e.logger.Debug("vu target changed", zap.Int("from", prev), zap.Int("to", target))
	}
	e.currentStage.Store(int32(stage))

	running := e.scheduler.Scale(ctx, target)
	sink.SetActiveVUs(running)
	sink.SetPhase(PhaseOf(e.config.Stages, stage))
}

// shutdown stops all VUs, giving them the graceful stop period to finish
// their iteration before cancelling in-flight requests.
func (e *RampingVUs) shutdown(vuCancel context.CancelFunc, sink StatusSink) {
	e.scheduler.StopAll()

	if !e.scheduler.Wait(e.config.GracefulStop) {
		e.logger.Warn("graceful stop expired, cancelling in-flight requests",
			zap.Duration("gracefulStop", e.config.GracefulStop),
			zap.Int("remainingVUs", e.scheduler.ActiveCount()))
		vuCancel()
		if !e.scheduler.Wait(hardStopWait) {
			e.logger.Error("VUs still running after hard stop", zap.Int("remainingVUs", e.scheduler.ActiveCount()))
		}
	}

	sink.SetActiveVUs(0)
	sink.SetPhase(metrics.PhaseDone)
	e.logger.Info("ramp finished", zap.Int64("vusSpawned", e.scheduler.Spawned()))
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	start := e.getStartTime()
	if !e.running.Load() {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}

	totalDuration := e.config.TotalDuration()
	if totalDuration == 0 {
		return 1.0
	}

	progress := float64(time.Since(start)) / float64(totalDuration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// IsRunning reports whether Run is in progress.
func (e *RampingVUs) IsRunning() bool {
	return e.running.Load()
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	start := e.getStartTime()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	stats := &Stats{
		StartTime:    start,
		Elapsed:      elapsed,
		TargetVUs:    int(e.targetVUs.Load()),
		Aborted:      e.aborted.Load(),
		CurrentStage: int(e.currentStage.Load()),
	}

	if e.config != nil {
		stats.TotalDuration = e.config.TotalDuration()
		stats.TotalStages = len(e.config.Stages)
		if stats.CurrentStage < len(e.config.Stages) {
			stats.CurrentStageName = e.config.Stages[stats.CurrentStage].Name
		}
	}
	if e.scheduler != nil {
		stats.ActiveVUs = e.scheduler.ActiveCount()
	}

	return stats
}

func (e *RampingVUs) getStartTime() time.Time {
	e.startMu.RLock()
	defer e.startMu.RUnlock()
	return e.startTime
}
