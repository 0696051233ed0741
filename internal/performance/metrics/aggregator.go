// Package metrics collects check outcomes and request latencies for a load
// test run.
package metrics

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// ErrInvalidCheck is returned when a check result cannot be counted.
// The run's numbers are no longer trustworthy once this happens, so callers
// treat it as fatal.
var ErrInvalidCheck = errors.New("invalid check result")

// otherReason collects failure reasons past the per-label limit.
const otherReason = "other"

// Aggregator collects check results using atomic counters and HDR histograms.
//
// # Thread Safety
//
// Aggregator is safe for concurrent use. Pass/fail counters are atomics,
// histograms and failure reasons are mutex protected, and the label map is
// only write-locked the first time a label is seen.
type Aggregator struct {
	// Per-label counters
	checks   map[string]*checkCounters
	checksMu sync.RWMutex

	// HDR Histogram for latency over all checks
	// Range: 1 microsecond to 1 hour, 3 significant figures
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	totalChecks     atomic.Int64
	passedChecks    atomic.Int64
	failedChecks    atomic.Int64
	transportErrors atomic.Int64

	activeVUs atomic.Int32

	currentPhase Phase
	phaseMu      sync.RWMutex

	startTime time.Time

	config Config
}

type checkCounters struct {
	passes atomic.Int64
	fails  atomic.Int64

	mu      sync.Mutex
	hist    *hdrhistogram.Histogram
	reasons map[string]int64
}

// Config contains configuration for the aggregator.
type Config struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// MaxFailureReasons bounds the distinct failure reasons kept per label.
	MaxFailureReasons int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HistogramMin:      1,
		HistogramMax:      3600000000,
		HistogramSigFigs:  3,
		MaxFailureReasons: 20,
	}
}

// NewAggregator creates an aggregator with the default configuration.
func NewAggregator() *Aggregator {
	return NewAggregatorWithConfig(DefaultConfig())
}

// NewAggregatorWithConfig creates an aggregator with a custom configuration.
func NewAggregatorWithConfig(config Config) *Aggregator {
	if config.MaxFailureReasons <= 0 {
		config.MaxFailureReasons = DefaultConfig().MaxFailureReasons
	}

	return &Aggregator{
		checks:       make(map[string]*checkCounters),
		latencyHist:  hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		currentPhase: PhaseInit,
		startTime:    time.Now(),
		config:       config,
	}
}

// Register pre-creates the counters for the given labels so they show up
// in snapshots with zero counts before any request completes.
func (a *Aggregator) Register(labels ...string) {
	for _, label := range labels {
		if label != "" {
			a.counters(label)
		}
	}
}

// Record folds one check result into the counters.
func (a *Aggregator) Record(result CheckResult) error {
	if result.Name == "" {
		return fmt.Errorf("%w: empty check name", ErrInvalidCheck)
	}
	if result.Latency < 0 {
		return fmt.Errorf("%w: negative latency for %q", ErrInvalidCheck, result.Name)
	}

	latencyMicros := a.clamp(result.Latency.Microseconds())
	c := a.counters(result.Name)

	a.latencyHistMu.Lock()
	err := a.latencyHist.RecordValue(latencyMicros)
	a.latencyHistMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCheck, err)
	}

	c.mu.Lock()
	err = c.hist.RecordValue(latencyMicros)
	if err == nil && !result.Passed {
		reason := result.Error
		if reason == "" {
			reason = "failed"
		}
		if _, seen := c.reasons[reason]; !seen && len(c.reasons) >= a.config.MaxFailureReasons {
			reason = otherReason
		}
		c.reasons[reason]++
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCheck, err)
	}

	a.totalChecks.Add(1)
	if result.Passed {
		c.passes.Add(1)
		a.passedChecks.Add(1)
	} else {
		c.fails.Add(1)
		a.failedChecks.Add(1)
	}
	if result.Transport {
		a.transportErrors.Add(1)
	}

	return nil
}

// counters returns the counters for a label, creating them on first use.
func (a *Aggregator) counters(label string) *checkCounters {
	a.checksMu.RLock()
	c, ok := a.checks[label]
	a.checksMu.RUnlock()
	if ok {
		return c
	}

	a.checksMu.Lock()
	defer a.checksMu.Unlock()

	if c, ok = a.checks[label]; ok {
		return c
	}
	c = &checkCounters{
		hist:    hdrhistogram.New(a.config.HistogramMin, a.config.HistogramMax, a.config.HistogramSigFigs),
		reasons: make(map[string]int64),
	}
	a.checks[label] = c
	return c
}

func (a *Aggregator) clamp(micros int64) int64 {
	if micros < a.config.HistogramMin {
		return a.config.HistogramMin
	}
	if micros > a.config.HistogramMax {
		return a.config.HistogramMax
	}
	return micros
}

// SetPhase updates the current test phase.
func (a *Aggregator) SetPhase(phase Phase) {
	a.phaseMu.Lock()
	defer a.phaseMu.Unlock()
	a.currentPhase = phase
}

// GetPhase returns the current test phase.
func (a *Aggregator) GetPhase() Phase {
	a.phaseMu.RLock()
	defer a.phaseMu.RUnlock()
	return a.currentPhase
}

// SetActiveVUs updates the active VU count.
func (a *Aggregator) SetActiveVUs(count int) {
	a.activeVUs.Store(int32(count))
}

// GetActiveVUs returns the current active VU count.
func (a *Aggregator) GetActiveVUs() int {
	return int(a.activeVUs.Load())
}

// Snapshot returns a copy of all counters. The result shares no memory with
// the aggregator.
func (a *Aggregator) Snapshot() *RunSummary {
	a.latencyHistMu.Lock()
	latency := statsFrom(a.latencyHist)
	a.latencyHistMu.Unlock()

	a.checksMu.RLock()
	checks := make(map[string]*CheckSummary, len(a.checks))
	for name, c := range a.checks {
		c.mu.Lock()
		reasons := make(map[string]int64, len(c.reasons))
		for reason, n := range c.reasons {
			reasons[reason] = n
		}
		summary := &CheckSummary{
			Name:           name,
			Passes:         c.passes.Load(),
			Fails:          c.fails.Load(),
			FailureReasons: reasons,
			Latency:        statsFrom(c.hist),
		}
		c.mu.Unlock()
		checks[name] = summary
	}
	a.checksMu.RUnlock()

	now := time.Now()
	return &RunSummary{
		Checks:          checks,
		TotalChecks:     a.totalChecks.Load(),
		PassedChecks:    a.passedChecks.Load(),
		FailedChecks:    a.failedChecks.Load(),
		TransportErrors: a.transportErrors.Load(),
		Latency:         latency,
		ActiveVUs:       a.GetActiveVUs(),
		CurrentPhase:    a.GetPhase(),
		Elapsed:         now.Sub(a.startTime),
		StartTime:       a.startTime,
		Timestamp:       now,
	}
}

// statsFrom reads a histogram. The caller holds the histogram's lock.
func statsFrom(hist *hdrhistogram.Histogram) LatencyStats {
	if hist.TotalCount() == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Min:    time.Duration(hist.Min()) * time.Microsecond,
		Max:    time.Duration(hist.Max()) * time.Microsecond,
		Mean:   time.Duration(hist.Mean()) * time.Microsecond,
		StdDev: time.Duration(hist.StdDev()) * time.Microsecond,
		P50:    time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  hist.TotalCount(),
	}
}
