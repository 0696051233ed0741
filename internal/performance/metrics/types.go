package metrics

import "time"

// Phase represents a phase of the load test.
type Phase string

const (
	// PhaseInit is the phase before the first VU starts.
	PhaseInit Phase = "init"

	// PhaseRampUp is the phase when the VU target is increasing.
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is the phase when the VU target holds.
	PhaseSteady Phase = "steady"

	// PhaseRampDown is the phase when the VU target is decreasing.
	PhaseRampDown Phase = "ramp-down"

	// PhaseDone indicates the test has completed.
	PhaseDone Phase = "done"
)

// CheckResult is the outcome of one named assertion about one response.
//
// Results are values: once built they are passed to Aggregator.Record and
// folded into counters. The aggregator never keeps them.
type CheckResult struct {
	Name       string        `json:"name"`
	Passed     bool          `json:"passed"`
	Timestamp  time.Time     `json:"timestamp"`
	Latency    time.Duration `json:"latency"`
	StatusCode int           `json:"statusCode,omitempty"`

	// Error describes why the check failed. Empty for passes.
	Error string `json:"error,omitempty"`

	// Transport is set when no HTTP response was received at all.
	Transport bool `json:"transport,omitempty"`
}

// RunSummary is a point-in-time copy of everything the aggregator counted.
type RunSummary struct {
	Checks map[string]*CheckSummary `json:"checks"`

	TotalChecks     int64 `json:"totalChecks"`
	PassedChecks    int64 `json:"passedChecks"`
	FailedChecks    int64 `json:"failedChecks"`
	TransportErrors int64 `json:"transportErrors"`

	Latency LatencyStats `json:"latency"`

	ActiveVUs    int           `json:"activeVUs"`
	CurrentPhase Phase         `json:"currentPhase"`
	Elapsed      time.Duration `json:"elapsed"`
	StartTime    time.Time     `json:"startTime"`
	Timestamp    time.Time     `json:"timestamp"`
}

// CheckSummary holds the counters for a single check label.
type CheckSummary struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`

	// FailureReasons counts fails by reason.
	FailureReasons map[string]int64 `json:"failureReasons,omitempty"`

	Latency LatencyStats `json:"latency"`
}

// Total returns passes plus fails.
func (c *CheckSummary) Total() int64 {
	return c.Passes + c.Fails
}

// HasFailures reports whether any check failed.
func (s *RunSummary) HasFailures() bool {
	return s.FailedChecks > 0
}

// RequestRate returns checks per second over the elapsed time. Every check
// corresponds to exactly one request.
func (s *RunSummary) RequestRate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.TotalChecks) / s.Elapsed.Seconds()
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
