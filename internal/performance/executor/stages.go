// Package executor turns a stage list into a live virtual user count.
package executor

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/bookload/internal/performance/metrics"
)

// MaxStageTarget caps the VU count a single stage may ask for.
const MaxStageTarget = 100000

// Stage defines one segment of the load ramp.
type Stage struct {
	// Duration of this stage. Zero makes the stage an instant jump.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ValidationError represents a stage validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// ValidateStages checks that the list is non-empty and that no stage has a
// negative duration or a target outside 0..MaxStageTarget.
func ValidateStages(stages []Stage) error {
	if len(stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	for i, s := range stages {
		if s.Duration < 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("stages[%d].duration", i),
				Message: fmt.Sprintf("duration must be >= 0, got %s", s.Duration),
			}
		}
		if s.Target < 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("stages[%d].target", i),
				Message: fmt.Sprintf("target must be >= 0, got %d", s.Target),
			}
		}
		if s.Target > MaxStageTarget {
			return &ValidationError{
				Field:   fmt.Sprintf("stages[%d].target", i),
				Message: fmt.Sprintf("target must be <= %d, got %d", MaxStageTarget, s.Target),
			}
		}
	}
	return nil
}

// TotalDuration is the sum of all stage durations.
func TotalDuration(stages []Stage) time.Duration {
	var total time.Duration
	for _, s := range stages {
		total += s.Duration
	}
	return total
}

// MaxTarget returns the highest target across stages.
func MaxTarget(stages []Stage) int {
	highest := 0
	for _, s := range stages {
		if s.Target > highest {
			highest = s.Target
		}
	}
	return highest
}

// DesiredVUs returns how many VUs should be running at elapsed.
//
// The ramp starts at 0 VUs and moves linearly from one stage's target to the
// next, rounded to the nearest whole VU. At exactly the end of the last stage
// it returns that stage's target; before the start and after the end it
// returns 0.
func DesiredVUs(stages []Stage, elapsed time.Duration) int {
	if elapsed < 0 {
		return 0
	}

	var stageStart time.Duration
	prevTarget := 0

	for _, stage := range stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5)
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	if elapsed == stageStart {
		return prevTarget
	}
	return 0
}

// StageIndex returns the index of the stage running at elapsed, or
// len(stages) once all stages are over.
func StageIndex(stages []Stage, elapsed time.Duration) int {
	var stageEnd time.Duration
	for i, stage := range stages {
		stageEnd += stage.Duration
		if elapsed < stageEnd {
			return i
		}
	}
	return len(stages)
}

// PhaseOf classifies a stage by comparing its target with the previous one.
func PhaseOf(stages []Stage, idx int) metrics.Phase {
	if idx < 0 {
		return metrics.PhaseInit
	}
	if idx >= len(stages) {
		return metrics.PhaseDone
	}

	prevTarget := 0
	if idx > 0 {
		prevTarget = stages[idx-1].Target
	}

	switch target := stages[idx].Target; {
	case target > prevTarget:
		return metrics.PhaseRampUp
	case target < prevTarget:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}
