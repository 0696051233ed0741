package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/bookload/internal/performance/executor"
)

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// The document structure is checked against the embedded JSON schema before
// it is decoded. Returns the parsed TestConfig or an error if parsing fails.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	isJSON := strings.ToLower(filepath.Ext(path)) == ".json"

	if err := CheckStructure(data, isJSON); err != nil {
		return nil, err
	}

	var config TestConfig
	if isJSON {
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
//
// Returns the parsed duration or an error.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	// Try standard Go duration parsing first
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	// Try parsing as integer seconds
	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ParseStages parses the compact stage syntax used on the command line:
// "duration:target" pairs separated by commas, e.g. "30s:10,2m:10,30s:0".
//
// Only the syntax is checked here; negative values are left for Validate so
// they are reported together with other configuration errors.
func ParseStages(stagesStr string) ([]StageConfig, error) {
	var stages []StageConfig

	parts := strings.Split(stagesStr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Parse "duration:target" format
		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := strings.TrimSpace(part[:colonIdx])
		targetStr := strings.TrimSpace(part[colonIdx+1:])

		if _, err := ParseDurationString(durationStr); err != nil || durationStr == "" {
			return nil, fmt.Errorf("stage %d: invalid duration '%s'", i+1, durationStr)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}

		stages = append(stages, StageConfig{
			Duration: durationStr,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() *TestConfig {
	stages, _ := ParseStages(DefaultStages)
	config := &TestConfig{Stages: stages}
	ApplyDefaults(config)
	return config
}

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Name == "" {
		config.Name = DefaultName
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Pacing == nil {
		config.Pacing = NewDuration(DefaultPacing)
	}
	if config.Timeout == 0 {
		config.Timeout = Duration(DefaultTimeout)
	}
	if config.GracefulStop == 0 {
		config.GracefulStop = Duration(DefaultGracefulStop)
	}

	for i := range config.Stages {
		if config.Stages[i].Name == "" {
			config.Stages[i].Name = fmt.Sprintf("stage-%d", i+1)
		}
	}
}

// ExecutorStages converts the stage configs into executor stages.
func (c *TestConfig) ExecutorStages() ([]executor.Stage, error) {
	stages := make([]executor.Stage, 0, len(c.Stages))
	for i, s := range c.Stages {
		d, err := ParseDurationString(s.Duration)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i+1, err)
		}
		stages = append(stages, executor.Stage{
			Duration: d,
			Target:   s.Target,
			Name:     s.Name,
		})
	}
	return stages, nil
}

// PacingDuration returns the configured pacing, or the default when unset.
func (c *TestConfig) PacingDuration() time.Duration {
	if c.Pacing == nil {
		return DefaultPacing
	}
	return time.Duration(*c.Pacing)
}

// TotalDuration sums the stage durations. Unparseable stages count as zero.
func (c *TestConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range c.Stages {
		d, _ := ParseDurationString(s.Duration)
		if d > 0 {
			total += d
		}
	}
	return total
}

// MaxVUs returns the highest stage target.
func (c *TestConfig) MaxVUs() int {
	highest := 0
	for _, s := range c.Stages {
		if s.Target > highest {
			highest = s.Target
		}
	}
	return highest
}
