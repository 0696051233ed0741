// Package config provides configuration parsing and validation for book load tests.
package config

import (
	"bytes"
	"encoding/json"
	"time"
)

// Defaults used when a field is left empty.
const (
	DefaultName         = "Book CRUD load test"
	DefaultBaseURL      = "http://localhost:8000"
	DefaultPacing       = time.Second
	DefaultTimeout      = 30 * time.Second
	DefaultGracefulStop = 30 * time.Second

	// DefaultStages is the classic ramp: up to 5, up to 10, hold, down.
	DefaultStages = "1m:5,2m:10,1m:10,30s:0"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "Book CRUD load test"
//	baseUrl: "http://localhost:8000"
//	pacing: 1s
//	timeout: 30s
//	gracefulStop: 30s
//	stages:
//	  - duration: 1m
//	    target: 5
//	  - duration: 30s
//	    target: 0
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// BaseURL of the book API, without the /books path
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Pacing is the pause between iterations of each VU. Nil means the default;
	// an explicit 0 disables the pause.
	Pacing *Duration `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// Timeout is the per-request HTTP timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// GracefulStop is how long VUs may take to finish their last iteration
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// MaxConnectionsPerHost limits connections to the target (0 = unlimited)
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// DisableKeepAlives opens a new connection for every request
	DisableKeepAlives bool `json:"disableKeepAlives,omitempty" yaml:"disableKeepAlives,omitempty"`

	// Stages defines the VU ramp
	Stages []StageConfig `json:"stages" yaml:"stages"`
}

// StageConfig defines a single stage of the VU ramp.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m"). "0s" is an instant jump.
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// UnmarshalJSON accepts the duration as a string or as a number of seconds.
func (s *StageConfig) UnmarshalJSON(b []byte) error {
	type plain StageConfig
	var raw struct {
		plain
		Duration json.RawMessage `json:"duration"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*s = StageConfig(raw.plain)
	s.Duration = ""

	d := bytes.TrimSpace(raw.Duration)
	switch {
	case len(d) == 0 || bytes.Equal(d, []byte("null")):
	case d[0] == '"':
		return json.Unmarshal(d, &s.Duration)
	default:
		var n json.Number
		if err := json.Unmarshal(d, &n); err != nil {
			return err
		}
		s.Duration = n.String()
	}
	return nil
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// NewDuration returns a pointer to d, for optional fields.
func NewDuration(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes if present
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
