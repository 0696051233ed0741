package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *TestConfig {
	return &TestConfig{
		Name:    "Test",
		BaseURL: "http://localhost:8000",
		Stages:  []StageConfig{{Duration: "10s", Target: 2}},
	}
}

func TestValidate_MinimalValid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() returned error for valid config: %v", err)
	}
}

func TestValidate_ZeroStageIsValid(t *testing.T) {
	config := validConfig()
	config.Stages = []StageConfig{{Duration: "0s", Target: 0}}

	if err := config.Validate(); err != nil {
		t.Errorf("Validate() = %v, a zero-length stage is allowed", err)
	}
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *TestConfig)
		errMsg string
	}{
		{"no stages", func(c *TestConfig) { c.Stages = nil }, "stage"},
		{"missing base url", func(c *TestConfig) { c.BaseURL = "" }, "baseUrl"},
		{"bad scheme", func(c *TestConfig) { c.BaseURL = "ftp://books" }, "scheme"},
		{"no host", func(c *TestConfig) { c.BaseURL = "http://" }, "host"},
		{"unparseable url", func(c *TestConfig) { c.BaseURL = "http://[::1" }, "invalid URL"},
		{"negative pacing", func(c *TestConfig) { c.Pacing = NewDuration(-time.Second) }, "pacing"},
		{"negative timeout", func(c *TestConfig) { c.Timeout = Duration(-time.Second) }, "timeout"},
		{"negative grace", func(c *TestConfig) { c.GracefulStop = Duration(-time.Second) }, "gracefulStop"},
		{"negative conns", func(c *TestConfig) { c.MaxConnectionsPerHost = -1 }, "maxConnectionsPerHost"},
		{"negative duration", func(c *TestConfig) { c.Stages[0].Duration = "-10s" }, "stages[0].duration"},
		{"missing duration", func(c *TestConfig) { c.Stages[0].Duration = "" }, "duration is required"},
		{"bad duration", func(c *TestConfig) { c.Stages[0].Duration = "forever" }, "invalid duration"},
		{"negative target", func(c *TestConfig) { c.Stages[0].Target = -1 }, "stages[0].target"},
		{"target too large", func(c *TestConfig) { c.Stages[0].Target = 100001 }, "target must be <= 100000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.modify(config)

			err := config.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error should contain %q, got: %v", tt.errMsg, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	config := &TestConfig{
		BaseURL: "",
		Stages: []StageConfig{
			{Duration: "-1s", Target: 1},
			{Duration: "1s", Target: -1},
		},
	}

	err := config.Validate()
	verrs, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want *ValidationErrors", err)
	}
	if len(verrs.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(verrs.Errors), err)
	}
	if !strings.HasPrefix(err.Error(), "3 validation errors:") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	if errs.Error() != "no validation errors" {
		t.Errorf("empty Error() = %q", errs.Error())
	}
	if errs.HasErrors() {
		t.Error("HasErrors() should be false when empty")
	}

	errs.Add("stages", "at least one stage is required")
	if errs.Error() != "validation error on field 'stages': at least one stage is required" {
		t.Errorf("single Error() = %q", errs.Error())
	}

	unnamed := &ValidationError{Message: "broken"}
	if unnamed.Error() != "validation error: broken" {
		t.Errorf("unnamed Error() = %q", unnamed.Error())
	}
}
