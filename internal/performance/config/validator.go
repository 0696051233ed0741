package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wesleyorama2/bookload/internal/performance/executor"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing all validation
// errors. It never starts anything, so a failing config spawns no VUs.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateBaseURL(c.BaseURL, errs)

	if c.Pacing != nil && *c.Pacing < 0 {
		errs.Add("pacing", fmt.Sprintf("pacing must be >= 0, got %s", c.Pacing))
	}
	if c.Timeout < 0 {
		errs.Add("timeout", fmt.Sprintf("timeout must be >= 0, got %s", c.Timeout))
	}
	if c.GracefulStop < 0 {
		errs.Add("gracefulStop", fmt.Sprintf("gracefulStop must be >= 0, got %s", c.GracefulStop))
	}
	if c.MaxConnectionsPerHost < 0 {
		errs.Add("maxConnectionsPerHost", "maxConnectionsPerHost must be >= 0")
	}

	validateStages(c.Stages, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateBaseURL(baseURL string, errs *ValidationErrors) {
	if baseURL == "" {
		errs.Add("baseUrl", "baseUrl is required")
		return
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		errs.Add("baseUrl", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("baseUrl", fmt.Sprintf("scheme must be http or https, got %q", u.Scheme))
	}
	if u.Host == "" {
		errs.Add("baseUrl", "host is required")
	}
}

func validateStages(stages []StageConfig, errs *ValidationErrors) {
	if len(stages) == 0 {
		errs.Add("stages", "at least one stage is required")
		return
	}

	for i, stage := range stages {
		prefix := fmt.Sprintf("stages[%d]", i)

		if strings.TrimSpace(stage.Duration) == "" {
			errs.Add(prefix+".duration", "duration is required")
		} else if d, err := ParseDurationString(stage.Duration); err != nil {
			errs.Add(prefix+".duration", err.Error())
		} else if d < 0 {
			errs.Add(prefix+".duration", fmt.Sprintf("duration must be >= 0, got %s", stage.Duration))
		}

		if stage.Target < 0 {
			errs.Add(prefix+".target", fmt.Sprintf("target must be >= 0, got %d", stage.Target))
		} else if stage.Target > executor.MaxStageTarget {
			errs.Add(prefix+".target", fmt.Sprintf("target must be <= %d, got %d", executor.MaxStageTarget, stage.Target))
		}
	}
}
