package logging

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestOptions_Level(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want zapcore.Level
	}{
		{"default", Options{}, zapcore.InfoLevel},
		{"verbose", Options{Verbose: true}, zapcore.DebugLevel},
		{"quiet", Options{Quiet: true}, zapcore.WarnLevel},
		{"verbose wins", Options{Verbose: true, Quiet: true}, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		if got := tt.opts.Level(); got != tt.want {
			t.Errorf("%s: Level() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNew_WritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Writer: &buf, NoColor: true})

	logger.Info("ramp started", zap.Int("stages", 4))
	logger.Debug("hidden")
	_ = logger.Sync()

	out := buf.String()
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "ramp started") {
		t.Errorf("missing info line: %q", out)
	}
	if !strings.Contains(out, `"stages": 4`) {
		t.Errorf("missing field: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %q", out)
	}
}

func TestNew_Quiet(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Writer: &buf, Quiet: true, NoColor: true})

	logger.Info("chatty")
	logger.Warn("graceful stop expired")
	_ = logger.Sync()

	out := buf.String()
	if strings.Contains(out, "chatty") {
		t.Errorf("info line written in quiet mode: %q", out)
	}
	if !strings.Contains(out, "graceful stop expired") {
		t.Errorf("warning missing: %q", out)
	}
}
