// Package output renders load test progress and results for humans and machines.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/bookload/internal/performance/book"
	"github.com/wesleyorama2/bookload/internal/performance/engine"
	"github.com/wesleyorama2/bookload/internal/performance/metrics"
)

const (
	// clearLine returns the cursor to column 0 and clears the line.
	clearLine = "\r\033[2K"

	ruleWidth = 56

	// maxReasonsShown is how many failure reasons are listed per check.
	maxReasonsShown = 5
)

// ConsoleOutput manages console output during and after a test.
type ConsoleOutput struct {
	testName      string
	baseURL       string
	totalDuration time.Duration
	maxVUs        int
	writer        io.Writer
	isTTY         bool
	colors        *ColorScheme
	quiet         bool

	mu       sync.Mutex
	liveLine bool
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName      string
	BaseURL       string
	TotalDuration time.Duration
	MaxVUs        int
	Writer        io.Writer
	Quiet         bool
	NoColor       bool
	ForceColors   bool
	ForceTTY      bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && supportsColors()))

	colors := NoColorScheme()
	if useColors {
		colors = DefaultColorScheme()
	}

	return &ConsoleOutput{
		testName:      config.TestName,
		baseURL:       config.BaseURL,
		totalDuration: config.TotalDuration,
		maxVUs:        config.MaxVUs,
		writer:        config.Writer,
		isTTY:         isTTY,
		colors:        colors,
		quiet:         config.Quiet,
	}
}

// PrintHeader prints the test header.
func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.colors.Rule.Sprint(strings.Repeat("━", ruleWidth))
	c.writeln(rule)
	c.writeln(c.colors.Title.Sprintf("%s - Running", c.testName))
	c.writeln(rule)
	c.writeln(c.field("Target:   ", c.colors.Value.Sprint(c.baseURL)))
	c.writeln(c.field("Duration: ", c.colors.Value.Sprint(formatDuration(c.totalDuration))))
	c.writeln(c.field("Max VUs:  ", c.colors.Value.Sprint(c.maxVUs)))
	c.writeln("")
}

// Update redraws the single live status line. It does nothing when the
// output is not a terminal; use PrintNonInteractiveUpdate there.
func (c *ConsoleOutput) Update(p *engine.Progress) {
	if c.quiet || !c.isTTY || p == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.write(clearLine + c.statusLine(p))
	c.liveLine = true
}

// PrintNonInteractiveUpdate prints a status line for logs and CI.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(p *engine.Progress) {
	if c.quiet || p == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(c.statusLine(p))
}

func (c *ConsoleOutput) statusLine(p *engine.Progress) string {
	var elapsed, p95 time.Duration
	var activeVUs, target, stage, totalStages int
	var checks, failed int64
	phase := metrics.PhaseInit

	if p.Stats != nil {
		elapsed = p.Stats.Elapsed
		activeVUs, target = p.Stats.ActiveVUs, p.Stats.TargetVUs
		stage, totalStages = p.Stats.CurrentStage+1, p.Stats.TotalStages
		if stage > totalStages {
			stage = totalStages
		}
	}
	if p.Summary != nil {
		checks, failed = p.Summary.TotalChecks, p.Summary.FailedChecks
		p95 = p.Summary.Latency.P95
		phase = p.Summary.CurrentPhase
	}

	failColor := c.colors.Pass
	if failed > 0 {
		failColor = c.colors.Fail
	}

	return fmt.Sprintf("[%s] %s %3.0f%% | stage %d/%d | VUs: %d/%d | Reqs: %s | Failed: %s | P95: %s",
		formatDuration(elapsed),
		c.colors.Highlight.Sprint(phase),
		p.Fraction*100,
		stage, totalStages,
		activeVUs, target,
		c.colors.Value.Sprint(formatNumber(checks)),
		failColor.Sprint(formatNumber(failed)),
		formatDurationShort(p95))
}

// PrintSummary prints the final test summary.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	if c.quiet {
		// In quiet mode, just print passed/failed status
		if result.Passed {
			c.writeln(c.colors.Pass.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Fail.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLine {
		c.write(clearLine)
		c.liveLine = false
	}

	status := c.colors.Pass.Sprint("Completed ✓")
	if !result.Passed {
		status = c.colors.Fail.Sprint("Failed ✗")
	}
	if result.Aborted {
		status += c.colors.Warn.Sprint(" (aborted)")
	}

	rule := c.colors.Rule.Sprint(strings.Repeat("━", ruleWidth))
	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(result.Name), status))
	c.writeln(rule)
	c.writeln("")

	summary := result.Summary
	if summary == nil {
		summary = &metrics.RunSummary{}
	}

	c.writeln(c.field("Duration:      ", c.colors.Value.Sprint(formatDuration(result.Duration))))
	c.writeln(c.field("VUs spawned:   ", c.colors.Value.Sprint(result.VUsSpawned)))
	c.writeln(c.field("Total Reqs:    ", fmt.Sprintf("%s (%.1f/s)",
		c.colors.Value.Sprint(formatNumber(summary.TotalChecks)), requestRate(summary.TotalChecks, result.Duration))))
	c.writeln(c.field("Passed:        ", c.colors.Pass.Sprint(formatNumber(summary.PassedChecks))))

	failColor := c.colors.Pass
	if summary.FailedChecks > 0 {
		failColor = c.colors.Fail
	}
	c.writeln(c.field("Failed:        ", failColor.Sprint(formatNumber(summary.FailedChecks))))
	if summary.TransportErrors > 0 {
		c.writeln(c.field("No response:   ", c.colors.Warn.Sprint(formatNumber(summary.TransportErrors))))
	}
	c.writeln("")

	c.printChecks(summary)

	c.writeln(c.colors.Title.Sprint("Latency Distribution:"))
	c.writeln(c.field("  Min:       ", formatDurationShort(summary.Latency.Min)))
	c.writeln(c.field("  Avg:       ", formatDurationShort(summary.Latency.Mean)))
	c.writeln(c.field("  P50:       ", formatDurationShort(summary.Latency.P50)))
	c.writeln(c.field("  P90:       ", formatDurationShort(summary.Latency.P90)))
	c.writeln(c.field("  P95:       ", formatDurationShort(summary.Latency.P95)))
	c.writeln(c.field("  P99:       ", formatDurationShort(summary.Latency.P99)))
	c.writeln(c.field("  Max:       ", formatDurationShort(summary.Latency.Max)))
	c.writeln("")

	if result.Error != "" {
		c.writeln(fmt.Sprintf("%s %s", c.colors.Fail.Sprint("Error:"), result.Error))
		c.writeln("")
	}
}

// field renders a "Label: value" row with the label coloured.
func (c *ConsoleOutput) field(label, value string) string {
	return c.colors.Label.Sprint(label) + value
}

// printChecks prints one row per check label, then its top failure reasons.
func (c *ConsoleOutput) printChecks(summary *metrics.RunSummary) {
	c.writeln(c.colors.Title.Sprint("Checks:"))

	for _, label := range checkOrder(summary) {
		check := summary.Checks[label]
		c.writeln(fmt.Sprintf("  %s %-18s %8s passed %8s failed   p95 %s",
			c.colors.StatusIcon(check.Fails == 0),
			check.Name,
			formatNumber(check.Passes),
			formatNumber(check.Fails),
			formatDurationShort(check.Latency.P95)))

		for _, r := range topReasons(check.FailureReasons, maxReasonsShown) {
			c.writeln(c.colors.Dim.Sprintf("      %s× %s", formatNumber(r.count), r.reason))
		}
	}
	c.writeln("")
}

// checkOrder returns the CRUD labels first, in request order, then any
// other labels alphabetically.
func checkOrder(summary *metrics.RunSummary) []string {
	known := make(map[string]bool)
	var order []string
	for _, label := range book.Labels() {
		known[label] = true
		if _, ok := summary.Checks[label]; ok {
			order = append(order, label)
		}
	}

	var extra []string
	for label := range summary.Checks {
		if !known[label] {
			extra = append(extra, label)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

type reasonCount struct {
	reason string
	count  int64
}

// topReasons returns up to n reasons, most frequent first.
func topReasons(reasons map[string]int64, n int) []reasonCount {
	out := make([]reasonCount, 0, len(reasons))
	for reason, count := range reasons {
		out = append(out, reasonCount{reason, count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].reason < out[j].reason
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// write writes to the output without a newline.
func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

// writeln writes to the output with a newline.
func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// Helper functions

func requestRate(requests int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(requests) / d.Seconds()
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a duration in a short format.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
