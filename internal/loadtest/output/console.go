// Package output renders load test progress and results to the console.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/feedbackload/internal/loadtest/engine"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/metrics"
)

// Cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"

	ruleWidth = 56
	boxWidth  = 55
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64 // 0.0 to 1.0
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64
	CheckRate     float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// ConsoleOutput manages live console output during test execution.
type ConsoleOutput struct {
	testName     string
	executorType string
	writer       io.Writer
	isTTY        bool
	quiet        bool
	colors       *ColorScheme

	mu          sync.Mutex
	linesOutput int // lines currently occupied by the live display
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName     string
	ExecutorType string
	Writer       io.Writer
	Quiet        bool
	NoColor      bool
	ForceColors  bool
	ForceTTY     bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)

	var colors *ColorScheme
	switch {
	case config.NoColor:
		colors = NoColorScheme()
	case config.ForceColors:
		colors = ForcedColorScheme()
	case isTTY && supportsColors():
		colors = DefaultColorScheme()
	default:
		colors = NoColorScheme()
	}

	return &ConsoleOutput{
		testName:     config.TestName,
		executorType: config.ExecutorType,
		writer:       config.Writer,
		isTTY:        isTTY,
		quiet:        config.Quiet,
		colors:       colors,
	}
}

// supportsColors honours NO_COLOR and dumb terminals.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// PrintHeader prints the test header.
func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	executorInfo := ""
	if c.executorType != "" {
		executorInfo = fmt.Sprintf(" [%s]", c.executorType)
	}

	c.rule()
	c.writeln(c.colors.Title.Sprintf("%s - Running%s", c.testName, executorInfo))
	c.rule()
	c.writeln("")
}

// Report shows progress the way the output supports: a redrawn block on
// a terminal, one line per update otherwise.
func (c *ConsoleOutput) Report(stats *LiveStats) {
	if c.isTTY {
		c.Update(stats)
		return
	}
	c.PrintNonInteractiveUpdate(stats)
}

// Update redraws the live display with new statistics.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine)
		if i < c.linesOutput-1 {
			c.write("\n")
		}
	}
	if c.linesOutput > 1 {
		c.write(fmt.Sprintf(cursorUp, c.linesOutput-1))
	}
	c.write("\r")
	c.linesOutput = 0
}

func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	cs := c.colors
	var lines []string

	progressBar := renderProgressBar(stats.Progress, 40)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		cs.Good.Sprint(progressBar),
		cs.Title.Sprintf("%.0f%%", stats.Progress*100),
		cs.Dim.Sprint(timeInfo)))

	phaseInfo := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phaseInfo = fmt.Sprintf("%s (%d/%d)", stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, fmt.Sprintf("Stage:    %s", cs.Phase.Sprint(phaseInfo)))
	lines = append(lines, "")

	lines = append(lines, cs.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vusStr := fmt.Sprintf("VUs:     %s / %d", cs.Value.Sprint(stats.ActiveVUs), stats.TargetVUs)
	reqsStr := fmt.Sprintf("Requests:    %s", cs.Value.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(vusStr, reqsStr))

	errColor := cs.rateColor(1 - stats.ErrorRate)
	rpsStr := fmt.Sprintf("RPS:     %s", cs.Good.Sprintf("%.1f", stats.CurrentRPS))
	errStr := fmt.Sprintf("Errors:      %s (%s)",
		errColor.Sprint(stats.Errors),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rpsStr, errStr))

	p95Str := fmt.Sprintf("P95:     %s", cs.Timing.Sprint(formatDurationShort(stats.LatencyP95)))
	checksStr := fmt.Sprintf("Checks:      %s", cs.rateColor(stats.CheckRate).Sprintf("%.1f%%", stats.CheckRate*100))
	lines = append(lines, c.formatBoxRow(p95Str, checksStr))

	lines = append(lines, cs.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))

	return lines
}

// formatBoxRow formats a two-column row inside the stats box.
func (c *ConsoleOutput) formatBoxRow(left, right string) string {
	colWidth := (boxWidth - 4) / 2

	pad := func(s string) string {
		n := colWidth - len([]rune(stripANSI(s)))
		if n < 0 {
			n = 0
		}
		return s + strings.Repeat(" ", n)
	}

	border := c.colors.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s %s %s", border, pad(left), border, pad(right), border)
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintSummary prints the final test summary.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	cs := c.colors

	if c.quiet {
		if result.Passed {
			c.writeln(cs.Good.Sprint("PASSED"))
		} else {
			c.writeln(cs.Bad.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	status := cs.Good.Sprint("Completed ✓")
	switch {
	case result.Error != "":
		status = cs.Warn.Sprint("Interrupted")
	case !result.Passed:
		status = cs.Bad.Sprint("Failed ✗")
	}

	c.writeln("")
	c.rule()
	c.writeln(fmt.Sprintf("%s - %s", cs.Title.Sprint(result.Name), status))
	c.rule()
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", cs.Value.Sprint(formatDuration(result.Duration))))

	m := result.Metrics
	if m != nil {
		successRate := 1.0 - m.ErrorRate
		c.writeln(fmt.Sprintf("Total Reqs:    %s", cs.Value.Sprint(formatNumber(m.TotalRequests))))
		c.writeln(fmt.Sprintf("Iterations:    %s", cs.Value.Sprint(formatNumber(m.Iterations))))
		c.writeln(fmt.Sprintf("Success Rate:  %s", cs.rateColor(successRate).Sprintf("%.1f%%", successRate*100)))
		c.writeln(fmt.Sprintf("Throughput:    %s", cs.Value.Sprintf("%.1f req/s", m.RPS)))
		if m.SteadyStateRPS > 0 {
			c.writeln(fmt.Sprintf("Steady RPS:    %s", cs.Value.Sprintf("%.1f req/s", m.SteadyStateRPS)))
		}
		c.writeln("")

		c.writeln(cs.Label.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(m.Latency.Min)))
		c.writeln(fmt.Sprintf("  Avg:       %s", formatDurationShort(m.Latency.Mean)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(m.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(m.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(m.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(m.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(m.Latency.Max)))
		c.writeln("")

		if len(m.Checks.ByName) > 0 {
			c.printChecks(m.Checks)
		}
	}

	if len(result.Thresholds) > 0 {
		c.writeln(cs.Label.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", cs.mark(t.Passed), t.Metric, t.Expression, t.Value))
		}
		c.writeln("")
	}

	if result.Error != "" {
		c.writeln(cs.Warn.Sprintf("Run interrupted: %s", result.Error))
		c.writeln("")
	}
}

func (c *ConsoleOutput) printChecks(checks metrics.ChecksSummary) {
	cs := c.colors

	width := 0
	for _, s := range checks.ByName {
		if n := len([]rune(s.Name)); n > width {
			width = n
		}
	}

	c.writeln(cs.Label.Sprint("Checks:"))
	for _, s := range checks.ByName {
		c.writeln(fmt.Sprintf("  %s %-*s %s  %s %s  %s %s",
			cs.mark(s.Fails == 0),
			width, s.Name,
			cs.rateColor(s.Rate()).Sprintf("%6.2f%%", s.Rate()*100),
			cs.Good.Sprint("✓"), formatNumber(s.Passes),
			cs.Bad.Sprint("✗"), formatNumber(s.Fails)))
	}
	c.writeln("")
}

// PrintNonInteractiveUpdate prints a one-line status update for output
// that is not a terminal, such as CI logs.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | Stage: %s | VUs: %d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | Checks: %.1f%% | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.CurrentPhase,
		stats.ActiveVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		stats.CheckRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

func (c *ConsoleOutput) rule() {
	c.writeln(c.colors.Border.Sprint(strings.Repeat(boxHorizontal, ruleWidth)))
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
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
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatDurationShort formats a latency value.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
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

// stripANSI removes ANSI escape sequences from s.
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}

	return result.String()
}

// StatsFromProgress converts an engine progress update into LiveStats.
func StatsFromProgress(p *engine.Progress) *LiveStats {
	if p == nil {
		return &LiveStats{CurrentPhase: string(metrics.PhaseInit)}
	}

	stats := &LiveStats{
		Progress:     p.Fraction,
		Elapsed:      p.Elapsed,
		TargetVUs:    p.TargetVUs,
		CurrentStage: p.CurrentStage,
		TotalStages:  p.TotalStages,
		CurrentPhase: string(metrics.PhaseInit),
	}

	if p.TotalDuration > p.Elapsed {
		stats.Remaining = p.TotalDuration - p.Elapsed
	}

	if m := p.Metrics; m != nil {
		stats.ActiveVUs = m.ActiveVUs
		stats.CurrentRPS = m.RPS
		stats.TotalRequests = m.TotalRequests
		stats.Errors = m.FailedRequests
		stats.ErrorRate = m.ErrorRate
		stats.CheckRate = m.Checks.Rate()
		stats.LatencyP95 = m.Latency.P95
		stats.LatencyAvg = m.Latency.Mean
		if m.CurrentPhase != "" {
			stats.CurrentPhase = string(m.CurrentPhase)
		}
	}

	return stats
}
