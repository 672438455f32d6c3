package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/feedbackload/internal/loadtest/engine"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/metrics"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/threshold"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{time.Second, "1.0s"},
		{time.Minute + 30*time.Second, "1m 30s"},
		{time.Minute + 40*time.Second, "1m 40s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0ms"},
		{500 * time.Microsecond, "500µs"},
		{50 * time.Millisecond, "50ms"},
		{1500 * time.Millisecond, "1.50s"},
		{90 * time.Second, "1.5m"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDurationShort(tt.duration))
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		number   int64
		expected string
	}{
		{0, "0"},
		{100, "100"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
		{-1500, "-1,500"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatNumber(tt.number))
		})
	}
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "plain", stripANSI("plain"))
	assert.Equal(t, "green", stripANSI("\033[32mgreen\033[0m"))
	assert.Equal(t, "a b", stripANSI("\033[1ma\033[0m \033[2;36mb\033[0m"))
}

func TestRenderProgressBar(t *testing.T) {
	assert.Equal(t, "[░░░░]", renderProgressBar(-1, 4))
	assert.Equal(t, "[██░░]", renderProgressBar(0.5, 4))
	assert.Equal(t, "[████]", renderProgressBar(2, 4))
}

func sampleResult(passed bool) *engine.TestResult {
	return &engine.TestResult{
		Name:     "Feedback API",
		Duration: 100 * time.Second,
		Passed:   passed,
		Metrics: &metrics.Snapshot{
			TotalRequests:  1800,
			FailedRequests: 18,
			Iterations:     1800,
			ErrorRate:      0.01,
			RPS:            18,
			SteadyStateRPS: 19.5,
			Latency: metrics.LatencyStats{
				Min: 2 * time.Millisecond,
				P50: 40 * time.Millisecond,
				P95: 120 * time.Millisecond,
				Max: 900 * time.Millisecond,
			},
			Checks: metrics.ChecksSummary{
				Passes: 3564,
				Fails:  36,
				ByName: []metrics.CheckStats{
					{Name: "is status 201", Passes: 1782, Fails: 18},
					{Name: "sentiment is correct", Passes: 1782, Fails: 18},
				},
			},
		},
		Thresholds: []threshold.Result{
			{Metric: "http_req_duration", Expression: "p(95)<500", Passed: passed, Value: "120ms"},
		},
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf})
	require.False(t, out.IsTTY())

	out.PrintSummary(sampleResult(true))
	got := buf.String()

	assert.NotContains(t, got, "\033[", "non-TTY output must not contain escape codes")
	assert.Contains(t, got, "Feedback API - Completed ✓")
	assert.Contains(t, got, "Duration:      1m 40s")
	assert.Contains(t, got, "Total Reqs:    1,800")
	assert.Contains(t, got, "Success Rate:  99.0%")
	assert.Contains(t, got, "Throughput:    18.0 req/s")
	assert.Contains(t, got, "Steady RPS:    19.5 req/s")
	assert.Contains(t, got, "P95:       120ms")
	assert.Contains(t, got, "Checks:")
	assert.Contains(t, got, "✗ is status 201         99.00%  ✓ 1,782  ✗ 18")
	assert.Contains(t, got, "✗ sentiment is correct  99.00%  ✓ 1,782  ✗ 18")
	assert.Contains(t, got, "✓ http_req_duration p(95)<500 (actual: 120ms)")
}

func TestPrintSummary_Failed(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf})

	out.PrintSummary(sampleResult(false))
	assert.Contains(t, buf.String(), "Feedback API - Failed ✗")
	assert.Contains(t, buf.String(), "✗ http_req_duration p(95)<500")
}

func TestPrintSummary_Interrupted(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf})

	result := sampleResult(true)
	result.Error = "context canceled"
	out.PrintSummary(result)
	assert.Contains(t, buf.String(), "Feedback API - Interrupted")
	assert.Contains(t, buf.String(), "Run interrupted: context canceled")
}

func TestPrintSummary_Quiet(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf, Quiet: true})

	out.PrintHeader()
	out.Report(&LiveStats{})
	out.PrintSummary(sampleResult(false))
	assert.Equal(t, "FAILED\n", buf.String())
}

func TestForceColors(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf, ForceColors: true})

	out.PrintSummary(sampleResult(true))
	assert.Contains(t, buf.String(), "\033[")
	assert.Contains(t, stripANSI(buf.String()), "Completed ✓")
}

func TestPrintHeader(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{
		Writer:       &buf,
		TestName:     "Feedback API",
		ExecutorType: "ramping-vus",
	})

	out.PrintHeader()
	assert.Contains(t, buf.String(), "Feedback API - Running [ramping-vus]")
}

func TestReport_NonInteractive(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf})

	out.Report(&LiveStats{
		Progress:      0.5,
		Elapsed:       50 * time.Second,
		ActiveVUs:     20,
		TotalRequests: 900,
		CurrentRPS:    18,
		CheckRate:     1,
		LatencyP95:    80 * time.Millisecond,
		CurrentPhase:  "steady",
	})

	line := buf.String()
	assert.Equal(t, 1, strings.Count(line, "\n"))
	assert.Contains(t, line, "[50.0s] Progress: 50%")
	assert.Contains(t, line, "Stage: steady")
	assert.Contains(t, line, "VUs: 20")
	assert.Contains(t, line, "Checks: 100.0%")
	assert.Contains(t, line, "P95: 80ms")
}

func TestReport_TTYRedraws(t *testing.T) {
	var buf bytes.Buffer
	out := NewConsoleOutput(ConsoleOutputConfig{Writer: &buf, ForceTTY: true, NoColor: true})

	stats := &LiveStats{Progress: 0.25, ActiveVUs: 5, TargetVUs: 20, CurrentPhase: "ramp-up", CurrentStage: 1, TotalStages: 3}
	out.Report(stats)
	first := buf.String()
	assert.Contains(t, first, "Stage:    ramp-up (1/3)")
	assert.Contains(t, first, "VUs:     5 / 20")
	assert.NotContains(t, first, clearLine)

	out.Report(stats)
	assert.Contains(t, strings.TrimPrefix(buf.String(), first), clearLine)
}

func TestFormatBoxRow_Alignment(t *testing.T) {
	plain := NewConsoleOutput(ConsoleOutputConfig{Writer: &bytes.Buffer{}, NoColor: true})
	colored := NewConsoleOutput(ConsoleOutputConfig{Writer: &bytes.Buffer{}, ForceColors: true})

	a := plain.formatBoxRow("VUs: 3", "Requests: 10")
	b := colored.formatBoxRow(colored.colors.Value.Sprint("VUs: 3"), "Requests: 10")
	assert.Equal(t, a, stripANSI(b))
}

func TestStatsFromProgress(t *testing.T) {
	assert.Equal(t, "init", StatsFromProgress(nil).CurrentPhase)

	stats := StatsFromProgress(&engine.Progress{
		Fraction:      0.3,
		Elapsed:       30 * time.Second,
		TotalDuration: 100 * time.Second,
		TargetVUs:     20,
		CurrentStage:  1,
		TotalStages:   3,
		Metrics: &metrics.Snapshot{
			ActiveVUs:      19,
			TotalRequests:  300,
			FailedRequests: 3,
			ErrorRate:      0.01,
			CurrentPhase:   metrics.PhaseRampUp,
			Checks:         metrics.ChecksSummary{Passes: 3, Fails: 1},
			Latency:        metrics.LatencyStats{P95: 90 * time.Millisecond},
		},
	})

	assert.Equal(t, 70*time.Second, stats.Remaining)
	assert.Equal(t, 19, stats.ActiveVUs)
	assert.Equal(t, 20, stats.TargetVUs)
	assert.Equal(t, int64(3), stats.Errors)
	assert.Equal(t, 0.75, stats.CheckRate)
	assert.Equal(t, "ramp-up", stats.CurrentPhase)
	assert.Equal(t, 90*time.Millisecond, stats.LatencyP95)
}

func TestWriteJSONSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "summary.json")

	var stdout bytes.Buffer
	require.NoError(t, WriteJSONSummary(&stdout, path, sampleResult(true)))
	assert.Zero(t, stdout.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "Feedback API", decoded["name"])
	assert.Equal(t, true, decoded["passed"])
	assert.Contains(t, decoded, "thresholds")
}

func TestWriteJSONSummary_Stdout(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, WriteJSONSummary(&stdout, "-", sampleResult(false)))

	assert.True(t, json.Valid(stdout.Bytes()))
	assert.Contains(t, stdout.String(), `"passed": false`)
}
