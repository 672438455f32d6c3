package metrics

import "time"

// Phase labels the part of the load profile a sample was taken in.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// Snapshot is a point-in-time view of everything the collector has seen.
type Snapshot struct {
	TotalRequests   int64         `json:"totalRequests"`
	SuccessRequests int64         `json:"successRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	TotalBytes      int64         `json:"totalBytes"`
	Iterations      int64         `json:"iterations"`
	Latency         LatencyStats  `json:"latency"`
	RPS             float64       `json:"rps"`
	SteadyStateRPS  float64       `json:"steadyStateRps"`
	IterationRate   float64       `json:"iterationRate"`
	ErrorRate       float64       `json:"errorRate"`
	Checks          ChecksSummary `json:"checks"`
	ActiveVUs       int           `json:"activeVUs"`
	CurrentPhase    Phase         `json:"currentPhase"`
	Elapsed         time.Duration `json:"elapsed"`
	StartTime       time.Time     `json:"startTime"`
	Timestamp       time.Time     `json:"timestamp"`
}

// LatencyStats summarises the request duration distribution.
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

// LatencyPercentiles is the reduced set of percentiles stored per time bucket.
type LatencyPercentiles struct {
	Min time.Duration
	Max time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// CheckStats holds pass/fail counts for a single named check.
type CheckStats struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// Total returns the number of times the check was evaluated.
func (c CheckStats) Total() int64 {
	return c.Passes + c.Fails
}

// Rate returns the pass ratio, or 0 when the check never ran.
func (c CheckStats) Rate() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.Passes) / float64(c.Total())
}

// ChecksSummary aggregates all named checks, ordered by first evaluation.
type ChecksSummary struct {
	Passes int64        `json:"passes"`
	Fails  int64        `json:"fails"`
	ByName []CheckStats `json:"byName,omitempty"`
}

// Rate returns the overall pass ratio across every check evaluation.
func (c ChecksSummary) Rate() float64 {
	total := c.Passes + c.Fails
	if total == 0 {
		return 0
	}
	return float64(c.Passes) / float64(total)
}

// Get returns the stats for the named check.
func (c ChecksSummary) Get(name string) (CheckStats, bool) {
	for _, s := range c.ByName {
		if s.Name == name {
			return s, true
		}
	}
	return CheckStats{}, false
}

// TimeBucket captures one emitter interval (1s by default).
//
// Totals are cumulative since the start of the run, Interval* fields only
// cover the bucket itself.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	TotalRequests  int64 `json:"totalRequests"`
	TotalSuccesses int64 `json:"totalSuccesses"`
	TotalFailures  int64 `json:"totalFailures"`
	TotalBytes     int64 `json:"totalBytes"`

	IntervalRequests    int64   `json:"intervalRequests"`
	IntervalRPS         float64 `json:"intervalRPS"`
	IntervalErrorRate   float64 `json:"intervalErrorRate"`
	IntervalCheckPasses int64   `json:"intervalCheckPasses"`
	IntervalCheckFails  int64   `json:"intervalCheckFails"`
	IntervalIterations  int64   `json:"intervalIterations"`

	LatencyMin time.Duration `json:"latencyMin"`
	LatencyMax time.Duration `json:"latencyMax"`
	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP90 time.Duration `json:"latencyP90"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`
}

// PhaseChange records a phase transition.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// EngineConfig tunes the collector.
type EngineConfig struct {
	// BucketInterval is the time-series resolution (default 1s).
	BucketInterval time.Duration

	// MaxBuckets bounds the ring buffer (default 3600).
	MaxBuckets int

	// Histogram range in microseconds and precision.
	HistogramMin     int64
	HistogramMax     int64
	HistogramSigFigs int
}

// DefaultEngineConfig returns a 1µs..1h histogram with 3 significant figures
// and one hour of 1s buckets.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     int64(time.Hour / time.Microsecond),
		HistogramSigFigs: 3,
	}
}
