// Package executor decides how many virtual users run and for how long.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/feedbackload/internal/loadtest"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"
)

// DefaultGracefulStop bounds how long in-flight iterations may finish
// once a scenario ends.
const DefaultGracefulStop = 30 * time.Second

// DefaultStartVUs is the ramp origin when a ramping scenario sets none.
const DefaultStartVUs = 1

// Executor defines the interface for load generation strategies.
//
// Executors control how many VUs run at any moment. VUs themselves are
// created and run by the loadtest.VUScheduler passed to Run.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until every VU has exited.
	// Cancelling ctx stops VUs immediately, aborting in-flight requests.
	Run(ctx context.Context, scheduler *loadtest.VUScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends the scenario early, letting in-flight iterations finish.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`

	// constant-vus
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// ramping-vus
	StartVUs int     `json:"startVUs" yaml:"startVUs"`
	Stages   []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Pause is slept by each VU after every iteration.
	Pause time.Duration `json:"pause,omitempty" yaml:"pause,omitempty"`

	Logger *zap.Logger `json:"-" yaml:"-"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	Iterations int64 `json:"iterations"`

	// Stage info (for ramping executors)
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		if c.StartVUs < 0 {
			return &ValidationError{Field: "startVUs", Message: "startVUs must be >= 0"}
		}
		for _, s := range c.Stages {
			if s.Duration <= 0 {
				return &ValidationError{Field: "stages", Message: "stage duration must be > 0"}
			}
			if s.Target < 0 {
				return &ValidationError{Field: "stages", Message: "stage target must be >= 0"}
			}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	if c.Pause < 0 {
		return &ValidationError{Field: "pause", Message: "pause must be >= 0"}
	}

	return nil
}

// TotalDuration calculates the total duration for this executor.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs:
		return c.Duration

	case TypeRampingVUs:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	default:
		return 0
	}
}

func (c *Config) gracefulStop() time.Duration {
	if c.GracefulStop > 0 {
		return c.GracefulStop
	}
	return DefaultGracefulStop
}

func (c *Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// drain asks every VU to finish its current iteration and waits up to
// grace. VUs still running after that are interrupted via hardStop.
func drain(scheduler *loadtest.VUScheduler, grace time.Duration, hardStop context.CancelFunc, logger *zap.Logger) {
	scheduler.StopAllVUs()
	if scheduler.Wait(grace) {
		return
	}

	logger.Warn("graceful stop expired, interrupting VUs",
		zap.Duration("gracefulStop", grace),
		zap.Int("remaining", scheduler.GetActiveVUCount()))
	hardStop()
	scheduler.Wait(grace)
}
