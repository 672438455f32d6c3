package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/feedbackload/internal/loadtest/config"
)

// NewExecutor creates a new executor of the specified type.
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// CreateExecutorFromScenarioConfig creates and initializes an executor from a scenario config.
func CreateExecutorFromScenarioConfig(ctx context.Context, name string, sc *config.ScenarioConfig) (Executor, *Config, error) {
	execConfig, err := ConfigFromScenario(name, sc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert scenario config: %w", err)
	}

	exec, err := CreateAndInitExecutor(ctx, execConfig)
	if err != nil {
		return nil, nil, err
	}

	return exec, execConfig, nil
}

// ConfigFromScenario converts a parsed scenario to an executor config,
// resolving duration strings and defaults.
func ConfigFromScenario(name string, sc *config.ScenarioConfig) (*Config, error) {
	cfg := &Config{
		Name:     name,
		Type:     Type(sc.Executor),
		VUs:      sc.VUs,
		StartVUs: DefaultStartVUs,
	}
	if sc.StartVUs != nil {
		cfg.StartVUs = *sc.StartVUs
	}

	var err error
	if cfg.Duration, err = parseDuration("duration", sc.Duration); err != nil {
		return nil, err
	}
	if cfg.GracefulStop, err = parseDuration("gracefulStop", sc.GracefulStop); err != nil {
		return nil, err
	}
	if cfg.Pause, err = parseDuration("pause", sc.Pause); err != nil {
		return nil, err
	}

	for i, stage := range sc.Stages {
		d, err := config.ParseDurationString(stage.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid stage %d duration: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, Stage{
			Duration: d,
			Target:   stage.Target,
			Name:     stage.Name,
		})
	}

	if cfg.GracefulStop == 0 {
		cfg.GracefulStop = DefaultGracefulStop
	}

	return cfg, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := config.ParseDurationString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return d, nil
}

// IsValidExecutorType returns true if the type is a valid executor type.
func IsValidExecutorType(executorType string) bool {
	switch Type(executorType) {
	case TypeConstantVUs, TypeRampingVUs:
		return true
	default:
		return false
	}
}

// GetSupportedExecutors returns a list of all supported executor types.
func GetSupportedExecutors() []Type {
	return []Type{TypeConstantVUs, TypeRampingVUs}
}

// CalculateMaxVUs returns the maximum number of VUs that might be used.
func CalculateMaxVUs(cfg *Config) int {
	switch cfg.Type {
	case TypeConstantVUs:
		return cfg.VUs
	case TypeRampingVUs:
		maxVUs := cfg.StartVUs
		for _, stage := range cfg.Stages {
			if stage.Target > maxVUs {
				maxVUs = stage.Target
			}
		}
		return maxVUs
	default:
		return cfg.VUs
	}
}
