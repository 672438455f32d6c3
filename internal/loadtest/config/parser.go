package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ExecutorRampingVUs  = "ramping-vus"
	ExecutorConstantVUs = "constant-vus"

	DefaultTimeout      = 60 * time.Second
	DefaultGracefulStop = 30 * time.Second
	DefaultUserAgent    = "feedbackload/1.0"
)

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ParseStages parses a compact stage list such as "30s:20,1m:20,10s:0".
func ParseStages(s string) ([]StageConfig, error) {
	var stages []StageConfig
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		dur, target, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("stage %d: expected duration:target, got %q", i+1, part)
		}
		if _, err := ParseDurationString(dur); err != nil {
			return nil, fmt.Errorf("stage %d: %w", i+1, err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(target))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target %q", i+1, target)
		}

		stages = append(stages, StageConfig{Duration: strings.TrimSpace(dur), Target: n})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("no stages in %q", s)
	}
	return stages, nil
}

// MergeVariables merges multiple variable maps in order.
// Later maps override earlier ones.
func MergeVariables(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = Duration(DefaultTimeout)
	}
	if config.Settings.MaxConnectionsPerHost == 0 {
		config.Settings.MaxConnectionsPerHost = 100
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = 100
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = DefaultUserAgent
	}

	for name, sc := range config.Scenarios {
		if sc != nil {
			applyScenarioDefaults(name, sc)
		}
	}
}

func applyScenarioDefaults(name string, sc *ScenarioConfig) {
	if sc.Executor == "" {
		if len(sc.Stages) > 0 {
			sc.Executor = ExecutorRampingVUs
		} else {
			sc.Executor = ExecutorConstantVUs
		}
	}

	if sc.Executor == ExecutorConstantVUs && sc.VUs == 0 {
		sc.VUs = 1
	}

	if sc.GracefulStop == "" {
		sc.GracefulStop = DefaultGracefulStop.String()
	}

	for i, req := range sc.Requests {
		if req.Name == "" {
			sc.Requests[i].Name = fmt.Sprintf("%s_request_%d", name, i+1)
		}
		if req.Method == "" {
			sc.Requests[i].Method = "GET"
		} else {
			sc.Requests[i].Method = strings.ToUpper(req.Method)
		}
	}
}
