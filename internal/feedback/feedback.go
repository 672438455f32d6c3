// Package feedback provides the built-in load test for the feedback
// ingestion endpoint.
package feedback

import (
	_ "embed"
	"fmt"

	"github.com/wesleyorama2/feedbackload/internal/loadtest/config"
)

const (
	// ScenarioName is the key of the built-in scenario.
	ScenarioName = "feedback"

	// DefaultBaseURL is the target when no base URL is given.
	DefaultBaseURL = "http://localhost:8000"

	// Path is the endpoint every iteration posts to.
	Path = "/api/v1/feedback"

	CheckStatus    = "is status 201"
	CheckSentiment = "sentiment is correct"
)

//go:embed feedback.yaml
var scenarioYAML []byte

// YAML returns the built-in scenario file.
func YAML() []byte {
	out := make([]byte, len(scenarioYAML))
	copy(out, scenarioYAML)
	return out
}

// Config returns a fresh copy of the built-in test configuration. Callers
// may modify it freely.
func Config() (*config.TestConfig, error) {
	cfg, err := config.ParseConfig(scenarioYAML, "feedback.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to parse built-in scenario: %w", err)
	}
	return cfg, nil
}
