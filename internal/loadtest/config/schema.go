// Package config parses and validates load-test scenario files.
package config

import (
	"time"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "Feedback API"
//	settings:
//	  baseUrl: "http://localhost:8000"
//	scenarios:
//	  feedback:
//	    executor: ramping-vus
//	    stages:
//	      - duration: 30s
//	        target: 20
//	    pause: 1s
//	    requests:
//	      - name: "Submit Feedback"
//	        method: POST
//	        url: "{{baseUrl}}/api/v1/feedback"
//	        checks:
//	          - name: "is status 201"
//	            type: status
//	            condition: eq
//	            value: "201"
//	thresholds:
//	  http_req_duration:
//	    - "p(95)<500"
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains global settings for all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Variables are global variables available to all scenarios
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Scenarios defines the load profiles to run
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds define pass/fail criteria evaluated once at the end of the run
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// GlobalSettings contains global HTTP and execution settings.
type GlobalSettings struct {
	// BaseURL is substituted for {{baseUrl}} in request URLs
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the default HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// MaxRPS caps the request rate across all VUs; 0 means unlimited
	MaxRPS float64 `json:"maxRps,omitempty" yaml:"maxRps,omitempty"`
}

// ScenarioConfig defines a single load profile.
type ScenarioConfig struct {
	// Executor is "ramping-vus" or "constant-vus"
	Executor string `json:"executor" yaml:"executor"`

	// VUs is the VU count for constant-vus
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// StartVUs is the VU count the first ramping stage starts from (default 1)
	StartVUs *int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Duration is how long constant-vus runs (e.g., "30s", "2m")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Stages defines the ramping profile
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Requests are executed in order once per iteration
	Requests []RequestConfig `json:"requests" yaml:"requests"`

	// GracefulStop is how long in-flight iterations may run after the last stage
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Pause is the fixed sleep after every iteration
	Pause string `json:"pause,omitempty" yaml:"pause,omitempty"`

	// Tags are extra template variables for this scenario
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// StageConfig defines a single ramping stage.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional label for reporting
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used in metrics)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method
	Method string `json:"method" yaml:"method"`

	// URL is the request URL (supports variable substitution)
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body (supports variable substitution)
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout overrides the global request timeout
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Checks are evaluated against every response
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// CheckConfig defines a named, non-fatal response check.
type CheckConfig struct {
	// Name is the label pass/fail counts are aggregated under
	Name string `json:"name" yaml:"name"`

	// Type is one of "status", "json", "header", "body", "duration", "schema"
	Type string `json:"type" yaml:"type"`

	// Condition is the comparison: "eq", "ne", "gt", "lt", "gte", "lte",
	// "contains", "matches", "exists"
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Value is the expected value
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Path is a gjson path for json checks or a header name for header checks
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Schema is an inline JSON Schema document for schema checks
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the run, keyed by metric.
//
// Expressions accept both "p(95)<500" and "p95 < 500ms".
type ThresholdsConfig struct {
	// HTTPReqDuration thresholds, e.g. ["p(95)<500", "avg < 200ms"]
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed thresholds, e.g. ["rate<0.01"]
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// HTTPReqs thresholds, e.g. ["count>1000", "rate>100"]
	HTTPReqs []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`

	// Checks thresholds, e.g. ["rate>0.99"]
	Checks []string `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Iterations thresholds, e.g. ["count>100"]
	Iterations []string `json:"iterations,omitempty" yaml:"iterations,omitempty"`
}

// MetricExpressions pairs a metric name with its threshold expressions.
type MetricExpressions struct {
	Metric      string
	Expressions []string
}

// ByMetric returns the configured expressions in a stable metric order.
func (t *ThresholdsConfig) ByMetric() []MetricExpressions {
	if t == nil {
		return nil
	}
	all := []MetricExpressions{
		{Metric: "http_req_duration", Expressions: t.HTTPReqDuration},
		{Metric: "http_req_failed", Expressions: t.HTTPReqFailed},
		{Metric: "http_reqs", Expressions: t.HTTPReqs},
		{Metric: "checks", Expressions: t.Checks},
		{Metric: "iterations", Expressions: t.Iterations},
	}
	out := all[:0]
	for _, m := range all {
		if len(m.Expressions) > 0 {
			out = append(out, m)
		}
	}
	return out
}

// Add appends an expression for metric. Unknown metrics return false.
func (t *ThresholdsConfig) Add(metric, expr string) bool {
	switch metric {
	case "http_req_duration":
		t.HTTPReqDuration = append(t.HTTPReqDuration, expr)
	case "http_req_failed":
		t.HTTPReqFailed = append(t.HTTPReqFailed, expr)
	case "http_reqs":
		t.HTTPReqs = append(t.HTTPReqs, expr)
	case "checks":
		t.Checks = append(t.Checks, expr)
	case "iterations":
		t.Iterations = append(t.Iterations, expr)
	default:
		return false
	}
	return true
}

// Set replaces every expression for metric. Unknown metrics return false.
func (t *ThresholdsConfig) Set(metric string, exprs []string) bool {
	switch metric {
	case "http_req_duration":
		t.HTTPReqDuration = exprs
	case "http_req_failed":
		t.HTTPReqFailed = exprs
	case "http_reqs":
		t.HTTPReqs = exprs
	case "checks":
		t.Checks = exprs
	case "iterations":
		t.Iterations = exprs
	default:
		return false
	}
	return true
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
