package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/wesleyorama2/feedbackload/internal/loadtest/check"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem found.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc := c.Scenarios[name]
		if sc == nil {
			errs.Add("scenarios."+name, "scenario is empty")
			continue
		}
		validateScenario(name, sc, errs)
	}

	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	validateSettings(&c.Settings, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)

	switch sc.Executor {
	case ExecutorRampingVUs:
		validateRampingVUs(prefix, sc, errs)
	case ExecutorConstantVUs:
		validateConstantVUs(prefix, sc, errs)
	case "":
		errs.Add(prefix+".executor", "executor type is required")
	default:
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	validateDurationField(prefix+".gracefulStop", sc.GracefulStop, errs)
	validateDurationField(prefix+".pause", sc.Pause, errs)

	if len(sc.Requests) == 0 {
		errs.Add(prefix+".requests", "at least one request is required")
	}

	for i := range sc.Requests {
		validateRequest(fmt.Sprintf("%s.requests[%d]", prefix, i), &sc.Requests[i], errs)
	}
}

func validateConstantVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}

	if sc.Duration == "" {
		errs.Add(prefix+".duration", "duration is required for constant-vus executor")
	} else if d, err := ParseDurationString(sc.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}
}

func validateRampingVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
	}

	if sc.StartVUs != nil && *sc.StartVUs < 0 {
		errs.Add(prefix+".startVUs", "startVUs cannot be negative")
	}

	for i := range sc.Stages {
		validateStage(fmt.Sprintf("%s.stages[%d]", prefix, i), &sc.Stages[i], errs)
	}
}

func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if d, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		errs.Add(prefix+".method", "method is required")
	} else if !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else if _, err := url.Parse(placeholderURL(req.URL)); err != nil {
		errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
	}

	validateDurationField(prefix+".timeout", req.Timeout, errs)

	seen := make(map[string]bool, len(req.Checks))
	for i, c := range req.Checks {
		field := fmt.Sprintf("%s.checks[%d]", prefix, i)
		if _, err := check.Compile(c.Definition()); err != nil {
			errs.Add(field, err.Error())
			continue
		}
		if seen[c.Name] {
			errs.Add(field+".name", fmt.Sprintf("duplicate check name %q", c.Name))
		}
		seen[c.Name] = true
	}
}

// placeholderURL replaces {{var}} templates so the URL can be parsed.
func placeholderURL(raw string) string {
	u := strings.ReplaceAll(raw, "{{baseUrl}}", "http://example.com")
	u = strings.ReplaceAll(u, "{{baseURL}}", "http://example.com")
	for strings.Contains(u, "{{") {
		start := strings.Index(u, "{{")
		end := strings.Index(u, "}}")
		if end <= start {
			break
		}
		u = u[:start] + "placeholder" + u[end+2:]
	}
	return u
}

func validateDurationField(field, value string, errs *ValidationErrors) {
	if value == "" {
		return
	}
	d, err := ParseDurationString(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
		return
	}
	if d < 0 {
		errs.Add(field, "duration cannot be negative")
	}
}

func validateThresholds(t *ThresholdsConfig, errs *ValidationErrors) {
	for _, m := range t.ByMetric() {
		for i, expr := range m.Expressions {
			if _, err := threshold.Parse(m.Metric, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", m.Metric, i), err.Error())
			}
		}
	}
}

func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add("settings.baseUrl", fmt.Sprintf("unsupported scheme %q", u.Scheme))
		}
	}

	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
	if s.MaxRPS < 0 {
		errs.Add("settings.maxRps", "cannot be negative")
	}
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "cannot be negative")
	}
}

// Definition converts the check to its compilable form.
func (c CheckConfig) Definition() check.Definition {
	return check.Definition{
		Name:      c.Name,
		Type:      c.Type,
		Condition: c.Condition,
		Value:     c.Value,
		Path:      c.Path,
		Schema:    c.Schema,
	}
}
