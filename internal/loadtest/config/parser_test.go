package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "1m", expected: time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "10", expected: 10 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseConfig_YAML(t *testing.T) {
	yamlConfig := `
name: "Feedback API"
settings:
  baseUrl: "http://localhost:8000"
  timeout: 10s
  maxRps: 50
scenarios:
  feedback:
    executor: ramping-vus
    startVUs: 0
    stages:
      - duration: 30s
        target: 20
      - duration: 1m
        target: 20
      - duration: 10s
        target: 0
    pause: 1s
    requests:
      - name: "Submit Feedback"
        method: POST
        url: "{{baseUrl}}/api/v1/feedback"
        headers:
          Content-Type: application/json
        body: '{"customer_id":"user_{{__VU}}","message":"great"}'
        checks:
          - name: "is status 201"
            type: status
            value: "201"
          - name: "sentiment is correct"
            type: json
            path: sentiment
            value: Positive
thresholds:
  http_req_duration:
    - "p(95)<500"
`
	config, err := ParseConfig([]byte(yamlConfig), "test.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if config.Name != "Feedback API" {
		t.Errorf("Name = %v, want %v", config.Name, "Feedback API")
	}
	if config.Settings.Timeout.GetDuration(0) != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", config.Settings.Timeout)
	}
	if config.Settings.MaxRPS != 50 {
		t.Errorf("MaxRPS = %v, want 50", config.Settings.MaxRPS)
	}

	fb, ok := config.Scenarios["feedback"]
	if !ok {
		t.Fatal("Scenario 'feedback' not found")
	}
	if fb.StartVUs == nil || *fb.StartVUs != 0 {
		t.Errorf("StartVUs = %v, want explicit 0", fb.StartVUs)
	}
	if len(fb.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(fb.Stages))
	}
	if fb.Stages[1].Duration != "1m" || fb.Stages[1].Target != 20 {
		t.Errorf("Stages[1] = %+v", fb.Stages[1])
	}
	if fb.Pause != "1s" {
		t.Errorf("Pause = %q, want 1s", fb.Pause)
	}

	req := fb.Requests[0]
	if req.Headers["Content-Type"] != "application/json" {
		t.Errorf("Content-Type header = %q", req.Headers["Content-Type"])
	}
	if len(req.Checks) != 2 || req.Checks[1].Path != "sentiment" {
		t.Errorf("Checks = %+v", req.Checks)
	}

	if got := config.Thresholds.HTTPReqDuration; len(got) != 1 || got[0] != "p(95)<500" {
		t.Errorf("HTTPReqDuration thresholds = %v", got)
	}
}

func TestParseConfig_JSON(t *testing.T) {
	jsonConfig := `{
  "name": "JSON Test",
  "settings": {"timeout": "5s"},
  "scenarios": {
    "steady": {
      "executor": "constant-vus",
      "vus": 3,
      "duration": "10s",
      "requests": [{"method": "GET", "url": "http://localhost/health"}]
    }
  },
  "thresholds": {"http_req_failed": ["rate<0.01"]}
}`

	config, err := ParseConfig([]byte(jsonConfig), "test.json")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if config.Settings.Timeout.GetDuration(0) != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", config.Settings.Timeout)
	}
	if config.Scenarios["steady"].VUs != 3 {
		t.Errorf("VUs = %d, want 3", config.Scenarios["steady"].VUs)
	}
	if config.Thresholds.HTTPReqFailed[0] != "rate<0.01" {
		t.Errorf("HTTPReqFailed = %v", config.Thresholds.HTTPReqFailed)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	if _, err := ParseConfig([]byte("name: [unclosed"), "bad.yaml"); err == nil {
		t.Error("expected YAML error")
	}
	if _, err := ParseConfig([]byte("{"), "bad.json"); err == nil {
		t.Error("expected JSON error")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yml")
	content := `
name: from-file
scenarios:
  s:
    stages: [{duration: 1s, target: 1}]
    requests: [{url: "http://localhost"}]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if config.Name != "from-file" {
		t.Errorf("Name = %q", config.Name)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseStages(t *testing.T) {
	stages, err := ParseStages("30s:20, 1m:20,10s:0")
	if err != nil {
		t.Fatalf("ParseStages() error = %v", err)
	}
	want := []StageConfig{{"30s", 20, ""}, {"1m", 20, ""}, {"10s", 0, ""}}
	if len(stages) != len(want) {
		t.Fatalf("len = %d, want %d", len(stages), len(want))
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stages[%d] = %+v, want %+v", i, stages[i], want[i])
		}
	}

	for _, bad := range []string{"", "30s", "30s:x", "soon:5"} {
		if _, err := ParseStages(bad); err == nil {
			t.Errorf("ParseStages(%q) expected error", bad)
		}
	}
}

func TestMergeVariables(t *testing.T) {
	got := MergeVariables(map[string]string{"a": "1", "b": "1"}, map[string]string{"b": "2"})
	if got["a"] != "1" || got["b"] != "2" {
		t.Errorf("MergeVariables() = %v", got)
	}
}

func TestApplyDefaults(t *testing.T) {
	config := &TestConfig{
		Scenarios: map[string]*ScenarioConfig{
			"ramp": {
				Stages:   []StageConfig{{Duration: "1s", Target: 2}},
				Requests: []RequestConfig{{URL: "http://x"}, {Method: "post", URL: "http://x"}},
			},
			"flat": {Duration: "1s", Requests: []RequestConfig{{URL: "http://x"}}},
		},
	}

	ApplyDefaults(config)

	if config.Settings.Timeout.GetDuration(0) != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", config.Settings.Timeout, DefaultTimeout)
	}
	if config.Settings.UserAgent != DefaultUserAgent {
		t.Errorf("UserAgent = %q", config.Settings.UserAgent)
	}

	ramp := config.Scenarios["ramp"]
	if ramp.Executor != ExecutorRampingVUs {
		t.Errorf("ramp executor = %q", ramp.Executor)
	}
	if ramp.GracefulStop != "30s" {
		t.Errorf("GracefulStop = %q, want 30s", ramp.GracefulStop)
	}
	if ramp.Requests[0].Name != "ramp_request_1" || ramp.Requests[0].Method != "GET" {
		t.Errorf("request[0] = %+v", ramp.Requests[0])
	}
	if ramp.Requests[1].Method != "POST" {
		t.Errorf("request[1].Method = %q, want POST", ramp.Requests[1].Method)
	}

	flat := config.Scenarios["flat"]
	if flat.Executor != ExecutorConstantVUs || flat.VUs != 1 {
		t.Errorf("flat = %+v", flat)
	}
}

func TestThresholdsConfig_Add(t *testing.T) {
	var th ThresholdsConfig
	if !th.Add("http_req_duration", "p(95)<500") {
		t.Error("Add(http_req_duration) = false")
	}
	if !th.Add("checks", "rate>0.9") {
		t.Error("Add(checks) = false")
	}
	if th.Add("bogus", "rate>0") {
		t.Error("Add(bogus) = true")
	}

	got := th.ByMetric()
	if len(got) != 2 || got[0].Metric != "http_req_duration" || got[1].Metric != "checks" {
		t.Errorf("ByMetric() = %+v", got)
	}
}

func TestThresholdsConfig_Set(t *testing.T) {
	th := ThresholdsConfig{HTTPReqDuration: []string{"p(95)<500", "avg<200"}}
	if !th.Set("http_req_duration", []string{"p(95)<800"}) {
		t.Fatal("Set(http_req_duration) = false")
	}
	if len(th.HTTPReqDuration) != 1 || th.HTTPReqDuration[0] != "p(95)<800" {
		t.Errorf("HTTPReqDuration = %v", th.HTTPReqDuration)
	}
	if th.Set("latency", []string{"p(95)<1"}) {
		t.Error("Set(latency) = true")
	}
}
