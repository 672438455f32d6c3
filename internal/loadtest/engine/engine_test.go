package engine_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/feedbackload/internal/loadtest/config"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/engine"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/metrics"
)

// feedbackTarget serves POST /api/v1/feedback with a fixed reply and
// records the customer IDs it saw.
type feedbackTarget struct {
	*httptest.Server

	mu        sync.Mutex
	customers map[string]int
	bad       atomic.Int64
}

func newFeedbackTarget(t *testing.T, status int, body string, delay time.Duration) *feedbackTarget {
	t.Helper()

	ft := &feedbackTarget{customers: make(map[string]int)}
	ft.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			CustomerID string `json:"customer_id"`
			Message    string `json:"message"`
		}
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/feedback" ||
			r.Header.Get("Content-Type") != "application/json" ||
			json.NewDecoder(r.Body).Decode(&payload) != nil || payload.Message == "" {
			ft.bad.Add(1)
		}

		ft.mu.Lock()
		ft.customers[payload.CustomerID]++
		ft.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ft.Close)
	return ft
}

func (ft *feedbackTarget) customerIDs() []string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ids := make([]string, 0, len(ft.customers))
	for id := range ft.customers {
		ids = append(ids, id)
	}
	return ids
}

// feedbackConfig is the feedback scenario squeezed into about a second.
func feedbackConfig(baseURL string) *config.TestConfig {
	return &config.TestConfig{
		Name:     "feedback",
		Settings: config.GlobalSettings{BaseURL: baseURL + "/"},
		Scenarios: map[string]*config.ScenarioConfig{
			"feedback": {
				Executor: config.ExecutorRampingVUs,
				Stages: []config.StageConfig{
					{Duration: "300ms", Target: 3},
					{Duration: "400ms", Target: 3},
					{Duration: "200ms", Target: 0},
				},
				Pause: "20ms",
				Requests: []config.RequestConfig{{
					Name:    "submit_feedback",
					Method:  "POST",
					URL:     "{{baseUrl}}/api/v1/feedback",
					Headers: map[string]string{"Content-Type": "application/json"},
					Body:    `{"customer_id":"user_{{__VU}}","message":"This service is amazing and fast!"}`,
					Checks: []config.CheckConfig{
						{Name: "is status 201", Type: "status", Value: "201"},
						{Name: "sentiment is correct", Type: "json", Path: "sentiment", Value: "Positive"},
					},
				}},
			},
		},
		Thresholds: &config.ThresholdsConfig{HTTPReqDuration: []string{"p(95)<500"}},
	}
}

func run(t *testing.T, cfg *config.TestConfig, opts ...engine.Option) *engine.TestResult {
	t.Helper()
	eng, err := engine.NewEngine(cfg, opts...)
	require.NoError(t, err)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func checkRate(t *testing.T, result *engine.TestResult, name string) float64 {
	t.Helper()
	stats, ok := result.Metrics.Checks.Get(name)
	require.True(t, ok, "check %q was never evaluated", name)
	return stats.Rate()
}

func TestEngine_PositiveFeedback(t *testing.T) {
	target := newFeedbackTarget(t, http.StatusCreated, `{"sentiment":"Positive"}`, 0)

	result := run(t, feedbackConfig(target.URL))

	assert.True(t, result.Passed)
	_, err := uuid.Parse(result.RunID)
	assert.NoError(t, err)
	assert.Equal(t, "feedback", result.Name)

	assert.Greater(t, result.Metrics.TotalRequests, int64(5))
	assert.Zero(t, result.Metrics.FailedRequests)
	assert.Equal(t, 1.0, checkRate(t, result, "is status 201"))
	assert.Equal(t, 1.0, checkRate(t, result, "sentiment is correct"))
	assert.Zero(t, target.bad.Load(), "malformed requests reached the target")

	require.Len(t, result.Thresholds, 1)
	assert.Equal(t, "http_req_duration", result.Thresholds[0].Metric)
	assert.Equal(t, "p(95)<500", result.Thresholds[0].Expression)
	assert.True(t, result.Thresholds[0].Passed)

	for _, id := range target.customerIDs() {
		assert.Contains(t, []string{"user_1", "user_2", "user_3"}, id)
	}

	sr := result.Scenarios["feedback"]
	require.NotNil(t, sr)
	assert.Equal(t, "ramping-vus", sr.Executor)
	assert.Equal(t, 3, sr.MaxVUs)
	assert.Equal(t, result.Metrics.Iterations, sr.Iterations)
	assert.Contains(t, result.RequestStats, "submit_feedback")

	var phases []metrics.Phase
	for _, p := range result.Phases {
		phases = append(phases, p.Phase)
	}
	assert.Equal(t, []metrics.Phase{
		metrics.PhaseRampUp, metrics.PhaseSteady, metrics.PhaseRampDown, metrics.PhaseDone,
	}, phases)
}

func TestEngine_CheckOutcomes(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantStatus    float64
		wantSentiment float64
		wantFailed    bool
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, 0, 0, true},
		{"neutral sentiment", http.StatusCreated, `{"sentiment":"Neutral"}`, 1, 0, false},
		{"lowercase sentiment", http.StatusCreated, `{"sentiment":"positive"}`, 1, 0, false},
		{"not json", http.StatusCreated, `Positive`, 1, 0, false},
		{"ok instead of created", http.StatusOK, `{"sentiment":"Positive"}`, 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newFeedbackTarget(t, tt.status, tt.body, 0)

			result := run(t, feedbackConfig(target.URL))

			assert.Equal(t, tt.wantStatus, checkRate(t, result, "is status 201"))
			assert.Equal(t, tt.wantSentiment, checkRate(t, result, "sentiment is correct"))
			if tt.wantFailed {
				assert.Equal(t, result.Metrics.TotalRequests, result.Metrics.FailedRequests)
			} else {
				assert.Zero(t, result.Metrics.FailedRequests)
			}

			// Check failures do not fail the run; only thresholds do.
			require.Len(t, result.Thresholds, 1)
			assert.True(t, result.Passed)
		})
	}
}

func TestEngine_TransportError(t *testing.T) {
	target := httptest.NewServer(http.NotFoundHandler())
	url := target.URL
	target.Close()

	result := run(t, feedbackConfig(url))

	assert.Greater(t, result.Metrics.TotalRequests, int64(0))
	assert.Equal(t, result.Metrics.TotalRequests, result.Metrics.FailedRequests)
	assert.Zero(t, checkRate(t, result, "is status 201"))
	assert.Zero(t, checkRate(t, result, "sentiment is correct"))
}

func TestEngine_FailingThreshold(t *testing.T) {
	target := newFeedbackTarget(t, http.StatusCreated, `{"sentiment":"Positive"}`, 30*time.Millisecond)

	cfg := feedbackConfig(target.URL)
	cfg.Thresholds = &config.ThresholdsConfig{
		HTTPReqDuration: []string{"p(95)<10"},
		Checks:          []string{"rate>0.99"},
	}

	result := run(t, cfg)

	assert.False(t, result.Passed)
	require.Len(t, result.Thresholds, 2)
	assert.False(t, result.Thresholds[0].Passed)
	assert.NotEmpty(t, result.Thresholds[0].Message)
	assert.True(t, result.Thresholds[1].Passed)
}

func TestEngine_NoThresholdsPasses(t *testing.T) {
	target := newFeedbackTarget(t, http.StatusInternalServerError, `{}`, 0)

	cfg := feedbackConfig(target.URL)
	cfg.Thresholds = nil

	result := run(t, cfg)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Thresholds)
}

func TestEngine_TimeSeriesIncludesFinalInterval(t *testing.T) {
	target := newFeedbackTarget(t, http.StatusCreated, `{"sentiment":"Positive"}`, 0)

	// The run is shorter than one bucket interval.
	result := run(t, feedbackConfig(target.URL))

	require.NotEmpty(t, result.TimeSeries)
	var reqs int64
	for _, b := range result.TimeSeries {
		reqs += b.IntervalRequests
	}
	assert.Equal(t, result.Metrics.TotalRequests, reqs)
}

func TestEngine_SteadyStateRPS(t *testing.T) {
	target := newFeedbackTarget(t, http.StatusCreated, `{"sentiment":"Positive"}`, 0)

	result := run(t, feedbackConfig(target.URL),
		engine.WithMetricsConfig(metrics.EngineConfig{BucketInterval: 100 * time.Millisecond}))

	assert.Greater(t, result.Metrics.SteadyStateRPS, 0.0)
}

func TestEngine_ConstantVUs(t *testing.T) {
	target := newFeedbackTarget(t, http.StatusCreated, `{"sentiment":"Positive"}`, 0)

	cfg := feedbackConfig(target.URL)
	sc := cfg.Scenarios["feedback"]
	sc.Executor = config.ExecutorConstantVUs
	sc.Stages = nil
	sc.VUs = 2
	sc.Duration = "300ms"

	result := run(t, cfg)

	assert.True(t, result.Passed)
	assert.Equal(t, "constant-vus", result.Scenarios["feedback"].Executor)
	assert.ElementsMatch(t, []string{"user_1", "user_2"}, target.customerIDs())
}

func TestEngine_MaxRPS(t *testing.T) {
	target := newFeedbackTarget(t, http.StatusCreated, `{"sentiment":"Positive"}`, 0)

	cfg := feedbackConfig(target.URL)
	cfg.Settings.MaxRPS = 10
	sc := cfg.Scenarios["feedback"]
	sc.Executor = config.ExecutorConstantVUs
	sc.Stages = nil
	sc.VUs = 5
	sc.Duration = "500ms"
	sc.Pause = "0s"

	result := run(t, cfg)

	// Burst of 10, about 5 more over half a second, and one last
	// request per VU while draining.
	assert.LessOrEqual(t, result.Metrics.TotalRequests, int64(25))
}

func TestEngine_InvalidConfig(t *testing.T) {
	cfg := feedbackConfig("http://localhost:8000")
	cfg.Thresholds.HTTPReqDuration = []string{"p(95) below 500"}

	_, err := engine.NewEngine(cfg)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "invalid configuration"))

	var verrs *config.ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestEngine_Cancellation(t *testing.T) {
	target := newFeedbackTarget(t, http.StatusCreated, `{"sentiment":"Positive"}`, 0)

	cfg := feedbackConfig(target.URL)
	cfg.Scenarios["feedback"].Stages = []config.StageConfig{{Duration: "1h", Target: 2}}

	eng, err := engine.NewEngine(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := eng.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Error)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, eng.IsRunning())
}

func TestEngine_Stop(t *testing.T) {
	target := newFeedbackTarget(t, http.StatusCreated, `{"sentiment":"Positive"}`, 0)

	cfg := feedbackConfig(target.URL)
	cfg.Scenarios["feedback"].Stages = []config.StageConfig{{Duration: "1h", Target: 2}}

	eng, err := engine.NewEngine(cfg)
	require.NoError(t, err)
	assert.NoError(t, eng.Stop(context.Background()), "Stop before Run is a no-op")

	done := make(chan *engine.TestResult, 1)
	go func() {
		result, _ := eng.Run(context.Background())
		done <- result
	}()

	assert.Eventually(t, eng.IsRunning, time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, eng.Stop(context.Background()))

	select {
	case result := <-done:
		require.NotNil(t, result)
		assert.Empty(t, result.Error)
		assert.Greater(t, result.Metrics.Iterations, int64(0))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestEngine_Progress(t *testing.T) {
	target := newFeedbackTarget(t, http.StatusCreated, `{"sentiment":"Positive"}`, 0)

	var (
		mu      sync.Mutex
		updates []*engine.Progress
	)
	result := run(t, feedbackConfig(target.URL), engine.WithProgress(100*time.Millisecond, func(p *engine.Progress) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	}))
	require.True(t, result.Passed)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(updates), 5)

	last := updates[len(updates)-1]
	assert.Equal(t, 900*time.Millisecond, last.TotalDuration)
	assert.Equal(t, 3, last.TotalStages)
	assert.NotNil(t, last.Metrics)
	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].Fraction, updates[i-1].Fraction)
	}
}

func TestEngine_PrometheusCollector(t *testing.T) {
	target := newFeedbackTarget(t, http.StatusCreated, `{"sentiment":"Neutral"}`, 0)
	reg := prometheus.NewRegistry()

	var seen atomic.Int64
	result := run(t, feedbackConfig(target.URL),
		engine.WithRegisterer(reg),
		engine.WithProgress(100*time.Millisecond, func(*engine.Progress) {
			n, err := testutil.GatherAndCount(reg, "feedbackload_http_reqs_total")
			if err == nil {
				seen.Store(int64(n))
			}
		}))
	require.NotNil(t, result)

	assert.Equal(t, int64(1), seen.Load(), "collector was not registered during the run")

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, n, "collector should be unregistered after the run")
}

func TestEngine_AlreadyRunning(t *testing.T) {
	target := newFeedbackTarget(t, http.StatusCreated, `{"sentiment":"Positive"}`, 0)

	eng, err := engine.NewEngine(feedbackConfig(target.URL))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = eng.Run(context.Background())
	}()

	assert.Eventually(t, eng.IsRunning, time.Second, 5*time.Millisecond)
	_, err = eng.Run(context.Background())
	assert.ErrorContains(t, err, "already running")
	<-done
}
