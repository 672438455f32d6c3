// Package engine runs a load test end to end: it builds scenarios from a
// parsed configuration, drives their executors, and evaluates thresholds
// over the collected metrics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/feedbackload/internal/loadtest"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/check"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/config"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/executor"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/metrics"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/threshold"
)

// Engine is the main orchestrator of a load test.
//
// It coordinates:
//   - Scenario construction from configuration
//   - Scenario execution with their respective executors
//   - Metrics collection and aggregation
//   - Threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("feedback.yaml")
//	eng, _ := engine.NewEngine(cfg, engine.WithLogger(logger))
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config     *config.TestConfig
	httpConfig loadtest.HTTPClientConfig
	thresholds []*threshold.Threshold

	logger           *zap.Logger
	registerer       prometheus.Registerer
	progress         ProgressFunc
	progressInterval time.Duration
	metricsConfig    metrics.EngineConfig

	metricsEngine *metrics.Engine
	scenarios     map[string]*ScenarioRunner
	mu            sync.RWMutex

	startTime time.Time
	running   bool
}

// ScenarioRunner manages the execution of a single scenario.
type ScenarioRunner struct {
	Name      string
	Config    *executor.Config
	Executor  executor.Executor
	Scheduler *loadtest.VUScheduler
	Scenario  *loadtest.Scenario
	Result    *ScenarioResult
}

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name       string        `json:"name"`
	Executor   string        `json:"executor"`
	Duration   time.Duration `json:"duration"`
	Iterations int64         `json:"iterations"`
	MaxVUs     int           `json:"maxVUs"`
	Error      string        `json:"error,omitempty"`
}

// TestResult contains the complete test results.
type TestResult struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Scenarios map[string]*ScenarioResult `json:"scenarios"`

	// Aggregated metrics across all scenarios
	Metrics      *metrics.Snapshot               `json:"metrics"`
	RequestStats map[string]metrics.LatencyStats `json:"requestStats,omitempty"`
	TimeSeries   []*metrics.TimeBucket           `json:"timeSeries,omitempty"`
	Phases       []metrics.PhaseChange           `json:"phases,omitempty"`

	Passed     bool               `json:"passed"`
	Thresholds []threshold.Result `json:"thresholds,omitempty"`

	// Error is set when the run was interrupted.
	Error string `json:"error,omitempty"`
}

// Progress is a periodic view of a running test.
type Progress struct {
	Fraction      float64
	Elapsed       time.Duration
	TotalDuration time.Duration
	TargetVUs     int
	CurrentStage  int
	TotalStages   int
	Metrics       *metrics.Snapshot
}

// ProgressFunc receives Progress updates while a test runs.
type ProgressFunc func(*Progress)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger passed down to executors and VUs.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRegisterer exposes run metrics on reg for the duration of Run.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registerer = reg
	}
}

// WithProgress calls fn every interval while the test runs.
func WithProgress(interval time.Duration, fn ProgressFunc) Option {
	return func(e *Engine) {
		e.progress = fn
		if interval > 0 {
			e.progressInterval = interval
		}
	}
}

// WithMetricsConfig overrides the metrics collector configuration.
func WithMetricsConfig(cfg metrics.EngineConfig) Option {
	return func(e *Engine) {
		e.metricsConfig = cfg
	}
}

// NewEngine validates cfg and prepares an engine to run it.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	config.ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	httpConfig := loadtest.DefaultHTTPClientConfig()
	httpConfig.Timeout = cfg.Settings.Timeout.GetDuration(config.DefaultTimeout)
	httpConfig.MaxConnsPerHost = cfg.Settings.MaxConnectionsPerHost
	httpConfig.InsecureSkipVerify = cfg.Settings.InsecureSkipVerify
	httpConfig.UserAgent = cfg.Settings.UserAgent
	if cfg.Settings.MaxIdleConnsPerHost > 0 {
		httpConfig.MaxIdleConnsPerHost = cfg.Settings.MaxIdleConnsPerHost
	}

	e := &Engine{
		config:           cfg,
		httpConfig:       httpConfig,
		logger:           zap.NewNop(),
		progressInterval: time.Second,
		metricsConfig:    metrics.DefaultEngineConfig(),
		scenarios:        make(map[string]*ScenarioRunner),
	}
	for _, opt := range opts {
		opt(e)
	}

	if cfg.Thresholds != nil {
		for _, m := range cfg.Thresholds.ByMetric() {
			for _, expr := range m.Expressions {
				th, err := threshold.Parse(m.Metric, expr)
				if err != nil {
					return nil, fmt.Errorf("invalid threshold %s: %w", m.Metric, err)
				}
				e.thresholds = append(e.thresholds, th)
			}
		}
	}

	return e, nil
}

// Run executes all scenarios concurrently and returns the test results.
//
// Cancelling ctx interrupts VUs immediately; the partial result is still
// returned together with an error.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.startTime = time.Now()
	e.metricsEngine = metrics.NewEngineWithConfig(e.metricsConfig)
	e.scenarios = make(map[string]*ScenarioRunner)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()
	defer e.metricsEngine.Stop()

	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run", runID))

	if e.registerer != nil {
		collector := metrics.NewCollector(e.metricsEngine)
		if err := e.registerer.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metrics collector: %w", err)
		}
		defer e.registerer.Unregister(collector)
	}

	if err := e.initializeScenarios(ctx, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize scenarios: %w", err)
	}

	logger.Info("test started",
		zap.String("name", e.config.Name),
		zap.Int("scenarios", len(e.scenarios)),
		zap.Int("thresholds", len(e.thresholds)))

	stopProgress := e.startProgress()
	scenarioResults := e.runScenarios(ctx)
	stopProgress()
	e.metricsEngine.Stop()

	finalMetrics := e.metricsEngine.Snapshot()
	thresholdResults, passed := threshold.EvaluateAll(e.thresholds, e.metricsEngine)

	endTime := time.Now()
	result := &TestResult{
		RunID:        runID,
		Name:         e.config.Name,
		Description:  e.config.Description,
		StartTime:    e.startTime,
		EndTime:      endTime,
		Duration:     endTime.Sub(e.startTime),
		Scenarios:    scenarioResults,
		Metrics:      finalMetrics,
		RequestStats: e.metricsEngine.RequestStats(),
		TimeSeries:   e.metricsEngine.TimeSeries(),
		Phases:       e.metricsEngine.PhaseHistory(),
		Passed:       passed,
		Thresholds:   thresholdResults,
	}

	for _, tr := range thresholdResults {
		if !tr.Passed {
			logger.Warn("threshold failed",
				zap.String("metric", tr.Metric),
				zap.String("expression", tr.Expression),
				zap.String("value", tr.Value))
		}
	}

	logger.Info("test finished",
		zap.Bool("passed", passed),
		zap.Duration("duration", result.Duration),
		zap.Int64("requests", finalMetrics.TotalRequests),
		zap.Int64("iterations", finalMetrics.Iterations))

	if err := ctx.Err(); err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("test interrupted: %w", err)
	}
	return result, nil
}

// initializeScenarios creates executors and schedulers for all scenarios.
func (e *Engine) initializeScenarios(ctx context.Context, logger *zap.Logger) error {
	limiter := loadtest.NewLimiter(e.config.Settings.MaxRPS)

	for _, name := range e.scenarioNames() {
		sc := e.config.Scenarios[name]

		scenario, err := e.createScenario(name, sc)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}

		execConfig, err := executor.ConfigFromScenario(name, sc)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}
		execConfig.Logger = logger

		exec, err := executor.CreateAndInitExecutor(ctx, execConfig)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}

		runner := &ScenarioRunner{
			Name:      name,
			Config:    execConfig,
			Executor:  exec,
			Scheduler: e.newScheduler(scenario, limiter, logger),
			Scenario:  scenario,
		}

		e.mu.Lock()
		e.scenarios[name] = runner
		e.mu.Unlock()
	}

	return nil
}

func (e *Engine) newScheduler(scenario *loadtest.Scenario, limiter *rate.Limiter, logger *zap.Logger) *loadtest.VUScheduler {
	return loadtest.NewVUScheduler(scenario, e.metricsEngine, e.httpConfig, limiter,
		logger.With(zap.String("scenario", scenario.Name)))
}

func (e *Engine) scenarioNames() []string {
	names := make([]string, 0, len(e.config.Scenarios))
	for name := range e.config.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// createScenario compiles a scenario config into requests with checks.
func (e *Engine) createScenario(name string, sc *config.ScenarioConfig) (*loadtest.Scenario, error) {
	scenario := &loadtest.Scenario{
		Name:      name,
		Variables: config.MergeVariables(e.config.Variables, sc.Tags),
		Headers:   e.config.Settings.Headers,
	}

	if base := strings.TrimSuffix(e.config.Settings.BaseURL, "/"); base != "" {
		scenario.Variables["baseUrl"] = base
		scenario.Variables["baseURL"] = base
	}

	for i, rc := range sc.Requests {
		req := &loadtest.Request{
			Name:    rc.Name,
			Method:  rc.Method,
			URL:     rc.URL,
			Headers: rc.Headers,
			Body:    rc.Body,
		}
		if req.Name == "" {
			req.Name = fmt.Sprintf("%s_request_%d", name, i+1)
		}

		if rc.Timeout != "" {
			d, err := config.ParseDurationString(rc.Timeout)
			if err != nil {
				return nil, fmt.Errorf("request %s: invalid timeout: %w", req.Name, err)
			}
			req.Timeout = d
		}

		for _, cc := range rc.Checks {
			c, err := check.Compile(cc.Definition())
			if err != nil {
				return nil, fmt.Errorf("request %s: %w", req.Name, err)
			}
			req.Checks = append(req.Checks, c)
		}

		scenario.Requests = append(scenario.Requests, req)
	}

	return scenario, nil
}

// runScenarios runs all scenarios in parallel and waits for them.
func (e *Engine) runScenarios(ctx context.Context) map[string]*ScenarioResult {
	results := make(map[string]*ScenarioResult, len(e.scenarios))
	var (
		resultsMu sync.Mutex
		wg        sync.WaitGroup
	)

	for name, runner := range e.scenarios {
		wg.Add(1)
		go func(name string, runner *ScenarioRunner) {
			defer wg.Done()

			result := e.runScenario(ctx, runner)

			resultsMu.Lock()
			results[name] = result
			resultsMu.Unlock()
		}(name, runner)
	}

	wg.Wait()
	return results
}

// runScenario runs a single scenario.
func (e *Engine) runScenario(ctx context.Context, runner *ScenarioRunner) *ScenarioResult {
	startTime := time.Now()

	err := runner.Executor.Run(ctx, runner.Scheduler, e.metricsEngine)
	runner.Scheduler.Close()

	result := &ScenarioResult{
		Name:       runner.Name,
		Executor:   string(runner.Executor.Type()),
		Duration:   time.Since(startTime),
		Iterations: runner.Executor.GetStats().Iterations,
		MaxVUs:     executor.CalculateMaxVUs(runner.Config),
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		result.Error = err.Error()
		e.logger.Error("scenario failed", zap.String("scenario", runner.Name), zap.Error(err))
	}

	runner.Result = result
	return result
}

// startProgress reports progress until the returned func is called.
func (e *Engine) startProgress() func() {
	if e.progress == nil {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				e.progress(e.Progress())
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// Progress returns the current state of the run, or nil before Run.
func (e *Engine) Progress() *Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.metricsEngine == nil {
		return nil
	}

	p := &Progress{
		Elapsed: time.Since(e.startTime),
		Metrics: e.metricsEngine.Snapshot(),
	}

	var fractions float64
	for _, runner := range e.scenarios {
		fractions += runner.Executor.GetProgress()
		stats := runner.Executor.GetStats()
		p.TargetVUs += stats.TargetVUs
		if stats.TotalDuration > p.TotalDuration {
			p.TotalDuration = stats.TotalDuration
		}
		if stats.TotalStages > p.TotalStages {
			p.TotalStages = stats.TotalStages
			p.CurrentStage = stats.CurrentStage + 1
		}
	}
	if n := len(e.scenarios); n > 0 {
		p.Fraction = fractions / float64(n)
	}

	return p
}

// TotalDuration is the longest scenario duration, excluding graceful stop.
func (e *Engine) TotalDuration() time.Duration {
	var longest time.Duration
	for _, name := range e.scenarioNames() {
		cfg, err := executor.ConfigFromScenario(name, e.config.Scenarios[name])
		if err != nil {
			continue
		}
		if d := cfg.TotalDuration(); d > longest {
			longest = d
		}
	}
	return longest
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop ends every scenario early. In-flight iterations still get their
// graceful stop period.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return nil
	}
	runners := make([]*ScenarioRunner, 0, len(e.scenarios))
	for _, r := range e.scenarios {
		runners = append(runners, r)
	}
	e.mu.RUnlock()

	var errs []error
	for _, runner := range runners {
		if err := runner.Executor.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop scenario %s: %w", runner.Name, err))
		}
	}
	return errors.Join(errs...)
}
