package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/feedbackload/internal/loadtest"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/metrics"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// Each VU runs iterations back to back (closed model), sleeping Pause
// between them.
type ConstantVUs struct {
	config    *Config
	scheduler *loadtest.VUScheduler
	metrics   *metrics.Engine
	logger    *zap.Logger

	startTime time.Time
	running   atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}

	mu sync.RWMutex
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{
		stopCh: make(chan struct{}),
	}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	e.logger = config.logger().With(zap.String("scenario", config.Name))
	return nil
}

// Run starts the executor and blocks until every VU has exited.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
	if e.config == nil {
		return fmt.Errorf("executor not initialized")
	}

	e.mu.Lock()
	e.scheduler = scheduler
	e.metrics = metricsEngine
	e.startTime = time.Now()
	e.mu.Unlock()
	e.running.Store(true)
	defer e.running.Store(false)

	vuCtx, hardStop := context.WithCancel(ctx)
	defer hardStop()

	e.metrics.SetPhase(metrics.PhaseSteady)
	e.logger.Info("constant-vus started",
		zap.Int("vus", e.config.VUs),
		zap.Duration("duration", e.config.Duration))

	for i := 0; i < e.config.VUs; i++ {
		scheduler.Start(vuCtx, scheduler.SpawnVU(), e.config.Pause)
	}
	scheduler.UpdateMetrics()

	timer := time.NewTimer(e.config.Duration)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-e.stopCh:
	case <-ctx.Done():
	}

	drain(scheduler, e.config.gracefulStop(), hardStop, e.logger)

	e.metrics.SetActiveVUs(0)
	e.metrics.SetPhase(metrics.PhaseDone)
	e.logger.Info("constant-vus finished", zap.Duration("elapsed", time.Since(e.startTime)))

	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	if !e.running.Load() {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}

	progress := float64(time.Since(start)) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *ConstantVUs) GetActiveVUs() int {
	e.mu.RLock()
	scheduler := e.scheduler
	e.mu.RUnlock()

	if scheduler == nil {
		return 0
	}
	return scheduler.GetActiveVUCount()
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	e.mu.RLock()
	start := e.startTime
	m := e.metrics
	e.mu.RUnlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	var iterations int64
	if m != nil {
		iterations = m.Snapshot().Iterations
	}

	stats := &Stats{
		StartTime:   start,
		CurrentTime: time.Now(),
		Elapsed:     elapsed,
		ActiveVUs:   e.GetActiveVUs(),
		Iterations:  iterations,
	}
	if e.config != nil {
		stats.TotalDuration = e.config.Duration
		stats.TargetVUs = e.config.VUs
	}
	return stats
}

// Stop ends the scenario early. Run then drains VUs as it would when the
// duration elapses.
func (e *ConstantVUs) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	return nil
}

// Ensure ConstantVUs implements Executor
var _ Executor = (*ConstantVUs)(nil)
