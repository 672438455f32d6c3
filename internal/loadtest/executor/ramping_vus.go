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

// controllerInterval is how often the ramping controller re-evaluates
// the target VU count.
const controllerInterval = 100 * time.Millisecond

// RampingVUs ramps VU count up and down according to stages.
//
// Each stage linearly interpolates from the previous stage's target (or
// StartVUs for the first stage) to its own target, so the count at the end
// of every stage equals that stage's target. When the count drops, the
// most recently started VUs are retired first; they finish their current
// iteration and skip the pause.
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 20     # Ramp from startVUs to 20 VUs over 30s
//	  - duration: 1m
//	    target: 20     # Hold 20 VUs for a minute
//	  - duration: 10s
//	    target: 0      # Ramp down to 0 VUs over 10s
type RampingVUs struct {
	config    *Config
	scheduler *loadtest.VUScheduler
	metrics   *metrics.Engine
	logger    *zap.Logger

	startTime    time.Time
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}

	// vus holds running VUs, oldest first.
	vus   []*loadtest.VirtualUser
	vusMu sync.Mutex

	mu sync.RWMutex
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{
		stopCh: make(chan struct{}),
	}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	e.logger = config.logger().With(zap.String("scenario", config.Name))
	return nil
}

// Run starts the executor and blocks until every VU has exited.
func (e *RampingVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, metricsEngine *metrics.Engine) error {
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

	// VUs outlive the stages by up to gracefulStop, so they get their
	// own context.
	vuCtx, hardStop := context.WithCancel(ctx)
	defer hardStop()

	stagesCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	defer cancel()

	e.logger.Info("ramping-vus started",
		zap.Int("startVUs", e.config.StartVUs),
		zap.Int("stages", len(e.config.Stages)),
		zap.Duration("duration", e.config.TotalDuration()))

	e.tick(vuCtx, 0)
	e.controller(stagesCtx, vuCtx)

	e.vusMu.Lock()
	e.vus = nil
	e.vusMu.Unlock()

	drain(scheduler, e.config.gracefulStop(), hardStop, e.logger)

	e.targetVUs.Store(0)
	e.metrics.SetActiveVUs(0)
	e.metrics.SetPhase(metrics.PhaseDone)
	e.logger.Info("ramping-vus finished", zap.Duration("elapsed", time.Since(e.startTime)))

	return nil
}

// controller adjusts the VU count every controllerInterval until the
// stages elapse or Stop is called.
func (e *RampingVUs) controller(stagesCtx, vuCtx context.Context) {
	ticker := time.NewTicker(controllerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stagesCtx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tick(vuCtx, time.Since(e.startTime))
		}
	}
}

func (e *RampingVUs) tick(vuCtx context.Context, elapsed time.Duration) {
	target, stage := TargetVUsAt(e.config.Stages, e.config.StartVUs, elapsed)
	e.currentStage.Store(int32(stage))
	e.targetVUs.Store(int32(target))

	e.adjustVUs(vuCtx, target)
	e.scheduler.UpdateMetrics()
	e.metrics.SetPhase(PhaseFor(e.config.Stages, e.config.StartVUs, stage))
}

// TargetVUsAt returns the VU count the ramp calls for at elapsed, and the
// index of the stage that elapsed falls in.
//
// Within a stage the count moves linearly from the previous target
// (startVUs for the first stage) to the stage target, rounded to the
// nearest integer. Past the last stage it returns the final target.
func TargetVUsAt(stages []Stage, startVUs int, elapsed time.Duration) (int, int) {
	if len(stages) == 0 {
		return 0, 0
	}
	if elapsed < 0 {
		elapsed = 0
	}

	var stageStart time.Duration
	prevTarget := startVUs

	for i, stage := range stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5), i
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	last := len(stages) - 1
	return stages[last].Target, last
}

// PhaseFor labels stage idx as ramp-up, steady or ramp-down by comparing
// its target with the one before it.
func PhaseFor(stages []Stage, startVUs, idx int) metrics.Phase {
	if idx < 0 || idx >= len(stages) {
		return metrics.PhaseDone
	}

	prev := startVUs
	if idx > 0 {
		prev = stages[idx-1].Target
	}

	switch target := stages[idx].Target; {
	case target > prev:
		return metrics.PhaseRampUp
	case target < prev:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

// adjustVUs starts or retires VUs until target are running.
func (e *RampingVUs) adjustVUs(vuCtx context.Context, target int) {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	current := len(e.vus)

	if target > current {
		for i := current; i < target; i++ {
			vu := e.scheduler.SpawnVU()
			e.vus = append(e.vus, vu)
			e.scheduler.Start(vuCtx, vu, e.config.Pause)
		}
		e.logger.Debug("VUs started", zap.Int("from", current), zap.Int("to", target))
	} else if target < current {
		// Newest first.
		for i := current - 1; i >= target; i-- {
			e.vus[i].RequestStop()
		}
		e.vus = e.vus[:target]
		e.logger.Debug("VUs retired", zap.Int("from", current), zap.Int("to", target))
	}
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	if !e.running.Load() {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}

	totalDuration := e.config.TotalDuration()
	if totalDuration == 0 {
		return 1.0
	}

	progress := float64(time.Since(start)) / float64(totalDuration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *RampingVUs) GetActiveVUs() int {
	e.mu.RLock()
	scheduler := e.scheduler
	e.mu.RUnlock()

	if scheduler == nil {
		return 0
	}
	return scheduler.GetActiveVUCount()
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	start := e.startTime
	m := e.metrics
	e.mu.RUnlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	stageIdx := int(e.currentStage.Load())
	stageName := ""
	if e.config != nil && stageIdx < len(e.config.Stages) {
		stageName = e.config.Stages[stageIdx].Name
	}

	var iterations int64
	if m != nil {
		iterations = m.Snapshot().Iterations
	}

	stats := &Stats{
		StartTime:        start,
		CurrentTime:      time.Now(),
		Elapsed:          elapsed,
		ActiveVUs:        e.GetActiveVUs(),
		TargetVUs:        int(e.targetVUs.Load()),
		Iterations:       iterations,
		CurrentStage:     stageIdx,
		CurrentStageName: stageName,
	}
	if e.config != nil {
		stats.TotalDuration = e.config.TotalDuration()
		stats.TotalStages = len(e.config.Stages)
	}
	return stats
}

// Stop ends the ramp early. Run then drains VUs as it would at the end
// of the last stage.
func (e *RampingVUs) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	return nil
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
