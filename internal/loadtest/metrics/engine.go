// Package metrics collects request samples, check outcomes and iteration
// counts from concurrently running virtual users.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine aggregates samples from every VU of a run.
//
// Counters are atomic. The HDR histograms are not safe for concurrent use
// and sit behind their own mutexes. A background goroutine seals a
// TimeBucket every BucketInterval until Stop is called.
type Engine struct {
	config EngineConfig

	latencyMu sync.Mutex
	latency   *hdrhistogram.Histogram

	requestMu sync.RWMutex
	requests  map[string]*hdrhistogram.Histogram

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64
	iterations      atomic.Int64
	activeVUs       atomic.Int32

	checksMu    sync.RWMutex
	checks      map[string]*checkCounter
	checkOrder  []string
	checkPasses atomic.Int64
	checkFails  atomic.Int64

	buckets *TimeBucketStore

	phaseMu      sync.RWMutex
	phase        Phase
	phaseHistory []PhaseChange

	startTime time.Time

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type checkCounter struct {
	passes atomic.Int64
	fails  atomic.Int64
}

// NewEngine returns a collector with DefaultEngineConfig.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig returns a collector and starts its bucket emitter.
func NewEngineWithConfig(cfg EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if cfg.BucketInterval <= 0 {
		cfg.BucketInterval = def.BucketInterval
	}
	if cfg.HistogramMin <= 0 {
		cfg.HistogramMin = def.HistogramMin
	}
	if cfg.HistogramMax <= cfg.HistogramMin {
		cfg.HistogramMax = def.HistogramMax
	}
	if cfg.HistogramSigFigs <= 0 {
		cfg.HistogramSigFigs = def.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:    cfg,
		latency:   hdrhistogram.New(cfg.HistogramMin, cfg.HistogramMax, cfg.HistogramSigFigs),
		requests:  make(map[string]*hdrhistogram.Histogram),
		checks:    make(map[string]*checkCounter),
		buckets:   NewTimeBucketStore(cfg.MaxBuckets),
		phase:     PhaseInit,
		startTime: time.Now(),
		cancel:    cancel,
	}

	e.wg.Add(1)
	go e.emit(ctx)

	return e
}

// RecordLatency records one HTTP request.
//
// requestName may be empty to skip the per-request breakdown. A request
// counts as failed when success is false (transport error or status >= 400).
func (e *Engine) RecordLatency(d time.Duration, requestName string, success bool, bytes int64) {
	us := e.clamp(d.Microseconds())

	e.latencyMu.Lock()
	_ = e.latency.RecordValue(us)
	e.latencyMu.Unlock()

	if requestName != "" {
		e.requestMu.Lock()
		h, ok := e.requests[requestName]
		if !ok {
			h = hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
			e.requests[requestName] = h
		}
		_ = h.RecordValue(us)
		e.requestMu.Unlock()
	}

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)
	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}
	e.buckets.RecordRequest(success)
}

// RecordCheck records the outcome of a named check.
func (e *Engine) RecordCheck(name string, passed bool) {
	c := e.checkCounter(name)
	if passed {
		c.passes.Add(1)
		e.checkPasses.Add(1)
	} else {
		c.fails.Add(1)
		e.checkFails.Add(1)
	}
	e.buckets.RecordCheck(passed)
}

func (e *Engine) checkCounter(name string) *checkCounter {
	e.checksMu.RLock()
	c, ok := e.checks[name]
	e.checksMu.RUnlock()
	if ok {
		return c
	}

	e.checksMu.Lock()
	defer e.checksMu.Unlock()
	if c, ok = e.checks[name]; ok {
		return c
	}
	c = &checkCounter{}
	e.checks[name] = c
	e.checkOrder = append(e.checkOrder, name)
	return c
}

// RecordIteration counts one completed VU iteration.
func (e *Engine) RecordIteration() {
	e.iterations.Add(1)
	e.buckets.RecordIteration()
}

func (e *Engine) clamp(us int64) int64 {
	if us < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if us > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return us
}

// SetPhase records a phase transition; repeated calls with the same phase
// are ignored.
func (e *Engine) SetPhase(p Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.phase == p {
		return
	}
	e.phase = p
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     p,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.phase
}

// PhaseHistory returns a copy of all recorded transitions.
func (e *Engine) PhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	out := make([]PhaseChange, len(e.phaseHistory))
	copy(out, e.phaseHistory)
	return out
}

// SetActiveVUs stores the current VU count.
func (e *Engine) SetActiveVUs(n int) {
	e.activeVUs.Store(int32(n))
}

// ActiveVUs returns the last stored VU count.
func (e *Engine) ActiveVUs() int {
	return int(e.activeVUs.Load())
}

// LatencyAt returns the request duration at percentile q (0-100).
func (e *Engine) LatencyAt(q float64) time.Duration {
	e.latencyMu.Lock()
	defer e.latencyMu.Unlock()

	if e.latency.TotalCount() == 0 {
		return 0
	}
	return time.Duration(e.latency.ValueAtQuantile(q)) * time.Microsecond
}

// Percentiles returns the reduced percentile set used for time buckets.
func (e *Engine) Percentiles() LatencyPercentiles {
	e.latencyMu.Lock()
	defer e.latencyMu.Unlock()

	return LatencyPercentiles{
		Min: usToDuration(e.latency.Min()),
		Max: usToDuration(e.latency.Max()),
		P50: usToDuration(e.latency.ValueAtQuantile(50)),
		P90: usToDuration(e.latency.ValueAtQuantile(90)),
		P95: usToDuration(e.latency.ValueAtQuantile(95)),
		P99: usToDuration(e.latency.ValueAtQuantile(99)),
	}
}

// Checks returns the per-check counters in first-seen order.
func (e *Engine) Checks() ChecksSummary {
	e.checksMu.RLock()
	defer e.checksMu.RUnlock()

	summary := ChecksSummary{
		Passes: e.checkPasses.Load(),
		Fails:  e.checkFails.Load(),
		ByName: make([]CheckStats, 0, len(e.checkOrder)),
	}
	for _, name := range e.checkOrder {
		c := e.checks[name]
		summary.ByName = append(summary.ByName, CheckStats{
			Name:   name,
			Passes: c.passes.Load(),
			Fails:  c.fails.Load(),
		})
	}
	return summary
}

// Snapshot returns the current aggregate view.
func (e *Engine) Snapshot() *Snapshot {
	e.latencyMu.Lock()
	lat := statsFrom(e.latency)
	e.latencyMu.Unlock()

	elapsed := time.Since(e.startTime)
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()
	iters := e.iterations.Load()

	rps, iterRate := 0.0, 0.0
	if s := elapsed.Seconds(); s > 0 {
		rps = float64(total) / s
		iterRate = float64(iters) / s
	}

	errRate := 0.0
	if total > 0 {
		errRate = float64(failed) / float64(total)
	}

	return &Snapshot{
		TotalRequests:   total,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failed,
		TotalBytes:      e.totalBytes.Load(),
		Iterations:      iters,
		Latency:         lat,
		RPS:             rps,
		SteadyStateRPS:  e.SteadyStateRPS(),
		IterationRate:   iterRate,
		ErrorRate:       errRate,
		Checks:          e.Checks(),
		ActiveVUs:       e.ActiveVUs(),
		CurrentPhase:    e.Phase(),
		Elapsed:         elapsed,
		StartTime:       e.startTime,
		Timestamp:       time.Now(),
	}
}

// RequestStats returns latency stats keyed by request name.
func (e *Engine) RequestStats() map[string]LatencyStats {
	e.requestMu.RLock()
	defer e.requestMu.RUnlock()

	out := make(map[string]LatencyStats, len(e.requests))
	for name, h := range e.requests {
		out[name] = statsFrom(h)
	}
	return out
}

// TimeSeries returns the sealed buckets, oldest first.
func (e *Engine) TimeSeries() []*TimeBucket {
	return e.buckets.Buckets()
}

// SteadyStateRPS averages throughput over steady-phase buckets.
func (e *Engine) SteadyStateRPS() float64 {
	rps, _ := e.buckets.SteadyStateRPS()
	return rps
}

func (e *Engine) emit(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sealBucket()
		}
	}
}

func (e *Engine) sealBucket() {
	e.buckets.seal(bucketTotals{
		requests:  e.totalRequests.Load(),
		successes: e.successRequests.Load(),
		failures:  e.failedRequests.Load(),
		bytes:     e.totalBytes.Load(),
	}, e.Percentiles(), e.ActiveVUs(), e.Phase())
}

// Stop halts the emitter and seals a final bucket. It is safe to call more
// than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
		e.sealBucket()
	})
}

func statsFrom(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    usToDuration(h.Min()),
		Max:    usToDuration(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    usToDuration(h.ValueAtQuantile(50)),
		P90:    usToDuration(h.ValueAtQuantile(90)),
		P95:    usToDuration(h.ValueAtQuantile(95)),
		P99:    usToDuration(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

func usToDuration(us int64) time.Duration {
	return time.Duration(us) * time.Microsecond
}
