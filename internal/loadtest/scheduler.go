package loadtest

import (
	"context"
	"crypto/tls"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/feedbackload/internal/loadtest/metrics"
)

// VUScheduler manages the lifecycle of Virtual Users.
//
// It owns the HTTP client shared by its VUs and assigns VU IDs. IDs of
// retired VUs are reused lowest first, so {{__VU}} always stays within
// 1..max concurrent VUs.
type VUScheduler struct {
	scenario *Scenario
	metrics  *metrics.Engine
	logger   *zap.Logger

	httpClientConfig HTTPClientConfig
	client           *http.Client
	limiter          *rate.Limiter

	vusMu   sync.RWMutex
	vus     map[int]*VirtualUser
	nextID  int
	freeIDs []int

	wg sync.WaitGroup
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	InsecureSkipVerify  bool
	UserAgent           string
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             60 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewLimiter returns a limiter allowing maxRPS requests per second with a
// one-second burst, or nil when maxRPS is not positive.
func NewLimiter(maxRPS float64) *rate.Limiter {
	if maxRPS <= 0 {
		return nil
	}
	burst := int(maxRPS)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(maxRPS), burst)
}

// NewVUScheduler creates a new VU scheduler. limiter may be shared between
// schedulers to cap the overall request rate; limiter and logger may be nil.
func NewVUScheduler(scenario *Scenario, m *metrics.Engine, cfg HTTPClientConfig, limiter *rate.Limiter, logger *zap.Logger) *VUScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &VUScheduler{
		scenario:         scenario,
		metrics:          m,
		logger:           logger,
		httpClientConfig: cfg,
		limiter:          limiter,
		vus:              make(map[int]*VirtualUser),
	}
	s.client = s.createHTTPClient()

	return s
}

func (s *VUScheduler) createHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        s.httpClientConfig.MaxIdleConns,
		MaxIdleConnsPerHost: s.httpClientConfig.MaxIdleConnsPerHost,
		MaxConnsPerHost:     s.httpClientConfig.MaxConnsPerHost,
		IdleConnTimeout:     s.httpClientConfig.IdleConnTimeout,
		DisableKeepAlives:   s.httpClientConfig.DisableKeepAlives,
	}
	if s.httpClientConfig.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via settings
	}

	var rt http.RoundTripper = transport
	if s.httpClientConfig.UserAgent != "" {
		rt = &userAgentTransport{base: transport, userAgent: s.httpClientConfig.UserAgent}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   s.httpClientConfig.Timeout,
	}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(r)
}

// SpawnVU creates and registers a new Virtual User. The caller runs it.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	var id int
	if len(s.freeIDs) > 0 {
		id = s.freeIDs[0]
		s.freeIDs = s.freeIDs[1:]
	} else {
		s.nextID++
		id = s.nextID
	}

	vu := NewVirtualUser(id, s.scenario, s.client, s.metrics, s.limiter, s.logger)
	s.vus[id] = vu
	return vu
}

// RemoveVU unregisters a VU and releases its ID.
func (s *VUScheduler) RemoveVU(id int) {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	vu, ok := s.vus[id]
	if !ok {
		return
	}
	vu.MarkStopped()
	delete(s.vus, id)

	s.freeIDs = append(s.freeIDs, id)
	sort.Ints(s.freeIDs)
}

// GetActiveVUCount returns the number of registered VUs not yet stopped.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// StopAllVUs asks every VU to stop after its current iteration.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// Start runs vu in its own goroutine until it is stopped or ctx is
// cancelled. Each iteration is followed by pause.
func (s *VUScheduler) Start(ctx context.Context, vu *VirtualUser, pause time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunVU(ctx, vu, pause)
	}()
}

// RunVU runs iterations on vu until it is stopped or ctx is cancelled,
// then releases it.
func (s *VUScheduler) RunVU(ctx context.Context, vu *VirtualUser, pause time.Duration) {
	defer s.RemoveVU(vu.ID)

	for {
		if ctx.Err() != nil || vu.Stopping() {
			return
		}

		if err := vu.RunIteration(ctx); err != nil {
			if ctx.Err() != nil || vu.Stopping() {
				return
			}
			vu.Logger.Warn("iteration aborted", zap.Error(err))
		}

		if !vu.Pause(ctx, pause) {
			return
		}
	}
}

// Wait blocks until every VU started with Start has returned or timeout
// elapses. It reports whether all VUs returned.
func (s *VUScheduler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Close releases idle connections of the shared client.
func (s *VUScheduler) Close() {
	s.client.CloseIdleConnections()
}

// UpdateMetrics publishes the active VU count.
func (s *VUScheduler) UpdateMetrics() {
	s.metrics.SetActiveVUs(s.GetActiveVUCount())
}
