// Package loadtest runs virtual users against an HTTP target.
//
// A VUScheduler owns the shared HTTP client and hands out VirtualUsers;
// executors in the executor subpackage decide how many run at a time.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/feedbackload/internal/loadtest/check"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/metrics"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is actively running an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been asked to stop.
	VUStateStopping
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Template variables set per VU and per iteration.
const (
	VarVU   = "__VU"
	VarIter = "__ITER"
)

// VirtualUser is a single simulated client executing iterations of a
// Scenario one after another.
type VirtualUser struct {
	// ID is 1-based and exposed to templates as {{__VU}}.
	ID int

	Scenario   *Scenario
	HTTPClient *http.Client
	Metrics    *metrics.Engine
	Limiter    *rate.Limiter
	Logger     *zap.Logger

	state     atomic.Int32
	stopCh    chan struct{}
	iteration atomic.Int64
}

// NewVirtualUser creates a VU. limiter may be nil.
func NewVirtualUser(id int, scenario *Scenario, client *http.Client, m *metrics.Engine, limiter *rate.Limiter, logger *zap.Logger) *VirtualUser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VirtualUser{
		ID:         id,
		Scenario:   scenario,
		HTTPClient: client,
		Metrics:    m,
		Limiter:    limiter,
		Logger:     logger.With(zap.Int("vu", id)),
		stopCh:     make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started so far.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Stopping reports whether RequestStop has been called.
func (vu *VirtualUser) Stopping() bool {
	s := vu.GetState()
	return s == VUStateStopping || s == VUStateStopped
}

// RunIteration executes every request of the scenario once.
//
// Check failures and transport errors are recorded, never returned. The
// iteration is counted only if every request ran; an error is returned
// when ctx was cancelled part way through.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if vu.Stopping() {
		return fmt.Errorf("VU %d is stopping or stopped", vu.ID)
	}

	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	iter := vu.iteration.Add(1) - 1

	for _, req := range vu.Scenario.Requests {
		if err := ctx.Err(); err != nil {
			return err
		}

		if vu.Limiter != nil {
			if err := vu.Limiter.Wait(ctx); err != nil {
				return err
			}
		}

		result := vu.executeRequest(ctx, req, iter)
		if ctx.Err() != nil {
			// Hard stop mid-request: drop the sample.
			return ctx.Err()
		}

		vu.record(req, result)
	}

	vu.Metrics.RecordIteration()
	return nil
}

func (vu *VirtualUser) record(req *Request, result *RequestResult) {
	success := result.Error == nil && result.StatusCode < 400
	vu.Metrics.RecordLatency(result.Duration, req.Name, success, result.BytesReceived)

	if result.Error != nil {
		vu.Logger.Debug("request failed",
			zap.String("request", req.Name),
			zap.Int64("iteration", result.Iteration),
			zap.Error(result.Error))
	}

	resp := &check.Response{
		StatusCode: result.StatusCode,
		Header:     result.Header,
		Body:       result.ResponseBody,
		Duration:   result.Duration,
		Err:        result.Error,
	}
	for _, r := range check.EvaluateAll(req.Checks, resp) {
		vu.Metrics.RecordCheck(r.Name, r.Passed)
		if !r.Passed && result.Error == nil {
			vu.Logger.Debug("check failed",
				zap.String("check", r.Name),
				zap.String("reason", r.Message))
		}
	}
}

func (vu *VirtualUser) executeRequest(ctx context.Context, req *Request, iter int64) *RequestResult {
	result := &RequestResult{
		VUID:        vu.ID,
		Iteration:   iter,
		RequestName: req.Name,
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := vu.buildRequest(ctx, req, iter)
	if err != nil {
		result.StartTime = time.Now()
		result.EndTime = result.StartTime
		result.Error = fmt.Errorf("failed to build request: %w", err)
		return result
	}

	result.StartTime = time.Now()
	resp, err := vu.HTTPClient.Do(httpReq)
	if err != nil {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		result.Error = err
		return result
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.StatusCode = resp.StatusCode
	result.Header = resp.Header
	if err != nil {
		result.Error = fmt.Errorf("failed to read response body: %w", err)
		return result
	}

	result.BytesReceived = int64(len(body))
	result.ResponseBody = body
	return result
}

func (vu *VirtualUser) buildRequest(ctx context.Context, req *Request, iter int64) (*http.Request, error) {
	vars := map[string]string{
		VarVU:   strconv.Itoa(vu.ID),
		VarIter: strconv.FormatInt(iter, 10),
	}

	url := vu.resolve(req.URL, vars)

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(vu.resolve(req.Body, vars))
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, err
	}

	for key, value := range vu.Scenario.Headers {
		httpReq.Header.Set(key, vu.resolve(value, vars))
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, vu.resolve(value, vars))
	}

	return httpReq, nil
}

// resolve replaces {{name}} placeholders, VU variables first.
func (vu *VirtualUser) resolve(input string, vars map[string]string) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	result := input
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	for key, value := range vu.Scenario.Variables {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}

// Pause sleeps for d unless ctx is cancelled or the VU is asked to stop.
// It returns false if the sleep was interrupted.
func (vu *VirtualUser) Pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// RequestStop asks the VU to stop once its current iteration completes.
// Any pause in progress is interrupted.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// MarkStopped marks the VU as fully stopped.
// Called when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	prev := VUState(vu.state.Swap(int32(VUStateStopped)))
	if prev == VUStateIdle || prev == VUStateRunning {
		close(vu.stopCh)
	}
}

// RequestResult contains the result of a single HTTP request.
type RequestResult struct {
	VUID          int           `json:"vuId"`
	Iteration     int64         `json:"iteration"`
	RequestName   string        `json:"requestName"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	Duration      time.Duration `json:"duration"`
	StatusCode    int           `json:"statusCode"`
	BytesReceived int64         `json:"bytesReceived"`
	Header        http.Header   `json:"-"`
	Error         error         `json:"error,omitempty"`
	ResponseBody  []byte        `json:"-"`
}

// Scenario defines what a VU executes during each iteration.
type Scenario struct {
	Name string

	// Variables are resolved in URLs, bodies and headers.
	Variables map[string]string

	// Headers are applied to every request before request headers.
	Headers map[string]string

	Requests []*Request
}

// Request is a single HTTP request with its checks.
type Request struct {
	Name    string
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
	Checks  []check.Check
}
