// Package threshold parses and evaluates end-of-run pass/fail criteria.
//
// Expressions follow the k6 form, "p(95)<500" or "rate<0.01", and the
// spaced form "p95 < 500ms" is accepted as well. Duration values without a
// unit are milliseconds.
package threshold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/feedbackload/internal/loadtest/metrics"
)

// Metric names.
const (
	MetricHTTPReqDuration = "http_req_duration"
	MetricHTTPReqFailed   = "http_req_failed"
	MetricHTTPReqs        = "http_reqs"
	MetricChecks          = "checks"
	MetricIterations      = "iterations"
)

var exprPattern = regexp.MustCompile(`^([a-z]+|p\(\s*\d+(?:\.\d+)?\s*\)|p\d+(?:\.\d+)?)\s*(<=|>=|==|!=|<|>)\s*(\S+)$`)

// Threshold is a parsed expression bound to a metric.
//
// Percentile is set (0-100) when Aggregate is "p". Value is in milliseconds
// for http_req_duration.
type Threshold struct {
	Metric     string
	Aggregate  string
	Percentile float64
	Operator   string
	Value      float64
	Raw        string
}

// Result is the outcome of one threshold.
type Result struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// Source supplies the aggregates thresholds are evaluated against.
type Source interface {
	LatencyAt(q float64) time.Duration
	Snapshot() *metrics.Snapshot
}

var aggregates = map[string][]string{
	MetricHTTPReqDuration: {"avg", "min", "max", "med", "p"},
	MetricHTTPReqFailed:   {"rate", "count"},
	MetricHTTPReqs:        {"count", "rate"},
	MetricChecks:          {"rate"},
	MetricIterations:      {"count", "rate"},
}

// Metrics returns the metric names thresholds can refer to.
func Metrics() []string {
	return []string{MetricHTTPReqDuration, MetricHTTPReqFailed, MetricHTTPReqs, MetricChecks, MetricIterations}
}

// Parse parses expr for metric.
func Parse(metric, expr string) (*Threshold, error) {
	allowed, ok := aggregates[metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}

	raw := strings.TrimSpace(expr)
	if raw == "" {
		return nil, fmt.Errorf("threshold expression cannot be empty")
	}

	m := exprPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("invalid threshold expression %q", raw)
	}

	t := &Threshold{Metric: metric, Operator: m[2], Raw: raw}

	agg := strings.ReplaceAll(m[1], " ", "")
	if strings.HasPrefix(agg, "p") && len(agg) > 1 && (agg[1] == '(' || (agg[1] >= '0' && agg[1] <= '9')) {
		q, err := strconv.ParseFloat(strings.Trim(agg[1:], "()"), 64)
		if err != nil || q < 0 || q > 100 {
			return nil, fmt.Errorf("invalid percentile in %q", raw)
		}
		t.Aggregate = "p"
		t.Percentile = q
	} else if agg == "p" {
		return nil, fmt.Errorf("percentile missing in %q", raw)
	} else {
		t.Aggregate = agg
	}

	if !contains(allowed, t.Aggregate) {
		return nil, fmt.Errorf("%s does not support %q (supported: %s)", metric, m[1], strings.Join(displayAggregates(allowed), ", "))
	}

	v, err := parseValue(metric, m[3])
	if err != nil {
		return nil, fmt.Errorf("invalid threshold value in %q: %w", raw, err)
	}
	t.Value = v

	return t, nil
}

// MustParse is like Parse but panics on error.
func MustParse(metric, expr string) *Threshold {
	t, err := Parse(metric, expr)
	if err != nil {
		panic(err)
	}
	return t
}

func parseValue(metric, s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	if metric == MetricHTTPReqDuration {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, err
		}
		return durationMillis(d), nil
	}
	return 0, fmt.Errorf("%q is not a number", s)
}

// Evaluate computes the aggregate from src and applies the operator.
func (t *Threshold) Evaluate(src Source) Result {
	res := Result{Metric: t.Metric, Expression: t.Raw}
	snap := src.Snapshot()

	var actual float64
	switch t.Metric {
	case MetricHTTPReqDuration:
		var d time.Duration
		switch t.Aggregate {
		case "avg":
			d = snap.Latency.Mean
		case "min":
			d = snap.Latency.Min
		case "max":
			d = snap.Latency.Max
		case "med":
			d = src.LatencyAt(50)
		case "p":
			d = src.LatencyAt(t.Percentile)
		}
		actual = durationMillis(d)
		res.Value = fmt.Sprintf("%.2fms", actual)

	case MetricHTTPReqFailed:
		if t.Aggregate == "count" {
			actual = float64(snap.FailedRequests)
			res.Value = strconv.FormatInt(snap.FailedRequests, 10)
		} else {
			actual = snap.ErrorRate
			res.Value = fmt.Sprintf("%.4f", actual)
		}

	case MetricHTTPReqs:
		if t.Aggregate == "count" {
			actual = float64(snap.TotalRequests)
			res.Value = strconv.FormatInt(snap.TotalRequests, 10)
		} else {
			actual = snap.RPS
			res.Value = fmt.Sprintf("%.2f/s", actual)
		}

	case MetricChecks:
		actual = snap.Checks.Rate()
		res.Value = fmt.Sprintf("%.4f", actual)

	case MetricIterations:
		if t.Aggregate == "count" {
			actual = float64(snap.Iterations)
			res.Value = strconv.FormatInt(snap.Iterations, 10)
		} else {
			actual = snap.IterationRate
			res.Value = fmt.Sprintf("%.2f/s", actual)
		}
	}

	res.Passed = compare(actual, t.Operator, t.Value)
	if !res.Passed {
		res.Message = fmt.Sprintf("%s is %s, threshold: %s %s", t.aggregateName(), res.Value, t.Operator, strconv.FormatFloat(t.Value, 'f', -1, 64))
	}
	return res
}

func (t *Threshold) aggregateName() string {
	if t.Aggregate == "p" {
		return fmt.Sprintf("p(%s)", strconv.FormatFloat(t.Percentile, 'f', -1, 64))
	}
	return t.Aggregate
}

// EvaluateAll evaluates every threshold and reports whether all passed.
func EvaluateAll(thresholds []*Threshold, src Source) ([]Result, bool) {
	passed := true
	results := make([]Result, 0, len(thresholds))
	for _, t := range thresholds {
		r := t.Evaluate(src)
		if !r.Passed {
			passed = false
		}
		results = append(results, r)
	}
	return results, passed
}

func compare(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func displayAggregates(list []string) []string {
	out := make([]string, len(list))
	for i, v := range list {
		if v == "p" {
			v = "p(N)"
		}
		out[i] = v
	}
	return out
}
