// Package check implements named, non-fatal response checks.
//
// A failed check is counted, never raised: the iteration that produced the
// response carries on regardless of the outcome.
package check

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Check types.
const (
	TypeStatus   = "status"
	TypeJSON     = "json"
	TypeHeader   = "header"
	TypeBody     = "body"
	TypeDuration = "duration"
	TypeSchema   = "schema"
)

// Conditions.
const (
	CondEq       = "eq"
	CondNe       = "ne"
	CondGt       = "gt"
	CondLt       = "lt"
	CondGte      = "gte"
	CondLte      = "lte"
	CondContains = "contains"
	CondMatches  = "matches"
	CondExists   = "exists"
)

// Response is the part of an HTTP exchange checks are evaluated against.
//
// Err is set when the request failed at the transport level, in which case
// every check of the request fails.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	Err        error
}

// Result is the outcome of one check against one response.
type Result struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Check is a compiled, named response predicate.
type Check interface {
	Name() string
	Evaluate(resp *Response) Result
}

// Definition is the uncompiled form of a check.
type Definition struct {
	Name      string
	Type      string
	Condition string
	Value     string
	Path      string
	Schema    string
}

// Compile validates def and returns a ready-to-use Check.
func Compile(def Definition) (Check, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("check name is required")
	}

	cond := def.Condition
	if cond == "" {
		cond = defaultCondition(def.Type)
	}

	b := base{name: def.Name, cond: cond, value: def.Value}

	switch def.Type {
	case TypeStatus:
		if !oneOf(cond, CondEq, CondNe, CondGt, CondLt, CondGte, CondLte) {
			return nil, invalidCondition(def.Type, cond)
		}
		code, err := strconv.Atoi(def.Value)
		if err != nil {
			return nil, fmt.Errorf("status check %q: invalid status code %q", def.Name, def.Value)
		}
		return &statusCheck{base: b, code: code}, nil

	case TypeJSON:
		if def.Path == "" {
			return nil, fmt.Errorf("json check %q: path is required", def.Name)
		}
		if err := b.compileCondition(def.Type, true); err != nil {
			return nil, err
		}
		return &jsonCheck{base: b, path: toGjsonPath(def.Path)}, nil

	case TypeHeader:
		if def.Path == "" {
			return nil, fmt.Errorf("header check %q: header name is required in path", def.Name)
		}
		if err := b.compileCondition(def.Type, true); err != nil {
			return nil, err
		}
		return &headerCheck{base: b, header: def.Path}, nil

	case TypeBody:
		if err := b.compileCondition(def.Type, false); err != nil {
			return nil, err
		}
		return &bodyCheck{base: b}, nil

	case TypeDuration:
		if !oneOf(cond, CondLt, CondLte, CondGt, CondGte) {
			return nil, invalidCondition(def.Type, cond)
		}
		limit, err := time.ParseDuration(def.Value)
		if err != nil {
			return nil, fmt.Errorf("duration check %q: invalid duration %q: %w", def.Name, def.Value, err)
		}
		return &durationCheck{base: b, limit: limit}, nil

	case TypeSchema:
		return compileSchemaCheck(b, def.Schema)

	case "":
		return nil, fmt.Errorf("check %q: type is required", def.Name)
	default:
		return nil, fmt.Errorf("check %q: unknown type %q", def.Name, def.Type)
	}
}

// MustCompile is like Compile but panics on error.
func MustCompile(def Definition) Check {
	c, err := Compile(def)
	if err != nil {
		panic(err)
	}
	return c
}

// EvaluateAll runs every check against resp.
func EvaluateAll(checks []Check, resp *Response) []Result {
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		if resp.Err != nil {
			results = append(results, Result{
				Name:    c.Name(),
				Message: fmt.Sprintf("request failed: %v", resp.Err),
			})
			continue
		}
		results = append(results, c.Evaluate(resp))
	}
	return results
}

func defaultCondition(typ string) string {
	switch typ {
	case TypeDuration:
		return CondLt
	case TypeBody:
		return CondContains
	default:
		return CondEq
	}
}

func invalidCondition(typ, cond string) error {
	return fmt.Errorf("invalid condition %q for %s check", cond, typ)
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}

// base holds the fields every check shares.
type base struct {
	name  string
	cond  string
	value string
	re    *regexp.Regexp
}

func (b *base) Name() string { return b.name }

func (b *base) pass() Result { return Result{Name: b.name, Passed: true} }

func (b *base) fail(format string, args ...interface{}) Result {
	return Result{Name: b.name, Message: fmt.Sprintf(format, args...)}
}

// compileCondition validates a string condition and precompiles regexes.
func (b *base) compileCondition(typ string, allowExists bool) error {
	valid := oneOf(b.cond, CondEq, CondNe, CondContains, CondMatches, CondGt, CondLt, CondGte, CondLte)
	if allowExists && b.cond == CondExists {
		valid = true
	}
	if !valid {
		return invalidCondition(typ, b.cond)
	}
	if b.cond == CondMatches {
		re, err := regexp.Compile(b.value)
		if err != nil {
			return fmt.Errorf("%s check %q: invalid pattern: %w", typ, b.name, err)
		}
		b.re = re
	}
	return nil
}

// compareString applies the condition to a string value. String equality is
// exact and case-sensitive. Ordering conditions compare numerically.
func (b *base) compareString(actual string) (bool, error) {
	switch b.cond {
	case CondEq:
		return actual == b.value, nil
	case CondNe:
		return actual != b.value, nil
	case CondContains:
		return strings.Contains(actual, b.value), nil
	case CondMatches:
		return b.re.MatchString(actual), nil
	case CondGt, CondLt, CondGte, CondLte:
		a, err := strconv.ParseFloat(actual, 64)
		if err != nil {
			return false, fmt.Errorf("%q is not a number", actual)
		}
		e, err := strconv.ParseFloat(b.value, 64)
		if err != nil {
			return false, fmt.Errorf("expected value %q is not a number", b.value)
		}
		return compareFloat(b.cond, a, e), nil
	default:
		return false, fmt.Errorf("unsupported condition %q", b.cond)
	}
}

func compareFloat(cond string, actual, expected float64) bool {
	switch cond {
	case CondEq:
		return actual == expected
	case CondNe:
		return actual != expected
	case CondGt:
		return actual > expected
	case CondLt:
		return actual < expected
	case CondGte:
		return actual >= expected
	case CondLte:
		return actual <= expected
	default:
		return false
	}
}

type statusCheck struct {
	base
	code int
}

func (c *statusCheck) Evaluate(resp *Response) Result {
	if compareFloat(c.cond, float64(resp.StatusCode), float64(c.code)) {
		return c.pass()
	}
	return c.fail("status %d, expected %s %d", resp.StatusCode, c.cond, c.code)
}

type headerCheck struct {
	base
	header string
}

func (c *headerCheck) Evaluate(resp *Response) Result {
	values := resp.Header.Values(c.header)
	if c.cond == CondExists {
		if len(values) > 0 {
			return c.pass()
		}
		return c.fail("header %s not present", c.header)
	}
	if len(values) == 0 {
		return c.fail("header %s not present", c.header)
	}

	ok, err := c.compareString(values[0])
	if err != nil {
		return c.fail("header %s: %v", c.header, err)
	}
	if !ok {
		return c.fail("header %s is %q, expected %s %q", c.header, values[0], c.cond, c.value)
	}
	return c.pass()
}

type bodyCheck struct {
	base
}

func (c *bodyCheck) Evaluate(resp *Response) Result {
	ok, err := c.compareString(string(resp.Body))
	if err != nil {
		return c.fail("body: %v", err)
	}
	if !ok {
		return c.fail("body does not satisfy %s %q", c.cond, c.value)
	}
	return c.pass()
}

type durationCheck struct {
	base
	limit time.Duration
}

func (c *durationCheck) Evaluate(resp *Response) Result {
	if compareFloat(c.cond, float64(resp.Duration), float64(c.limit)) {
		return c.pass()
	}
	return c.fail("duration %s, expected %s %s", resp.Duration, c.cond, c.limit)
}
