package check

import (
	"strings"

	"github.com/tidwall/gjson"
)

type jsonCheck struct {
	base
	path string
}

// Evaluate parses the body as JSON and compares the value at path. A body
// that is not JSON fails the check.
func (c *jsonCheck) Evaluate(resp *Response) Result {
	if !gjson.ValidBytes(resp.Body) {
		return c.fail("response body is not valid JSON")
	}

	value := gjson.GetBytes(resp.Body, c.path)
	if c.cond == CondExists {
		if value.Exists() {
			return c.pass()
		}
		return c.fail("path %s not found", c.path)
	}
	if !value.Exists() {
		return c.fail("path %s not found", c.path)
	}

	actual := jsonText(value)
	ok, err := c.compareString(actual)
	if err != nil {
		return c.fail("%s: %v", c.path, err)
	}
	if !ok {
		return c.fail("%s is %q, expected %s %q", c.path, actual, c.cond, c.value)
	}
	return c.pass()
}

// jsonText returns strings unquoted and everything else as raw JSON. Values
// are compared by spelling, so the string "1" and the number 1 both match "1".
func jsonText(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.Null:
		return "null"
	default:
		return r.Raw
	}
}

// toGjsonPath accepts either a gjson path ("data.items.0.id") or a simple
// JSONPath expression ("$.data.items[0].id") and returns the gjson form.
func toGjsonPath(path string) string {
	if path == "$" {
		return "@this"
	}
	if !strings.HasPrefix(path, "$") {
		return path
	}

	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	path = strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "").Replace(path)
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)
	return strings.TrimPrefix(path, ".")
}
