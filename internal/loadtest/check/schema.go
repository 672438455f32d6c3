package check

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type schemaCheck struct {
	base
	schema *jsonschema.Schema
}

func compileSchemaCheck(b base, doc string) (Check, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, fmt.Errorf("schema check %q: schema is required", b.name)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("schema check %q: invalid schema: %w", b.name, err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("schema check %q: invalid schema: %w", b.name, err)
	}

	return &schemaCheck{base: b, schema: schema}, nil
}

func (c *schemaCheck) Evaluate(resp *Response) Result {
	var doc interface{}
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return c.fail("response body is not valid JSON")
	}

	if err := c.schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return c.fail("%s", strings.Join(leafMessages(verr), "; "))
		}
		return c.fail("%v", err)
	}
	return c.pass()
}

func leafMessages(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		return []string{fmt.Sprintf("%s: %s", err.InstanceLocation, err.Message)}
	}
	var out []string
	for _, cause := range err.Causes {
		out = append(out, leafMessages(cause)...)
	}
	return out
}
