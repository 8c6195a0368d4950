package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	procdockschema "github.com/Paintersrp/procdock/schema"
)

const schemaResource = "workloads.v1.json"

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaResource, bytes.NewReader(procdockschema.WorkloadsV1Schema)); err != nil {
		return nil, fmt.Errorf("add config schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return schema, nil
})

// validateAgainstSchema checks the raw YAML tree against the embedded
// document schema and reports every violation on its own line.
func validateAgainstSchema(doc map[string]any) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}

	// Round trip through JSON so YAML scalars match the types the
	// validator expects.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("prepare document for schema validation: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("prepare document for schema validation: %w", err)
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}
	var vErr *jsonschema.ValidationError
	if !errors.As(err, &vErr) {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return fmt.Errorf("schema validation failed:\n%s", strings.Join(violations(vErr), "\n"))
}

// violations flattens the error tree into its leaf causes.
func violations(err *jsonschema.ValidationError) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			line := fmt.Sprintf("- %s: %s", instancePath(e.InstanceLocation), e.Message)
			if !seen[line] {
				seen[line] = true
				out = append(out, line)
			}
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(err)
	sort.Strings(out)
	return out
}

// instancePath renders a JSON pointer like /workloads/0/kind as
// workloads[0].kind.
func instancePath(ptr string) string {
	var b strings.Builder
	for _, segment := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		if segment == "" {
			continue
		}
		segment = strings.NewReplacer("~1", "/", "~0", "~").Replace(segment)
		if _, err := strconv.Atoi(segment); err == nil {
			b.WriteString("[" + segment + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(segment)
	}
	if b.Len() == 0 {
		return "document"
	}
	return b.String()
}
