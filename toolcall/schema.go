package toolcall

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/modelrelay/modelrelay/jsonval"
)

// SchemaSet holds compiled JSON Schemas keyed by tool name. Compilation
// happens once at construction; Validate is read-only and safe for
// concurrent use.
type SchemaSet struct {
	schemas map[string]*jsonschema.Schema
}

// CompileSchemas compiles the given raw JSON Schema documents, keyed by
// tool name.
func CompileSchemas(raw map[string]json.RawMessage) (*SchemaSet, error) {
	out := make(map[string]*jsonschema.Schema, len(raw))
	for name, doc := range raw {
		if len(doc) == 0 {
			continue
		}
		var schemaDoc any
		if err := json.Unmarshal(doc, &schemaDoc); err != nil {
			return nil, fmt.Errorf("toolcall: schema for %q: %w", name, err)
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("schema.json", schemaDoc); err != nil {
			return nil, fmt.Errorf("toolcall: schema for %q: %w", name, err)
		}
		schema, err := c.Compile("schema.json")
		if err != nil {
			return nil, fmt.Errorf("toolcall: compile schema for %q: %w", name, err)
		}
		out[name] = schema
	}
	return &SchemaSet{schemas: out}, nil
}

// Validate checks args against the schema registered for tool. Tools
// without a registered schema pass.
func (s *SchemaSet) Validate(tool string, args jsonval.Value) error {
	schema, ok := s.schemas[tool]
	if !ok {
		return nil
	}
	if err := schema.Validate(args.Raw()); err != nil {
		return fmt.Errorf("invalid arguments for %q: %w", tool, err)
	}
	return nil
}
