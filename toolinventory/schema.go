package toolinventory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentic-work/chatcore/tools"
)

// schemaCache compiles each tool's payload schema once per inventory and
// reuses it across every call to that tool within a request, since a
// request may resolve the same tool many times across tool-loop rounds.
type schemaCache struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

func (c *schemaCache) compile(spec tools.ToolSpec) (*jsonschema.Schema, error) {
	if len(spec.Payload.Schema) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if sch, ok := c.schemas[spec.SanitizedName]; ok {
		return sch, nil
	}

	url := "mem://tools/" + spec.SanitizedName + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(spec.Payload.Schema)); err != nil {
		return nil, fmt.Errorf("toolinventory: add schema resource for %s: %w", spec.SanitizedName, err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("toolinventory: compile schema for %s: %w", spec.SanitizedName, err)
	}
	c.schemas[spec.SanitizedName] = sch
	return sch, nil
}

// ValidateArguments checks LM-supplied arguments against spec's payload
// schema before dispatch, catching malformed tool calls with a clear error
// instead of letting them reach the tool-proxy. A tool with no configured
// schema always validates.
func (inv *Inventory) ValidateArguments(spec tools.ToolSpec, arguments map[string]any) error {
	sch, err := inv.schemas.compile(spec)
	if err != nil {
		return err
	}
	if sch == nil {
		return nil
	}

	raw, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("toolinventory: marshal arguments for %s: %w", spec.SanitizedName, err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("toolinventory: decode arguments for %s: %w", spec.SanitizedName, err)
	}
	if err := sch.Validate(instance); err != nil {
		return fmt.Errorf("arguments for %s failed schema validation: %w", spec.SanitizedName, err)
	}
	return nil
}
