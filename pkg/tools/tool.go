// Package tools defines the contract shared by every toolbelt tool: the
// Tool interface, descriptors, invocations, results and the error taxonomy.
//
// A tool call can arrive as JSON (HTTP, MCP, CLI) or as the XML block an
// LLM emits:
//
//	<tool>
//	<tool_name>write_file</tool_name>
//	<arguments>
//	  <path>notes/todo.md</path>
//	  <content><![CDATA[- [ ] water plants]]></content>
//	</arguments>
//	</tool>
package tools

import (
	"context"
	"sort"
)

// SideEffect classifies what a tool touches.
type SideEffect string

const (
	SideEffectReadOnly SideEffect = "read_only"
	SideEffectMutating SideEffect = "mutating"
	SideEffectNetwork  SideEffect = "network"
	SideEffectProcess  SideEffect = "process"
)

// Tool is a named operation with a parameter schema.
type Tool interface {
	// Name returns the unique identifier for this tool (e.g., "read_file").
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Schema returns the JSON schema for the tool's parameters. Build it
	// with BaseToolSchema.
	Schema() map[string]interface{}

	// SideEffect reports the side-effect class of the tool.
	SideEffect() SideEffect

	// Execute runs the tool with validated arguments and returns the text
	// result plus optional metadata. Errors should be *Error values where
	// the failure kind is known.
	Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error)
}

// Truncator is implemented by tools whose output is capped. The dispatcher
// cuts longer output to exactly MaxOutputChars characters.
type Truncator interface {
	MaxOutputChars() int
}

// Descriptor is the immutable, serializable description of a registered tool.
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	SideEffect  SideEffect             `json:"side_effect"`
}

// Describe builds the descriptor of t.
func Describe(t Tool) Descriptor {
	return Descriptor{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema(),
		SideEffect:  t.SideEffect(),
	}
}

// Required returns the required parameter names, sorted.
func (d Descriptor) Required() []string {
	return requiredOf(d.Parameters)
}

// Properties returns the parameter property schemas keyed by name.
func (d Descriptor) Properties() map[string]map[string]interface{} {
	return propertiesOf(d.Parameters)
}

// Invocation is one request to run a tool.
type Invocation struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// BaseToolSchema creates the common JSON schema object for a tool with
// the given properties and required fields.
func BaseToolSchema(properties map[string]interface{}, required []string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Prop is a shorthand for a property schema.
func Prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        typ,
		"description": description,
	}
}

// EnumProp is a string property restricted to values.
func EnumProp(description string, values ...string) map[string]interface{} {
	p := Prop("string", description)
	p["enum"] = values
	return p
}

func requiredOf(schema map[string]interface{}) []string {
	var out []string
	switch req := schema["required"].(type) {
	case []string:
		out = append(out, req...)
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

func propertiesOf(schema map[string]interface{}) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return out
	}
	for name, p := range props {
		if m, ok := p.(map[string]interface{}); ok {
			out[name] = m
		}
	}
	return out
}

type originKey struct{}

// Origin identifies where an invocation came from, so that tools such as
// message and spawn can answer on the same channel.
type Origin struct {
	Channel string
	ChatID  string
}

// WithOrigin attaches the origin to ctx.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the origin attached to ctx, if any.
func OriginFrom(ctx context.Context) (Origin, bool) {
	o, ok := ctx.Value(originKey{}).(Origin)
	return o, ok
}
