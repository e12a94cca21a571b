package subagent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/entrhq/toolbelt/pkg/tools"
)

const agentRolePrompt = `<role>
You are a personal assistant with tools. Your final reply is sent back on the channel the request came from.
- Answer directly when no tool is needed.
- Use spawn for long or independent work; the worker reports back on its own when it finishes.
- Use message only to reach a different channel or chat than the one you are answering.
</role>`

const workerRolePrompt = `<role>
You are a background worker started to complete one task. Your final reply is delivered to the user who asked for it, so it should read as a report: what you did and what you found.
- Stay on the assigned task. Do not take on side tasks.
- You cannot message the user directly and you cannot start other workers.
- Be concise but complete. Include paths, numbers and names the user will need.
</role>`

const loopPrompt = `<work_loop>
Work step by step. In each reply either call exactly one tool, or give your final report with no tool call.
Think inside <thinking></thinking> tags before acting; thinking is never shown to the user.
After each tool call you receive its result as the next message. Check it before moving on.
When the task is done, reply with the final report and no tool call.
</work_loop>`

const toolCallingPrompt = `<tool_calling>
Tool calls are pure XML:

<tool>
<tool_name>tool_name_here</tool_name>
<arguments>
  <param_key>param_value</param_key>
</arguments>
</tool>

Escape &, < and > inside argument values as &amp;, &lt; and &gt;, or wrap the value in <![CDATA[...]]>.
Never call a tool that is not listed in available_tools.
</tool_calling>`

// buildSystemPrompt assembles a prompt for role over the given tools.
func buildSystemPrompt(role string, descriptors []tools.Descriptor, workspace string) string {
	var b strings.Builder

	b.WriteString(role)
	b.WriteString("\n\n")
	b.WriteString(loopPrompt)
	b.WriteString("\n\n")
	b.WriteString(toolCallingPrompt)
	b.WriteString("\n\n")

	if len(descriptors) > 0 {
		b.WriteString("<available_tools>\n")
		b.WriteString(formatTools(descriptors))
		b.WriteString("</available_tools>\n\n")
	}

	if workspace != "" {
		fmt.Fprintf(&b, "<workspace>\nRelative paths resolve against %s.\n</workspace>", workspace)
	}
	return strings.TrimSpace(b.String())
}

func formatTools(descriptors []tools.Descriptor) string {
	var b strings.Builder
	for _, d := range descriptors {
		fmt.Fprintf(&b, "## %s\n%s\n", d.Name, d.Description)

		props := d.Properties()
		if len(props) > 0 {
			required := make(map[string]bool)
			for _, r := range d.Required() {
				required[r] = true
			}
			names := make([]string, 0, len(props))
			for name := range props {
				names = append(names, name)
			}
			sort.Strings(names)

			b.WriteString("Parameters:\n")
			for _, name := range names {
				p := props[name]
				typ, _ := p["type"].(string)
				desc, _ := p["description"].(string)
				req := "optional"
				if required[name] {
					req = "required"
				}
				fmt.Fprintf(&b, "- %s (%s, %s): %s", name, typ, req, desc)
				if enum := enumValues(p); len(enum) > 0 {
					fmt.Fprintf(&b, " One of: %s.", strings.Join(enum, ", "))
				}
				b.WriteByte('\n')
			}
		}

		b.WriteString("Example:\n")
		b.WriteString(xmlExample(d))
		b.WriteString("\n\n")
	}
	return b.String()
}

func enumValues(p map[string]interface{}) []string {
	switch v := p["enum"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		return out
	}
	return nil
}

// xmlExample renders a call with every required parameter filled with a
// placeholder of the right type.
func xmlExample(d tools.Descriptor) string {
	var b strings.Builder
	b.WriteString("<tool>\n")
	fmt.Fprintf(&b, "<tool_name>%s</tool_name>\n", d.Name)
	b.WriteString("<arguments>\n")

	props := d.Properties()
	for _, name := range d.Required() {
		fmt.Fprintf(&b, "  <%s>%s</%s>\n", name, exampleValue(name, props[name]), name)
	}

	b.WriteString("</arguments>\n")
	b.WriteString("</tool>")
	return b.String()
}

func exampleValue(name string, p map[string]interface{}) string {
	if enum := enumValues(p); len(enum) > 0 {
		return enum[0]
	}
	typ, _ := p["type"].(string)
	switch typ {
	case "integer":
		return "42"
	case "number":
		return "3.14"
	case "boolean":
		return "true"
	}
	switch name {
	case "content", "text", "script":
		return "<![CDATA[...]]>"
	case "path":
		return "notes/example.md"
	case "url":
		return "https://example.com"
	}
	return "value"
}
