package model

import (
	"encoding/json"
	"fmt"
)

// HandoffToolName is the synthetic tool name adapters expose when an agent
// declares handoff targets. SDK adapters translate a call against it into a
// Handoff decision instead of a ToolCall, so the engine never dispatches it
// through the registry.
const HandoffToolName = "handoff_to_agent"

// DecisionFromToolUse translates a provider tool call into a Decision,
// folding the synthetic handoff tool into a Handoff variant. rawArgs is the
// provider's JSON-encoded argument string; an empty string means no
// arguments.
func DecisionFromToolUse(id, name, rawArgs string) (*Decision, error) {
	var args map[string]any
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return nil, fmt.Errorf("decode arguments of tool call %q: %w", name, err)
		}
	}

	if name == HandoffToolName {
		target, _ := args["target"].(string)
		if target == "" {
			return nil, fmt.Errorf("handoff call %q carries no target", id)
		}
		handoffArgs, _ := args["args"].(map[string]any)
		return &Decision{Handoff: &Handoff{Target: target, Args: handoffArgs}}, nil
	}

	return &Decision{ToolCall: &ToolCall{ID: id, Name: name, Args: args}}, nil
}

// FinalFromText builds a final-answer decision from plain assistant text. A
// text that parses as a JSON object becomes the structured result directly;
// anything else is wrapped under a "text" key so schemaless agents still get
// a map result.
func FinalFromText(text string) *Decision {
	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err != nil || result == nil {
		result = map[string]any{"text": text}
	}
	return &Decision{Final: &FinalAnswer{Result: result, Text: text}}
}

// SchemaHint renders the final-answer schema as an instruction suffix for
// providers without native structured output.
func SchemaHint(schema map[string]any) string {
	if schema == nil {
		return ""
	}
	encoded, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return "\n\nWhen the task is done, reply with a single JSON object matching this schema: " + string(encoded)
}
