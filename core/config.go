// Package core defines the shared data model of toolmesh: agent
// configurations, sessions with their transcripts, and the tool invocation
// context handed to tool implementations. Higher layers (engine, tool,
// model) depend on core; core depends only on leaf packages.
package core

import (
	"fmt"
)

// DefaultMaxIterations bounds the think-act loop when a config does not set
// its own limit.
const DefaultMaxIterations = 10

// PrepareMessagesFunc builds the initial transcript messages for a run from
// the caller-supplied arguments. When nil, the engine renders the arguments
// as a single JSON user message.
type PrepareMessagesFunc func(args map[string]any) ([]Message, error)

// PostExecuteFunc runs after a successful final answer. Errors returned (or
// panics raised) by the hook are logged and discarded; they never alter the
// run's already-successful outcome.
type PostExecuteFunc func(result map[string]any, sess *Session, capability any) error

// AgentConfig is the immutable descriptor of one agent type. Instances are
// created at startup, registered with the engine, and never mutated; the
// engine references them on each run.
type AgentConfig struct {
	// Name is the unique identifier the agent is invoked and handed off by.
	Name string

	// Version is a free-form version label carried into descriptors.
	Version string

	// Instructions is the system prompt for the model.
	Instructions string

	// ToolNames lists the declared tools, by public name or by originating
	// identifier (which resolves through sanitization).
	ToolNames []string

	// Schema is a minimal JSON-Schema-like object validating both the
	// caller-supplied arguments and the final answer: required properties
	// must be present, unspecified extra properties are tolerated.
	Schema map[string]any

	// MaxIterations bounds the think-act loop. Zero means
	// DefaultMaxIterations.
	MaxIterations int

	// HandoffTargets names the agents this agent may hand off to. An empty
	// list disables handoffs.
	HandoffTargets []string

	// Metadata is carried into the agent's descriptor toolset hash.
	Metadata map[string]string

	// PrepareMessages optionally customizes how arguments become the initial
	// transcript.
	PrepareMessages PrepareMessagesFunc

	// PostExecute optionally observes the successful result.
	PostExecute PostExecuteFunc
}

// Validate checks the structural requirements for registration.
func (c *AgentConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("agent config is nil")
	}
	if c.Name == "" {
		return fmt.Errorf("agent config requires a name")
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("agent %q: max iterations must not be negative", c.Name)
	}
	return nil
}

// IterationBudget returns the effective iteration bound.
func (c *AgentConfig) IterationBudget() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return DefaultMaxIterations
}

// AllowsHandoffTo reports whether target is a declared handoff target.
func (c *AgentConfig) AllowsHandoffTo(target string) bool {
	for _, t := range c.HandoffTargets {
		if t == target {
			return true
		}
	}
	return false
}
