// Package testutil provides fluent builders shared by tests across packages.
package testutil

import (
	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/model"
)

// AgentConfigBuilder builds core.AgentConfig values fluently.
type AgentConfigBuilder struct {
	cfg core.AgentConfig
}

// Agent starts a builder for the named agent.
func Agent(name string) *AgentConfigBuilder {
	return &AgentConfigBuilder{cfg: core.AgentConfig{Name: name, Version: "0.0.0-test"}}
}

// Version sets the version label.
func (b *AgentConfigBuilder) Version(v string) *AgentConfigBuilder {
	b.cfg.Version = v
	return b
}

// Instructions sets the system prompt.
func (b *AgentConfigBuilder) Instructions(text string) *AgentConfigBuilder {
	b.cfg.Instructions = text
	return b
}

// Tools declares the agent's tool names.
func (b *AgentConfigBuilder) Tools(names ...string) *AgentConfigBuilder {
	b.cfg.ToolNames = names
	return b
}

// Schema sets the argument/final-answer schema.
func (b *AgentConfigBuilder) Schema(schema map[string]any) *AgentConfigBuilder {
	b.cfg.Schema = schema
	return b
}

// MaxIterations bounds the think-act loop.
func (b *AgentConfigBuilder) MaxIterations(n int) *AgentConfigBuilder {
	b.cfg.MaxIterations = n
	return b
}

// Handoffs declares the allowed handoff targets.
func (b *AgentConfigBuilder) Handoffs(targets ...string) *AgentConfigBuilder {
	b.cfg.HandoffTargets = targets
	return b
}

// Build returns the assembled config.
func (b *AgentConfigBuilder) Build() *core.AgentConfig {
	cfg := b.cfg
	return &cfg
}

// ToolCallDecision builds a tool-call decision for scripted models.
func ToolCallDecision(name string, args map[string]any) *model.Decision {
	return &model.Decision{ToolCall: &model.ToolCall{Name: name, Args: args}}
}

// HandoffDecision builds a handoff decision for scripted models.
func HandoffDecision(target string, args map[string]any) *model.Decision {
	return &model.Decision{Handoff: &model.Handoff{Target: target, Args: args}}
}

// FinalDecision builds a final-answer decision for scripted models.
func FinalDecision(result map[string]any) *model.Decision {
	return &model.Decision{Final: &model.FinalAnswer{Result: result}}
}
