// Package model defines the Model collaborator contract: given the system
// instructions, the transcript so far and the resolved tool specifications,
// a Model decides the next action of the think-act loop: exactly one of a
// tool call, a handoff, or a final answer. The engine does not implement any
// retry policy around this call; Decide must be safe to call repeatedly.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/toolmesh/core"
)

// ToolSpec declaratively exposes a callable tool to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by the engine for one
// iteration.
type Request struct {
	Instructions string         `json:"instructions"`
	Transcript   []core.Message `json:"transcript"`
	Tools        []ToolSpec     `json:"tools,omitempty"`
	Schema       map[string]any `json:"schema,omitempty"` // final answer schema
}

// ToolCall requests execution of a named tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// Handoff requests transfer of control to another agent with carried
// arguments.
type Handoff struct {
	Target string         `json:"target"`
	Args   map[string]any `json:"args,omitempty"`
}

// FinalAnswer terminates the run with a result expected to match the agent's
// schema.
type FinalAnswer struct {
	Result map[string]any `json:"result"`
	Text   string         `json:"text,omitempty"`
}

// Decision is the tagged outcome of one model turn. Exactly one field must be
// set; Validate enforces this.
type Decision struct {
	ToolCall *ToolCall    `json:"tool_call,omitempty"`
	Handoff  *Handoff     `json:"handoff,omitempty"`
	Final    *FinalAnswer `json:"final,omitempty"`
}

// Validate checks that exactly one variant is populated.
func (d *Decision) Validate() error {
	n := 0
	if d.ToolCall != nil {
		n++
	}
	if d.Handoff != nil {
		n++
	}
	if d.Final != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("decision must carry exactly one of tool call, handoff or final answer, got %d", n)
	}
	return nil
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface the engine requires to drive the loop.
type Model interface {
	// Decide returns the next action for the transcript. Implementations
	// must respect ctx cancellation.
	Decide(ctx context.Context, req Request) (*Decision, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a scripted in-memory Model for tests and examples. Decisions
// are returned in order; when the script is exhausted the Loop decision (if
// set) repeats forever, otherwise Decide errors.
type MockModel struct {
	mu      sync.Mutex
	info    Info
	script  []*Decision
	loop    *Decision
	decides int
}

// NewMockModel constructs an empty scripted model.
func NewMockModel() *MockModel {
	return &MockModel{info: Info{Name: "mock", Provider: "mock"}}
}

// Script appends decisions returned in order by subsequent Decide calls.
func (m *MockModel) Script(decisions ...*Decision) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, decisions...)
	return m
}

// Loop sets the decision repeated forever once the script is exhausted.
// Useful for exercising iteration limits.
func (m *MockModel) Loop(d *Decision) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loop = d
	return m
}

// Decides returns how many Decide calls the model has served.
func (m *MockModel) Decides() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decides
}

// Decide implements Model.
func (m *MockModel) Decide(ctx context.Context, _ Request) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.decides++

	if len(m.script) > 0 {
		d := m.script[0]
		m.script = m.script[1:]
		return d, nil
	}
	if m.loop != nil {
		return m.loop, nil
	}
	return nil, fmt.Errorf("mock model script exhausted")
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
