package core

import (
	"sync"
	"time"
)

// Status enumerates the lifecycle states of a session. A session is terminal
// once its status leaves StatusRunning.
type Status string

const (
	// StatusRunning marks an in-flight session.
	StatusRunning Status = "running"
	// StatusCompleted marks a session that produced a final answer.
	StatusCompleted Status = "completed"
	// StatusFailed marks a session terminated by a configuration, budget or
	// structural error.
	StatusFailed Status = "failed"
	// StatusCancelled marks a session cancelled by its caller.
	StatusCancelled Status = "cancelled"
)

// Role tags the kind of a transcript message.
type Role string

const (
	// RoleUser is caller-supplied input.
	RoleUser Role = "user"
	// RoleReasoning is model reasoning accompanying a tool call.
	RoleReasoning Role = "reasoning"
	// RoleToolCall records a dispatched tool invocation.
	RoleToolCall Role = "tool_call"
	// RoleToolResult records a tool outcome (or a folded nested handoff
	// result).
	RoleToolResult Role = "tool_result"
	// RoleFinalAnswer records the terminal answer of a run.
	RoleFinalAnswer Role = "final_answer"
)

// ToolCallRecord captures one dispatched tool invocation.
type ToolCallRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// ToolResultRecord captures the structured outcome of a tool invocation.
// Tool failures are recorded here with Success=false; they never escape as
// exceptions past the dispatch boundary.
type ToolResultRecord struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Message is one entry of a session transcript.
type Message struct {
	Role       Role              `json:"role"`
	Text       string            `json:"text,omitempty"`
	ToolCall   *ToolCallRecord   `json:"tool_call,omitempty"`
	ToolResult *ToolResultRecord `json:"tool_result,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewUserMessage builds a user-role message.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text, Timestamp: time.Now().UTC()}
}

// NewToolCallMessage records a dispatched tool call.
func NewToolCallMessage(rec ToolCallRecord) Message {
	return Message{Role: RoleToolCall, ToolCall: &rec, Timestamp: time.Now().UTC()}
}

// NewToolResultMessage records a tool outcome.
func NewToolResultMessage(rec ToolResultRecord) Message {
	return Message{Role: RoleToolResult, ToolResult: &rec, Timestamp: time.Now().UTC()}
}

// NewFinalAnswerMessage records the terminal answer text.
func NewFinalAnswerMessage(text string) Message {
	return Message{Role: RoleFinalAnswer, Text: text, Timestamp: time.Now().UTC()}
}

// Session tracks one execution of an agent: status, ordered transcript and
// iteration count. It is created when the engine starts a run, mutated every
// iteration, and terminal once the status leaves running. Safe for
// concurrent access; Transcript returns a defensive copy.
type Session struct {
	ID          string         `json:"id"`
	AgentName   string         `json:"agent_name"`
	Status      Status         `json:"status"`
	FailureCode string         `json:"failure_code,omitempty"`
	Iterations  int            `json:"iterations"`
	FinalAnswer map[string]any `json:"final_answer,omitempty"`
	Created     time.Time      `json:"created"`
	Updated     time.Time      `json:"updated"`

	mu         sync.RWMutex
	transcript []Message
}

// NewSession creates a running session for the named agent.
func NewSession(id, agentName string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, AgentName: agentName, Status: StatusRunning, Created: now, Updated: now}
}

// Append adds messages to the transcript, updating the Updated timestamp.
func (s *Session) Append(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, msgs...)
	s.Updated = time.Now().UTC()
}

// Transcript returns a defensive copy of the ordered message history.
func (s *Session) Transcript() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// CountRole returns how many transcript messages carry the given role.
func (s *Session) CountRole(role Role) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.transcript {
		if m.Role == role {
			n++
		}
	}
	return n
}

// Complete marks the session completed with its final answer.
func (s *Session) Complete(answer map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StatusCompleted
	s.FinalAnswer = answer
	s.Updated = time.Now().UTC()
}

// Fail marks the session failed with a diagnostic code.
func (s *Session) Fail(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StatusFailed
	s.FailureCode = code
	s.Updated = time.Now().UTC()
}

// Cancel marks the session cancelled.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StatusCancelled
	s.Updated = time.Now().UTC()
}

// IsTerminal reports whether the status has left running.
func (s *Session) IsTerminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status != StatusRunning
}
