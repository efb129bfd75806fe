package core

import (
	"context"

	"github.com/hupe1980/toolmesh/filestore"
	"github.com/hupe1980/toolmesh/logging"
)

// ToolContext provides a constrained surface for tool implementations invoked
// during an agent run. It carries the run identifiers, the session's file
// store (agent working memory) and the opaque capability context supplied by
// the engine's caller, passed through to tools unchanged.
type ToolContext struct {
	ctx        context.Context
	sessionID  string
	agentName  string
	callID     string
	files      *filestore.Store
	capability any
	logger     logging.Logger
}

// NewToolContext constructs a tool context bound to one function call.
func NewToolContext(
	ctx context.Context,
	sessionID, agentName, callID string,
	files *filestore.Store,
	capability any,
	logger logging.Logger,
) *ToolContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &ToolContext{
		ctx:        ctx,
		sessionID:  sessionID,
		agentName:  agentName,
		callID:     callID,
		files:      files,
		capability: capability,
		logger:     logger,
	}
}

// Context returns the cancellation context of the invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// SessionID returns the owning session's identifier.
func (tc *ToolContext) SessionID() string { return tc.sessionID }

// AgentName returns the invoking agent's name.
func (tc *ToolContext) AgentName() string { return tc.agentName }

// CallID returns the function call identifier correlating model request and
// tool execution.
func (tc *ToolContext) CallID() string { return tc.callID }

// Files returns the session-scoped file store, or nil when the engine was
// built without one.
func (tc *ToolContext) Files() *filestore.Store { return tc.files }

// Capability returns the opaque capability context provided by the caller.
// The engine never inspects it.
func (tc *ToolContext) Capability() any { return tc.capability }

// Logger returns the structured logger for the invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }
