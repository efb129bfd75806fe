// Package engine drives the think-act loop: it owns the registered agent
// configurations, creates a session per run, asks the model for the next
// action, dispatches tool calls through the registry, executes handoffs on an
// explicit frame stack, and publishes lifecycle events on the progress bus.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/descriptor"
	"github.com/hupe1980/toolmesh/filestore"
	"github.com/hupe1980/toolmesh/internal/util"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/progress"
	"github.com/hupe1980/toolmesh/tool"
)

// Failure codes carried on failed sessions and RunErrors.
const (
	CodeAgentNotFound          = "agent_not_found"
	CodeToolNotFound           = "tool_not_found"
	CodeIterationLimitExceeded = "iteration_limit_exceeded"
	CodeHandoffCycleDetected   = "handoff_cycle_detected"
	CodeHandoffTargetNotFound  = "handoff_target_not_found"
	CodeSchemaViolation        = "schema_violation"
	CodeModelError             = "model_error"
	CodeCancelled              = "cancelled"
)

// HandoffToolName is the synthetic tool name model adapters expose when an
// agent declares handoff targets. A call against it surfaces to the engine as
// a handoff decision, never as a registry dispatch.
const HandoffToolName = model.HandoffToolName

// RunError is the diagnostic error returned alongside a non-completed
// session.
type RunError struct {
	Code      string
	SessionID string
	Err       error
}

// Error implements error.
func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("run %s: %s: %s", e.SessionID, e.Code, e.Err.Error())
	}
	return fmt.Sprintf("run %s: %s", e.SessionID, e.Code)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *RunError) Unwrap() error { return e.Err }

// Options configure an Engine.
type Options struct {
	// Logger defaults to NoOpLogger.
	Logger logging.Logger

	// Bus receives lifecycle events. When nil the engine creates its own.
	Bus *progress.Bus

	// Descriptors, when set, gets a source registered per agent so consumers
	// can fetch content hashes lazily.
	Descriptors *descriptor.Cache

	// DisableFileStore skips creating the per-session file store; file tools
	// then fail their calls with an execution error.
	DisableFileStore bool

	// FileStoreDSN overrides the per-session storage location. The session ID
	// replaces the %s placeholder when present.
	FileStoreDSN string
}

// Engine executes agent runs. Safe for concurrent use; every Run gets its own
// session, file store and frame stack, sharing only the registry, the model
// and the agent configurations.
type Engine struct {
	mu       sync.Mutex
	configs  map[string]*core.AgentConfig
	sessions map[string]*core.Session
	active   map[string]context.CancelFunc

	model    model.Model
	registry *tool.Registry
	bus      *progress.Bus
	opts     Options
	logger   logging.Logger
}

// New constructs an Engine around a model and a tool registry.
func New(m model.Model, registry *tool.Registry, optFns ...func(o *Options)) *Engine {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	bus := opts.Bus
	if bus == nil {
		bus = progress.NewBus(func(o *progress.Options) { o.Logger = opts.Logger })
	}
	return &Engine{
		configs:  make(map[string]*core.AgentConfig),
		sessions: make(map[string]*core.Session),
		active:   make(map[string]context.CancelFunc),
		model:    m,
		registry: registry,
		bus:      bus,
		opts:     opts,
		logger:   opts.Logger,
	}
}

// Bus returns the progress bus runs publish on.
func (e *Engine) Bus() *progress.Bus { return e.bus }

// RegisterAgent registers an agent configuration under its name.
// Re-registering a name overwrites the previous configuration and emits a
// warning; in-flight runs keep the configuration they started with.
func (e *Engine) RegisterAgent(cfg *core.AgentConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if _, exists := e.configs[cfg.Name]; exists {
		e.logger.Warn("engine.overwrite_agent", "agent", cfg.Name)
	}
	e.configs[cfg.Name] = cfg
	e.mu.Unlock()

	if e.opts.Descriptors != nil {
		e.opts.Descriptors.RegisterSource(descriptor.NewConfigSource(cfg))
	}

	return nil
}

// Agent returns the registered configuration for a name.
func (e *Engine) Agent(name string) (*core.AgentConfig, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, ok := e.configs[name]
	return cfg, ok
}

// Session returns a session by ID, covering both in-flight and finished runs.
func (e *Engine) Session(sessionID string) (*core.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	return s, ok
}

// Cancel requests cancellation of an in-flight run. It returns false when the
// session is unknown or already terminal.
func (e *Engine) Cancel(sessionID string) bool {
	e.mu.Lock()
	cancel, ok := e.active[sessionID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// frame is one level of the handoff stack. Each frame owns its transcript and
// iteration budget; the session aggregates across frames for observability.
type frame struct {
	cfg        *core.AgentConfig
	transcript []core.Message
	iterations int

	// callID correlates a nested frame's final answer back to the tool call
	// recorded in the parent transcript. Empty for the root frame.
	callID string
}

// Run executes the named agent with the given arguments until a terminal
// status. The capability value is passed through to tools unchanged. On
// completion the session is returned with a nil error; failed and cancelled
// runs return the session together with a *RunError carrying the diagnostic
// code.
func (e *Engine) Run(ctx context.Context, agentName string, args map[string]any, capability any) (*core.Session, error) {
	e.mu.Lock()
	cfg, ok := e.configs[agentName]
	e.mu.Unlock()
	if !ok {
		return nil, &RunError{Code: CodeAgentNotFound, Err: fmt.Errorf("no agent registered under %q", agentName)}
	}

	sessionID := filestore.NewSessionID()
	sess := core.NewSession(sessionID, agentName)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.sessions[sessionID] = sess
	e.active[sessionID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, sessionID)
		e.mu.Unlock()
	}()

	var files *filestore.Store
	if !e.opts.DisableFileStore {
		files = filestore.New(sessionID, func(o *filestore.Options) {
			o.Logger = e.logger
			if e.opts.FileStoreDSN != "" {
				o.Path = strings.ReplaceAll(e.opts.FileStoreDSN, "%s", sessionID)
			}
		})
		defer func() {
			if err := files.Close(); err != nil {
				e.logger.Warn("engine.filestore_close", "session_id", sessionID, "error", err.Error())
			}
		}()
	}

	e.publish(progress.SessionStarted, sess, nil)
	e.logger.Info("engine.run_started", "session_id", sessionID, "agent", agentName)

	runErr := e.execute(runCtx, sess, cfg, args, capability, files)
	if runErr != nil {
		runErr.SessionID = sessionID
	}

	payload := map[string]any{"status": string(sess.Status)}
	if sess.FailureCode != "" {
		payload["failure_code"] = sess.FailureCode
	}
	e.publish(progress.SessionCompleted, sess, payload)
	e.logger.Info("engine.run_finished",
		"session_id", sessionID, "agent", agentName,
		"status", string(sess.Status), "iterations", sess.Iterations)

	if runErr != nil {
		return sess, runErr
	}
	return sess, nil
}

// execute runs the frame stack to a terminal status and applies it to the
// session.
func (e *Engine) execute(
	ctx context.Context,
	sess *core.Session,
	rootCfg *core.AgentConfig,
	args map[string]any,
	capability any,
	files *filestore.Store,
) *RunError {
	if rootCfg.Schema != nil {
		if err := util.ValidateParameters(args, rootCfg.Schema); err != nil {
			sess.Fail(CodeSchemaViolation)
			return &RunError{Code: CodeSchemaViolation, Err: err}
		}
	}

	root, err := e.newFrame(rootCfg, args, "")
	if err != nil {
		sess.Fail(CodeSchemaViolation)
		return &RunError{Code: CodeSchemaViolation, Err: err}
	}
	sess.Append(root.transcript...)
	stack := []*frame{root}

	fail := func(code string, cause error) *RunError {
		sess.Fail(code)
		return &RunError{Code: code, Err: cause}
	}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			sess.Cancel()
			return &RunError{Code: CodeCancelled, Err: err}
		}

		f := stack[len(stack)-1]

		if f.iterations >= f.cfg.IterationBudget() {
			return fail(CodeIterationLimitExceeded,
				fmt.Errorf("agent %q exhausted its budget of %d iterations", f.cfg.Name, f.cfg.IterationBudget()))
		}
		f.iterations++
		sess.Iterations++

		decision, err := e.model.Decide(ctx, model.Request{
			Instructions: f.cfg.Instructions,
			Transcript:   f.transcript,
			Tools:        e.toolSpecs(f.cfg),
			Schema:       f.cfg.Schema,
		})
		if err != nil {
			if ctx.Err() != nil {
				sess.Cancel()
				return &RunError{Code: CodeCancelled, Err: ctx.Err()}
			}
			return fail(CodeModelError, err)
		}
		if err := decision.Validate(); err != nil {
			return fail(CodeModelError, err)
		}

		switch {
		case decision.ToolCall != nil:
			if err := e.dispatchTool(ctx, sess, f, decision.ToolCall, capability, files); err != nil {
				if ctx.Err() != nil {
					sess.Cancel()
					return &RunError{Code: CodeCancelled, Err: ctx.Err()}
				}
				return fail(CodeToolNotFound, err)
			}

		case decision.Handoff != nil:
			child, runErr := e.pushHandoff(sess, stack, f, decision.Handoff)
			if runErr != nil {
				sess.Fail(runErr.Code)
				return runErr
			}
			stack = append(stack, child)

		case decision.Final != nil:
			if f.cfg.Schema != nil {
				if err := util.ValidateParameters(decision.Final.Result, f.cfg.Schema); err != nil {
					return fail(CodeSchemaViolation, err)
				}
			}

			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				sess.Append(core.NewFinalAnswerMessage(decision.Final.Text))
				sess.Complete(decision.Final.Result)
				e.runPostExecute(f.cfg, decision.Final.Result, sess, capability)
				return nil
			}
			e.foldHandoffResult(sess, stack[len(stack)-1], f, decision.Final)
		}

		e.publish(progress.SessionUpdated, sess, map[string]any{"iterations": sess.Iterations})
	}

	// Unreachable: the loop only exits through a root final answer or a
	// failure above.
	return fail(CodeModelError, errors.New("frame stack drained without a final answer"))
}

// newFrame seeds a frame's transcript from the arguments, via the config's
// PrepareMessages hook when set, otherwise as one JSON user message.
func (e *Engine) newFrame(cfg *core.AgentConfig, args map[string]any, callID string) (*frame, error) {
	var msgs []core.Message
	if cfg.PrepareMessages != nil {
		var err error
		msgs, err = cfg.PrepareMessages(args)
		if err != nil {
			return nil, fmt.Errorf("agent %q: prepare messages: %w", cfg.Name, err)
		}
	} else {
		encoded, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("agent %q: encode arguments: %w", cfg.Name, err)
		}
		msgs = []core.Message{core.NewUserMessage(string(encoded))}
	}
	return &frame{cfg: cfg, transcript: msgs, callID: callID}, nil
}

// toolSpecs resolves the agent's declared tool names to model-facing specs.
// Declared names that resolve nowhere are logged and omitted rather than
// failing the run; dispatch-time resolution still guards model-invented
// names. Agents with handoff targets additionally see the synthetic handoff
// tool.
func (e *Engine) toolSpecs(cfg *core.AgentConfig) []model.ToolSpec {
	specs := make([]model.ToolSpec, 0, len(cfg.ToolNames)+1)
	for _, name := range cfg.ToolNames {
		t, public, ok := e.registry.Resolve(name)
		if !ok {
			e.logger.Warn("engine.unknown_tool", "agent", cfg.Name, "tool", name)
			continue
		}
		specs = append(specs, model.ToolSpec{
			Name:        public,
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}

	if len(cfg.HandoffTargets) > 0 {
		specs = append(specs, model.ToolSpec{
			Name:        HandoffToolName,
			Description: "Hand the task off to another agent and fold its answer back into this conversation.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target": map[string]any{
						"type":        "string",
						"description": fmt.Sprintf("Target agent, one of: %v", cfg.HandoffTargets),
					},
					"args": map[string]any{
						"type":        "object",
						"description": "Arguments for the target agent",
					},
				},
				"required": []string{"target"},
			},
		})
	}

	return specs
}

// dispatchTool resolves and invokes one tool call, recording the call and its
// result on both the frame and the session. Tool failures (including panics)
// become unsuccessful results that keep the loop going; only an unresolvable
// name is returned as an error.
func (e *Engine) dispatchTool(
	ctx context.Context,
	sess *core.Session,
	f *frame,
	call *model.ToolCall,
	capability any,
	files *filestore.Store,
) error {
	t, public, ok := e.registry.Resolve(call.Name)
	if !ok {
		return fmt.Errorf("no tool bound for name %q", call.Name)
	}

	callID := call.ID
	if callID == "" {
		callID = "call_" + uuid.NewString()
	}

	callMsg := core.NewToolCallMessage(core.ToolCallRecord{
		ID:        callID,
		Name:      public,
		Args:      call.Args,
		Reasoning: call.Reasoning,
	})
	f.transcript = append(f.transcript, callMsg)
	sess.Append(callMsg)

	e.publish(progress.ToolStarted, sess, map[string]any{"tool": public, "call_id": callID})

	result, err := e.invokeTool(ctx, t, sess, f, callID, call.Args, capability, files)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	rec := core.ToolResultRecord{CallID: callID, Name: public, Success: err == nil, Result: result}
	if err != nil {
		rec.Error = err.Error()
		e.logger.Warn("engine.tool_failed",
			"session_id", sess.ID, "tool", public, "call_id", callID, "error", err.Error())
	}
	resultMsg := core.NewToolResultMessage(rec)
	f.transcript = append(f.transcript, resultMsg)
	sess.Append(resultMsg)

	e.publish(progress.ToolCompleted, sess, map[string]any{
		"tool": public, "call_id": callID, "success": rec.Success,
	})

	return nil
}

// invokeTool calls the tool behind a panic barrier.
func (e *Engine) invokeTool(
	ctx context.Context,
	t tool.Tool,
	sess *core.Session,
	f *frame,
	callID string,
	args map[string]any,
	capability any,
	files *filestore.Store,
) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()

	tc := core.NewToolContext(ctx, sess.ID, f.cfg.Name, callID, files, capability, e.logger)
	return t.Call(tc, args)
}

// pushHandoff validates a handoff decision and builds the child frame. The
// parent transcript records the handoff as a tool call so the fold-back
// result reads like any other tool outcome. A target that already holds a
// frame on the stack is a cycle and fails the run before the target executes
// again.
func (e *Engine) pushHandoff(sess *core.Session, stack []*frame, parent *frame, h *model.Handoff) (*frame, *RunError) {
	if !parent.cfg.AllowsHandoffTo(h.Target) {
		return nil, &RunError{
			Code: CodeHandoffTargetNotFound,
			Err:  fmt.Errorf("agent %q does not declare handoff target %q", parent.cfg.Name, h.Target),
		}
	}

	e.mu.Lock()
	target, ok := e.configs[h.Target]
	e.mu.Unlock()
	if !ok {
		return nil, &RunError{
			Code: CodeHandoffTargetNotFound,
			Err:  fmt.Errorf("handoff target %q is not a registered agent", h.Target),
		}
	}

	for _, f := range stack {
		if f.cfg.Name == h.Target {
			return nil, &RunError{
				Code: CodeHandoffCycleDetected,
				Err:  fmt.Errorf("handoff to %q would revisit an agent already on the stack", h.Target),
			}
		}
	}

	callID := "handoff_" + uuid.NewString()
	callMsg := core.NewToolCallMessage(core.ToolCallRecord{
		ID:   callID,
		Name: HandoffToolName,
		Args: map[string]any{"target": h.Target, "args": h.Args},
	})
	parent.transcript = append(parent.transcript, callMsg)
	sess.Append(callMsg)

	child, err := e.newFrame(target, h.Args, callID)
	if err != nil {
		return nil, &RunError{Code: CodeSchemaViolation, Err: err}
	}
	sess.Append(child.transcript...)

	e.logger.Info("engine.handoff",
		"session_id", sess.ID, "from", parent.cfg.Name, "to", h.Target)

	return child, nil
}

// foldHandoffResult records a finished child frame's final answer as a tool
// result on the parent.
func (e *Engine) foldHandoffResult(sess *core.Session, parent *frame, child *frame, final *model.FinalAnswer) {
	resultMsg := core.NewToolResultMessage(core.ToolResultRecord{
		CallID:  child.callID,
		Name:    HandoffToolName,
		Success: true,
		Result:  final.Result,
	})
	parent.transcript = append(parent.transcript, resultMsg)
	sess.Append(resultMsg)
}

// runPostExecute invokes the post-execute hook behind a panic barrier. Hook
// failures are logged and discarded; the run already succeeded.
func (e *Engine) runPostExecute(cfg *core.AgentConfig, result map[string]any, sess *core.Session, capability any) {
	if cfg.PostExecute == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine.post_execute_panic", "session_id", sess.ID, "panic", fmt.Sprintf("%v", r))
		}
	}()
	if err := cfg.PostExecute(result, sess, capability); err != nil {
		e.logger.Error("engine.post_execute_failed", "session_id", sess.ID, "error", err.Error())
	}
}

func (e *Engine) publish(t progress.EventType, sess *core.Session, payload map[string]any) {
	e.bus.Publish(progress.Event{
		Type:      t,
		SessionID: sess.ID,
		AgentName: sess.AgentName,
		Payload:   payload,
	})
}
