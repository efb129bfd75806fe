package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentConfigValidate(t *testing.T) {
	var nilCfg *AgentConfig
	assert.Error(t, nilCfg.Validate())
	assert.Error(t, (&AgentConfig{}).Validate())
	assert.Error(t, (&AgentConfig{Name: "a", MaxIterations: -1}).Validate())
	assert.NoError(t, (&AgentConfig{Name: "a"}).Validate())
}

func TestAgentConfigIterationBudget(t *testing.T) {
	assert.Equal(t, DefaultMaxIterations, (&AgentConfig{Name: "a"}).IterationBudget())
	assert.Equal(t, 3, (&AgentConfig{Name: "a", MaxIterations: 3}).IterationBudget())
}

func TestAgentConfigAllowsHandoffTo(t *testing.T) {
	cfg := &AgentConfig{Name: "a", HandoffTargets: []string{"b", "c"}}
	assert.True(t, cfg.AllowsHandoffTo("b"))
	assert.False(t, cfg.AllowsHandoffTo("d"))
	assert.False(t, (&AgentConfig{Name: "a"}).AllowsHandoffTo("b"))
}

func TestSessionLifecycle(t *testing.T) {
	sess := NewSession("id-1", "agent")
	assert.Equal(t, StatusRunning, sess.Status)
	assert.False(t, sess.IsTerminal())

	sess.Append(NewUserMessage("hello"))
	sess.Append(
		NewToolCallMessage(ToolCallRecord{ID: "c1", Name: "echo"}),
		NewToolResultMessage(ToolResultRecord{CallID: "c1", Name: "echo", Success: true}),
	)

	assert.Equal(t, 1, sess.CountRole(RoleUser))
	assert.Equal(t, 1, sess.CountRole(RoleToolCall))
	assert.Equal(t, 1, sess.CountRole(RoleToolResult))
	assert.Equal(t, 0, sess.CountRole(RoleFinalAnswer))

	sess.Complete(map[string]any{"ok": true})
	assert.Equal(t, StatusCompleted, sess.Status)
	assert.True(t, sess.IsTerminal())
	assert.Equal(t, map[string]any{"ok": true}, sess.FinalAnswer)
}

func TestSessionFail(t *testing.T) {
	sess := NewSession("id-1", "agent")
	sess.Fail("iteration_limit_exceeded")
	assert.Equal(t, StatusFailed, sess.Status)
	assert.Equal(t, "iteration_limit_exceeded", sess.FailureCode)
	assert.True(t, sess.IsTerminal())
}

func TestSessionCancel(t *testing.T) {
	sess := NewSession("id-1", "agent")
	sess.Cancel()
	assert.Equal(t, StatusCancelled, sess.Status)
	assert.True(t, sess.IsTerminal())
}

func TestSessionTranscriptDefensiveCopy(t *testing.T) {
	sess := NewSession("id-1", "agent")
	sess.Append(NewUserMessage("original"))

	transcript := sess.Transcript()
	transcript[0].Text = "mutated"

	assert.Equal(t, "original", sess.Transcript()[0].Text)
}

func TestSessionConcurrentAppend(t *testing.T) {
	sess := NewSession("id-1", "agent")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				sess.Append(NewUserMessage("m"))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, sess.Transcript(), 200)
}

func TestToolContext(t *testing.T) {
	ctx := context.Background()
	tc := NewToolContext(ctx, "sess-1", "agent-1", "call-1", nil, "capability", nil)

	assert.Equal(t, ctx, tc.Context())
	assert.Equal(t, "sess-1", tc.SessionID())
	assert.Equal(t, "agent-1", tc.AgentName())
	assert.Equal(t, "call-1", tc.CallID())
	assert.Nil(t, tc.Files())
	assert.Equal(t, "capability", tc.Capability())
	require.NotNil(t, tc.Logger())
}
