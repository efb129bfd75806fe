package toolmesh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/testutil"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/progress"
	"github.com/hupe1980/toolmesh/tool"
)

func TestToolmeshEndToEnd(t *testing.T) {
	m := model.NewMockModel().Script(
		testutil.ToolCallDecision("create_file", map[string]any{"file_name": "out.txt", "content": "result"}),
		testutil.FinalDecision(map[string]any{"written": "out.txt"}),
	)

	mesh, err := New(m)
	require.NoError(t, err)
	defer mesh.Close()

	sub := mesh.Subscribe(progress.SessionCompleted)
	defer sub.Cancel()

	require.NoError(t, mesh.RegisterAgent(
		testutil.Agent("scribe").
			Instructions("Persist the result to a file.").
			Tools("create_file").
			Build(),
	))

	sess, err := mesh.Run(context.Background(), "scribe", map[string]any{"task": "write"}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, sess.Status)
	assert.Equal(t, map[string]any{"written": "out.txt"}, sess.FinalAnswer)

	ev := <-sub.C
	assert.Equal(t, progress.SessionCompleted, ev.Type)
	assert.Equal(t, sess.ID, ev.SessionID)

	// Agent registration feeds the descriptor cache.
	d := mesh.Descriptors().GetDescriptor(context.Background(), "scribe")
	require.NotNil(t, d)
	assert.NotEmpty(t, d.PromptHash)
	assert.NotEmpty(t, d.ToolsetHash)
}

func TestToolmeshHandoff(t *testing.T) {
	m := model.NewMockModel().Script(
		testutil.HandoffDecision("writer", map[string]any{"topic": "go"}),
		testutil.FinalDecision(map[string]any{"draft": "text"}),
		testutil.FinalDecision(map[string]any{"report": "done"}),
	)

	mesh, err := New(m, func(o *Options) { o.DisableFileStore = true })
	require.NoError(t, err)
	defer mesh.Close()

	require.NoError(t, mesh.RegisterAgent(testutil.Agent("editor").Handoffs("writer").Build()))
	require.NoError(t, mesh.RegisterAgent(testutil.Agent("writer").Build()))

	sess, err := mesh.Run(context.Background(), "editor", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"report": "done"}, sess.FinalAnswer)
}

func TestToolmeshRegisterTool(t *testing.T) {
	mesh, err := New(model.NewMockModel(), func(o *Options) {
		o.RegisterFileTools = false
		o.DisableFileStore = true
	})
	require.NoError(t, err)
	defer mesh.Close()

	// File tools were opted out.
	assert.Nil(t, mesh.Registry().Get("create_file"))

	echo := tool.NewFunctionTool("echo", "Echoes.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			return args, nil
		},
	)
	require.NoError(t, mesh.RegisterTool(echo))
	assert.NotNil(t, mesh.Registry().Get("echo"))
}
