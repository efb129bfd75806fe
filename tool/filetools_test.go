package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/filestore"
	"github.com/hupe1980/toolmesh/naming"
)

func fileToolContext(t *testing.T) *core.ToolContext {
	t.Helper()
	sessionID := filestore.NewSessionID()
	store := filestore.New(sessionID)
	t.Cleanup(func() { _ = store.Close() })
	return core.NewToolContext(context.Background(), sessionID, "agent", "call-1", store, nil, nil)
}

func callTool(t *testing.T, tc *core.ToolContext, tl Tool, args map[string]any) map[string]any {
	t.Helper()
	out, err := tl.Call(tc, args)
	require.NoError(t, err)
	m, ok := out.(map[string]any)
	require.True(t, ok)
	return m
}

func TestFileTools(t *testing.T) {
	tc := fileToolContext(t)

	create := NewCreateFileTool()
	update := NewUpdateFileTool()
	read := NewReadFileTool()
	list := NewListFilesTool()
	del := NewDeleteFileTool()

	t.Run("create", func(t *testing.T) {
		res := callTool(t, tc, create, map[string]any{"file_name": "notes.txt", "content": "hello"})
		assert.Equal(t, true, res["success"])
		assert.Equal(t, "notes.txt", res["file_name"])
		assert.EqualValues(t, 5, res["size"])
	})

	t.Run("duplicate create is a soft failure", func(t *testing.T) {
		res := callTool(t, tc, create, map[string]any{"file_name": "notes.txt", "content": "again"})
		assert.Equal(t, false, res["success"])
		assert.Contains(t, res["error"], "already exists")
	})

	t.Run("invalid name is a soft failure", func(t *testing.T) {
		res := callTool(t, tc, create, map[string]any{"file_name": "a/b.txt", "content": "x"})
		assert.Equal(t, false, res["success"])
	})

	t.Run("append", func(t *testing.T) {
		res := callTool(t, tc, update, map[string]any{"file_name": "notes.txt", "content": " world", "append": true})
		assert.Equal(t, true, res["success"])
		assert.EqualValues(t, 11, res["size"])
	})

	t.Run("read", func(t *testing.T) {
		res := callTool(t, tc, read, map[string]any{"file_name": "notes.txt"})
		assert.Equal(t, true, res["success"])
		assert.Equal(t, "hello world", res["content"])
		assert.Equal(t, filestore.DefaultMimeType, res["mime_type"])
	})

	t.Run("read missing is a soft failure", func(t *testing.T) {
		res := callTool(t, tc, read, map[string]any{"file_name": "ghost.txt"})
		assert.Equal(t, false, res["success"])
		assert.Contains(t, res["error"], "not found")
	})

	t.Run("list", func(t *testing.T) {
		res := callTool(t, tc, list, map[string]any{})
		assert.Equal(t, true, res["success"])
		entries, ok := res["files"].([]map[string]any)
		require.True(t, ok)
		require.Len(t, entries, 1)
		assert.Equal(t, "notes.txt", entries[0]["file_name"])
		// Metadata only, never content.
		assert.NotContains(t, entries[0], "content")
	})

	t.Run("delete", func(t *testing.T) {
		res := callTool(t, tc, del, map[string]any{"file_name": "notes.txt"})
		assert.Equal(t, true, res["success"])

		res = callTool(t, tc, del, map[string]any{"file_name": "notes.txt"})
		assert.Equal(t, false, res["success"])
	})
}

func TestFileToolsWithoutStore(t *testing.T) {
	tc := core.NewToolContext(context.Background(), "sess", "agent", "call", nil, nil, nil)

	_, err := NewCreateFileTool().Call(tc, map[string]any{"file_name": "x", "content": "y"})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
}

func TestRegisterFileTools(t *testing.T) {
	r := NewRegistry(naming.NewResolver())
	require.NoError(t, RegisterFileTools(r))

	for _, name := range []string{"create_file", "update_file", "delete_file", "read_file", "list_files"} {
		got := r.Get(name)
		require.NotNil(t, got, "tool %s not registered", name)
		assert.Equal(t, name, got.Name())
	}
}
