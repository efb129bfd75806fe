package tool

import (
	"errors"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/filestore"
)

// File tools expose the session file store as agent working memory. Expected
// storage failures (invalid name, already exists, not found) are surfaced as
// uniform {success:false, error} results so a single failed write never
// terminates the run; only backend faults propagate as tool errors.

func fileResult(payload map[string]any, err error) (any, error) {
	if err == nil {
		if payload == nil {
			payload = map[string]any{}
		}
		payload["success"] = true
		return payload, nil
	}
	if errors.Is(err, filestore.ErrInvalidName) ||
		errors.Is(err, filestore.ErrAlreadyExists) ||
		errors.Is(err, filestore.ErrNotFound) {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return nil, err
}

func requireFiles(tc *core.ToolContext) (*filestore.Store, error) {
	if tc.Files() == nil {
		return nil, NewToolError("file_store", "no file store configured for this session", "EXECUTION_ERROR")
	}
	return tc.Files(), nil
}

// NewCreateFileTool returns the create_file tool.
func NewCreateFileTool() Tool {
	return NewFunctionTool(
		"create_file",
		"Create a new named file in the session workspace. Fails if the name is already taken.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_name": map[string]any{"type": "string", "description": "File name, unique within the session"},
				"content":   map[string]any{"type": "string", "description": "Initial file content"},
				"mime_type": map[string]any{"type": "string", "description": "Optional MIME type, defaults to text/plain"},
			},
			"required": []string{"file_name", "content"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			files, err := requireFiles(tc)
			if err != nil {
				return nil, err
			}
			mime, _ := args["mime_type"].(string)
			f, err := files.Create(tc.Context(), args["file_name"].(string), args["content"].(string), mime)
			if err != nil {
				return fileResult(nil, err)
			}
			return fileResult(map[string]any{"id": f.ID, "file_name": f.Name, "size": f.Size}, nil)
		},
	)
}

// NewUpdateFileTool returns the update_file tool.
func NewUpdateFileTool() Tool {
	return NewFunctionTool(
		"update_file",
		"Replace or append to an existing file in the session workspace.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_name": map[string]any{"type": "string"},
				"content":   map[string]any{"type": "string"},
				"append":    map[string]any{"type": "boolean", "description": "Append instead of replacing"},
			},
			"required": []string{"file_name", "content"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			files, err := requireFiles(tc)
			if err != nil {
				return nil, err
			}
			appendContent, _ := args["append"].(bool)
			f, err := files.Update(tc.Context(), args["file_name"].(string), args["content"].(string), appendContent)
			if err != nil {
				return fileResult(nil, err)
			}
			return fileResult(map[string]any{"file_name": f.Name, "size": f.Size}, nil)
		},
	)
}

// NewDeleteFileTool returns the delete_file tool.
func NewDeleteFileTool() Tool {
	return NewFunctionTool(
		"delete_file",
		"Delete a file from the session workspace.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_name": map[string]any{"type": "string"},
			},
			"required": []string{"file_name"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			files, err := requireFiles(tc)
			if err != nil {
				return nil, err
			}
			if err := files.Delete(tc.Context(), args["file_name"].(string)); err != nil {
				return fileResult(nil, err)
			}
			return fileResult(map[string]any{"file_name": args["file_name"]}, nil)
		},
	)
}

// NewReadFileTool returns the read_file tool.
func NewReadFileTool() Tool {
	return NewFunctionTool(
		"read_file",
		"Read a file from the session workspace.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_name": map[string]any{"type": "string"},
			},
			"required": []string{"file_name"},
		},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			files, err := requireFiles(tc)
			if err != nil {
				return nil, err
			}
			f, err := files.Read(tc.Context(), args["file_name"].(string))
			if err != nil {
				return nil, err
			}
			if f == nil {
				return map[string]any{"success": false, "error": "file not found: " + args["file_name"].(string)}, nil
			}
			return fileResult(map[string]any{
				"file_name": f.Name,
				"content":   f.Content,
				"mime_type": f.MimeType,
				"size":      f.Size,
			}, nil)
		},
	)
}

// NewListFilesTool returns the list_files tool.
func NewListFilesTool() Tool {
	return NewFunctionTool(
		"list_files",
		"List the files in the session workspace, newest first. Returns metadata only.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			files, err := requireFiles(tc)
			if err != nil {
				return nil, err
			}
			summaries, err := files.List(tc.Context())
			if err != nil {
				return nil, err
			}
			entries := make([]map[string]any, 0, len(summaries))
			for _, s := range summaries {
				entries = append(entries, map[string]any{
					"file_name":  s.Name,
					"mime_type":  s.MimeType,
					"size":       s.Size,
					"created_at": s.CreatedAt,
					"updated_at": s.UpdatedAt,
				})
			}
			return fileResult(map[string]any{"files": entries}, nil)
		},
	)
}

// RegisterFileTools binds all file tools in the registry under their bare
// public names.
func RegisterFileTools(r *Registry) error {
	for _, mk := range []func() Tool{
		NewCreateFileTool,
		NewUpdateFileTool,
		NewDeleteFileTool,
		NewReadFileTool,
		NewListFilesTool,
	} {
		mk := mk
		t := mk()
		if err := r.RegisterFactory(t.Name(), func() Tool { return mk() }); err != nil {
			return err
		}
	}
	return nil
}
