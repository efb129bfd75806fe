// Package mcp discovers tools from Model Context Protocol servers and binds
// them into a tool registry. Each discovered tool is registered under the
// originating identifier "mcp:<serverID>:<toolName>" and a collision-free
// public name chosen by the registry.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/tool"
)

// ProviderKind is the provider segment of originating identifiers minted by
// this package.
const ProviderKind = "mcp"

// DefaultCallTimeout bounds one remote tool call.
const DefaultCallTimeout = 30 * time.Second

// Client abstracts the MCP client surface the provider needs, for
// substitutability in tests.
type Client interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Options configure a Provider.
type Options struct {
	// CallTimeout bounds each remote call. Defaults to DefaultCallTimeout.
	CallTimeout time.Duration

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Provider exposes one MCP server's tools to a registry.
type Provider struct {
	serverID string
	client   Client
	opts     Options
}

// NewProvider wraps an already-connected client.
func NewProvider(serverID string, client Client, optFns ...func(o *Options)) *Provider {
	opts := Options{CallTimeout: DefaultCallTimeout, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{serverID: serverID, client: client, opts: opts}
}

// ConnectStdio spawns an MCP server process and connects over stdio.
func ConnectStdio(ctx context.Context, serverID, command string, env []string, args []string, optFns ...func(o *Options)) (*Provider, error) {
	c, err := mcpclient.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("create stdio client: %w", err)
	}
	if err := initialize(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return NewProvider(serverID, c, optFns...), nil
}

// ConnectHTTP connects to an MCP server over streamable HTTP.
func ConnectHTTP(ctx context.Context, serverID, url string, optFns ...func(o *Options)) (*Provider, error) {
	t, err := transport.NewStreamableHTTP(url)
	if err != nil {
		return nil, fmt.Errorf("create http transport: %w", err)
	}
	c := mcpclient.NewClient(t)
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start http client: %w", err)
	}
	if err := initialize(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return NewProvider(serverID, c, optFns...), nil
}

func initialize(ctx context.Context, c Client) error {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "toolmesh", Version: "1.0.0"}

	ic, ok := c.(interface {
		Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	})
	if !ok {
		return nil
	}
	if _, err := ic.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize mcp connection: %w", err)
	}
	return nil
}

// ServerID returns the provider's server identifier.
func (p *Provider) ServerID() string { return p.serverID }

// Discover lists the server's tools and binds each into the registry,
// returning the assigned public names. A server advertising zero tools is not
// an error.
func (p *Provider) Discover(ctx context.Context, r *tool.Registry) ([]string, error) {
	result, err := p.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools of mcp server %q: %w", p.serverID, err)
	}

	publicNames := make([]string, 0, len(result.Tools))
	for _, t := range result.Tools {
		t := t
		public, err := r.BindProviderTool(ProviderKind, p.serverID, t.Name, func() tool.Tool {
			return newRemoteTool(p, t)
		})
		if err != nil {
			return nil, fmt.Errorf("bind mcp tool %q: %w", t.Name, err)
		}
		publicNames = append(publicNames, public)
		p.opts.Logger.Debug("mcp.tool_bound",
			"server", p.serverID, "tool", t.Name, "public_name", public)
	}

	p.opts.Logger.Info("mcp.discovered", "server", p.serverID, "count", len(result.Tools))

	return publicNames, nil
}

// Close shuts down the underlying client connection.
func (p *Provider) Close() error { return p.client.Close() }

// remoteTool adapts one discovered MCP tool to the tool.Tool interface.
type remoteTool struct {
	provider *Provider
	spec     mcp.Tool
}

var _ tool.Tool = (*remoteTool)(nil)

func newRemoteTool(p *Provider, spec mcp.Tool) *remoteTool {
	return &remoteTool{provider: p, spec: spec}
}

// Name returns the tool's name as advertised by the server; the registry
// layers public naming on top.
func (t *remoteTool) Name() string { return t.spec.Name }

// Description returns the server-advertised description, or a synthesized one
// when absent.
func (t *remoteTool) Description() string {
	if t.spec.Description != "" {
		return t.spec.Description
	}
	return fmt.Sprintf("MCP tool %q from server %q", t.spec.Name, t.provider.serverID)
}

// Parameters converts the advertised input schema to the generic JSON schema
// shape.
func (t *remoteTool) Parameters() map[string]any {
	fallback := map[string]any{"type": "object", "properties": map[string]any{}}

	data, err := json.Marshal(t.spec.InputSchema)
	if err != nil {
		return fallback
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil || schema == nil {
		return fallback
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return schema
}

// Call executes the remote tool under the provider's call timeout. A server
// that reports an execution failure (IsError) surfaces as a ToolError so the
// engine records an unsuccessful result.
func (t *remoteTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = t.spec.Name
	callReq.Params.Arguments = args

	ctx, cancel := context.WithTimeout(tc.Context(), t.provider.opts.CallTimeout)
	defer cancel()

	result, err := t.provider.client.CallTool(ctx, callReq)
	if err != nil {
		return nil, tool.NewToolError(t.spec.Name, fmt.Sprintf("mcp call failed: %v", err), "EXECUTION_ERROR")
	}

	content := extractContent(result)
	if result.IsError {
		return nil, tool.NewToolError(t.spec.Name, content, "EXECUTION_ERROR")
	}

	return map[string]any{"content": content}, nil
}

// extractContent flattens a call result's content blocks into one string;
// non-text blocks are carried as JSON.
func extractContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}
