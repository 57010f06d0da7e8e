// Package registry exposes a tool.Registry as an MCP server, so any tool
// available to the agent can also be called by an external MCP client
// (e.g. another editor, or a second opencode instance acting as a
// sub-agent over MCP instead of in-process). Only tools whose Meta
// declares tool.ScopeMcpServer are exposed, mirroring the same scope
// filter the turn loop applies when offering tools to a model.
package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stippi/code-assistant/internal/tool"
)

// NewServer builds an MCP server exposing every tool.ScopeMcpServer tool
// in reg. sessionID/workDir seed the tool.Context each call executes
// with, since an MCP client has no notion of the session/agent loop a
// tool would normally run inside.
func NewServer(reg *tool.Registry, sessionID, workDir string) *server.MCPServer {
	s := server.NewMCPServer(
		"opencode-tools",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	for _, t := range reg.ListForScope(tool.ScopeMcpServer) {
		mcpTool := buildMCPTool(t)
		s.AddTool(mcpTool, dispatcher(t, sessionID, workDir))
	}

	return s
}

// buildMCPTool converts a tool.Tool's JSON Schema parameters into an
// mcp.Tool definition, using the same Schema struct shape
// parseJSONSchemaToParams (internal/tool) already assumes for the Eino
// side of the registry.
func buildMCPTool(t tool.Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(t.Description())}

	var jsonSchema struct {
		Properties map[string]struct {
			Type        string         `json:"type"`
			Description string         `json:"description"`
			Items       map[string]any `json:"items"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(t.Parameters(), &jsonSchema); err == nil {
		required := make(map[string]bool, len(jsonSchema.Required))
		for _, r := range jsonSchema.Required {
			required[r] = true
		}

		for name, prop := range jsonSchema.Properties {
			propOpts := []mcp.PropertyOption{mcp.Description(prop.Description)}
			if required[name] {
				propOpts = append(propOpts, mcp.Required())
			}

			switch prop.Type {
			case "integer", "number":
				opts = append(opts, mcp.WithNumber(name, propOpts...))
			case "boolean":
				opts = append(opts, mcp.WithBoolean(name, propOpts...))
			case "array":
				items := prop.Items
				if items == nil {
					items = map[string]any{"type": "string"}
				}
				opts = append(opts, mcp.WithArray(name, append(propOpts, mcp.Items(items))...))
			case "object":
				opts = append(opts, mcp.WithObject(name, propOpts...))
			default:
				opts = append(opts, mcp.WithString(name, propOpts...))
			}
		}
	}

	return mcp.NewTool(t.ID(), opts...)
}

// dispatcher builds the per-tool MCP call handler, re-marshaling the
// request's arguments back into the json.RawMessage tool.Tool.Execute
// expects.
func dispatcher(t tool.Tool, sessionID, workDir string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := json.Marshal(request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		toolCtx := &tool.Context{
			SessionID: sessionID,
			WorkDir:   workDir,
			Scope:     tool.ScopeMcpServer,
			CallID:    t.ID(),
		}

		result, err := t.Execute(ctx, json.RawMessage(input), toolCtx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !result.IsSuccess() {
			return mcp.NewToolResultError(result.Output), nil
		}

		return mcp.NewToolResultText(result.Output), nil
	}
}
