// Copyright 2025 Strand Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mcptoolset discovers tools from an MCP server and adapts them to
// the runtime's tool interface.
//
// The connection is lazy: the subprocess is only started when Tools is first
// called. Each remote tool's input schema is parsed through the shared
// parameter parser, so schema violations (unknown types, unbounded nesting)
// surface at discovery time rather than mid-run.
package mcptoolset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/strandkit/strand/pkg/tool"
)

// Config configures an MCP toolset over stdio transport.
type Config struct {
	// Name identifies this toolset in logs.
	Name string

	// Command starts the MCP server subprocess.
	Command string

	// Args for the subprocess.
	Args []string

	// Env for the subprocess, as KEY=VALUE pairs.
	Env []string

	// Filter limits which remote tools are exposed. Empty means all.
	Filter []string
}

// Toolset is an MCP-backed tool source with lazy initialization.
type Toolset struct {
	cfg Config

	mu        sync.Mutex
	client    *client.Client
	tools     []tool.Tool
	connected bool
	filterSet map[string]bool
}

// New creates an MCP toolset.
func New(cfg Config) (*Toolset, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filterSet[name] = true
		}
	}

	return &Toolset{cfg: cfg, filterSet: filterSet}, nil
}

// Tools connects on first use and returns the adapted tools.
func (t *Toolset) Tools(ctx context.Context) ([]tool.Tool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.connect(ctx); err != nil {
			return nil, err
		}
	}
	return t.tools, nil
}

// RegisterAll connects and registers every discovered tool.
func (t *Toolset) RegisterAll(ctx context.Context, registry *tool.Registry) error {
	tools, err := t.Tools(ctx)
	if err != nil {
		return err
	}
	for _, tl := range tools {
		if err := registry.Register(tl); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts down the MCP subprocess.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	t.connected = false
	return err
}

func (t *Toolset) connect(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(t.cfg.Command, t.cfg.Env, t.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "strand",
		Version: "0.1.0",
	}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	var tools []tool.Tool
	for _, mcpTool := range listResp.Tools {
		if t.filterSet != nil && !t.filterSet[mcpTool.Name] {
			continue
		}

		descriptor, err := tool.DescriptorFromSchema(mcpTool.Name, mcpTool.Description, schemaToMap(mcpTool.InputSchema))
		if err != nil {
			slog.Warn("Skipping MCP tool with unparseable schema",
				"toolset", t.cfg.Name,
				"tool", mcpTool.Name,
				"error", err)
			continue
		}

		tools = append(tools, &remoteTool{toolset: t, descriptor: descriptor})
	}

	t.client = mcpClient
	t.tools = tools
	t.connected = true

	slog.Info("Connected to MCP server",
		"toolset", t.cfg.Name,
		"command", t.cfg.Command,
		"tools", len(tools))
	return nil
}

// remoteTool proxies execution to the MCP server.
type remoteTool struct {
	toolset    *Toolset
	descriptor tool.Descriptor
}

func (r *remoteTool) Descriptor() tool.Descriptor {
	return r.descriptor
}

func (r *remoteTool) Execute(ctx context.Context, argsJSON json.RawMessage) (json.RawMessage, error) {
	var args map[string]any
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, &tool.ValidationError{Name: r.descriptor.Name, Reason: err.Error()}
		}
	}

	r.toolset.mu.Lock()
	mcpClient := r.toolset.client
	r.toolset.mu.Unlock()

	if mcpClient == nil {
		return nil, &tool.ExecutionError{Name: r.descriptor.Name, Cause: fmt.Errorf("MCP client not connected")}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = r.descriptor.Name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return nil, &tool.ExecutionError{Name: r.descriptor.Name, Cause: err}
	}

	return r.parseResponse(resp)
}

func (r *remoteTool) parseResponse(resp *mcp.CallToolResult) (json.RawMessage, error) {
	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}

	if resp.IsError {
		reason := "unknown error"
		if len(texts) > 0 {
			reason = texts[0]
		}
		return nil, &tool.ExecutionError{Name: r.descriptor.Name, Cause: fmt.Errorf("%s", reason)}
	}

	result := map[string]any{}
	switch len(texts) {
	case 0:
	case 1:
		result["result"] = texts[0]
	default:
		result["results"] = texts
	}

	return json.Marshal(result)
}

// schemaToMap converts the MCP schema struct to a plain map for parsing.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

var _ tool.Tool = (*remoteTool)(nil)
