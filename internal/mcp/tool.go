package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

// NewMCPTool 创建新的MCP工具包装器
func NewMCPTool(serverName string, session toolCaller, toolInfo *mcp.Tool, timeout time.Duration) *MCPTool {
	return &MCPTool{
		serverName: serverName,
		session:    session,
		toolInfo:   toolInfo,
		timeout:    timeout,
	}
}

// Name 获取工具名称
func (t *MCPTool) Name() string {
	return ToolName(t.serverName, t.toolInfo.Name)
}

// Server 所属服务器
func (t *MCPTool) Server() string {
	return t.serverName
}

// Description 获取工具描述
func (t *MCPTool) Description() string {
	return fmt.Sprintf("[MCP:%s] %s", t.serverName, t.toolInfo.Description)
}

// Parameters 获取工具参数schema
func (t *MCPTool) Parameters() map[string]any {
	fallback := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
	if t.toolInfo.InputSchema == nil {
		return fallback
	}

	var schema map[string]any
	data, err := json.Marshal(t.toolInfo.InputSchema)
	if err != nil || json.Unmarshal(data, &schema) != nil || schema == nil {
		return fallback
	}
	return schema
}

// Execute 执行工具
func (t *MCPTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	util.Debugw("执行MCP工具", map[string]any{
		"server_name": t.serverName,
		"tool_name":   t.toolInfo.Name,
		"arguments":   args,
	})

	result, err := t.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.toolInfo.Name,
		Arguments: args,
	})
	if err != nil {
		return "", errors.WrapErrorWithDetails(errors.ErrCodeMCPToolCallFailed, "MCP工具执行失败", err, t.Name())
	}

	text := contentText(result.Content)
	if result.IsError {
		if text == "" {
			text = "工具执行返回错误"
		}
		return "", errors.NewErrorWithDetails(errors.ErrCodeMCPToolCallFailed, "调用MCP工具失败", text)
	}
	return text, nil
}

func contentText(contents []mcp.Content) string {
	var parts []string
	for _, content := range contents {
		if textContent, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, textContent.Text)
		}
	}
	return strings.Join(parts, "\n")
}
