package mcp

import (
	"context"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/tools"
	"design-ai/internal/util"
)

// MCPToolRegistrar 把MCP服务器的工具登记到工具目录与执行器
type MCPToolRegistrar struct {
	manager  MCPManager
	executor *tools.LocalExecutor
	catalog  *tools.Catalog
	timeout  time.Duration

	registered []*MCPTool
}

// NewMCPToolRegistrar 创建新的MCP工具注册协调器
func NewMCPToolRegistrar(manager MCPManager, executor *tools.LocalExecutor, catalog *tools.Catalog, timeout time.Duration) *MCPToolRegistrar {
	return &MCPToolRegistrar{
		manager:  manager,
		executor: executor,
		catalog:  catalog,
		timeout:  timeout,
	}
}

// serverTier 服务器配置的层级，未配置或无效时为 advanced
func (r *MCPToolRegistrar) serverTier(serverName string) tools.Tier {
	settings := r.manager.Settings()
	if settings == nil {
		return tools.TierAdvanced
	}
	tier, err := settings.MCPServers[serverName].ToolTier()
	if err != nil {
		util.Warnw("MCP服务器层级无效，使用 advanced", map[string]any{
			"server_name": serverName,
			"tier":        settings.MCPServers[serverName].Tier,
		})
		return tools.TierAdvanced
	}
	return tier
}

// RegisterTools 注册所有已连接服务器的工具，单个失败只记录日志
func (r *MCPToolRegistrar) RegisterTools(ctx context.Context) error {
	sessions := r.manager.GetClients()
	names := make([]string, 0, len(sessions))
	for name := range sessions {
		names = append(names, name)
	}
	sort.Strings(names)

	total := 0
	for _, serverName := range names {
		session := sessions[serverName]
		result, err := session.ListTools(ctx, &mcp.ListToolsParams{})
		if err != nil {
			util.LogErrorWithFields(errors.WrapErrorWithDetails(errors.ErrCodeMCPToolListFailed,
				"获取MCP工具列表失败", err, serverName), "注册MCP工具", nil)
			continue
		}
		total += r.registerServerTools(serverName, session, result.Tools)
	}

	util.Infow("MCP工具注册完成", map[string]any{
		"total_tools":  total,
		"server_count": len(sessions),
	})
	return nil
}

func (r *MCPToolRegistrar) registerServerTools(serverName string, session toolCaller, infos []*mcp.Tool) int {
	tier := r.serverTier(serverName)
	count := 0
	for _, info := range infos {
		mcpTool := NewMCPTool(serverName, session, info, r.timeout)
		if err := r.executor.RegisterTool(mcpTool, tier, r.catalog); err != nil {
			util.LogErrorWithFields(err, "注册MCP工具失败", map[string]any{
				"server_name": serverName,
				"tool_name":   info.Name,
				"full_name":   mcpTool.Name(),
			})
			continue
		}
		r.registered = append(r.registered, mcpTool)
		count++
		util.Debugw("MCP工具注册成功", map[string]any{
			"server_name": serverName,
			"full_name":   mcpTool.Name(),
			"tier":        tier,
		})
	}
	return count
}

// Registered 已注册的MCP工具
func (r *MCPToolRegistrar) Registered() []*MCPTool {
	return append([]*MCPTool(nil), r.registered...)
}
