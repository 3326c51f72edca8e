package mcp

import (
	"context"
	"sort"
	"time"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/tools"
	"design-ai/internal/util"
)

// MCPService MCP集成服务：加载配置、连接服务器并登记工具
type MCPService struct {
	manager    MCPManager
	registrar  *MCPToolRegistrar
	executor   *tools.LocalExecutor
	configPath string
	timeout    time.Duration
}

// NewMCPService 创建新的MCP服务，工具登记到 catalog
func NewMCPService(catalog *tools.Catalog, configPath string, timeout time.Duration) *MCPService {
	manager := NewMCPManager()
	executor := tools.NewLocalExecutor(timeout)

	return &MCPService{
		manager:    manager,
		registrar:  NewMCPToolRegistrar(manager, executor, catalog, timeout),
		executor:   executor,
		configPath: configPath,
		timeout:    timeout,
	}
}

// Initialize 初始化MCP服务，配置文件不存在时跳过
func (s *MCPService) Initialize(ctx context.Context) error {
	if s.configPath == "" || !util.FileExists(util.ExpandPath(s.configPath)) {
		util.Debugw("MCP配置文件不存在，跳过MCP初始化", map[string]any{
			"config_path": s.configPath,
		})
		return nil
	}

	if err := s.manager.LoadSettings(s.configPath); err != nil {
		return err
	}
	if err := s.manager.InitializeClients(ctx); err != nil {
		return errors.WrapError(errors.ErrCodeMCPConnectionFailed, "初始化MCP客户端失败", err)
	}
	if err := s.registrar.RegisterTools(ctx); err != nil {
		return errors.WrapError(errors.ErrCodeInitializationFailed, "注册MCP工具失败", err)
	}

	util.Infow("MCP服务初始化完成", map[string]any{
		"servers": len(s.manager.GetClients()),
		"tools":   len(s.registrar.Registered()),
	})
	return nil
}

// Executor 执行 MCP 工具的执行器，按 ToolPrefix 挂到路由上
func (s *MCPService) Executor() tools.Executor {
	return s.executor
}

// Tools 已登记的工具
func (s *MCPService) Tools() []*MCPTool {
	return s.registrar.Registered()
}

// Shutdown 关闭MCP服务
func (s *MCPService) Shutdown() error {
	return s.manager.Shutdown()
}

// GetConnectedServers 获取已连接的服务器列表
func (s *MCPService) GetConnectedServers() []string {
	sessions := s.manager.GetClients()
	servers := make([]string, 0, len(sessions))
	for serverName := range sessions {
		servers = append(servers, serverName)
	}
	sort.Strings(servers)
	return servers
}

// GetServerStatus 配置中每个服务器是否已连接
func (s *MCPService) GetServerStatus() map[string]bool {
	status := make(map[string]bool)
	if settings := s.manager.Settings(); settings != nil {
		for name := range settings.MCPServers {
			status[name] = false
		}
	}
	for serverName := range s.manager.GetClients() {
		status[serverName] = true
	}
	return status
}
