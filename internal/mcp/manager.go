package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tidwall/jsonc"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

// DefaultMCPManager 默认MCP管理器实现
type DefaultMCPManager struct {
	settings *MCPSettings
	sessions map[string]*mcp.ClientSession
	mutex    sync.RWMutex
}

// NewMCPManager 创建新的MCP管理器
func NewMCPManager() *DefaultMCPManager {
	return &DefaultMCPManager{
		sessions: make(map[string]*mcp.ClientSession),
	}
}

// ParseSettings 解析配置内容，允许注释和尾随逗号
func ParseSettings(data []byte) (*MCPSettings, error) {
	var settings MCPSettings
	if err := json.Unmarshal(jsonc.ToJSON(data), &settings); err != nil {
		return nil, errors.WrapError(errors.ErrCodeConfigParseFailed, "解析MCP配置失败", err)
	}
	if settings.MCPServers == nil {
		settings.MCPServers = map[string]MCPServerConfig{}
	}
	for _, name := range settings.ServerNames() {
		if err := settings.MCPServers[name].validate(name); err != nil {
			return nil, err
		}
	}
	return &settings, nil
}

// LoadSettings 加载MCP配置
func (m *DefaultMCPManager) LoadSettings(configPath string) error {
	path := util.ExpandPath(configPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapErrorWithDetails(errors.ErrCodeConfigLoadFailed,
			"读取MCP配置文件失败", err,
			fmt.Sprintf("配置文件路径: %s", path))
	}

	settings, err := ParseSettings(data)
	if err != nil {
		util.Errorw("MCP配置解析失败", map[string]any{
			"config_path":       path,
			"json_data_len":     len(data),
			"json_data_preview": string(data[:min(len(data), 200)]),
			"error":             err.Error(),
		})
		return err
	}

	m.mutex.Lock()
	m.settings = settings
	m.mutex.Unlock()

	util.Infow("MCP配置加载成功", map[string]any{
		"server_count": len(settings.MCPServers),
	})
	return nil
}

// Settings 当前配置，未加载时为 nil
func (m *DefaultMCPManager) Settings() *MCPSettings {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.settings
}

// InitializeClients 初始化所有MCP客户端，单个服务器失败只记录日志
func (m *DefaultMCPManager) InitializeClients(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.settings == nil {
		return errors.NewError(errors.ErrCodeMCPNotConfigured, "MCP配置未加载")
	}

	for _, session := range m.sessions {
		_ = session.Close()
	}
	m.sessions = make(map[string]*mcp.ClientSession)

	names := m.settings.ServerNames()
	for _, serverName := range names {
		config := m.settings.MCPServers[serverName]
		if config.Disabled {
			util.Debugw("跳过已禁用的MCP服务器", map[string]any{"server_name": serverName})
			continue
		}

		session, err := connectServer(ctx, serverName, config)
		if err != nil {
			util.LogErrorWithFields(err, "MCP服务器连接失败", map[string]any{
				"server_name": serverName,
				"command":     config.Command,
				"args":        config.Args,
			})
			continue
		}
		m.sessions[serverName] = session
	}

	util.Infow("MCP客户端初始化完成", map[string]any{
		"connected_count": len(m.sessions),
		"server_count":    len(names),
	})
	return nil
}

func connectServer(ctx context.Context, serverName string, config MCPServerConfig) (*mcp.ClientSession, error) {
	cmd := exec.CommandContext(ctx, config.Command, config.Args...)
	if config.Env != nil {
		cmd.Env = os.Environ()
		for k, v := range config.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "design-ai", Version: "1.0.0"}, nil)
	transport := mcp.NewCommandTransport(cmd)

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout())
	defer cancel()

	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		return nil, errors.WrapErrorWithDetails(errors.ErrCodeMCPConnectionFailed,
			"MCP客户端连接失败", err,
			fmt.Sprintf("服务器名称: %s", serverName))
	}
	return session, nil
}

// GetClients 获取所有客户端的副本
func (m *DefaultMCPManager) GetClients() map[string]*mcp.ClientSession {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	sessions := make(map[string]*mcp.ClientSession, len(m.sessions))
	for name, session := range m.sessions {
		sessions[name] = session
	}
	return sessions
}

// GetClient 根据名称获取客户端
func (m *DefaultMCPManager) GetClient(name string) (*mcp.ClientSession, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	session, exists := m.sessions[name]
	return session, exists
}

// Shutdown 关闭所有客户端
func (m *DefaultMCPManager) Shutdown() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var lastErr error
	for serverName, session := range m.sessions {
		if err := session.Close(); err != nil {
			lastErr = errors.WrapErrorWithDetails(errors.ErrCodeMCPConnectionFailed,
				"关闭MCP客户端失败", err,
				fmt.Sprintf("服务器名称: %s", serverName))
			util.LogError(lastErr, "关闭MCP客户端失败")
		}
	}

	m.sessions = make(map[string]*mcp.ClientSession)
	return lastErr
}
