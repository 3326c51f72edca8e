package mcp

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/tools"
)

// ToolPrefix MCP 工具在目录中的名称前缀，路由按此前缀把调用交给 MCP
const ToolPrefix = "mcp__"

// 目录中的工具名最长 64 个字符
const maxToolNameLen = 64

const defaultServerTimeout = 30 * time.Second

// 模型接口只接受字母、数字、下划线和连字符
var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// ToolName 拼接目录中的完整工具名称: mcp__<server>__<tool>
func ToolName(serverName, toolName string) string {
	name := ToolPrefix + invalidNameChars.ReplaceAllString(serverName, "_") + "__" + invalidNameChars.ReplaceAllString(toolName, "_")
	if len(name) > maxToolNameLen {
		name = name[:maxToolNameLen]
	}
	return name
}

// QualifyToolName 补全 mcp__ 前缀，已带前缀的名称原样返回
func QualifyToolName(name string) string {
	if strings.HasPrefix(name, ToolPrefix) {
		return name
	}
	return ToolPrefix + name
}

// MCPServerConfig 单个 MCP 服务器的配置。
// 只支持 stdio 类型；Tier 决定该服务器的工具在目录中的层级，超出预算时按层级截断。
type MCPServerConfig struct {
	Disabled bool              `json:"disabled"`
	Timeout  int               `json:"timeout"`
	Type     string            `json:"type"`
	Command  string            `json:"command"`
	Args     []string          `json:"args"`
	Env      map[string]string `json:"env,omitempty"`
	Tier     string            `json:"tier,omitempty"`
}

func (c MCPServerConfig) validate(name string) error {
	if c.Type != "" && c.Type != "stdio" {
		return errors.NewErrorWithDetails(errors.ErrCodeConfigInvalid, "不支持的MCP服务器类型",
			fmt.Sprintf("服务器名称: %s, 类型: %s", name, c.Type))
	}
	if !c.Disabled && c.Command == "" {
		return errors.NewErrorWithDetails(errors.ErrCodeConfigInvalid, "MCP服务器缺少 command", name)
	}
	return nil
}

// ConnectTimeout 握手超时，未配置时 30 秒
func (c MCPServerConfig) ConnectTimeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultServerTimeout
	}
	return time.Duration(c.Timeout) * time.Second
}

// ToolTier 工具层级，未配置时为 advanced
func (c MCPServerConfig) ToolTier() (tools.Tier, error) {
	return tools.ParseTier(c.Tier)
}

// MCPSettings mcpServers 配置文件，JSONC 格式
type MCPSettings struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// ServerNames 按名称排序的服务器列表，连接与注册都按此顺序进行
func (s *MCPSettings) ServerNames() []string {
	names := make([]string, 0, len(s.MCPServers))
	for name := range s.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MCPManager 管理 MCP 服务器会话。
// 会话建立后由 MCPToolRegistrar 把工具以 ToolPrefix 命名登记到目录，调用经路由回到对应会话。
type MCPManager interface {
	LoadSettings(configPath string) error

	// Settings 未加载时为 nil
	Settings() *MCPSettings

	// InitializeClients 连接所有未禁用的服务器，单个失败不影响其他服务器
	InitializeClients(ctx context.Context) error

	GetClients() map[string]*mcp.ClientSession
	GetClient(name string) (*mcp.ClientSession, bool)
	Shutdown() error
}

// toolCaller 调用远端工具，*mcp.ClientSession 满足该接口
type toolCaller interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
}

// MCPTool 把远端工具包装为 tools.Tool
type MCPTool struct {
	serverName string
	session    toolCaller
	toolInfo   *mcp.Tool
	timeout    time.Duration
}
