package mcp

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/tools"
)

type fakeCaller struct {
	params *mcp.CallToolParams
	result *mcp.CallToolResult
	err    error
}

func (f *fakeCaller) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	f.params = params
	return f.result, f.err
}

func TestParseSettingsWithComments(t *testing.T) {
	data := []byte(`{
		// 本地文件系统
		"mcpServers": {
			"fs": {
				"command": "npx",
				"args": ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"],
				"tier": "standard",
			},
			"off": {"disabled": true},
		},
	}`)

	settings, err := ParseSettings(data)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if len(settings.MCPServers) != 2 {
		t.Fatalf("期望 2 个服务器，实际 %d", len(settings.MCPServers))
	}
	fs := settings.MCPServers["fs"]
	if fs.Command != "npx" || len(fs.Args) != 3 || fs.Tier != "standard" {
		t.Errorf("服务器配置错误: %+v", fs)
	}
}

func TestParseSettingsInvalid(t *testing.T) {
	if _, err := ParseSettings([]byte(`{"mcpServers": {"x": {"type": "sse", "command": "a"}}}`)); !errors.IsErrorCode(err, errors.ErrCodeConfigInvalid) {
		t.Errorf("不支持的类型应报错，实际 %v", err)
	}
	if _, err := ParseSettings([]byte(`{"mcpServers": {"x": {}}}`)); !errors.IsErrorCode(err, errors.ErrCodeConfigInvalid) {
		t.Errorf("缺少 command 应报错，实际 %v", err)
	}
	if _, err := ParseSettings([]byte(`{"mcpServers": [`)); !errors.IsErrorCode(err, errors.ErrCodeConfigParseFailed) {
		t.Errorf("非法内容应报解析错误，实际 %v", err)
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	m := NewMCPManager()
	err := m.LoadSettings(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.IsErrorCode(err, errors.ErrCodeConfigLoadFailed) {
		t.Errorf("期望配置加载错误，实际 %v", err)
	}
	if err := m.InitializeClients(context.Background()); !errors.IsErrorCode(err, errors.ErrCodeMCPNotConfigured) {
		t.Errorf("未加载配置时应报 MCPNotConfigured，实际 %v", err)
	}
}

func TestServiceSkipsWithoutConfig(t *testing.T) {
	s := NewMCPService(tools.NewCatalog(), filepath.Join(t.TempDir(), "none.json"), time.Second)
	if err := s.Initialize(context.Background()); err != nil {
		t.Errorf("配置文件不存在时应跳过: %v", err)
	}
	if len(s.GetConnectedServers()) != 0 {
		t.Error("不应有已连接的服务器")
	}
}

func TestServiceDisabledServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	if err := os.WriteFile(path, []byte(`{"mcpServers": {"off": {"disabled": true}}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewMCPService(tools.NewCatalog(), path, time.Second)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	status := s.GetServerStatus()
	if connected, ok := status["off"]; !ok || connected {
		t.Errorf("禁用的服务器应显示为未连接: %v", status)
	}
}

func TestToolName(t *testing.T) {
	if got := ToolName("my.server", "read file"); got != "mcp__my_server__read_file" {
		t.Errorf("名称清理错误: %s", got)
	}
	long := ToolName("server", string(make([]byte, 100)))
	if len(long) != 64 {
		t.Errorf("名称应截断到 64 个字符，实际 %d", len(long))
	}
}

func TestQualifyToolName(t *testing.T) {
	if got := QualifyToolName("fetch__fetch"); got != "mcp__fetch__fetch" {
		t.Errorf("应补全前缀: %s", got)
	}
	if got := QualifyToolName("mcp__fetch__fetch"); got != "mcp__fetch__fetch" {
		t.Errorf("已带前缀的名称不应改变: %s", got)
	}
}

func TestServerConfigDefaults(t *testing.T) {
	settings, err := ParseSettings([]byte(`{
		// 注释
		"mcpServers": {
			"zeta": {"command": "z", "timeout": 5, "tier": "basic"},
			"alpha": {"command": "a"},
		}
	}`))
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}

	names := settings.ServerNames()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("服务器应按名称排序: %v", names)
	}

	alpha := settings.MCPServers["alpha"]
	if alpha.ConnectTimeout() != 30*time.Second {
		t.Errorf("默认超时应为 30s，实际 %v", alpha.ConnectTimeout())
	}
	if tier, err := alpha.ToolTier(); err != nil || tier != tools.TierAdvanced {
		t.Errorf("默认层级应为 advanced，实际 %v (%v)", tier, err)
	}

	zeta := settings.MCPServers["zeta"]
	if zeta.ConnectTimeout() != 5*time.Second {
		t.Errorf("超时错误: %v", zeta.ConnectTimeout())
	}
	if tier, err := zeta.ToolTier(); err != nil || tier != tools.TierBasic {
		t.Errorf("层级错误: %v (%v)", tier, err)
	}
}

func TestMCPToolExecute(t *testing.T) {
	caller := &fakeCaller{result: &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "line1"}, &mcp.TextContent{Text: "line2"}},
	}}
	tool := NewMCPTool("fs", caller, &mcp.Tool{Name: "read", Description: "读取文件"}, time.Second)

	if tool.Name() != "mcp__fs__read" || tool.Description() != "[MCP:fs] 读取文件" {
		t.Errorf("工具信息错误: %s %s", tool.Name(), tool.Description())
	}
	if tool.Parameters()["type"] != "object" {
		t.Errorf("缺少 schema 时应返回空对象 schema: %v", tool.Parameters())
	}

	out, err := tool.Execute(context.Background(), map[string]any{"path": "/a"})
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if out != "line1\nline2" {
		t.Errorf("结果拼接错误: %q", out)
	}
	if caller.params.Name != "read" {
		t.Errorf("应使用远端原始名称调用: %s", caller.params.Name)
	}
}

func TestMCPToolExecuteErrors(t *testing.T) {
	isErr := &fakeCaller{result: &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: "permission denied"}},
	}}
	_, err := NewMCPTool("fs", isErr, &mcp.Tool{Name: "read"}, 0).Execute(context.Background(), nil)
	if !errors.IsErrorCode(err, errors.ErrCodeMCPToolCallFailed) || errors.GetErrorDetails(err) != "permission denied" {
		t.Errorf("工具错误结果应转为错误: %v", err)
	}

	broken := &fakeCaller{err: stderrors.New("connection closed")}
	_, err = NewMCPTool("fs", broken, &mcp.Tool{Name: "read"}, 0).Execute(context.Background(), nil)
	if !errors.IsErrorCode(err, errors.ErrCodeMCPToolCallFailed) {
		t.Errorf("调用失败应返回 MCP 错误: %v", err)
	}
}

func TestRegistrarRegistersIntoCatalog(t *testing.T) {
	catalog := tools.NewCatalog()
	executor := tools.NewLocalExecutor(time.Second)
	r := NewMCPToolRegistrar(NewMCPManager(), executor, catalog, time.Second)

	caller := &fakeCaller{result: &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "ok"}}}}
	n := r.registerServerTools("fs", caller, []*mcp.Tool{{Name: "read"}, {Name: "write"}, {Name: "read"}})
	if n != 2 {
		t.Errorf("重复工具应被跳过，期望 2 个，实际 %d", n)
	}

	def, ok := catalog.Get("mcp__fs__read")
	if !ok || def.Tier != tools.TierAdvanced {
		t.Errorf("目录定义错误: %+v %v", def, ok)
	}

	router := tools.NewRouter()
	router.Handle(ToolPrefix, executor)
	res, err := router.Execute(context.Background(), "mcp__fs__write", map[string]any{})
	if err != nil || !res.Success || res.Message != "ok" {
		t.Errorf("经路由执行失败: %+v %v", res, err)
	}
}
