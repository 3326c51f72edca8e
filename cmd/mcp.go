package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"design-ai/internal/config"
	"design-ai/internal/mcp"
	"design-ai/internal/pkg/errors"
	"design-ai/internal/tools"
)

// mcpCmd MCP服务管理
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP服务管理",
	Long:  "管理 Model Context Protocol (MCP) 服务器及其提供的工具",
}

var mcpStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "显示MCP服务器连接状态",
	Run: func(cmd *cobra.Command, args []string) {
		showMCPStatus()
	},
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出MCP工具",
	Run: func(cmd *cobra.Command, args []string) {
		listMCPTools()
	},
}

var mcpCallCmd = &cobra.Command{
	Use:   "call [tool_name] [arguments_json]",
	Short: "直接调用MCP工具",
	Example: `  design-ai mcp call mcp__fetch__fetch '{"url":"https://example.com"}'
  design-ai mcp call fetch__fetch '{"url":"https://example.com"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callMCPTool(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.AddCommand(mcpStatusCmd)
	mcpCmd.AddCommand(mcpListCmd)
	mcpCmd.AddCommand(mcpCallCmd)
}

// showMCPStatus 显示MCP服务状态
func showMCPStatus() {
	fmt.Println("MCP服务状态:")
	fmt.Println("============")

	serverStatus := mcpService.GetServerStatus()
	connected := mcpService.GetConnectedServers()
	fmt.Printf("配置文件: %s\n", config.Config.MCP.ConfigPath)
	fmt.Printf("已配置服务器数量: %d\n", len(serverStatus))
	fmt.Printf("已连接服务器数量: %d\n", len(connected))

	if len(serverStatus) == 0 {
		fmt.Println("⚠️  未配置任何MCP服务器")
		fmt.Println("\n💡 在配置文件的 [mcp] config_path 中指定MCP配置文件")
		return
	}

	names := make([]string, 0, len(serverStatus))
	for name := range serverStatus {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\n服务器状态:")
	for _, name := range names {
		status := "❌ 未连接"
		if serverStatus[name] {
			status = "✅ 已连接"
		}
		fmt.Printf("  %s: %s\n", name, status)
	}
	fmt.Printf("\n已注册的MCP工具数量: %d\n", len(mcpService.Tools()))
}

// listMCPTools 按服务器分组列出MCP工具
func listMCPTools() {
	fmt.Println("可用的MCP工具:")
	fmt.Println("==============")

	registered := mcpService.Tools()
	if len(registered) == 0 {
		fmt.Println("⚠️  未找到任何MCP工具")
		return
	}

	byServer := make(map[string][]*mcp.MCPTool)
	var servers []string
	for _, t := range registered {
		if _, ok := byServer[t.Server()]; !ok {
			servers = append(servers, t.Server())
		}
		byServer[t.Server()] = append(byServer[t.Server()], t)
	}
	sort.Strings(servers)

	for _, server := range servers {
		fmt.Printf("\n服务器: %s\n", server)
		fmt.Println("--------")
		for _, t := range byServer[server] {
			tier := ""
			if def, ok := catalog.Get(t.Name()); ok {
				tier = fmt.Sprintf(" [%s]", def.Tier)
			}
			fmt.Printf("  • %s%s\n", t.Name(), tier)
			if desc := strings.TrimSpace(strings.TrimPrefix(t.Description(), "[MCP:"+server+"]")); desc != "" {
				fmt.Printf("    %s\n", desc)
			}
		}
	}
	fmt.Printf("\n总计: %d 个MCP工具\n", len(registered))
}

// callMCPTool 调用MCP工具，名称可省略 mcp__ 前缀
func callMCPTool(cmd *cobra.Command, args []string) error {
	name := mcp.QualifyToolName(args[0])

	arguments := map[string]any{}
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &arguments); err != nil {
			fmt.Println("参数必须是有效的JSON格式，例如: '{\"url\":\"https://example.com\"}'")
			return errors.WrapError(errors.ErrCodeInvalidParam, "参数解析失败", err)
		}
	}

	fmt.Printf("调用MCP工具: %s\n", name)
	fmt.Println("================")

	result, err := mcpService.Executor().Execute(cmd.Context(), name, arguments)
	if err != nil {
		if errors.IsErrorCode(err, errors.ErrCodeToolNotFound) {
			fmt.Println("\n💡 建议:")
			fmt.Println("  1. 使用 'design-ai mcp list' 查看可用工具")
			fmt.Println("  2. 检查工具名称拼写是否正确")
		}
		return err
	}

	printToolResult(result)
	if !result.Success {
		return errors.NewErrorWithDetails(errors.ErrCodeMCPToolCallFailed, "工具调用失败", result.Error)
	}
	return nil
}

// printToolResult 打印工具结果，JSON 文本格式化输出
func printToolResult(result *tools.Result) {
	if !result.Success {
		fmt.Printf("\n❌ 调用失败: %s\n", result.Text())
		return
	}

	fmt.Println("\n✅ 调用成功!")
	fmt.Println("结果:")
	fmt.Println("----")
	text := result.Text()
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		if formatted, err := json.MarshalIndent(parsed, "", "  "); err == nil {
			text = string(formatted)
		}
	}
	fmt.Println(text)
	fmt.Printf("\n结果长度: %d 字符\n", len(result.Text()))
}
