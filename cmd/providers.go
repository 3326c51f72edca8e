package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"design-ai/internal/config"
	"design-ai/internal/llm"
	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

// providersCmd 模型提供方管理
var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "模型提供方管理",
	Long:  "查看、测试并切换已配置的模型提供方",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出已配置的提供方",
	Run: func(cmd *cobra.Command, args []string) {
		listProviders()
	},
}

var providersStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "连接所有提供方并显示状态",
}

var providersTestCmd = &cobra.Command{
	Use:   "test [name]",
	Short: "向提供方发送一条测试消息",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := registry.ActiveName()
		if len(args) > 0 {
			name = args[0]
		}
		return testProvider(cmd.Context(), name)
	},
}

var providersUseCmd = &cobra.Command{
	Use:   "use [name]",
	Short: "设置默认提供方并写入配置文件",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := registry.SetActive(name); err != nil {
			return err
		}
		if err := config.SetDefaultProvider(config.Path(), name); err != nil {
			return err
		}
		fmt.Printf("✅ 默认提供方已设置为 %s\n", name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersStatusCmd)
	providersCmd.AddCommand(providersTestCmd)
	providersCmd.AddCommand(providersUseCmd)

	// RunE 在 init 中赋值，避免 providersStatusCmd 与 showProviderStatus 的初始化循环
	providersStatusCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return showProviderStatus(cmd.Context())
	}
	providersStatusCmd.Flags().Bool("json", false, "以 JSON 输出")
}

func listProviders() {
	providers := registry.List()
	if len(providers) == 0 {
		fmt.Println("📭 没有配置任何提供方")
		fmt.Println("💡 在配置文件的 [ai.providers.<name>] 中添加提供方")
		return
	}

	active := registry.ActiveName()
	fmt.Printf("📋 已配置的提供方 (%d个):\n\n", len(providers))
	for _, p := range providers {
		marker := " "
		if p.Name() == active {
			marker = "*"
		}
		info := p.GetAdapterInfo()
		fmt.Printf("%s %-12s %-10s %s\n", marker, p.Name(), p.Type(), info.Model)
	}
	fmt.Println("\n* 表示活动提供方")
}

func showProviderStatus(ctx context.Context) error {
	for _, p := range registry.List() {
		if err := registry.Connect(ctx, p.Name()); err != nil {
			util.Debugw("提供方连接失败", map[string]any{"name": p.Name(), "error": err.Error()})
		}
	}

	statuses := registry.Status()
	if asJSON, _ := providersStatusCmd.Flags().GetBool("json"); asJSON {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return errors.WrapError(errors.ErrCodeInternalErr, "序列化状态失败", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("📊 提供方状态:")
	for _, s := range statuses {
		state := "❌ 不可用"
		if s.Connected {
			state = "✅ 可用"
		}
		active := ""
		if s.Active {
			active = " (活动)"
		}
		fmt.Printf("  %s%s: %s\n", s.Name, active, state)
		fmt.Printf("    类型: %s  模型: %s\n", s.Type, s.Model)
		fmt.Printf("    能力: 视觉=%t 流式=%t 工具=%t 上下文=%d\n",
			s.Capabilities.Vision, s.Capabilities.Streaming, s.Capabilities.FunctionCalling, s.Capabilities.MaxContextTokens)
		if s.Metrics.RequestCount > 0 || s.Metrics.LastError != "" {
			fmt.Printf("    请求: %d  失败: %d  平均耗时: %dms\n",
				s.Metrics.RequestCount, s.Metrics.ErrorCount, s.Metrics.AverageResponseTime)
		}
		if s.Metrics.LastError != "" {
			fmt.Printf("    最近错误: %s\n", s.Metrics.LastError)
		}
	}
	return nil
}

func testProvider(ctx context.Context, name string) error {
	if name == "" {
		return errors.NewError(errors.ErrCodeNoActiveProvider, "没有活动的提供方")
	}
	if err := registry.SetActive(name); err != nil {
		return err
	}

	fmt.Printf("🔍 测试提供方 %s...\n", name)
	start := time.Now()
	msgs := []llm.Message{llm.NewTextMessage(llm.RoleUser, "请只回复 OK")}
	resp, err := registry.SendMessage(ctx, msgs, llm.SendOptions{MaxTokens: 16}, []string{})
	if err != nil {
		fmt.Printf("❌ %s\n", errors.GetUserFriendlyMessage(err))
		return err
	}

	fmt.Printf("✅ 响应 (%dms): %s\n", time.Since(start).Milliseconds(), resp.Content)
	fmt.Printf("   用量: 输入 %d / 输出 %d tokens\n", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return nil
}
