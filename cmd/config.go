package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"design-ai/internal/config"
)

// configCmd 配置管理
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "配置管理",
	Long:  "管理 design-ai 的配置文件和设置",
}

var configShowCmd = &cobra.Command{
	Use:         "show",
	Short:       "显示当前配置",
	Annotations: map[string]string{initAnnotation: initConfigOnly},
	Run: func(cmd *cobra.Command, args []string) {
		showConfig()
	},
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "生成默认配置文件",
	Annotations: map[string]string{initAnnotation: initNone},
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := config.ResolvePath(resolveConfigPath())
		if err := config.WriteDefault(path, force); err != nil {
			return err
		}
		fmt.Printf("✅ 已生成默认配置文件: %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:         "validate",
	Short:       "校验配置文件",
	Annotations: map[string]string{initAnnotation: initNone},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolvePath(resolveConfigPath())
		cfg, err := config.Parse(path)
		if err != nil {
			fmt.Printf("❌ 配置无效: %s\n", path)
			return err
		}
		fmt.Printf("✅ 配置有效: %s\n", path)
		fmt.Printf("  提供方: %v\n", cfg.ProviderNames())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().Bool("force", false, "覆盖已存在的配置文件")
}

// resolveConfigPath 标志优先，其次环境变量
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("DESIGN_AI_CONFIG")
}

// showConfig 显示配置信息，不输出凭证
func showConfig() {
	cfg := config.Config
	fmt.Println("当前配置:")
	fmt.Printf("  配置文件: %s\n", config.Path())
	fmt.Printf("  默认提供方: %s\n", cfg.AI.DefaultProvider)
	fmt.Printf("  回退链: %v\n", cfg.AI.FallbackChain)
	fmt.Printf("  请求超时: %ds\n", cfg.AI.Timeout)
	fmt.Printf("  日志级别: %s\n", cfg.Logging.Level)
	fmt.Printf("  上下文预算: %d (预留 %d)\n", cfg.Context.MaxTokens, cfg.Context.ReserveForResponse)
	fmt.Printf("  历史上限: %d 条 / %d tokens\n", cfg.Conversation.MaxHistory, cfg.Conversation.MaxTokens)

	if verbose {
		for _, name := range cfg.ProviderNames() {
			p := cfg.AI.Providers[name]
			fmt.Printf("  [%s] 类型: %s 模型: %s 地址: %s API密钥已配置: %t\n",
				name, p.Type, p.Model, p.BaseURL, p.APIKey != "")
		}
		fmt.Printf("  日志格式: %s\n", cfg.Logging.Format)
		fmt.Printf("  日志输出: %s\n", cfg.Logging.Output)
		fmt.Printf("  MCP配置: %s\n", cfg.MCP.ConfigPath)
		fmt.Printf("  画布文件: %s\n", cfg.Host.SceneFile)
	}
}
