package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"design-ai/internal/chat"
	"design-ai/internal/config"
	"design-ai/internal/util"
)

var (
	chatPlain  bool
	chatStream bool
)

// chatCmd 交互式对话
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "启动交互式对话模式",
	Long:  "启动与画布助手的交互式对话，对话中可以调用画布工具与 MCP 工具",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := selectProvider(cmd); err != nil {
			return err
		}

		sessionConfig := chat.SessionConfig{
			Stream:      chatStream,
			TurnTimeout: turnTimeout(),
			ShowUsage:   verbose,
		}

		util.Infow("正在启动交互式对话模式", map[string]any{
			"provider": registry.ActiveName(),
			"plain":    chatPlain,
			"stream":   chatStream,
		})

		plain := chatPlain
		if !plain && !term.IsTerminal(int(os.Stdin.Fd())) {
			util.Infow("标准输入不是终端，使用行模式", nil)
			plain = true
		}

		if plain {
			session := chat.NewSession(orch, bus.Events(), os.Stdout, sessionConfig)
			return session.Run(cmd.Context(), os.Stdin)
		}
		return chat.RunBubbleTeaChat(orch, bus.Events(), sessionConfig)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringP("provider", "p", "", "指定使用的提供方 (例如: claude, ollama)")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "使用行模式而不是全屏界面")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "流式输出回复（不使用回退链）")
}

// selectProvider 按 --provider 标志切换活动适配器
func selectProvider(cmd *cobra.Command) error {
	name, _ := cmd.Flags().GetString("provider")
	if name == "" {
		return nil
	}
	if err := registry.SetActive(name); err != nil {
		return err
	}
	util.Infow("已切换到指定提供方", map[string]any{"provider": name})
	return nil
}

// turnTimeout 单轮超时，包含模型请求与工具执行
func turnTimeout() time.Duration {
	return 2 * time.Duration(config.Config.AI.Timeout) * time.Second
}
