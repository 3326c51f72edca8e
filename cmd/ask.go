package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"design-ai/internal/chat"
	"design-ai/internal/pkg/errors"
)

var (
	askStream   bool
	askFallback []string
)

// askCmd 单轮提问
var askCmd = &cobra.Command{
	Use:   "ask [问题]",
	Short: "单轮提问并执行返回的工具调用",
	Example: `  design-ai ask "在画布左上角画一个 200x100 的矩形"
  design-ai ask --stream "介绍一下当前选中的内容"
  design-ai ask --fallback ollama,llamacpp "把标题移动到中间"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := selectProvider(cmd); err != nil {
			return err
		}

		input := strings.TrimSpace(strings.Join(args, " "))
		if input == "" {
			return errors.NewError(errors.ErrCodeInvalidParam, "问题不能为空")
		}

		engine := orch
		if cmd.Flags().Changed("fallback") {
			engine = orch.WithFallback(askFallback)
		}

		session := chat.NewSession(engine, bus.Events(), os.Stdout, chat.SessionConfig{
			Stream:      askStream,
			TurnTimeout: turnTimeout(),
			ShowUsage:   verbose,
		})
		return session.Ask(cmd.Context(), input)
	},
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringP("provider", "p", "", "指定使用的提供方")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "流式输出回复（不使用回退链）")
	askCmd.Flags().StringSliceVar(&askFallback, "fallback", nil, "本次使用的回退顺序，逗号分隔；传空值表示不回退")
}
