package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"design-ai/internal/llm"
	"design-ai/internal/pkg/errors"
)

// contextCmd 上下文调试
var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "查看每轮发送给模型的上下文",
}

var contextPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "组装当前画布的上下文但不发送请求",
	RunE: func(cmd *cobra.Command, args []string) error {
		caps, err := previewCapabilities(cmd)
		if err != nil {
			return err
		}

		aiCtx, err := orch.PreviewContext(cmd.Context(), caps)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			data, err := json.MarshalIndent(aiCtx, "", "  ")
			if err != nil {
				return errors.WrapError(errors.ErrCodeInternalErr, "序列化上下文失败", err)
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Println("=== 系统提示词 ===")
		fmt.Println(aiCtx.SystemPrompt)
		fmt.Println("\n=== 画布状态 ===")
		fmt.Println(aiCtx.StateDescription)
		if aiCtx.ToolCatalog != "" {
			fmt.Println("\n=== 工具目录 ===")
			fmt.Println(aiCtx.ToolCatalog)
		}
		fmt.Printf("\n估算 tokens: %d\n", aiCtx.EstimatedTokens)
		if len(aiCtx.Truncated) > 0 {
			names := make([]string, 0, len(aiCtx.Truncated))
			for _, s := range aiCtx.Truncated {
				names = append(names, string(s))
			}
			fmt.Printf("已截断: %s\n", strings.Join(names, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.AddCommand(contextPreviewCmd)

	contextPreviewCmd.Flags().StringP("provider", "p", "", "按该提供方的能力组装 (默认活动提供方)")
	contextPreviewCmd.Flags().Bool("json", false, "以 JSON 输出")
}

// previewCapabilities 指定或活动提供方的能力，没有提供方时假定支持工具调用
func previewCapabilities(cmd *cobra.Command) (llm.Capabilities, error) {
	name, _ := cmd.Flags().GetString("provider")
	if name == "" {
		name = registry.ActiveName()
	}
	if name == "" {
		return llm.Capabilities{FunctionCalling: true}, nil
	}
	p, err := registry.Get(name)
	if err != nil {
		return llm.Capabilities{}, err
	}
	return p.Capabilities(), nil
}
